package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/wasmcloud/wasmhost/pkg/ociauth"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
)

// OCIFetcher resolves oci:// references against a registry's v2 HTTP
// API directly: no registry-client library is pulled in, only
// opencontainers/image-spec for the manifest shape and
// opencontainers/go-digest for content verification, both already
// teacher dependencies.
type OCIFetcher struct {
	Creds  *ociauth.Table
	Client *http.Client
}

// NewOCIFetcher builds an OCIFetcher backed by creds (may be nil for an
// anonymous-only fetcher).
func NewOCIFetcher(creds *ociauth.Table) *OCIFetcher {
	return &OCIFetcher{Creds: creds, Client: &http.Client{Timeout: 60 * time.Second}}
}

type ociRef struct {
	host       string
	repository string
	reference  string // tag or "sha256:..."
}

func parseOCIRef(ref string) (ociRef, error) {
	trimmed := strings.TrimPrefix(ref, "oci://")

	var reference string
	rest := trimmed
	if idx := strings.LastIndex(trimmed, "@"); idx >= 0 {
		reference = trimmed[idx+1:]
		rest = trimmed[:idx]
	} else if idx := strings.LastIndex(trimmed, ":"); idx >= 0 && !strings.Contains(trimmed[idx:], "/") {
		reference = trimmed[idx+1:]
		rest = trimmed[:idx]
	} else {
		reference = "latest"
	}

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return ociRef{}, wasmerr.Wrapf(wasmerr.Validation, nil, "malformed oci reference %q", ref)
	}
	return ociRef{host: parts[0], repository: parts[1], reference: reference}, nil
}

func (r ociRef) allowLatest(creds ociauth.RegistryCreds) error {
	if r.reference == "latest" && !creds.AllowLatest {
		return wasmerr.Wrapf(wasmerr.Validation, nil, "registry %q does not allow the \"latest\" tag", r.host)
	}
	return nil
}

func (f *OCIFetcher) scheme(creds ociauth.RegistryCreds) string {
	if creds.AllowInsecure {
		return "http"
	}
	return "https"
}

func (f *OCIFetcher) authHeader(ctx context.Context, scheme, host, repository string, creds ociauth.RegistryCreds, resp *http.Response) (string, error) {
	challenge := resp.Header.Get("Www-Authenticate")
	if challenge == "" {
		return "", nil
	}

	params := parseChallenge(challenge)
	if params["realm"] == "" {
		if creds.Token != "" {
			return "Bearer " + creds.Token, nil
		}
		return "", nil
	}

	tokenURL := fmt.Sprintf("%s?service=%s&scope=%s", params["realm"], params["service"], params["scope"])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return "", err
	}
	if creds.User != "" {
		req.SetBasicAuth(creds.User, creds.Password)
	}

	tresp, err := f.Client.Do(req)
	if err != nil {
		return "", wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch auth token from %q", params["realm"])
	}
	defer tresp.Body.Close()

	if tresp.StatusCode != http.StatusOK {
		return "", wasmerr.Wrapf(wasmerr.Unauthenticated, nil, "auth token request to %q failed (status %d)", params["realm"], tresp.StatusCode)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(tresp.Body).Decode(&body); err != nil {
		return "", wasmerr.Wrapf(wasmerr.Protocol, err, "decode auth token response")
	}
	token := body.Token
	if token == "" {
		token = body.AccessToken
	}
	return "Bearer " + token, nil
}

func parseChallenge(header string) map[string]string {
	out := make(map[string]string)
	header = strings.TrimPrefix(header, "Bearer ")
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return out
}

func (f *OCIFetcher) get(ctx context.Context, url string, accept string, creds ociauth.RegistryCreds) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wasmerr.Wrapf(wasmerr.Validation, err, "build request for %q", url)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch %q", url)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		host := req.URL.Scheme + "://" + req.URL.Host
		authz, authErr := f.authHeader(ctx, req.URL.Scheme, req.URL.Host, "", creds, resp)
		if authErr != nil {
			return nil, authErr
		}
		if authz == "" {
			return nil, wasmerr.Wrapf(wasmerr.Unauthenticated, nil, "auth required for %q", host)
		}

		req2, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		if accept != "" {
			req2.Header.Set("Accept", accept)
		}
		req2.Header.Set("Authorization", authz)

		resp, err = f.Client.Do(req2)
		if err != nil {
			return nil, wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch %q", url)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, wasmerr.Wrapf(wasmerr.NotFound, nil, "%q not found (status %d)", url, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, wasmerr.Wrapf(wasmerr.Unauthenticated, nil, "%q auth failed (status %d)", url, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wasmerr.Wrapf(wasmerr.Unavailable, nil, "%q fetch failed (status %d)", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wasmerr.Wrapf(wasmerr.Unavailable, err, "read body for %q", url)
	}
	return data, nil
}

// Fetch resolves an oci:// reference to the bytes of its first manifest
// layer — component and provider artifacts are packaged as single-layer
// OCI artifacts, so there is no multi-layer assembly to do.
func (f *OCIFetcher) Fetch(ctx context.Context, ref string) ([]byte, digest.Digest, error) {
	parsed, err := parseOCIRef(ref)
	if err != nil {
		return nil, "", err
	}

	var creds ociauth.RegistryCreds
	if f.Creds != nil {
		creds, _, err = f.Creds.Get(parsed.host)
		if err != nil {
			return nil, "", err
		}
	}
	if err := parsed.allowLatest(creds); err != nil {
		return nil, "", err
	}

	scheme := f.scheme(creds)
	manifestURL := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", scheme, parsed.host, parsed.repository, parsed.reference)

	manifestData, err := f.get(ctx, manifestURL, ispec.MediaTypeImageManifest, creds)
	if err != nil {
		return nil, "", err
	}

	var manifest ispec.Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, "", wasmerr.Wrapf(wasmerr.Protocol, err, "decode oci manifest for %q", ref)
	}
	if len(manifest.Layers) == 0 {
		return nil, "", wasmerr.Wrapf(wasmerr.Protocol, nil, "oci manifest for %q has no layers", ref)
	}
	layer := manifest.Layers[0]

	blobURL := fmt.Sprintf("%s://%s/v2/%s/blobs/%s", scheme, parsed.host, parsed.repository, layer.Digest.String())
	data, err := f.get(ctx, blobURL, "", creds)
	if err != nil {
		return nil, "", err
	}

	if digest.FromBytes(data) != layer.Digest {
		return nil, "", wasmerr.Wrapf(wasmerr.Protocol, errCorrupt, "oci blob for %q failed digest verification", ref)
	}

	return data, layer.Digest, nil
}
