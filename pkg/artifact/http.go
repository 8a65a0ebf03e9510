package artifact

import (
	"context"
	"io"
	"net/http"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
)

// HTTPFetcher resolves http:// and https:// references with a plain GET.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with a bounded-timeout client.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 60 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, digest.Digest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", wasmerr.Wrapf(wasmerr.Validation, err, "build request for %q", ref)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, "", wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch %q", ref)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", wasmerr.Wrapf(wasmerr.NotFound, nil, "artifact %q not found (status %d)", ref, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, "", wasmerr.Wrapf(wasmerr.Unauthenticated, nil, "artifact %q auth failed (status %d)", ref, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", wasmerr.Wrapf(wasmerr.Unavailable, nil, "artifact %q fetch failed (status %d)", ref, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", wasmerr.Wrapf(wasmerr.Unavailable, err, "read body for %q", ref)
	}

	return data, digest.FromBytes(data), nil
}
