// Package claims implements signed identity tokens for components,
// providers, and invocations: a three-segment base64url token
// (header.claims.signature) signed with Ed25519, where the issuer and
// subject fields are themselves the raw public keys of the signing and
// signed-about entities. crypto/ed25519 and encoding/base64 are enough
// here; no JWT/JOSE library is pulled in for this narrow a token shape.
package claims

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	headerType      = "jwt"
	headerAlgorithm = "Ed25519"
)

type header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

func defaultHeader() header {
	return header{Type: headerType, Algorithm: headerAlgorithm}
}

// ComponentClaims is the metadata attested for a component artifact,
// carrying the Actor-shaped fields from jwt.rs: tags, capabilities, a
// revision/version pair, and an optional call alias.
type ComponentClaims struct {
	ID         string   `json:"jti"`
	IssuedAt   uint64   `json:"iat"`
	Expires    *uint64  `json:"exp,omitempty"`
	NotBefore  *uint64  `json:"nbf,omitempty"`
	Issuer     string   `json:"iss"`
	Subject    string   `json:"sub"`
	ModuleHash string   `json:"hash"`
	Tags       []string `json:"tags,omitempty"`
	Capabilities []string `json:"caps,omitempty"`
	Revision   *int32   `json:"rev,omitempty"`
	Version    string   `json:"ver,omitempty"`
	CallAlias  string   `json:"call_alias,omitempty"`
}

// ProviderClaims is the CapabilityProvider-shaped metadata: vendor name
// and a set of artifact hashes keyed by architecture-OS triple, so a
// fetched binary can be checked against the triple the host is running.
type ProviderClaims struct {
	ID           string            `json:"jti"`
	IssuedAt     uint64            `json:"iat"`
	Expires      *uint64           `json:"exp,omitempty"`
	NotBefore    *uint64           `json:"nbf,omitempty"`
	Issuer       string            `json:"iss"`
	Subject      string            `json:"sub"`
	Name         string            `json:"name,omitempty"`
	Capability   string            `json:"capid"`
	Vendor       string            `json:"vendor"`
	Revision     *int32            `json:"rev,omitempty"`
	Version      string            `json:"ver,omitempty"`
	TargetHashes map[string]string `json:"target_hashes,omitempty"`
}

// InvocationClaims binds one RPC call to its origin, target, and a hash
// of the payload actually carried, so a tampered-with invocation can be
// detected even if it arrives over an otherwise-trusted transport.
type InvocationClaims struct {
	ID             string  `json:"jti"`
	IssuedAt       uint64  `json:"iat"`
	Expires        *uint64 `json:"exp,omitempty"`
	NotBefore      *uint64 `json:"nbf,omitempty"`
	Issuer         string  `json:"iss"`
	Subject        string  `json:"sub"`
	OriginURL      string  `json:"origin_url"`
	TargetURL      string  `json:"target_url"`
	InvocationHash string  `json:"hash"`
}

func encodeSegment(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeSegment(segment string, v interface{}) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return fmt.Errorf("claims: decode segment: %w", err)
	}
	return json.Unmarshal(data, v)
}

func sign(priv ed25519.PrivateKey, claims interface{}) (string, error) {
	h, err := encodeSegment(defaultHeader())
	if err != nil {
		return "", err
	}
	c, err := encodeSegment(claims)
	if err != nil {
		return "", err
	}
	headAndClaims := h + "." + c
	sig := ed25519.Sign(priv, []byte(headAndClaims))
	return headAndClaims + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// SignComponentClaims encodes and signs a component claims token.
func SignComponentClaims(priv ed25519.PrivateKey, claims ComponentClaims) (string, error) {
	return sign(priv, claims)
}

// SignProviderClaims encodes and signs a provider claims token.
func SignProviderClaims(priv ed25519.PrivateKey, claims ProviderClaims) (string, error) {
	return sign(priv, claims)
}

// SignInvocationClaims encodes and signs an invocation claims token.
func SignInvocationClaims(priv ed25519.PrivateKey, claims InvocationClaims) (string, error) {
	return sign(priv, claims)
}

// decodeToken splits a token into its three segments, decodes the
// header and claims body into dst, and returns the header-and-claims
// bytes alongside the raw signature for the caller to verify.
func decodeToken(token string, dst interface{}) (headAndClaims []byte, sig []byte, err error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, nil, fmt.Errorf("claims: invalid token format")
	}

	var h header
	if err := decodeSegment(segments[0], &h); err != nil {
		return nil, nil, err
	}
	if h.Algorithm != headerAlgorithm || h.Type != headerType {
		return nil, nil, fmt.Errorf("claims: unsupported header %+v", h)
	}

	if err := decodeSegment(segments[1], dst); err != nil {
		return nil, nil, err
	}

	sig, err = base64.RawURLEncoding.DecodeString(segments[2])
	if err != nil {
		return nil, nil, fmt.Errorf("claims: decode signature: %w", err)
	}

	return []byte(segments[0] + "." + segments[1]), sig, nil
}

// decodeIssuerKey recovers the Ed25519 public key from an issuer/subject
// field, which carries the raw key bytes base64url-encoded.
func decodeIssuerKey(issuer string) (ed25519.PublicKey, error) {
	key, err := base64.RawURLEncoding.DecodeString(issuer)
	if err != nil {
		return nil, fmt.Errorf("claims: decode issuer key: %w", err)
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("claims: issuer key has wrong length %d", len(key))
	}
	return ed25519.PublicKey(key), nil
}

// DecodeComponentClaims decodes and cryptographically verifies a
// component claims token, returning the parsed claims on success. It
// does not check expiry or not-before — see ValidateComponentClaims,
// which checks issuer/subject presence, expiry and not-before; no
// issuer allow-list is applied to component claims.
func DecodeComponentClaims(token string) (ComponentClaims, error) {
	var claims ComponentClaims
	headAndClaims, sig, err := decodeToken(token, &claims)
	if err != nil {
		return ComponentClaims{}, err
	}
	pub, err := decodeIssuerKey(claims.Issuer)
	if err != nil {
		return ComponentClaims{}, err
	}
	if !ed25519.Verify(pub, headAndClaims, sig) {
		return ComponentClaims{}, fmt.Errorf("claims: signature verification failed")
	}
	return claims, nil
}

// DecodeProviderClaims decodes and cryptographically verifies a provider
// claims token.
func DecodeProviderClaims(token string) (ProviderClaims, error) {
	var claims ProviderClaims
	headAndClaims, sig, err := decodeToken(token, &claims)
	if err != nil {
		return ProviderClaims{}, err
	}
	pub, err := decodeIssuerKey(claims.Issuer)
	if err != nil {
		return ProviderClaims{}, err
	}
	if !ed25519.Verify(pub, headAndClaims, sig) {
		return ProviderClaims{}, fmt.Errorf("claims: signature verification failed")
	}
	return claims, nil
}

// DecodeInvocationClaims decodes and cryptographically verifies an
// invocation claims token.
func DecodeInvocationClaims(token string) (InvocationClaims, error) {
	var claims InvocationClaims
	headAndClaims, sig, err := decodeToken(token, &claims)
	if err != nil {
		return InvocationClaims{}, err
	}
	pub, err := decodeIssuerKey(claims.Issuer)
	if err != nil {
		return InvocationClaims{}, err
	}
	if !ed25519.Verify(pub, headAndClaims, sig) {
		return InvocationClaims{}, fmt.Errorf("claims: signature verification failed")
	}
	return claims, nil
}
