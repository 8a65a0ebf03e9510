package claims

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
)

func newKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func keyString(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}

func TestSignAndDecodeComponentClaims(t *testing.T) {
	pub, priv := newKeyPair(t)

	claims := ComponentClaims{
		ID:      "jti-1",
		Issuer:  keyString(pub),
		Subject: "subject-component",
		Tags:    []string{"tier:gold"},
	}

	token, err := SignComponentClaims(priv, claims)
	require.NoError(t, err)

	decoded, err := DecodeComponentClaims(token)
	require.NoError(t, err)
	require.Equal(t, claims.Subject, decoded.Subject)
	require.Equal(t, claims.Tags, decoded.Tags)

	require.NoError(t, ValidateComponentClaims(decoded))
}

func TestDecodeComponentClaimsRejectsTamperedSignature(t *testing.T) {
	pub, priv := newKeyPair(t)
	_ = pub

	claims := ComponentClaims{ID: "jti-2", Issuer: keyString(pub), Subject: "subject"}
	token, err := SignComponentClaims(priv, claims)
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, err = DecodeComponentClaims(tampered)
	require.Error(t, err)
}

func TestValidateComponentClaimsExpiry(t *testing.T) {
	origNow := now
	defer func() { now = origNow }()

	pub, _ := newKeyPair(t)
	past := uint64(100)
	now = func() uint64 { return 200 }

	claims := ComponentClaims{Issuer: keyString(pub), Subject: "s", Expires: &past}
	err := ValidateComponentClaims(claims)
	require.Error(t, err)
	require.Equal(t, wasmerr.Unauthenticated, wasmerr.KindOf(err))
}

func TestValidateComponentClaimsNotYetValid(t *testing.T) {
	origNow := now
	defer func() { now = origNow }()

	pub, _ := newKeyPair(t)
	future := uint64(500)
	now = func() uint64 { return 100 }

	claims := ComponentClaims{Issuer: keyString(pub), Subject: "s", NotBefore: &future}
	err := ValidateComponentClaims(claims)
	require.Error(t, err)
}

func TestValidateInvocationClaimsHashMismatch(t *testing.T) {
	pub, priv := newKeyPair(t)

	hash := ComputeInvocationHash("wasmbus://origin", "wasmbus://target", "wasi:http/handler.handle", []byte("payload"))
	claims := InvocationClaims{
		Issuer:         keyString(pub),
		Subject:        "invocation-1",
		OriginURL:      "wasmbus://origin",
		TargetURL:      "wasmbus://target",
		InvocationHash: hash,
	}
	token, err := SignInvocationClaims(priv, claims)
	require.NoError(t, err)

	decoded, err := DecodeInvocationClaims(token)
	require.NoError(t, err)

	require.NoError(t, ValidateInvocationClaims(decoded, nil, "wasi:http/handler.handle", []byte("payload")))

	err = ValidateInvocationClaims(decoded, nil, "wasi:http/handler.handle", []byte("tampered"))
	require.Error(t, err)
	require.Equal(t, wasmerr.Unauthenticated, wasmerr.KindOf(err))
}

func TestValidateInvocationClaimsUntrustedIssuer(t *testing.T) {
	pub, priv := newKeyPair(t)

	hash := ComputeInvocationHash("o", "t", "op", []byte("p"))
	claims := InvocationClaims{Issuer: keyString(pub), Subject: "inv", OriginURL: "o", TargetURL: "t", InvocationHash: hash}
	token, err := SignInvocationClaims(priv, claims)
	require.NoError(t, err)

	decoded, err := DecodeInvocationClaims(token)
	require.NoError(t, err)

	err = ValidateInvocationClaims(decoded, []string{"some-other-issuer"}, "op", []byte("p"))
	require.Error(t, err)
	require.Equal(t, wasmerr.Unauthorized, wasmerr.KindOf(err))
}

func TestProviderClaimsRoundTrip(t *testing.T) {
	pub, priv := newKeyPair(t)

	claims := ProviderClaims{
		Issuer:     keyString(pub),
		Subject:    "provider-subject",
		Capability: "wasmcloud:keyvalue",
		Vendor:     "Example Vendor",
		TargetHashes: map[string]string{
			"x86_64-linux": "deadbeef",
		},
	}
	token, err := SignProviderClaims(priv, claims)
	require.NoError(t, err)

	decoded, err := DecodeProviderClaims(token)
	require.NoError(t, err)
	require.Equal(t, claims.TargetHashes, decoded.TargetHashes)
	require.NoError(t, ValidateProviderClaims(decoded))
}
