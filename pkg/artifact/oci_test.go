package artifact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseOCIRefWithTag(t *testing.T) {
	ref, err := parseOCIRef("oci://registry.example.com/components/echo:v1.2.3")
	require.NoError(t, err)
	require.Equal(t, "registry.example.com", ref.host)
	require.Equal(t, "components/echo", ref.repository)
	require.Equal(t, "v1.2.3", ref.reference)
}

func TestParseOCIRefWithDigest(t *testing.T) {
	ref, err := parseOCIRef("oci://registry.example.com/components/echo@sha256:" + fakeHex64())
	require.NoError(t, err)
	require.Equal(t, "components/echo", ref.repository)
	require.Contains(t, ref.reference, "sha256:")
}

func TestParseOCIRefDefaultsToLatest(t *testing.T) {
	ref, err := parseOCIRef("oci://registry.example.com/components/echo")
	require.NoError(t, err)
	require.Equal(t, "latest", ref.reference)
}

func TestParseOCIRefMalformed(t *testing.T) {
	_, err := parseOCIRef("oci://justahost")
	require.Error(t, err)
}

func fakeHex64() string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = "0123456789abcdef"[i%16]
	}
	return string(out)
}
