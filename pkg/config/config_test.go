package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/wasmcloud/wasmhost/pkg/ociauth"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	contents := `
lattice: prod
transport: grpc
listen_addr: 0.0.0.0:7890
cluster_issuers:
  - CISSUERKEY1
discovery:
  domain: lattice.internal
  static_peers:
    - host-a:7890
registries:
  ghcr.io:
    user: bot
    password: secret
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Lattice)
	require.Equal(t, "grpc", cfg.Transport)
	require.Equal(t, "0.0.0.0:7890", cfg.ListenAddr)
	require.Equal(t, []string{"CISSUERKEY1"}, cfg.ClusterIssuers)
	require.Equal(t, "lattice.internal", cfg.Discovery.Domain)
	require.Equal(t, []string{"host-a:7890"}, cfg.Discovery.StaticPeers)
	require.Equal(t, ociauth.RegistryCreds{User: "bot", Password: "secret"}, cfg.Registries["ghcr.io"])

	// untouched defaults survive the partial override
	require.Equal(t, Default().DataDir, cfg.DataDir)
	require.Equal(t, Default().HeartbeatInterval, cfg.HeartbeatInterval)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lattice: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsEmptyLattice(t *testing.T) {
	cfg := Default()
	cfg.Lattice = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := Default()
	cfg.Transport = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresListenAddrForGRPC(t *testing.T) {
	cfg := Default()
	cfg.Transport = "grpc"
	cfg.ListenAddr = ""
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefault(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestApplyFlagsOverridesOnlyChangedFields(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/wasmhost"

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--lattice=staging",
		"--peer=host-a:7890",
		"--peer=host-b:7890",
		"--heartbeat-interval=5s",
	}))

	ApplyFlags(fs, &cfg)

	require.Equal(t, "staging", cfg.Lattice)
	require.Equal(t, []string{"host-a:7890", "host-b:7890"}, cfg.Discovery.StaticPeers)
	require.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	// data-dir was never passed on the command line, so the
	// previously loaded value survives untouched.
	require.Equal(t, "/var/lib/wasmhost", cfg.DataDir)
	require.True(t, Changed(fs, "lattice"))
	require.False(t, Changed(fs, "data-dir"))
}
