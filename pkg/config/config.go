package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/ociauth"
)

// HostConfig is every setting a running host needs, whether it came
// from a flag, an environment variable, or the YAML file. Flags always
// win over the file; the file always wins over these defaults.
type HostConfig struct {
	// HostID identifies this host on the lattice. Empty means generate
	// one at startup (a host doesn't need a stable identity across restarts).
	HostID string `yaml:"host_id"`

	// Lattice is the lattice name every subject and bucket is scoped
	// under; hosts in different lattices never see each other's traffic.
	Lattice string `yaml:"lattice"`

	// DataDir is where artifact caches, staged provider binaries, and
	// (for grpctransport+raftkv) the replicated log live.
	DataDir string `yaml:"data_dir"`

	// Transport selects the lattice.Transport implementation: "mem", "raft", or "grpc".
	Transport string `yaml:"transport"`

	// ListenAddr is where grpctransport's Server listens, when Transport is "grpc" or "raft".
	ListenAddr string `yaml:"listen_addr"`

	// DebugAddr is where the host's Prometheus /metrics and /health,
	// /ready, /live endpoints are served. Empty disables the debug
	// server entirely.
	DebugAddr string `yaml:"debug_addr"`

	// Discovery configures how this host finds its peers when Transport
	// is "grpc" and StaticPeers is empty.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// ClusterIssuers lists claims-issuer public keys for this host. The
	// host publishes them as hostcore.cluster_issuer.<n> labels; component
	// and provider claims are not checked against this list.
	ClusterIssuers []string `yaml:"cluster_issuers"`

	// Registries seeds the OCI credential table at startup, keyed by
	// registry host. Secrets here are read once into pkg/ociauth's
	// encrypted table; this file is not itself treated as a secret store.
	Registries map[string]ociauth.RegistryCreds `yaml:"registries"`

	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	DefaultStopTimeout time.Duration `yaml:"default_stop_timeout"`

	Log log.Config `yaml:"-"`
}

// DiscoveryConfig mirrors pkg/discovery.Config, kept separate so this
// package doesn't have to import pkg/discovery just to parse YAML.
type DiscoveryConfig struct {
	Domain      string   `yaml:"domain"`
	StaticPeers []string `yaml:"static_peers"`
}

// Default returns a HostConfig usable as a single-host, in-memory
// lattice with no external dependencies, suitable for `host up` with
// no config file.
func Default() HostConfig {
	return HostConfig{
		Lattice:            "default",
		DataDir:            "./wasmhost-data",
		Transport:          "mem",
		ListenAddr:         "127.0.0.1:7890",
		DebugAddr:          "127.0.0.1:9090",
		HeartbeatInterval:  30 * time.Second,
		DefaultStopTimeout: 10 * time.Second,
	}
}

// Load reads a YAML file at path and merges it over Default(). A
// missing file is not an error — the defaults (and whatever flags the
// caller layers on afterward) are still usable.
func Load(path string) (HostConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a config that would make the host unable to start,
// the same guard-before-use spirit as provider.Config's field docs.
func (c HostConfig) Validate() error {
	if c.Lattice == "" {
		return fmt.Errorf("config: lattice name is required")
	}
	if c.Transport != "mem" && c.Transport != "raft" && c.Transport != "grpc" {
		return fmt.Errorf("config: transport must be \"mem\", \"raft\", or \"grpc\", got %q", c.Transport)
	}
	if c.Transport == "grpc" && c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required for the grpc transport")
	}
	if c.Transport == "raft" && c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required for the raft transport")
	}
	return nil
}
