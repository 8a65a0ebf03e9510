package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wasmcloud/wasmhost/pkg/log"
)

// RegisterFlags declares the flags a `host up` command accepts onto fs,
// defaulted from Default() rather than bound to any particular
// HostConfig value, and read back explicitly in RunE with
// fs.GetString/GetBool rather than pointer binding, so a YAML file
// loaded later can still win when a flag was left at its zero value.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("host-id", d.HostID, "stable identity for this host; generated if empty")
	fs.String("lattice", d.Lattice, "lattice name this host joins")
	fs.String("data-dir", d.DataDir, "directory for artifact caches and staged provider binaries")
	fs.String("transport", d.Transport, "lattice transport: mem, raft, or grpc")
	fs.String("listen-addr", d.ListenAddr, "address grpctransport or raftkv binds to")
	fs.String("debug-addr", d.DebugAddr, "address serving /metrics, /health, /ready, /live; empty disables it")
	fs.String("discovery-domain", d.Discovery.Domain, "DNS zone to query for SRV peer records")
	fs.StringSlice("peer", d.Discovery.StaticPeers, "static peer address (host:port); repeatable, skips DNS discovery")
	fs.StringSlice("cluster-issuer", d.ClusterIssuers, "allow-listed claims issuer public key; repeatable")
	fs.Duration("heartbeat-interval", d.HeartbeatInterval, "interval between lattice heartbeats")
	fs.Duration("default-stop-timeout", d.DefaultStopTimeout, "default graceful shutdown budget for stop_host")
}

// ApplyFlags overlays every flag the caller actually set on fs onto cfg,
// leaving fields untouched when the flag is still at its default so a
// flag only overrides a loaded manifest when it was explicitly set.
func ApplyFlags(fs *pflag.FlagSet, cfg *HostConfig) {
	if Changed(fs, "host-id") {
		cfg.HostID, _ = fs.GetString("host-id")
	}
	if Changed(fs, "lattice") {
		cfg.Lattice, _ = fs.GetString("lattice")
	}
	if Changed(fs, "data-dir") {
		cfg.DataDir, _ = fs.GetString("data-dir")
	}
	if Changed(fs, "transport") {
		cfg.Transport, _ = fs.GetString("transport")
	}
	if Changed(fs, "listen-addr") {
		cfg.ListenAddr, _ = fs.GetString("listen-addr")
	}
	if Changed(fs, "debug-addr") {
		cfg.DebugAddr, _ = fs.GetString("debug-addr")
	}
	if Changed(fs, "discovery-domain") {
		cfg.Discovery.Domain, _ = fs.GetString("discovery-domain")
	}
	if Changed(fs, "peer") {
		cfg.Discovery.StaticPeers, _ = fs.GetStringSlice("peer")
	}
	if Changed(fs, "cluster-issuer") {
		cfg.ClusterIssuers, _ = fs.GetStringSlice("cluster-issuer")
	}
	if Changed(fs, "heartbeat-interval") {
		cfg.HeartbeatInterval, _ = fs.GetDuration("heartbeat-interval")
	}
	if Changed(fs, "default-stop-timeout") {
		cfg.DefaultStopTimeout, _ = fs.GetDuration("default-stop-timeout")
	}
}

// BindLogFlags registers the persistent, root-level logging flags once
// on root, read back via cobra.OnInitialize rather than repeating the
// registration per subcommand.
func BindLogFlags(root *cobra.Command, cfg *log.Config) {
	root.PersistentFlags().StringVar((*string)(&cfg.Level), "log-level", string(log.InfoLevel), "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&cfg.JSONOutput, "log-json", false, "emit structured JSON logs instead of the console writer")
}

// Changed reports whether a flag was explicitly set on fs, as opposed
// to still holding its registered default.
func Changed(fs *pflag.FlagSet, name string) bool {
	flag := fs.Lookup(name)
	return flag != nil && flag.Changed
}
