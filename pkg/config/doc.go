// Package config is the host's configuration loader: flags and
// environment for the things an operator tunes per invocation, plus an
// optional YAML file for static host settings that aren't naturally
// CLI flags (lattice name, registry credential seed, cluster issuers).
//
// Load reads the YAML file, if any, into Default()'s values; RegisterFlags
// and ApplyFlags then let a cobra command's flags override only the
// fields an operator actually set on the command line.
package config
