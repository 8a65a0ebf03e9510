// Package discovery resolves other wasmhost hosts' grpctransport
// addresses over DNS when no static peer list is configured. It queries
// SRV records to find the lattice's other hosts rather than serving
// records about its own.
package discovery
