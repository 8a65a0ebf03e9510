package provider

import "github.com/wasmcloud/wasmhost/pkg/wasmtypes"

// HostData is the JSON document written to a spawned provider's stdin at
// startup. It is deliberately flat and typed, one field per concern,
// carried as JSON rather than protobuf since a provider child has no
// generated stub to decode one.
type HostData struct {
	LatticeName     string                     `json:"lattice_name"`
	LatticeRPCURL   string                     `json:"lattice_rpc_url"`
	LatticeRPCCreds map[string]string          `json:"lattice_rpc_credentials,omitempty"`
	ProviderID      string                     `json:"provider_id"`
	HostID          string                     `json:"host_id"`
	LinkDefinitions []wasmtypes.LinkDefinition `json:"link_definitions"`
	Config          map[string]string          `json:"config"`
	ClusterIssuers  []string                   `json:"cluster_issuers"`
	LogLevel        string                     `json:"log_level"`
}
