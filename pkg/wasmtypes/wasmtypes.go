// Package wasmtypes holds the flat, JSON-serializable entity structs shared
// across the host: component and provider instances, link definitions,
// component specifications, host state, and per-invocation context.
package wasmtypes

import "time"

// ComponentInstance is the host's record of a scheduled component.
type ComponentInstance struct {
	ComponentID    string            `json:"component_id"`
	ImageReference string            `json:"image_reference"`
	Annotations    map[string]string `json:"annotations,omitempty"`
	MaxInstances   uint32            `json:"max_instances"`
	ClaimsToken    string            `json:"claims_token,omitempty"`
	CallAlias      string            `json:"call_alias,omitempty"`
	AllowUpdate    bool              `json:"allow_update"`
}

// ProviderState is the lifecycle state of a ProviderInstance.
type ProviderState string

const (
	ProviderStarting ProviderState = "starting"
	ProviderRunning  ProviderState = "running"
	ProviderStopping ProviderState = "stopping"
	ProviderStopped  ProviderState = "stopped"
)

// ProviderInstance is the host's record of a running capability provider.
// The process handle and health-task handle are kept out of this struct
// (they are runtime-only, not serialized state) and live alongside it in
// pkg/provider's supervisor map.
type ProviderInstance struct {
	ProviderID     string            `json:"provider_id"`
	ImageReference string            `json:"image_reference"`
	Annotations    map[string]string `json:"annotations,omitempty"`
	State          ProviderState     `json:"state"`
	Shutdown       bool              `json:"shutdown"`
	StartedAt      time.Time         `json:"started_at"`
}

// LinkDefinition binds a component's imported interface to a target.
type LinkDefinition struct {
	SourceID      string   `json:"source_id"`
	Target        string   `json:"target"`
	WitNamespace  string   `json:"wit_namespace"`
	WitPackage    string   `json:"wit_package"`
	Interfaces    []string `json:"interfaces"`
	LinkName      string   `json:"link_name"`
	SourceConfig  []string `json:"source_config,omitempty"`
	TargetConfig  []string `json:"target_config,omitempty"`
}

// PrimaryKey returns the (source_id, wit_namespace, wit_package, link_name)
// tuple that identifies this link's slot in a ComponentSpec.
func (l LinkDefinition) PrimaryKey() LinkKey {
	name := l.LinkName
	if name == "" {
		name = DefaultLinkName
	}
	return LinkKey{SourceID: l.SourceID, WitNamespace: l.WitNamespace, WitPackage: l.WitPackage, LinkName: name}
}

// DefaultLinkName is used when a caller has not overridden the link name.
const DefaultLinkName = "default"

// LinkKey is a LinkDefinition's primary key.
type LinkKey struct {
	SourceID     string
	WitNamespace string
	WitPackage   string
	LinkName     string
}

// InterfaceSet returns l.Interfaces as a set for overlap checks.
func (l LinkDefinition) InterfaceSet() map[string]struct{} {
	set := make(map[string]struct{}, len(l.Interfaces))
	for _, i := range l.Interfaces {
		set[i] = struct{}{}
	}
	return set
}

// Overlaps reports whether l and other share at least one interface.
func (l LinkDefinition) Overlaps(other LinkDefinition) bool {
	set := other.InterfaceSet()
	for _, i := range l.Interfaces {
		if _, ok := set[i]; ok {
			return true
		}
	}
	return false
}

// ComponentSpec is the ordered list of links sourced from one component.
type ComponentSpec struct {
	SourceID string           `json:"source_id"`
	Links    []LinkDefinition `json:"links"`
}

// HostReadyState tracks the host's shutdown state machine.
type HostReadyState string

const (
	HostReady      HostReadyState = "READY"
	HostStopping   HostReadyState = "STOPPING"
	HostDrained    HostReadyState = "DRAINED"
	HostTerminated HostReadyState = "TERMINATED"
)

// HostState is the per-process descriptor of this host.
type HostState struct {
	HostID       string            `json:"host_id"`
	Lattice      string            `json:"lattice"`
	Labels       map[string]string `json:"labels"`
	StartTime    time.Time         `json:"start_time"`
	Version      string            `json:"version"`
	Ready        bool              `json:"ready"`
	ReadyState   HostReadyState    `json:"ready_state"`
	StopDeadline *time.Time        `json:"stop_deadline,omitempty"`
}

// ReservedLabelPrefix marks labels the control plane may not mutate.
const ReservedLabelPrefix = "hostcore."

// InvocationContext is bound to a single guest invocation.
type InvocationContext struct {
	SourceComponentID  string            `json:"source_component_id"`
	TraceContext       [][2]string       `json:"trace_context,omitempty"`
	LinkNameOverride   map[string]string `json:"link_name_override,omitempty"`
	InvocationTimeout  time.Duration     `json:"invocation_timeout"`
}

// LinkNameFor returns the overridden link name for iface, or DefaultLinkName.
func (ic InvocationContext) LinkNameFor(iface string) string {
	if ic.LinkNameOverride != nil {
		if n, ok := ic.LinkNameOverride[iface]; ok && n != "" {
			return n
		}
	}
	return DefaultLinkName
}
