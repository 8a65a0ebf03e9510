// Package engine declares the host's contract with the component execution
// engine. The engine itself — the thing that actually validates and runs a
// compiled WebAssembly component — is treated as an external black box
// reached through a thin client interface rather than reimplemented here.
// Nothing in this package runs WASM; it only describes the shape a real
// engine adapter must satisfy.
package engine

import (
	"context"
	"io"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/wit"
)

// ExportedFunction describes one function exported by a compiled component,
// named and runtime-typed so the router can marshal against it without any
// compile-time knowledge of the component's interface.
type ExportedFunction struct {
	Interface string
	Name      string
	ParamKinds  []wit.Kind
	ResultKinds []wit.Kind
}

// ImportResolver is consulted by the engine for every import a component
// declares that isn't satisfied by a host built-in. It is the polyfill
// boundary: the engine hands the resolver the (interface, function) pair it
// needs to call and the typed arguments, and gets typed results back.
type ImportResolver interface {
	ResolveImport(ctx context.Context, iface, function string, args []wit.Value) ([]wit.Value, error)
}

// InstantiateOptions configures one component instantiation.
type InstantiateOptions struct {
	// MaxExecutionTime bounds every exported-function call with an epoch
	// deadline. Minimum 1 second; a shorter value is raised to 1 second
	// (component.Runtime.Load clamps before Instantiate, and testengine
	// clamps the same way).
	MaxExecutionTime time.Duration

	// Imports resolves any import the engine cannot satisfy itself
	// (WASI preview-2 built-ins are expected to be satisfied internally).
	Imports ImportResolver

	// Stdin/Stdout/Stderr are per-invocation stream bindings; a nil stream
	// means the engine should supply an empty/discard default.
	Stdin          []byte
	Stdout, Stderr io.Writer
	Logger         func(level, msg string)
}

// Instance is one running instantiation of a compiled component.
type Instance interface {
	// Exports enumerates this instance's exported functions with their
	// runtime WIT signatures.
	Exports() []ExportedFunction

	// Call invokes an exported function by (interface, name) and returns
	// its typed results. Implementations must honor ctx cancellation and
	// the epoch deadline configured at instantiation.
	Call(ctx context.Context, iface, function string, args []wit.Value) ([]wit.Value, error)

	// Close releases the instance's resources. Safe to call more than once.
	Close(ctx context.Context) error
}

// Engine instantiates compiled component artifacts. A concrete
// implementation wraps whatever out-of-process or in-process component
// runtime actually validates and executes WebAssembly; this host never
// does that work itself.
type Engine interface {
	// Instantiate validates artifact as a compiled component and returns a
	// running Instance. ArtifactInvalid and LinkingFailed failures (per the
	// host's error taxonomy) are reported through the returned error.
	Instantiate(ctx context.Context, artifact []byte, opts InstantiateOptions) (Instance, error)

	// Close releases engine-wide resources (e.g. a compilation cache).
	Close(ctx context.Context) error
}
