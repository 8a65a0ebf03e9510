// Package component wraps an engine.Engine with the host-side concerns
// kept outside the engine's black-box contract: WASI preview-2 built-in
// satisfiers that the engine itself doesn't cover, the polyfill that
// forwards any remaining unresolved import to the invocation router, a
// per-instance logging sink, and per-invocation stdio buffers. Nothing
// here interprets WASM; it only arranges the calls the engine makes
// back into the host.
package component

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/engine"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
	"github.com/wasmcloud/wasmhost/pkg/wit"
)

// MinExecutionTime is the floor enforced on max_execution_time.
const MinExecutionTime = time.Second

// Dispatcher is the outbound half of the invocation router. A
// component's import polyfill forwards anything it can't satisfy itself
// to a Dispatcher, never talking to the lattice directly.
type Dispatcher interface {
	Dispatch(ctx context.Context, invCtx wasmtypes.InvocationContext, ns, pkg, iface, function string, args []wit.Value) ([]wit.Value, error)
}

// Builtin is a host-satisfied import implementation, registered ahead of
// instantiation for WASI preview-2 instances the engine does not already
// cover internally (e.g. host-specific clock/random seams used in tests).
type Builtin func(ctx context.Context, function string, args []wit.Value) ([]wit.Value, error)

type invocationCtxKey struct{}

// WithInvocationContext attaches invCtx to ctx so it survives the trip
// through the engine and back out to the polyfill resolver, since
// engine.ImportResolver.ResolveImport carries no invocation-context
// parameter of its own.
func WithInvocationContext(ctx context.Context, invCtx wasmtypes.InvocationContext) context.Context {
	return context.WithValue(ctx, invocationCtxKey{}, invCtx)
}

// InvocationContextFrom recovers the context attached by
// WithInvocationContext, or the zero value if none was attached.
func InvocationContextFrom(ctx context.Context) wasmtypes.InvocationContext {
	if v, ok := ctx.Value(invocationCtxKey{}).(wasmtypes.InvocationContext); ok {
		return v
	}
	return wasmtypes.InvocationContext{}
}

// Runtime instantiates compiled component artifacts against a linker
// pre-populated with builtins and the router polyfill.
type Runtime struct {
	engine   engine.Engine
	builtins map[string]Builtin
}

// NewRuntime wraps eng with the host's import-resolution policy.
func NewRuntime(eng engine.Engine) *Runtime {
	return &Runtime{engine: eng, builtins: make(map[string]Builtin)}
}

// RegisterBuiltin installs a host-satisfied import for the given WIT
// interface id (e.g. "wasi:clocks/wall-clock"), consulted before any
// unresolved import is forwarded to the dispatcher.
func (r *Runtime) RegisterBuiltin(iface string, fn Builtin) {
	r.builtins[iface] = fn
}

// LoadOptions configures one component instantiation.
type LoadOptions struct {
	// MaxExecutionTime bounds every exported call; clamped up to
	// MinExecutionTime if shorter.
	MaxExecutionTime time.Duration

	// Dispatcher forwards unresolved imports to the invocation router. Required unless the
	// component imports nothing beyond its registered builtins.
	Dispatcher Dispatcher

	// Stdin seeds the instance's stdio input buffer for this instantiation.
	Stdin []byte
}

// Instance is one running component instantiation, identified by the
// host-assigned component id it belongs to.
type Instance struct {
	ComponentID string

	inner  engine.Instance
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

// Load instantiates artifact as componentID, wiring the polyfill
// resolver and per-instance logging sink.
func (r *Runtime) Load(ctx context.Context, componentID string, artifact []byte, opts LoadOptions) (*Instance, error) {
	deadline := opts.MaxExecutionTime
	if deadline < MinExecutionTime {
		deadline = MinExecutionTime
	}

	logger := log.Logger.With().Str("component", "component").Str("component_id", componentID).Logger()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	resolver := &polyfillResolver{
		runtime:     r,
		componentID: componentID,
		dispatcher:  opts.Dispatcher,
	}

	inner, err := r.engine.Instantiate(ctx, artifact, engine.InstantiateOptions{
		MaxExecutionTime: deadline,
		Imports:          resolver,
		Stdin:            opts.Stdin,
		Stdout:           stdout,
		Stderr:           stderr,
		Logger: func(level, msg string) {
			switch level {
			case "error":
				logger.Error().Msg(msg)
			case "warn":
				logger.Warn().Msg(msg)
			case "debug":
				logger.Debug().Msg(msg)
			default:
				logger.Info().Msg(msg)
			}
		},
	})
	if err != nil {
		return nil, wasmerr.Wrapf(wasmerr.Validation, err, "instantiate component %s", componentID)
	}

	return &Instance{ComponentID: componentID, inner: inner, stdout: stdout, stderr: stderr}, nil
}

// Exports enumerates this instance's exported functions.
func (i *Instance) Exports() []engine.ExportedFunction {
	return i.inner.Exports()
}

// Call invokes an exported function. ctx should carry an invocation
// context via WithInvocationContext when the caller has one, so the
// polyfill resolver can route trace headers and link overrides correctly
// for any import this call triggers.
func (i *Instance) Call(ctx context.Context, iface, function string, args []wit.Value) ([]wit.Value, error) {
	return i.inner.Call(ctx, iface, function, args)
}

// Stdout returns the bytes this instance has written to stdout so far.
func (i *Instance) Stdout() []byte { return i.stdout.Bytes() }

// Stderr returns the bytes this instance has written to stderr so far.
func (i *Instance) Stderr() []byte { return i.stderr.Bytes() }

// Close releases the underlying engine instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.inner.Close(ctx)
}

// polyfillResolver implements engine.ImportResolver: builtins first, then
// forward to the dispatcher using the invocation context attached to
// ctx, if any.
type polyfillResolver struct {
	runtime     *Runtime
	componentID string
	dispatcher  Dispatcher
}

func (p *polyfillResolver) ResolveImport(ctx context.Context, iface, function string, args []wit.Value) ([]wit.Value, error) {
	if fn, ok := p.runtime.builtins[iface]; ok {
		return fn(ctx, function, args)
	}

	if p.dispatcher == nil {
		return nil, wasmerr.Wrapf(wasmerr.Validation, nil, "component %s: no dispatcher configured for unresolved import %s", p.componentID, iface)
	}

	ns, pkg, witIface, err := parseWitInterface(iface)
	if err != nil {
		return nil, wasmerr.Wrapf(wasmerr.Validation, err, "component %s: linking failed", p.componentID)
	}

	invCtx := InvocationContextFrom(ctx)
	invCtx.SourceComponentID = p.componentID
	return p.dispatcher.Dispatch(ctx, invCtx, ns, pkg, witIface, function, args)
}

// parseWitInterface splits a "namespace:package/interface" WIT interface
// id into its three components.
func parseWitInterface(id string) (ns, pkg, iface string, err error) {
	nsRest := strings.SplitN(id, ":", 2)
	if len(nsRest) != 2 {
		return "", "", "", fmt.Errorf("malformed wit interface id %q: missing namespace", id)
	}
	pkgIface := strings.SplitN(nsRest[1], "/", 2)
	if len(pkgIface) != 2 {
		return "", "", "", fmt.Errorf("malformed wit interface id %q: missing interface", id)
	}
	return nsRest[0], pkgIface[0], pkgIface[1], nil
}
