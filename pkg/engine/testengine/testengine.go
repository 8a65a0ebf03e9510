// Package testengine is an in-memory fake of pkg/engine.Engine, so
// higher package tests can substitute it for a real WASM runtime. It
// never interprets WASM bytes; callers register Go closures keyed by
// export name instead.
package testengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/engine"
	"github.com/wasmcloud/wasmhost/pkg/wit"
)

// Func is a fake export implementation.
type Func func(ctx context.Context, args []wit.Value) ([]wit.Value, error)

// Engine is a table of artifact-digest -> exported function name -> Func.
// Tests register fixtures via Register before the component they simulate
// is ever instantiated.
type Engine struct {
	mu        sync.RWMutex
	artifacts map[string]map[string]Func
	// InvalidArtifacts causes Instantiate to fail for the given digest
	// (simulating ArtifactInvalid).
	InvalidArtifacts map[string]bool
}

// New returns an empty test engine.
func New() *Engine {
	return &Engine{artifacts: make(map[string]map[string]Func)}
}

// Register associates function under name within the fake artifact keyed by
// digest (any caller-chosen string standing in for a real content digest).
func (e *Engine) Register(digest, name string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.artifacts[digest] == nil {
		e.artifacts[digest] = make(map[string]Func)
	}
	e.artifacts[digest][name] = fn
}

// Instantiate implements engine.Engine. The artifact byte slice is expected
// to simply be the digest string used with Register — this fake never
// parses component bytes.
func (e *Engine) Instantiate(ctx context.Context, artifact []byte, opts engine.InstantiateOptions) (engine.Instance, error) {
	digest := string(artifact)
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.InvalidArtifacts[digest] {
		return nil, fmt.Errorf("artifact invalid: %s", digest)
	}

	fns, ok := e.artifacts[digest]
	if !ok {
		fns = make(map[string]Func)
	}

	deadline := opts.MaxExecutionTime
	if deadline < time.Second {
		deadline = time.Second
	}

	return &instance{fns: fns, imports: opts.Imports, deadline: deadline}, nil
}

// Close implements engine.Engine.
func (e *Engine) Close(ctx context.Context) error { return nil }

type instance struct {
	fns      map[string]Func
	imports  engine.ImportResolver
	deadline time.Duration
	closed   bool
	mu       sync.Mutex
}

func (i *instance) Exports() []engine.ExportedFunction {
	out := make([]engine.ExportedFunction, 0, len(i.fns))
	for name := range i.fns {
		out = append(out, engine.ExportedFunction{Name: name})
	}
	return out
}

func (i *instance) Call(ctx context.Context, iface, function string, args []wit.Value) ([]wit.Value, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil, fmt.Errorf("instance closed")
	}
	i.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, i.deadline)
	defer cancel()

	fn, ok := i.fns[function]
	if !ok {
		return nil, fmt.Errorf("export not found: %s", function)
	}

	type result struct {
		vals []wit.Value
		err  error
	}
	done := make(chan result, 1)
	go func() {
		vals, err := fn(ctx, args)
		done <- result{vals, err}
	}()

	select {
	case r := <-done:
		return r.vals, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (i *instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}
