// Package router is the host's invocation router: the outbound path a
// component's unresolved imports land in (pkg/component's polyfill
// forwards here), and the inbound path an exported function is reached
// through from the lattice. The outbound sequence is link lookup,
// subject construction, trace header injection, then a reply await,
// expressed over pkg/lattice.Transport instead of a NATS client
// directly.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wasmcloud/wasmhost/pkg/engine"
	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/linktable"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
	"github.com/wasmcloud/wasmhost/pkg/wit"
)

// Config tunes the chunked-transport threshold and timeout budget, kept
// as an explicit struct rather than package constants so callers can
// override any tunable without recompiling.
type Config struct {
	// ChunkThreshold is the inline payload size, in bytes, above which the
	// body is staged in the lattice's chunk bucket instead of published
	// directly.
	ChunkThreshold int

	// InvocationTimeout is used when an InvocationContext carries no
	// override.
	InvocationTimeout time.Duration

	// ChunkExtraBudget is added to InvocationTimeout when a request
	// requires a chunk round-trip, to cover the extra fetch.
	ChunkExtraBudget time.Duration
}

// DefaultConfig sets a 900KiB inline ceiling (under NATS's 1MiB default
// max payload), a two second base invocation timeout, and a one second
// chunk fetch allowance.
func DefaultConfig() Config {
	return Config{
		ChunkThreshold:    900 * 1024,
		InvocationTimeout: 2 * time.Second,
		ChunkExtraBudget:  time.Second,
	}
}

// Invoker executes one exported call against a local instance —
// satisfied by component.Instance and by a provider's RPC stub.
type Invoker interface {
	Call(ctx context.Context, iface, function string, args []wit.Value) ([]wit.Value, error)
}

// Pool selects the Invoker that should serve the next inbound call
// addressed to a target id. The component supervisor owns the pool
// of live instances; the router only ever asks it to Pick one.
type Pool interface {
	Pick() (Invoker, error)
}

// Router dispatches invocations both out to the lattice and in from it.
type Router struct {
	transport lattice.Transport
	links     *linktable.Table
	latticeID string
	config    Config
}

// New builds a Router over transport, resolving link targets against
// links for the given lattice.
func New(transport lattice.Transport, links *linktable.Table, latticeID string, config Config) *Router {
	return &Router{transport: transport, links: links, latticeID: latticeID, config: config}
}

// invocationEnvelope is the wire shape of an outbound call. Exactly one of
// Args or ChunkRef is populated.
type invocationEnvelope struct {
	Function string      `json:"function"`
	Args     [][]byte    `json:"args,omitempty"`
	ChunkRef string       `json:"chunk_ref,omitempty"`
	Trace    [][2]string `json:"trace,omitempty"`
}

// replyEnvelope is the wire shape of a reply. Exactly one of Results or
// ChunkRef is populated on success; ErrorKind is set on failure.
type replyEnvelope struct {
	Results   [][]byte `json:"results,omitempty"`
	ChunkRef  string   `json:"chunk_ref,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Dispatch implements component.Dispatcher: it is the outbound half of the
// router, reached whenever a component's polyfill forwards an unresolved
// import here.
func (r *Router) Dispatch(ctx context.Context, invCtx wasmtypes.InvocationContext, ns, pkg, iface, function string, args []wit.Value) ([]wit.Value, error) {
	timer := metrics.NewTimer()

	linkName := invCtx.LinkNameFor(iface)
	target, ok := r.links.Lookup(invCtx.SourceComponentID, linkName, ns, pkg, iface)
	if !ok {
		metrics.InvocationsTotal.WithLabelValues("no_link").Inc()
		hints := r.links.Hints(invCtx.SourceComponentID)
		return nil, wasmerr.Wrapf(wasmerr.NotFound,
			fmt.Errorf("configured links for %s: %v", invCtx.SourceComponentID, hints),
			"no link named %q for %s:%s/%s", linkName, ns, pkg, iface)
	}

	payload, chunked, err := r.encodeInvocation(ctx, function, args, invCtx.TraceContext)
	if err != nil {
		metrics.InvocationsTotal.WithLabelValues("encode_error").Inc()
		return nil, wasmerr.Wrap(wasmerr.Protocol, err, "encode invocation payload")
	}

	timeout := invCtx.InvocationTimeout
	if timeout <= 0 {
		timeout = r.config.InvocationTimeout
	}
	if chunked {
		timeout += r.config.ChunkExtraBudget
	}

	headers := traceHeaders(invCtx.TraceContext)
	subject := lattice.RPCSubject(r.latticeID, target, iface, function)

	reply, err := r.transport.Request(ctx, subject, headers, payload, timeout)
	if err != nil {
		metrics.InvocationsTotal.WithLabelValues("unavailable").Inc()
		timer.ObserveDurationVec(metrics.InvocationDuration, iface)
		return nil, wasmerr.Wrapf(wasmerr.Unavailable, err, "invoke %s on %s", function, target)
	}

	results, replyErr := r.decodeReply(ctx, reply.Data)
	timer.ObserveDurationVec(metrics.InvocationDuration, iface)
	if replyErr != nil {
		metrics.InvocationsTotal.WithLabelValues("error").Inc()
		return nil, replyErr
	}

	metrics.InvocationsTotal.WithLabelValues("ok").Inc()
	return results, nil
}

// ServeTarget subscribes to every exported function's subject on behalf of
// targetID, dispatching inbound calls to whichever Invoker pool selects.
// The returned stop func tears every subscription down; callers invoke it
// when targetID is scaled to zero or removed.
func (r *Router) ServeTarget(ctx context.Context, targetID string, exports []engine.ExportedFunction, pool Pool) (func(), error) {
	subs := make([]lattice.Subscription, 0, len(exports))

	stop := func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}

	for _, export := range exports {
		subject := lattice.RPCSubject(r.latticeID, targetID, export.Interface, export.Name)
		sub, err := r.transport.Subscribe(ctx, subject)
		if err != nil {
			stop()
			return nil, wasmerr.Wrapf(wasmerr.Unavailable, err, "subscribe %s", subject)
		}
		subs = append(subs, sub)

		go r.serveExport(ctx, sub, export.Interface, export.Name, pool)
	}

	return stop, nil
}

func (r *Router) serveExport(ctx context.Context, sub lattice.Subscription, iface, function string, pool Pool) {
	for msg := range sub.Messages() {
		go r.handleInbound(ctx, msg, iface, function, pool)
	}
}

func (r *Router) handleInbound(ctx context.Context, msg *lattice.Message, iface, function string, pool Pool) {
	args, err := r.decodeInvocation(ctx, msg.Data)
	if err != nil {
		r.replyError(ctx, msg, wasmerr.Wrap(wasmerr.Protocol, err, "decode invocation"))
		return
	}

	invoker, err := pool.Pick()
	if err != nil {
		r.replyError(ctx, msg, err)
		return
	}

	results, err := invoker.Call(ctx, iface, function, args)
	if err != nil {
		r.replyError(ctx, msg, err)
		return
	}

	r.replyResults(ctx, msg, results)
}

func traceHeaders(trace [][2]string) map[string]string {
	if len(trace) == 0 {
		return nil
	}
	headers := make(map[string]string, len(trace))
	for _, kv := range trace {
		headers[kv[0]] = kv[1]
	}
	return headers
}

// encodeInvocation marshals function+args to the wire envelope, staging
// the body in the chunk bucket when it exceeds the configured threshold.
// The boolean reports whether the body was staged.
func (r *Router) encodeInvocation(ctx context.Context, function string, args []wit.Value, trace [][2]string) ([]byte, bool, error) {
	argBytes, err := encodeValues(args)
	if err != nil {
		return nil, false, err
	}

	env := invocationEnvelope{Function: function, Args: argBytes, Trace: trace}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, false, err
	}

	if len(data) <= r.config.ChunkThreshold {
		return data, false, nil
	}

	ref, err := r.stageChunk(ctx, data)
	if err != nil {
		return nil, false, err
	}
	metrics.InvocationsChunked.Inc()
	out, err := json.Marshal(invocationEnvelope{Function: function, ChunkRef: ref, Trace: trace})
	return out, true, err
}

func (r *Router) decodeInvocation(ctx context.Context, data []byte) ([]wit.Value, error) {
	var env invocationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	if env.ChunkRef != "" {
		full, err := r.fetchChunk(ctx, env.ChunkRef)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(full, &env); err != nil {
			return nil, err
		}
	}

	return decodeValues(env.Args)
}

func (r *Router) decodeReply(ctx context.Context, data []byte) ([]wit.Value, error) {
	var env replyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, wasmerr.Wrap(wasmerr.Protocol, err, "decode reply envelope")
	}

	if env.ChunkRef != "" {
		full, err := r.fetchChunk(ctx, env.ChunkRef)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(full, &env); err != nil {
			return nil, wasmerr.Wrap(wasmerr.Protocol, err, "decode chunked reply envelope")
		}
	}

	if env.ErrorKind != "" {
		return nil, wasmerr.Wrap(wasmerr.Kind(env.ErrorKind), nil, env.Error)
	}

	results, err := decodeValues(env.Results)
	if err != nil {
		return nil, wasmerr.Wrap(wasmerr.Protocol, err, "decode reply results")
	}
	return results, nil
}

func (r *Router) replyResults(ctx context.Context, msg *lattice.Message, results []wit.Value) {
	resultBytes, err := encodeValues(results)
	if err != nil {
		r.replyError(ctx, msg, wasmerr.Wrap(wasmerr.Protocol, err, "encode reply results"))
		return
	}

	env := replyEnvelope{Results: resultBytes}
	data, err := json.Marshal(env)
	if err != nil {
		r.replyError(ctx, msg, wasmerr.Wrap(wasmerr.Protocol, err, "marshal reply"))
		return
	}

	if len(data) > r.config.ChunkThreshold {
		ref, err := r.stageChunk(ctx, data)
		if err != nil {
			r.replyError(ctx, msg, err)
			return
		}
		metrics.InvocationsChunked.Inc()
		data, err = json.Marshal(replyEnvelope{ChunkRef: ref})
		if err != nil {
			r.replyError(ctx, msg, wasmerr.Wrap(wasmerr.Protocol, err, "marshal chunked reply"))
			return
		}
	}

	if msg.Reply == "" {
		return
	}
	_ = r.transport.Publish(ctx, msg.Reply, nil, data)
}

func (r *Router) replyError(ctx context.Context, msg *lattice.Message, err error) {
	env := replyEnvelope{ErrorKind: string(wasmerr.KindOf(err)), Error: err.Error()}
	data, marshalErr := json.Marshal(env)
	if marshalErr != nil || msg.Reply == "" {
		return
	}
	_ = r.transport.Publish(ctx, msg.Reply, nil, data)
}

func (r *Router) stageChunk(ctx context.Context, data []byte) (string, error) {
	bucket, err := r.transport.Bucket(lattice.ChunkBucket(r.latticeID))
	if err != nil {
		return "", wasmerr.Wrap(wasmerr.Unavailable, err, "open chunk bucket")
	}
	ref := uuid.NewString()
	if _, err := bucket.Put(ctx, r.latticeID+"/"+ref, data); err != nil {
		return "", wasmerr.Wrap(wasmerr.Unavailable, err, "stage chunk")
	}
	return ref, nil
}

func (r *Router) fetchChunk(ctx context.Context, ref string) ([]byte, error) {
	bucket, err := r.transport.Bucket(lattice.ChunkBucket(r.latticeID))
	if err != nil {
		return nil, wasmerr.Wrap(wasmerr.Unavailable, err, "open chunk bucket")
	}
	data, _, err := bucket.Get(ctx, r.latticeID+"/"+ref)
	if err != nil {
		return nil, wasmerr.Wrap(wasmerr.Unavailable, err, "fetch chunk "+ref)
	}
	return data, nil
}

func encodeValues(values []wit.Value) ([][]byte, error) {
	out := make([][]byte, len(values))
	for i, v := range values {
		b, err := wit.Encode(v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func decodeValues(raw [][]byte) ([]wit.Value, error) {
	out := make([]wit.Value, len(raw))
	for i, b := range raw {
		v, err := wit.Decode(b)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
