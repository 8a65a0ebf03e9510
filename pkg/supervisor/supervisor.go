// Package supervisor is the host's component supervisor: it keeps a
// per-component-id pool of running instances sized to a target count,
// executes scale and update operations against that pool, and answers
// auction checks. State lives in a single in-process map guarded by a
// mutex rather than a Raft FSM.
package supervisor

import (
	"context"
	"sync"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/wasmcloud/wasmhost/pkg/artifact"
	"github.com/wasmcloud/wasmhost/pkg/claims"
	"github.com/wasmcloud/wasmhost/pkg/component"
	"github.com/wasmcloud/wasmhost/pkg/engine"
	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
	"github.com/wasmcloud/wasmhost/pkg/router"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
	"github.com/wasmcloud/wasmhost/pkg/wit"
)

// Config tunes the supervisor's timing knobs.
type Config struct {
	// DrainDeadline bounds how long a scale-to-zero or update waits for
	// an instance's in-flight invocations to finish before it is closed
	// out from under them.
	DrainDeadline time.Duration

	// MaxExecutionTime is passed through to every component.Load call.
	MaxExecutionTime time.Duration
}

// DefaultConfig matches the bounded-wait idiom pkg/provider uses for
// provider_shutdown_delay.
func DefaultConfig() Config {
	return Config{
		DrainDeadline:    10 * time.Second,
		MaxExecutionTime: 10 * time.Second,
	}
}

// EventPublisher is the narrow seam into the event broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject string, data any) error
}

// trackedInstance wraps a component.Instance with its own in-flight call
// counter, so draining one generation of instances never has to wait on
// calls landing on a different generation's instances.
type trackedInstance struct {
	inst *component.Instance
	wg   sync.WaitGroup
}

func (t *trackedInstance) Call(ctx context.Context, iface, function string, args []wit.Value) ([]wit.Value, error) {
	t.wg.Add(1)
	defer t.wg.Done()
	return t.inst.Call(ctx, iface, function, args)
}

func (t *trackedInstance) drainAndClose(ctx context.Context, deadline time.Duration) {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deadline):
		log.WithComponent("supervisor").Warn().Str("component_id", t.inst.ComponentID).Msg("drain deadline exceeded, closing instance with invocations still in flight")
	}
	_ = t.inst.Close(ctx)
}

// instancePool is the live pool behind one component id, and satisfies
// router.Pool so the invocation router can pick an instance for each inbound call.
type instancePool struct {
	mu        sync.RWMutex
	instances []*trackedInstance
	next      int
	draining  bool
}

func (p *instancePool) Pick() (router.Invoker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.draining || len(p.instances) == 0 {
		return nil, wasmerr.Wrap(wasmerr.Unavailable, nil, "component instance pool is empty or draining")
	}
	t := p.instances[p.next%len(p.instances)]
	p.next++
	return t, nil
}

func (p *instancePool) size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

type componentEntry struct {
	spec      wasmtypes.ComponentInstance
	pool      *instancePool
	stopRoute func()
}

// Supervisor owns every component id's pool on this host.
type Supervisor struct {
	mu         sync.RWMutex
	components map[string]*componentEntry

	runtime   *component.Runtime
	router    *router.Router
	artifacts *artifact.Manager
	events    EventPublisher
	latticeID string
	config    Config
}

// New builds a Supervisor. events may be nil.
func New(runtime *component.Runtime, rtr *router.Router, artifacts *artifact.Manager, events EventPublisher, latticeID string, config Config) *Supervisor {
	return &Supervisor{
		components: make(map[string]*componentEntry),
		runtime:    runtime,
		router:     rtr,
		artifacts:  artifacts,
		events:     events,
		latticeID:  latticeID,
		config:     config,
	}
}

// Scale converges componentID's pool to requested instances via a
// three-way case split on current vs. requested count and, when both are
// nonzero and the image reference has changed, the allow_update gate.
func (s *Supervisor) Scale(ctx context.Context, spec wasmtypes.ComponentInstance, requested uint32) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScaleOperationDuration)

	s.mu.RLock()
	entry, exists := s.components[spec.ComponentID]
	s.mu.RUnlock()

	current := 0
	if exists {
		current = entry.pool.size()
	}

	switch {
	case current == 0 && requested > 0:
		return s.scaleUp(ctx, spec, requested)
	case current > 0 && requested == 0:
		return s.scaleDown(ctx, spec.ComponentID)
	case current > 0 && requested > 0:
		return s.scaleExisting(ctx, entry, spec, requested)
	default:
		return nil
	}
}

func (s *Supervisor) scaleUp(ctx context.Context, spec wasmtypes.ComponentInstance, requested uint32) error {
	if spec.MaxInstances > 0 && requested > spec.MaxInstances {
		requested = spec.MaxInstances
	}

	data, dgst, err := s.artifacts.Fetch(ctx, spec.ImageReference)
	if err != nil {
		s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{"error": err.Error()})
		return wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch component artifact %s", spec.ImageReference)
	}

	if spec.ClaimsToken != "" {
		if err := verifyComponentClaims(spec.ClaimsToken, dgst); err != nil {
			s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{"error": err.Error()})
			return err
		}
	}

	pool := &instancePool{}
	var exports []engine.ExportedFunction
	for i := uint32(0); i < requested; i++ {
		inst, err := s.runtime.Load(ctx, spec.ComponentID, data, component.LoadOptions{
			MaxExecutionTime: s.config.MaxExecutionTime,
			Dispatcher:       s.router,
		})
		if err != nil {
			s.closeAll(ctx, pool.instances)
			metrics.ComponentsFailed.Inc()
			s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{"error": err.Error()})
			return wasmerr.Wrap(wasmerr.Validation, err, "instantiate component")
		}
		if i == 0 {
			exports = inst.Exports()
		}
		pool.instances = append(pool.instances, &trackedInstance{inst: inst})
		metrics.ComponentsStarted.Inc()
	}

	stop, err := s.router.ServeTarget(ctx, spec.ComponentID, exports, pool)
	if err != nil {
		s.closeAll(ctx, pool.instances)
		s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{"error": err.Error()})
		return err
	}

	s.mu.Lock()
	s.components[spec.ComponentID] = &componentEntry{spec: spec, pool: pool, stopRoute: stop}
	s.mu.Unlock()

	metrics.ComponentsTotal.WithLabelValues(spec.ComponentID).Set(float64(requested))
	s.publishEvent(ctx, "component_scaled", spec.ComponentID, map[string]any{"instances": requested})
	return nil
}

func (s *Supervisor) scaleDown(ctx context.Context, componentID string) error {
	s.mu.Lock()
	entry, ok := s.components[componentID]
	if ok {
		delete(s.components, componentID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	entry.pool.mu.Lock()
	entry.pool.draining = true
	instances := entry.pool.instances
	entry.pool.instances = nil
	entry.pool.mu.Unlock()

	if entry.stopRoute != nil {
		entry.stopRoute()
	}

	s.drainAll(ctx, instances)

	metrics.ComponentsTotal.WithLabelValues(componentID).Set(0)
	s.publishEvent(ctx, "component_scaled", componentID, map[string]any{"instances": 0})
	return nil
}

// scaleExisting handles the both-nonzero case: an image change is gated
// by allow_update, a same-image change is a plain resize.
func (s *Supervisor) scaleExisting(ctx context.Context, entry *componentEntry, spec wasmtypes.ComponentInstance, requested uint32) error {
	if spec.ImageReference != entry.spec.ImageReference {
		if !spec.AllowUpdate {
			if err := s.resize(ctx, entry, requested); err != nil {
				return err
			}
			s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{
				"warning": "image reference changed but allow_update is false; kept running on the prior image",
			})
			return nil
		}

		if err := s.resize(ctx, entry, requested); err != nil {
			return err
		}
		return s.Update(ctx, spec)
	}

	return s.resize(ctx, entry, requested)
}

func (s *Supervisor) resize(ctx context.Context, entry *componentEntry, requested uint32) error {
	if entry.spec.MaxInstances > 0 && requested > entry.spec.MaxInstances {
		requested = entry.spec.MaxInstances
	}

	current := entry.pool.size()
	switch {
	case int(requested) > current:
		data, _, err := s.artifacts.Fetch(ctx, entry.spec.ImageReference)
		if err != nil {
			s.publishEvent(ctx, "component_scale_failed", entry.spec.ComponentID, map[string]string{"error": err.Error()})
			return wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch component artifact %s", entry.spec.ImageReference)
		}
		for i := current; i < int(requested); i++ {
			inst, err := s.runtime.Load(ctx, entry.spec.ComponentID, data, component.LoadOptions{
				MaxExecutionTime: s.config.MaxExecutionTime,
				Dispatcher:       s.router,
			})
			if err != nil {
				metrics.ComponentsFailed.Inc()
				s.publishEvent(ctx, "component_scale_failed", entry.spec.ComponentID, map[string]string{"error": err.Error()})
				return wasmerr.Wrap(wasmerr.Validation, err, "instantiate component")
			}
			entry.pool.mu.Lock()
			entry.pool.instances = append(entry.pool.instances, &trackedInstance{inst: inst})
			entry.pool.mu.Unlock()
			metrics.ComponentsStarted.Inc()
		}
	case int(requested) < current:
		entry.pool.mu.Lock()
		excess := append([]*trackedInstance(nil), entry.pool.instances[requested:]...)
		entry.pool.instances = entry.pool.instances[:requested]
		entry.pool.mu.Unlock()
		s.drainAll(ctx, excess)
	}

	metrics.ComponentsTotal.WithLabelValues(entry.spec.ComponentID).Set(float64(requested))
	s.publishEvent(ctx, "component_scaled", entry.spec.ComponentID, map[string]any{"instances": requested})
	return nil
}

// Update fetches newSpec's artifact, validates claims, builds a fresh
// instance per existing pool slot, and atomically swaps the pool's
// handler. The prior generation's instances are drained and closed in
// the background so Update can return as soon as the swap is visible —
// draining must outlive this call's own context, the same lesson
// pkg/provider's process-lifetime handling already applies.
func (s *Supervisor) Update(ctx context.Context, spec wasmtypes.ComponentInstance) error {
	s.mu.RLock()
	entry, ok := s.components[spec.ComponentID]
	s.mu.RUnlock()
	if !ok {
		return wasmerr.Wrapf(wasmerr.NotFound, nil, "component %s not running", spec.ComponentID)
	}

	data, dgst, err := s.artifacts.Fetch(ctx, spec.ImageReference)
	if err != nil {
		s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{"error": err.Error()})
		return wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch component artifact %s", spec.ImageReference)
	}

	if spec.ClaimsToken != "" {
		if err := verifyComponentClaims(spec.ClaimsToken, dgst); err != nil {
			s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{"error": err.Error()})
			return err
		}
	}

	count := entry.pool.size()
	newInstances := make([]*trackedInstance, 0, count)
	for i := 0; i < count; i++ {
		inst, err := s.runtime.Load(ctx, spec.ComponentID, data, component.LoadOptions{
			MaxExecutionTime: s.config.MaxExecutionTime,
			Dispatcher:       s.router,
		})
		if err != nil {
			for _, ni := range newInstances {
				_ = ni.inst.Close(ctx)
			}
			metrics.ComponentsFailed.Inc()
			s.publishEvent(ctx, "component_scale_failed", spec.ComponentID, map[string]string{"error": err.Error()})
			return wasmerr.Wrap(wasmerr.Validation, err, "instantiate updated component")
		}
		newInstances = append(newInstances, &trackedInstance{inst: inst})
	}

	entry.pool.mu.Lock()
	old := entry.pool.instances
	entry.pool.instances = newInstances
	entry.pool.mu.Unlock()

	s.mu.Lock()
	entry.spec = spec
	s.mu.Unlock()

	deadline := s.config.DrainDeadline
	go s.drainAll(context.Background(), oldOrEmpty(old), deadline)

	s.publishEvent(ctx, "component_scaled", spec.ComponentID, map[string]any{"updated": true})
	return nil
}

func oldOrEmpty(instances []*trackedInstance) []*trackedInstance {
	if instances == nil {
		return []*trackedInstance{}
	}
	return instances
}

// Auction reports whether componentID is a valid placement target: every
// constraint key/value must match the host's label map, and the
// component must not already be running here.
func (s *Supervisor) Auction(componentID string, constraints, hostLabels map[string]string) bool {
	for k, v := range constraints {
		if hostLabels[k] != v {
			return false
		}
	}
	s.mu.RLock()
	_, running := s.components[componentID]
	s.mu.RUnlock()
	return !running
}

// List returns a snapshot of every running component's spec.
func (s *Supervisor) List() []wasmtypes.ComponentInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wasmtypes.ComponentInstance, 0, len(s.components))
	for _, e := range s.components {
		out = append(out, e.spec)
	}
	return out
}

// InstanceCount reports how many instances componentID currently has.
func (s *Supervisor) InstanceCount(componentID string) int {
	s.mu.RLock()
	entry, ok := s.components[componentID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return entry.pool.size()
}

func (s *Supervisor) closeAll(ctx context.Context, instances []*trackedInstance) {
	for _, t := range instances {
		_ = t.inst.Close(ctx)
	}
}

func (s *Supervisor) drainAll(ctx context.Context, instances []*trackedInstance, deadlineOverride ...time.Duration) {
	deadline := s.config.DrainDeadline
	if len(deadlineOverride) > 0 {
		deadline = deadlineOverride[0]
	}
	var wg sync.WaitGroup
	for _, t := range instances {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.drainAndClose(ctx, deadline)
		}()
	}
	wg.Wait()
}

func verifyComponentClaims(token string, dgst digest.Digest) error {
	parsed, err := claims.DecodeComponentClaims(token)
	if err != nil {
		return wasmerr.Wrap(wasmerr.Unauthenticated, err, "decode component claims")
	}
	if err := claims.ValidateComponentClaims(parsed); err != nil {
		return err
	}
	if parsed.ModuleHash != "" && parsed.ModuleHash != dgst.String() {
		return wasmerr.Wrapf(wasmerr.Unauthenticated, nil, "component artifact digest %s does not match claims module hash %s", dgst.String(), parsed.ModuleHash)
	}
	return nil
}

func (s *Supervisor) publishEvent(ctx context.Context, eventType, componentID string, data any) {
	if s.events == nil {
		return
	}
	subject := lattice.EventSubject(s.latticeID, eventType)
	_ = s.events.Publish(ctx, eventType, subject, map[string]any{"component_id": componentID, "data": data})
}
