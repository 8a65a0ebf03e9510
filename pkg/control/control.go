// Package control is the host's control plane: one request/reply
// handler per verb, each listening on its own lattice subject. Verbs
// acknowledge the request immediately and publish any longer-running
// outcome as a separate event; every handler guards on readiness
// (ensureReady) before mutating host state.
package control

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/configstore"
	"github.com/wasmcloud/wasmhost/pkg/heartbeat"
	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/linktable"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/ociauth"
	"github.com/wasmcloud/wasmhost/pkg/provider"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

// ComponentSupervisor is the narrow seam into the component supervisor this server drives.
type ComponentSupervisor interface {
	Scale(ctx context.Context, spec wasmtypes.ComponentInstance, requested uint32) error
	Update(ctx context.Context, spec wasmtypes.ComponentInstance) error
	Auction(componentID string, constraints, hostLabels map[string]string) bool
	List() []wasmtypes.ComponentInstance
	InstanceCount(componentID string) int
}

// ProviderSupervisor is the narrow seam into the provider supervisor.
type ProviderSupervisor interface {
	Start(ctx context.Context, spec provider.StartSpec) error
	Stop(ctx context.Context, providerID string) error
	List() []wasmtypes.ProviderInstance
	IsRunning(providerID string) bool
}

// EventPublisher is the narrow seam into the event broker, matching the same
// signature pkg/provider and pkg/supervisor already declare so one
// concrete broker satisfies every seam without an adapter.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject string, data any) error
}

// Drainer is the narrow seam pkg/host wires in so stop_host can trigger
// a coordinated drain of every running component and provider; nil
// skips draining (useful in tests that only exercise individual verbs).
type Drainer interface {
	DrainAll(ctx context.Context) error
}

// Config tunes the control server.
type Config struct {
	// DefaultStopTimeout bounds how long DRAINED waits for Drainer when
	// a stop_host request doesn't specify its own timeout.
	DefaultStopTimeout time.Duration
	Version            string
}

func DefaultConfig() Config {
	return Config{DefaultStopTimeout: 10 * time.Second, Version: "0.1.0"}
}

// Server answers every control verb for one host.
type Server struct {
	mu           sync.RWMutex
	readyState   wasmtypes.HostReadyState
	stopDeadline *time.Time

	transport lattice.Transport
	latticeID string
	hostID    string
	startTime time.Time
	config    Config

	components ComponentSupervisor
	providers  ProviderSupervisor
	store      configstore.Store
	links      *linktable.Table
	labels     *heartbeat.LabelManager
	registries *ociauth.Table
	events     EventPublisher
	drainer    Drainer

	subs []lattice.Subscription
}

// New builds a Server. drainer and events may both be nil.
func New(
	transport lattice.Transport,
	latticeID, hostID string,
	components ComponentSupervisor,
	providers ProviderSupervisor,
	store configstore.Store,
	links *linktable.Table,
	labels *heartbeat.LabelManager,
	registries *ociauth.Table,
	events EventPublisher,
	drainer Drainer,
	config Config,
) *Server {
	return &Server{
		readyState: wasmtypes.HostReady,
		transport:  transport,
		latticeID:  latticeID,
		hostID:     hostID,
		startTime:  time.Now(),
		config:     config,
		components: components,
		providers:  providers,
		store:      store,
		links:      links,
		labels:     labels,
		registries: registries,
		events:     events,
		drainer:    drainer,
	}
}

// HostID returns this server's host id, satisfying heartbeat.HostStateProvider.
func (s *Server) HostID() string { return s.hostID }

// Ready reports whether the host is still accepting mutating control
// requests, satisfying heartbeat.HostStateProvider.
func (s *Server) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyState == wasmtypes.HostReady
}

// ReadyState returns the current shutdown-state-machine position.
func (s *Server) ReadyState() wasmtypes.HostReadyState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readyState
}

type verbScope int

const (
	scopeHost verbScope = iota
	scopeFleet
)

type verbHandler func(ctx context.Context, payload []byte) (reply any, shouldReply bool, err error)

// unguardedVerbs skip the ensureReady check: from STOPPING, any further
// control request except inventory and ping is rejected.
var unguardedVerbs = map[string]bool{
	"inventory":  true,
	"ping_hosts": true,
}

// Serve subscribes every verb's subject and begins answering requests.
// It returns once every subscription is established; handling happens
// in background goroutines until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	verbs := []struct {
		verb    string
		scope   verbScope
		handler verbHandler
	}{
		{"auction_component", scopeFleet, s.handleAuctionComponent},
		{"auction_provider", scopeFleet, s.handleAuctionProvider},
		{"ping_hosts", scopeFleet, s.handlePingHosts},
		{"scale_component", scopeHost, s.handleScaleComponent},
		{"update_component", scopeHost, s.handleUpdateComponent},
		{"start_provider", scopeHost, s.handleStartProvider},
		{"stop_provider", scopeHost, s.handleStopProvider},
		{"stop_host", scopeHost, s.handleStopHost},
		{"inventory", scopeHost, s.handleInventory},
		{"claims", scopeHost, s.handleClaims},
		{"links", scopeHost, s.handleLinks},
		{"config_get", scopeHost, s.handleConfigGet},
		{"config_put", scopeHost, s.handleConfigPut},
		{"config_delete", scopeHost, s.handleConfigDelete},
		{"label_put", scopeHost, s.handleLabelPut},
		{"label_delete", scopeHost, s.handleLabelDelete},
		{"link_put", scopeHost, s.handleLinkPut},
		{"link_del", scopeHost, s.handleLinkDel},
		{"registries_put", scopeHost, s.handleRegistriesPut},
	}

	for _, v := range verbs {
		if err := s.subscribeVerb(ctx, v.verb, v.scope, v.handler); err != nil {
			s.Close()
			return err
		}
	}
	return nil
}

func (s *Server) subscribeVerb(ctx context.Context, verb string, scope verbScope, handler verbHandler) error {
	hostID := s.hostID
	if scope == scopeFleet {
		hostID = ""
	}
	subject := lattice.ControlSubject(s.latticeID, verb, hostID)
	sub, err := s.transport.Subscribe(ctx, subject)
	if err != nil {
		return wasmerr.Wrapf(wasmerr.Unavailable, err, "subscribe control verb %s", verb)
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		for msg := range sub.Messages() {
			go s.dispatch(ctx, msg, verb, handler)
		}
	}()
	return nil
}

func (s *Server) dispatch(ctx context.Context, msg *lattice.Message, verb string, handler verbHandler) {
	if !unguardedVerbs[verb] {
		if err := s.ensureReady(); err != nil {
			s.reply(ctx, msg, nil, true, err)
			return
		}
	}

	reply, shouldReply, err := handler(ctx, msg.Data)
	s.reply(ctx, msg, reply, shouldReply, err)
}

func (s *Server) reply(ctx context.Context, msg *lattice.Message, data any, shouldReply bool, err error) {
	if msg.Reply == "" {
		return
	}
	if err != nil {
		s.replyError(ctx, msg, err)
		return
	}
	if !shouldReply {
		return
	}

	var raw json.RawMessage
	if data != nil {
		encoded, marshalErr := json.Marshal(data)
		if marshalErr != nil {
			s.replyError(ctx, msg, wasmerr.Wrap(wasmerr.Internal, marshalErr, "marshal control reply"))
			return
		}
		raw = encoded
	}
	env := controlReply{OK: true, Data: raw}
	payload, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return
	}
	_ = s.transport.Publish(ctx, msg.Reply, nil, payload)
}

func (s *Server) replyError(ctx context.Context, msg *lattice.Message, err error) {
	env := controlReply{OK: false, Error: err.Error(), ErrorKind: string(wasmerr.KindOf(err))}
	payload, marshalErr := json.Marshal(env)
	if marshalErr != nil {
		return
	}
	_ = s.transport.Publish(ctx, msg.Reply, nil, payload)
}

// controlReply is every verb's wire-level response envelope, the same
// ack/error shape regardless of what Data holds.
type controlReply struct {
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (s *Server) ensureReady() error {
	if !s.Ready() {
		return wasmerr.Wrap(wasmerr.Unavailable, nil, "host is not ready: shutdown in progress")
	}
	return nil
}

func (s *Server) publishEvent(ctx context.Context, eventType, subject string, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, subject, data); err != nil {
		log.WithComponent("control").Warn().Str("event_type", eventType).Err(err).Msg("failed to publish event")
	}
}

// Close unsubscribes every verb subject. Safe to call multiple times.
func (s *Server) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}
