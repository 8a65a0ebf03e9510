// Package provider is the host's capability provider supervisor:
// fetch, host-data handshake, spawn-with-kill-on-drop, health polling, and
// a graceful-then-forced stop sequence for an OS process speaking the
// lattice RPC protocol on its own, following the familiar pull, create,
// start, monitor, stop, cleanup lifecycle with a ticker-driven health
// poll alongside it.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/artifact"
	"github.com/wasmcloud/wasmhost/pkg/claims"
	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

// Config tunes timing the same way health.Config documents its knobs
// rather than hardcoding them.
type Config struct {
	// ShutdownDelay bounds how long Stop waits for a provider's own
	// "shutdown" reply before the child is forcibly killed.
	ShutdownDelay time.Duration

	// HealthInterval is the period between health pings.
	HealthInterval time.Duration

	// HealthTimeout bounds a single health request.
	HealthTimeout time.Duration

	// DataDir is where fetched provider binaries are staged before exec.
	DataDir string
}

// DefaultConfig matches provider_shutdown_delay's usual default in the
// original implementation (a few seconds) scaled to this host's polling
// cadence.
func DefaultConfig(dataDir string) Config {
	return Config{
		ShutdownDelay:  5 * time.Second,
		HealthInterval: 30 * time.Second,
		HealthTimeout:  5 * time.Second,
		DataDir:        dataDir,
	}
}

// EventPublisher is the narrow seam into the event broker; nil is a valid value and
// simply skips publishing, so provider tests don't have to stand up an
// event broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, subject string, data any) error
}

// StartSpec describes a provider to start.
type StartSpec struct {
	ProviderID     string
	ImageReference string
	Annotations    map[string]string
	Links          []wasmtypes.LinkDefinition
	Config         map[string]string
	ClaimsToken    string
}

type runningProvider struct {
	instance   wasmtypes.ProviderInstance
	cmd        *exec.Cmd
	shutdown   bool
	procCancel context.CancelFunc
}

// Supervisor manages every provider running under this host.
type Supervisor struct {
	mu        sync.RWMutex
	providers map[string]*runningProvider

	transport lattice.Transport
	artifacts *artifact.Manager
	events    EventPublisher
	latticeID string
	hostID    string
	config    Config
}

// New builds a Supervisor. events may be nil.
func New(transport lattice.Transport, artifacts *artifact.Manager, events EventPublisher, latticeID, hostID string, config Config) *Supervisor {
	return &Supervisor{
		providers: make(map[string]*runningProvider),
		transport: transport,
		artifacts: artifacts,
		events:    events,
		latticeID: latticeID,
		hostID:    hostID,
		config:    config,
	}
}

// HostTriple identifies this host's architecture/OS pair for provider
// claims' target_hashes lookups, e.g. "amd64-linux".
func HostTriple() string {
	return fmt.Sprintf("%s-%s", runtime.GOARCH, runtime.GOOS)
}

// Start fetches spec's artifact, verifies its claims (when present),
// writes the host-data handshake to the spawned child's stdin, and begins
// health polling. Starting an already-running provider id is a conflict,
// per the control plane's idempotent-on-id contract living one layer up.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec) error {
	s.mu.Lock()
	if _, exists := s.providers[spec.ProviderID]; exists {
		s.mu.Unlock()
		return wasmerr.Wrapf(wasmerr.Conflict, nil, "provider %s already running", spec.ProviderID)
	}
	s.mu.Unlock()

	logger := log.WithComponent("provider").With().Str("provider_id", spec.ProviderID).Logger()
	logger.Info().Msg("fetching provider artifact")

	data, digest, err := s.artifacts.Fetch(ctx, spec.ImageReference)
	if err != nil {
		s.publishEvent(ctx, "provider_start_failed", spec.ProviderID, map[string]string{"error": err.Error()})
		return wasmerr.Wrapf(wasmerr.Unavailable, err, "fetch provider artifact %s", spec.ImageReference)
	}

	if spec.ClaimsToken != "" {
		if err := s.verifyClaims(spec.ClaimsToken, digest.String()); err != nil {
			s.publishEvent(ctx, "provider_start_failed", spec.ProviderID, map[string]string{"error": err.Error()})
			return err
		}
	}

	binPath, err := s.stageBinary(spec.ProviderID, data)
	if err != nil {
		s.publishEvent(ctx, "provider_start_failed", spec.ProviderID, map[string]string{"error": err.Error()})
		return wasmerr.Wrap(wasmerr.Internal, err, "stage provider binary")
	}

	hostData := HostData{
		LatticeName:     s.latticeID,
		ProviderID:      spec.ProviderID,
		HostID:          s.hostID,
		LinkDefinitions: spec.Links,
		Config:          spec.Config,
		LogLevel:        "info",
	}
	payload, err := json.Marshal(hostData)
	if err != nil {
		return wasmerr.Wrap(wasmerr.Internal, err, "marshal host-data")
	}

	// procCtx governs the child's lifetime and the health loop, kept
	// independent of ctx (this call's request context) so the provider
	// doesn't get killed the moment the spawning control request returns.
	procCtx, procCancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, binPath)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = s.config.ShutdownDelay

	if err := cmd.Start(); err != nil {
		procCancel()
		s.publishEvent(ctx, "provider_start_failed", spec.ProviderID, map[string]string{"error": err.Error()})
		return wasmerr.Wrap(wasmerr.Internal, err, "spawn provider process")
	}

	running := &runningProvider{
		instance: wasmtypes.ProviderInstance{
			ProviderID:     spec.ProviderID,
			ImageReference: spec.ImageReference,
			Annotations:    spec.Annotations,
			State:          wasmtypes.ProviderRunning,
			StartedAt:      time.Now(),
		},
		cmd:        cmd,
		procCancel: procCancel,
	}

	s.mu.Lock()
	s.providers[spec.ProviderID] = running
	s.mu.Unlock()

	go s.healthLoop(procCtx, spec.ProviderID)

	s.publishEvent(ctx, "provider_started", spec.ProviderID, map[string]string{"image_reference": spec.ImageReference})
	logger.Info().Msg("provider started")
	return nil
}

// verifyClaims decodes token and, when it names a target_hash for this
// host's triple, checks it against the fetched artifact's digest.
func (s *Supervisor) verifyClaims(token, digestHex string) error {
	parsed, err := claims.DecodeProviderClaims(token)
	if err != nil {
		return wasmerr.Wrap(wasmerr.Unauthenticated, err, "decode provider claims")
	}
	if err := claims.ValidateProviderClaims(parsed); err != nil {
		return err
	}
	if want, ok := parsed.TargetHashes[HostTriple()]; ok && want != digestHex {
		return wasmerr.Wrapf(wasmerr.Unauthenticated, nil, "provider artifact digest %s does not match claims target hash %s for %s", digestHex, want, HostTriple())
	}
	return nil
}

func (s *Supervisor) stageBinary(providerID string, data []byte) (string, error) {
	dir := filepath.Join(s.config.DataDir, "providers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, providerID)
	if err := os.WriteFile(path, data, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// healthLoop fires a health request on the provider's health subject
// every HealthInterval, recording failures but never auto-restarting —
// restart policy is left to the external orchestrator.
func (s *Supervisor) healthLoop(ctx context.Context, providerID string) {
	ticker := time.NewTicker(s.config.HealthInterval)
	defer ticker.Stop()

	subject := lattice.ProviderHealthSubject(s.latticeID, providerID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, s.config.HealthTimeout)
			_, err := s.transport.Request(reqCtx, subject, nil, nil, s.config.HealthTimeout)
			cancel()
			if err != nil {
				metrics.ProviderHealthFailures.WithLabelValues(providerID).Inc()
				log.WithComponent("provider").Warn().Str("provider_id", providerID).Err(err).Msg("health check failed")
			}
		}
	}
}

// Stop requests a graceful shutdown, waits up to ShutdownDelay for the
// child's own reply, then tears the process down regardless. A
// provider_stopped event is published unconditionally.
func (s *Supervisor) Stop(ctx context.Context, providerID string) error {
	s.mu.Lock()
	running, ok := s.providers[providerID]
	if !ok {
		s.mu.Unlock()
		return wasmerr.Wrapf(wasmerr.NotFound, nil, "provider %s not running", providerID)
	}
	running.shutdown = true
	running.instance.State = wasmtypes.ProviderStopping
	running.instance.Shutdown = true
	delete(s.providers, providerID)
	s.mu.Unlock()

	shutdownPayload, _ := json.Marshal(map[string]string{"host_id": s.hostID})
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownDelay)
	_, _ = s.transport.Request(shutdownCtx, lattice.ProviderShutdownSubject(s.latticeID, providerID), nil, shutdownPayload, s.config.ShutdownDelay)
	cancel()

	if running.cmd.Process != nil {
		_ = running.cmd.Cancel()
	}
	_ = running.cmd.Wait()
	running.procCancel()

	s.publishEvent(context.Background(), "provider_stopped", providerID, nil)
	return nil
}

// List returns a snapshot of every running provider's instance record.
func (s *Supervisor) List() []wasmtypes.ProviderInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wasmtypes.ProviderInstance, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p.instance)
	}
	return out
}

// IsRunning reports whether providerID currently has a running instance.
func (s *Supervisor) IsRunning(providerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.providers[providerID]
	return ok
}

func (s *Supervisor) publishEvent(ctx context.Context, eventType, providerID string, data any) {
	if s.events == nil {
		return
	}
	subject := lattice.EventSubject(s.latticeID, eventType)
	_ = s.events.Publish(ctx, eventType, subject, map[string]any{"provider_id": providerID, "data": data})
}
