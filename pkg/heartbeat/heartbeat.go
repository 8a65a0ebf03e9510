// Package heartbeat is the host's heartbeat and label manager: a
// ticker-driven loop that publishes this host's descriptor on the
// lattice heartbeat subject, and the RWMutex-guarded label map the
// control plane mutates on label_put/label_delete. The loop itself is a
// time.Ticker paired with a select on the ticker and a stop channel.
package heartbeat

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

// LabelManager holds this host's label set. hostcore.* keys are seeded
// once at construction and rejected by Put/Delete thereafter.
type LabelManager struct {
	mu     sync.RWMutex
	labels map[string]string
}

// NewLabelManager copies the user-supplied extra labels, then sets the
// hostcore.id/os/arch reserved labels from hostID and the running
// process's GOOS/GOARCH over them (extra may carry other hostcore.*
// keys at startup; only control-plane mutation is restricted).
func NewLabelManager(hostID string, extra map[string]string) *LabelManager {
	labels := make(map[string]string, len(extra)+3)
	for k, v := range extra {
		labels[k] = v
	}
	labels["hostcore.id"] = hostID
	labels["hostcore.os"] = runtime.GOOS
	labels["hostcore.arch"] = runtime.GOARCH

	return &LabelManager{labels: labels}
}

// Put sets key to value. Rejects keys under wasmtypes.ReservedLabelPrefix.
func (m *LabelManager) Put(key, value string) error {
	if hasReservedPrefix(key) {
		return wasmerr.Wrapf(wasmerr.Validation, nil, "label %q uses the reserved %q prefix", key, wasmtypes.ReservedLabelPrefix)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[key] = value
	return nil
}

// Delete removes key. Rejects keys under wasmtypes.ReservedLabelPrefix.
func (m *LabelManager) Delete(key string) error {
	if hasReservedPrefix(key) {
		return wasmerr.Wrapf(wasmerr.Validation, nil, "label %q uses the reserved %q prefix", key, wasmtypes.ReservedLabelPrefix)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.labels, key)
	return nil
}

// Snapshot returns a copy of the current label set.
func (m *LabelManager) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.labels))
	for k, v := range m.labels {
		out[k] = v
	}
	return out
}

// Matches reports whether every key/value in constraints is present and
// equal in the current label set, the auction verbs' label-matching rule.
func (m *LabelManager) Matches(constraints map[string]string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range constraints {
		if m.labels[k] != v {
			return false
		}
	}
	return true
}

func hasReservedPrefix(key string) bool {
	p := wasmtypes.ReservedLabelPrefix
	return len(key) >= len(p) && key[:len(p)] == p
}

// Config tunes the heartbeat period.
type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// HostStateProvider supplies the descriptor fields Loop publishes each
// tick; the control plane's Server (pkg/control) owns the authoritative
// ready/ready-state flags, so the loop reads through this seam rather
// than caching them.
type HostStateProvider interface {
	HostID() string
	Ready() bool
}

// Loop publishes a host descriptor on the lattice heartbeat subject
// every Interval, and stops publishing (without tearing down the ticker
// goroutine's caller) once the host reports not ready.
type Loop struct {
	transport lattice.Transport
	labels    *LabelManager
	state     HostStateProvider
	latticeID string
	version   string
	startTime time.Time
	config    Config
}

func New(transport lattice.Transport, labels *LabelManager, state HostStateProvider, latticeID, version string, startTime time.Time, config Config) *Loop {
	return &Loop{
		transport: transport,
		labels:    labels,
		state:     state,
		latticeID: latticeID,
		version:   version,
		startTime: startTime,
		config:    config,
	}
}

// Run blocks, publishing on every tick until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.HostUptimeSeconds.Set(time.Since(l.startTime).Seconds())
			if !l.state.Ready() {
				continue
			}
			if err := l.publish(ctx); err != nil {
				log.WithComponent("heartbeat").Warn().Err(err).Msg("failed to publish heartbeat")
			}
		}
	}
}

func (l *Loop) publish(ctx context.Context) error {
	descriptor := wasmtypes.HostState{
		HostID:    l.state.HostID(),
		Lattice:   l.latticeID,
		Labels:    l.labels.Snapshot(),
		StartTime: l.startTime,
		Version:   l.version,
		Ready:     l.state.Ready(),
	}
	payload, err := json.Marshal(descriptor)
	if err != nil {
		return err
	}
	subject := lattice.EventSubject(l.latticeID, "host_heartbeat")
	return l.transport.Publish(ctx, subject, nil, payload)
}
