// Package raftkv is the reference lattice.Bucket implementation: a
// Raft-replicated key-value store applying (bucket,key,value|tombstone)
// commands against byte buckets. Pub/sub (control, rpc, evt, health,
// shutdown subjects) is delegated to an embedded memtransport, since
// Raft only owns the replicated-bucket half of the lattice contract — a
// real deployment pairs raftkv's buckets with an external broker for
// pub/sub instead of grpctransport or memtransport.
package raftkv

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/lattice/memtransport"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
)

// Config configures a Transport's single Raft instance.
type Config struct {
	NodeID        string
	BindAddr      string
	DataDir       string
	Bootstrap     bool
	RetainSnapshots int
}

// Transport is a lattice.Transport whose Bucket half is Raft-replicated.
type Transport struct {
	cfg    Config
	raft   *raft.Raft
	fsm    *FSM
	pubsub *memtransport.Transport

	bucketsMu sync.RWMutex
	bucketMu  map[string]*Bucket
}

// New brings up a single-node (or joinable) Raft instance backed by
// raft-boltdb for the log/stable store and a file snapshot store.
func New(cfg Config) (*Transport, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("raftkv: create data dir: %w", err)
	}

	t := &Transport{
		cfg:      cfg,
		pubsub:   memtransport.New(),
		bucketMu: make(map[string]*Bucket),
	}

	t.fsm = NewFSM(t.onApply)

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.Logger = newHCLogAdapter(log.WithComponent("raftkv"))

	boltStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("raftkv: open bolt log store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, retainOrDefault(cfg.RetainSnapshots), os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftkv: open snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("raftkv: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("raftkv: create raft transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, t.fsm, boltStore, boltStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("raftkv: create raft: %w", err)
	}
	t.raft = r

	if cfg.Bootstrap {
		cfgFuture := raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(cfgFuture).Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("raftkv: bootstrap cluster: %w", err)
		}
	}

	return t, nil
}

func retainOrDefault(n int) int {
	if n <= 0 {
		return 2
	}
	return n
}

// IsLeader reports whether this node currently holds Raft leadership.
func (t *Transport) IsLeader() bool {
	return t.raft.State() == raft.Leader
}

// onApply is invoked by the FSM on every committed put/delete and fans the
// event out to that bucket's local watchers.
func (t *Transport) onApply(bucketName string, ev lattice.KVEvent) {
	t.bucketsMu.RLock()
	b, ok := t.bucketMu[bucketName]
	t.bucketsMu.RUnlock()
	if ok {
		b.notify(ev)
	}
}

func (t *Transport) Publish(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	return t.pubsub.Publish(ctx, subject, headers, payload)
}

func (t *Transport) Subscribe(ctx context.Context, subject string) (lattice.Subscription, error) {
	return t.pubsub.Subscribe(ctx, subject)
}

func (t *Transport) Request(ctx context.Context, subject string, headers map[string]string, payload []byte, timeout time.Duration) (*lattice.Message, error) {
	return t.pubsub.Request(ctx, subject, headers, payload, timeout)
}

func (t *Transport) Bucket(name string) (lattice.Bucket, error) {
	t.bucketsMu.Lock()
	defer t.bucketsMu.Unlock()
	if b, ok := t.bucketMu[name]; ok {
		return b, nil
	}
	b := &Bucket{name: name, transport: t, watchers: make(map[chan lattice.KVEvent]bool)}
	t.bucketMu[name] = b
	return b, nil
}

func (t *Transport) Close(ctx context.Context) error {
	if err := t.raft.Shutdown().Error(); err != nil {
		return fmt.Errorf("raftkv: shutdown: %w", err)
	}
	return t.pubsub.Close(ctx)
}

// Bucket is a lattice.Bucket whose writes go through Raft consensus before
// being visible to any reader, matching the lattice contract's monotonic
// per-key version requirement across the whole cluster, not just locally.
type Bucket struct {
	name      string
	transport *Transport

	mu       sync.RWMutex
	watchers map[chan lattice.KVEvent]bool
}

func (b *Bucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	fb := b.transport.fsm.bucket(b.name)
	v, ver, ok := fb.get(key)
	if !ok {
		return nil, 0, fmt.Errorf("raftkv: key %q not found in bucket %q", key, b.name)
	}
	return v, ver, nil
}

func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	fb := b.transport.fsm.bucket(b.name)
	return fb.keys(), nil
}

func (b *Bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.LatticeApplyDuration)

	cmd := command{Op: "put", Bucket: b.name, Key: key, Value: value}
	result, err := b.apply(cmd)
	if err != nil {
		return 0, err
	}
	ver, _ := result.(uint64)
	return ver, nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	cmd := command{Op: "delete", Bucket: b.name, Key: key}
	_, err := b.apply(cmd)
	return err
}

func (b *Bucket) apply(cmd command) (interface{}, error) {
	if b.transport.raft.State() != raft.Leader {
		return nil, fmt.Errorf("raftkv: not leader, apply must be forwarded to %s", b.transport.raft.Leader())
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	future := b.transport.raft.Apply(data, 10*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("raftkv: apply: %w", err)
	}
	if resultErr, ok := future.Response().(error); ok && resultErr != nil {
		return nil, resultErr
	}
	return future.Response(), nil
}

func (b *Bucket) Watch(ctx context.Context) (<-chan lattice.KVEvent, error) {
	ch := make(chan lattice.KVEvent, 64)
	b.mu.Lock()
	b.watchers[ch] = true
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.watchers[ch] {
			delete(b.watchers, ch)
			close(ch)
		}
	}()

	return ch, nil
}

func (b *Bucket) notify(ev lattice.KVEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}
