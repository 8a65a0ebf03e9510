package raftkv

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
)

// command is the Raft log entry shape: a single put/delete op carries
// the target bucket and key, since every lattice bucket here is an
// opaque byte store rather than a typed entity table.
type command struct {
	Op     string `json:"op"` // "put" or "delete"
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Value  []byte `json:"value,omitempty"`
}

// FSM implements raft.FSM over an in-memory map of buckets. Durable storage
// of the Raft log itself is handled separately by raft-boltdb; the FSM's
// own state is reconstructed from the log/snapshots on restart and keeps
// no storage of its own beyond what raft replays into it.
type FSM struct {
	mu      sync.RWMutex
	buckets map[string]*memBucket
	onApply func(bucket string, ev lattice.KVEvent)
}

// NewFSM returns an FSM whose Watch events are also forwarded to onApply,
// which the owning Transport uses to fan events out to bucket watchers.
func NewFSM(onApply func(bucket string, ev lattice.KVEvent)) *FSM {
	return &FSM{buckets: make(map[string]*memBucket), onApply: onApply}
}

func (f *FSM) bucket(name string) *memBucket {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buckets[name]
	if !ok {
		b = &memBucket{values: make(map[string][]byte), versions: make(map[string]uint64)}
		f.buckets[name] = b
	}
	return b
}

// Apply implements raft.FSM.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("raftkv: unmarshal command: %w", err)
	}

	b := f.bucket(cmd.Bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch cmd.Op {
	case "put":
		b.versions[cmd.Key]++
		b.values[cmd.Key] = cmd.Value
		ver := b.versions[cmd.Key]
		if f.onApply != nil {
			f.onApply(cmd.Bucket, lattice.KVEvent{Key: cmd.Key, Value: cmd.Value, Version: ver})
		}
		return ver
	case "delete":
		delete(b.values, cmd.Key)
		b.versions[cmd.Key]++
		ver := b.versions[cmd.Key]
		if f.onApply != nil {
			f.onApply(cmd.Bucket, lattice.KVEvent{Key: cmd.Key, Version: ver, Deleted: true})
		}
		return nil
	default:
		return fmt.Errorf("raftkv: unknown command op %q", cmd.Op)
	}
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := make(map[string]bucketSnapshot, len(f.buckets))
	for name, b := range f.buckets {
		b.mu.RLock()
		values := make(map[string][]byte, len(b.values))
		versions := make(map[string]uint64, len(b.versions))
		for k, v := range b.values {
			values[k] = v
		}
		for k, v := range b.versions {
			versions[k] = v
		}
		b.mu.RUnlock()
		snap[name] = bucketSnapshot{Values: values, Versions: versions}
	}

	return &fsmSnapshot{buckets: snap}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap map[string]bucketSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("raftkv: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.buckets = make(map[string]*memBucket, len(snap))
	for name, bs := range snap {
		f.buckets[name] = &memBucket{values: bs.Values, versions: bs.Versions}
	}
	return nil
}

type bucketSnapshot struct {
	Values   map[string][]byte `json:"values"`
	Versions map[string]uint64 `json:"versions"`
}

type fsmSnapshot struct {
	buckets map[string]bucketSnapshot
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.buckets); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}

// memBucket is the FSM's local view of one lattice bucket. It is never
// exposed directly to callers — raftkv.Bucket wraps it with the
// apply-then-wait dance that makes writes linearizable through Raft.
type memBucket struct {
	mu       sync.RWMutex
	values   map[string][]byte
	versions map[string]uint64
}

func (b *memBucket) get(key string) ([]byte, uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, b.versions[key], ok
}

func (b *memBucket) keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.values))
	for k := range b.values {
		out = append(out, k)
	}
	return out
}
