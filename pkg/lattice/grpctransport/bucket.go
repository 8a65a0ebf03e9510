package grpctransport

import (
	"sync"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
)

// serverBucket is the Server's authoritative copy of one lattice bucket.
// It is not itself replicated — when raftkv is paired alongside this
// transport for the bucket half of the contract, callers should route
// Bucket() to raftkv instead and reserve grpctransport purely for pub/sub.
type serverBucket struct {
	mu       sync.RWMutex
	values   map[string][]byte
	versions map[string]uint64
	watchers map[chan lattice.KVEvent]bool
}

func newServerBucket() *serverBucket {
	return &serverBucket{
		values:   make(map[string][]byte),
		versions: make(map[string]uint64),
		watchers: make(map[chan lattice.KVEvent]bool),
	}
}

func (b *serverBucket) get(key string) ([]byte, uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	return v, b.versions[key], ok
}

func (b *serverBucket) put(key string, value []byte) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versions[key]++
	b.values[key] = value
	return b.versions[key]
}

func (b *serverBucket) delete(key string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	b.versions[key]++
	return b.versions[key]
}

func (b *serverBucket) keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.values))
	for k := range b.values {
		out = append(out, k)
	}
	return out
}

func (b *serverBucket) watch() chan lattice.KVEvent {
	ch := make(chan lattice.KVEvent, 64)
	b.mu.Lock()
	b.watchers[ch] = true
	b.mu.Unlock()
	return ch
}

func (b *serverBucket) unwatch(ch chan lattice.KVEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watchers[ch] {
		delete(b.watchers, ch)
		close(ch)
	}
}

func (b *serverBucket) notify(ev lattice.KVEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}
