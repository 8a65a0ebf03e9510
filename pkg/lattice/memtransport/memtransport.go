// Package memtransport is a single-process, channel-based lattice.Transport
// used to unit test the control plane, router, event publisher, and
// heartbeat without standing up gRPC or Raft. Its subscribe/broadcast
// shape uses per-subscriber buffered channels with drop-on-full
// delivery, and a stop channel to unwind the broadcast loop.
package memtransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
)

// Transport is an in-process lattice.Transport backed by Go channels.
type Transport struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscription]bool
	buckets     map[string]*bucket
	closed      bool
}

// New returns a ready-to-use in-process transport.
func New() *Transport {
	return &Transport{
		subscribers: make(map[string]map[*subscription]bool),
		buckets:     make(map[string]*bucket),
	}
}

func (t *Transport) Publish(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	return t.publish(subject, headers, payload, "")
}

func (t *Transport) publish(subject string, headers map[string]string, payload []byte, reply string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return fmt.Errorf("memtransport: closed")
	}

	msg := &lattice.Message{Subject: subject, Headers: headers, Data: payload, Reply: reply}
	for sub := range t.subscribers[subject] {
		select {
		case sub.ch <- msg:
		default:
			// subscriber buffer full, drop — matches the broker's
			// drop-on-full policy rather than blocking the publisher
		}
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, subject string) (lattice.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("memtransport: closed")
	}

	sub := &subscription{t: t, subject: subject, ch: make(chan *lattice.Message, 64)}
	if t.subscribers[subject] == nil {
		t.subscribers[subject] = make(map[*subscription]bool)
	}
	t.subscribers[subject][sub] = true
	return sub, nil
}

func (t *Transport) Request(ctx context.Context, subject string, headers map[string]string, payload []byte, timeout time.Duration) (*lattice.Message, error) {
	replySubject := fmt.Sprintf("_INBOX.%p.%d", payload, time.Now().UnixNano())
	replySub, err := t.Subscribe(ctx, replySubject)
	if err != nil {
		return nil, err
	}
	defer replySub.Unsubscribe()

	if err := t.publish(subject, headers, payload, replySubject); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case msg := <-replySub.Messages():
		if msg == nil {
			return nil, fmt.Errorf("memtransport: reply channel closed")
		}
		return msg, nil
	case <-reqCtx.Done():
		return nil, fmt.Errorf("memtransport: request to %s timed out: %w", subject, reqCtx.Err())
	}
}

func (t *Transport) Bucket(name string) (lattice.Bucket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[name]
	if !ok {
		b = newBucket()
		t.buckets[name] = b
	}
	return b, nil
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, subs := range t.subscribers {
		for sub := range subs {
			close(sub.ch)
		}
	}
	for _, b := range t.buckets {
		b.closeWatchers()
	}
	return nil
}

type subscription struct {
	t       *Transport
	subject string
	ch      chan *lattice.Message
	once    sync.Once
}

func (s *subscription) Messages() <-chan *lattice.Message { return s.ch }

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.t.mu.Lock()
		defer s.t.mu.Unlock()
		if subs, ok := s.t.subscribers[s.subject]; ok {
			delete(subs, s)
		}
		close(s.ch)
	})
	return nil
}

type bucket struct {
	mu       sync.RWMutex
	values   map[string][]byte
	versions map[string]uint64
	watchers map[chan lattice.KVEvent]bool
}

func newBucket() *bucket {
	return &bucket{
		values:   make(map[string][]byte),
		versions: make(map[string]uint64),
		watchers: make(map[chan lattice.KVEvent]bool),
	}
}

func (b *bucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return nil, 0, fmt.Errorf("memtransport: key %q not found", key)
	}
	return v, b.versions[key], nil
}

func (b *bucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.versions[key]++
	b.values[key] = value
	b.notify(lattice.KVEvent{Key: key, Value: value, Version: b.versions[key]})
	return b.versions[key], nil
}

func (b *bucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	b.versions[key]++
	b.notify(lattice.KVEvent{Key: key, Version: b.versions[key], Deleted: true})
	return nil
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *bucket) Watch(ctx context.Context) (<-chan lattice.KVEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan lattice.KVEvent, 64)
	b.watchers[ch] = true

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

// notify must be called with b.mu held.
func (b *bucket) notify(ev lattice.KVEvent) {
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *bucket) closeWatchers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.watchers {
		close(ch)
	}
	b.watchers = make(map[chan lattice.KVEvent]bool)
}
