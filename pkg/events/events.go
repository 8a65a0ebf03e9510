package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/log"
)

// Envelope is a CloudEvents-shaped record: enough for a local subscriber to
// switch on Type, and enough for a wire format other hosts can decode
// without sharing this package's Go types.
type Envelope struct {
	ID      string          `json:"id"`
	Source  string          `json:"source"`
	Type    string          `json:"type"`
	Time    time.Time       `json:"time"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Subscriber is a channel that receives envelopes.
type Subscriber chan *Envelope

// Broker fans published envelopes out to local subscribers and, when wired
// to a transport, onto the lattice's event subjects as well.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Envelope
	stopCh      chan struct{}

	transport lattice.Transport
	latticeID string
	source    string
}

// NewBroker builds a Broker. transport may be nil, in which case Publish
// only fans out locally; this keeps the broker usable in tests and in any
// component that only cares about in-process notification.
func NewBroker(transport lattice.Transport, latticeID, source string) *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Envelope, 100),
		stopCh:      make(chan struct{}),
		transport:   transport,
		latticeID:   latticeID,
		source:      source,
	}
}

// Start begins the broker's local distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the local distribution loop. Subscriber channels are left
// open; callers still holding one should Unsubscribe explicitly.
func (b *Broker) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
}

// Subscribe creates a new local subscription.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish stamps an envelope for eventType/subject/data, hands it to the
// local broadcast loop, and, when a transport is wired, publishes it on
// the lattice's event subject synchronously so the caller observes a
// transport failure. eventType and subject satisfy both
// provider.EventPublisher and supervisor.EventPublisher.
func (b *Broker) Publish(ctx context.Context, eventType, subject string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	env := &Envelope{
		ID:      uuid.NewString(),
		Source:  b.source,
		Type:    eventType,
		Time:    time.Now(),
		Subject: subject,
		Data:    raw,
	}

	select {
	case b.eventCh <- env:
	default:
		log.WithComponent("events").Warn().Str("event_type", eventType).Msg("local event buffer full, dropping")
	}

	if b.transport == nil {
		return nil
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	latticeSubject := lattice.EventSubject(b.latticeID, eventType)
	return b.transport.Publish(ctx, latticeSubject, nil, payload)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active local subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
