// Package lattice declares the host's contract with the lattice transport:
// subject-based publish/subscribe with request-reply, and a replicated
// key-value bucket per lattice. Concrete transports (raftkv, grpctransport,
// memtransport) ship in subpackages; a real deployment is free to swap in
// a transport backed by an external broker entirely, the contract is the
// public surface, not any one of its implementations.
package lattice

import (
	"context"
	"time"
)

// Message is one inbound message on a subscription or a reply to a request.
type Message struct {
	Subject string
	Headers map[string]string
	Data    []byte
	// Reply, if non-empty, is the subject a responder should publish its
	// answer to. Populated for messages received via Subscribe when the
	// sender used Request.
	Reply string
}

// Subscription delivers messages published to a subject.
type Subscription interface {
	// Messages returns the channel of inbound messages. Closed when the
	// subscription is torn down.
	Messages() <-chan *Message
	Unsubscribe() error
}

// KVEvent is one change observed on a watched bucket.
type KVEvent struct {
	Key     string
	Value   []byte // nil on delete
	Version uint64
	Deleted bool
}

// Bucket is a replicated key-value namespace with monotonic per-key
// versions. Watch delivers events for every key in the bucket; callers
// must tolerate arbitrary reordering across distinct keys.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Watch(ctx context.Context) (<-chan KVEvent, error)
	Keys(ctx context.Context) ([]string, error)
}

// Transport is the full lattice contract a host depends on.
type Transport interface {
	Publish(ctx context.Context, subject string, headers map[string]string, payload []byte) error
	Subscribe(ctx context.Context, subject string) (Subscription, error)
	Request(ctx context.Context, subject string, headers map[string]string, payload []byte, timeout time.Duration) (*Message, error)
	Bucket(name string) (Bucket, error)
	Close(ctx context.Context) error
}

// Well-known bucket names, per the subject layout contract.
const (
	BucketLatticeDataPrefix = "LATTICEDATA_"
	BucketConfigDataPrefix  = "CONFIGDATA_"
	BucketObjectStorePrefix = "CHUNKS_"
)

func LatticeDataBucket(lattice string) string { return BucketLatticeDataPrefix + lattice }
func ConfigDataBucket(lattice string) string  { return BucketConfigDataPrefix + lattice }
func ChunkBucket(lattice string) string       { return BucketObjectStorePrefix + lattice }

// Subject builders, matching the host's external subject layout exactly.
func ControlSubject(lattice, verb, hostID string) string {
	s := "wasmbus.ctl.v1." + lattice + "." + verb
	if hostID != "" {
		s += "." + hostID
	}
	return s
}

func RPCSubject(lattice, target, iface, function string) string {
	return "wasmbus.rpc." + lattice + "." + target + "." + iface + "." + function
}

func EventSubject(lattice, eventType string) string {
	return "wasmbus.evt." + lattice + "." + eventType
}

func ProviderHealthSubject(lattice, providerID string) string {
	return lattice + "." + providerID + ".health"
}

func ProviderShutdownSubject(lattice, providerID string) string {
	return lattice + "." + providerID + ".shutdown"
}
