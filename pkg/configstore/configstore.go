// Package configstore exposes the four semantic buckets the control
// plane reads and writes cluster metadata through — links, claims,
// config, and labels — as one narrow, swappable-backend Store
// interface shared by every bucket.
package configstore

import (
	"context"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
)

// Bucket names the four semantic partitions of the config store.
type Bucket string

const (
	BucketLinks  Bucket = "LINKS"
	BucketClaims Bucket = "CLAIMS"
	BucketConfig Bucket = "CONFIG"
	BucketLabels Bucket = "LABELS"
)

// KVEvent is one change observed on a watched bucket.
type KVEvent = lattice.KVEvent

// Store is a typed get/put/delete/watch surface over the four semantic
// buckets, backed by a lattice.Transport's replicated buckets.
type Store interface {
	Get(ctx context.Context, bucket Bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket Bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket Bucket, key string) error
	Watch(ctx context.Context, bucket Bucket) (<-chan KVEvent, error)
	Keys(ctx context.Context, bucket Bucket) ([]string, error)
}

// latticeStore implements Store over a lattice.Transport, resolving
// each semantic Bucket to the lattice bucket name for the given
// lattice: LATTICEDATA_<lattice> for links/claims, CONFIGDATA_<lattice>
// for config; labels share the lattice data bucket under their own key
// prefix since only two physical buckets exist.
type latticeStore struct {
	transport lattice.Transport
	latticeID string
}

// New builds a Store backed by transport for the given lattice id.
func New(transport lattice.Transport, latticeID string) Store {
	return &latticeStore{transport: transport, latticeID: latticeID}
}

func (s *latticeStore) bucketName(b Bucket) string {
	switch b {
	case BucketConfig:
		return lattice.ConfigDataBucket(s.latticeID)
	default:
		return lattice.LatticeDataBucket(s.latticeID)
	}
}

func (s *latticeStore) key(b Bucket, key string) string {
	switch b {
	case BucketLinks:
		return "link/" + key
	case BucketClaims:
		return "claims/" + key
	case BucketLabels:
		return "label/" + key
	default:
		return key
	}
}

func (s *latticeStore) bucket(b Bucket) (lattice.Bucket, error) {
	return s.transport.Bucket(s.bucketName(b))
}

func (s *latticeStore) Get(ctx context.Context, b Bucket, key string) ([]byte, error) {
	bucket, err := s.bucket(b)
	if err != nil {
		return nil, err
	}
	val, _, err := bucket.Get(ctx, s.key(b, key))
	return val, err
}

func (s *latticeStore) Put(ctx context.Context, b Bucket, key string, value []byte) error {
	bucket, err := s.bucket(b)
	if err != nil {
		return err
	}
	_, err = bucket.Put(ctx, s.key(b, key), value)
	return err
}

func (s *latticeStore) Delete(ctx context.Context, b Bucket, key string) error {
	bucket, err := s.bucket(b)
	if err != nil {
		return err
	}
	return bucket.Delete(ctx, s.key(b, key))
}

// keyPrefix returns the key prefix distinguishing this semantic bucket's
// keys from the other semantic buckets sharing the same physical
// lattice bucket, or "" if this bucket has the physical bucket to
// itself and needs no filtering.
func (s *latticeStore) keyPrefix(b Bucket) string {
	switch b {
	case BucketLinks:
		return "link/"
	case BucketClaims:
		return "claims/"
	case BucketLabels:
		return "label/"
	default:
		return ""
	}
}

func (s *latticeStore) Watch(ctx context.Context, b Bucket) (<-chan KVEvent, error) {
	bucket, err := s.bucket(b)
	if err != nil {
		return nil, err
	}
	events, err := bucket.Watch(ctx)
	if err != nil {
		return nil, err
	}

	prefix := s.keyPrefix(b)
	if prefix == "" {
		return events, nil
	}

	filtered := make(chan KVEvent, 64)
	go func() {
		defer close(filtered)
		for ev := range events {
			if !hasPrefix(ev.Key, prefix) {
				continue
			}
			ev.Key = ev.Key[len(prefix):]
			select {
			case filtered <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return filtered, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (s *latticeStore) Keys(ctx context.Context, b Bucket) ([]string, error) {
	bucket, err := s.bucket(b)
	if err != nil {
		return nil, err
	}
	all, err := bucket.Keys(ctx)
	if err != nil {
		return nil, err
	}

	prefix := s.keyPrefix(b)
	if prefix == "" {
		return all, nil
	}

	out := make([]string, 0, len(all))
	for _, k := range all {
		if hasPrefix(k, prefix) {
			out = append(out, k[len(prefix):])
		}
	}
	return out, nil
}
