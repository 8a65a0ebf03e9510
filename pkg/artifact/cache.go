package artifact

import (
	"fmt"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("artifacts")

// Cache is a content-addressed local cache keyed by digest, backed by
// bbolt with a single bucket holding every cached artifact blob, keyed
// by its own digest.
type Cache struct {
	db *bolt.DB
}

// NewCache opens (creating if necessary) a cache database under dataDir.
func NewCache(dataDir string) (*Cache, error) {
	path := filepath.Join(dataDir, "artifacts.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: open cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("artifact: create cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached bytes for dgst, and false if absent.
func (c *Cache) Get(dgst digest.Digest) ([]byte, bool, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cacheBucket).Get([]byte(dgst.String()))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, data != nil, nil
}

// Put stores data under its own digest, verifying it matches dgst.
func (c *Cache) Put(dgst digest.Digest, data []byte) error {
	if !verifyDigest(dgst, data) {
		return errCorrupt
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(dgst.String()), data)
	})
}

func verifyDigest(dgst digest.Digest, data []byte) bool {
	verifier := dgst.Verifier()
	_, _ = verifier.Write(data)
	return verifier.Verified()
}
