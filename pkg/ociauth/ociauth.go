// Package ociauth keeps the per-registry OCI credential table the
// artifact fetcher consults when resolving oci:// references. At-rest
// encryption of stored secrets uses AES-256-GCM with the nonce
// prepended to the ciphertext.
package ociauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

// RegistryCreds holds the credential material for one registry host.
// User/Password and Token are mutually exclusive in practice but the
// table does not enforce that — the fetcher picks whichever is set.
type RegistryCreds struct {
	User          string
	Password      string
	Token         string
	AllowInsecure bool
	AllowLatest   bool
}

func (c RegistryCreds) empty() bool {
	return c.User == "" && c.Password == "" && c.Token == ""
}

// Table is the host's in-memory OCI credential table, one entry per
// registry host, with Password/Token encrypted at rest using an
// AES-256-GCM key supplied at construction.
type Table struct {
	mu            sync.RWMutex
	entries       map[string]storedCreds
	encryptionKey []byte
}

type storedCreds struct {
	user          string
	password      []byte // AES-256-GCM ciphertext, nonce-prepended
	token         []byte
	allowInsecure bool
	allowLatest   bool
}

// NewTable builds an empty credential table. key must be 32 bytes
// (AES-256); see DeriveKey to build one from a passphrase or cluster id.
func NewTable(key []byte) (*Table, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("ociauth: encryption key must be 32 bytes, got %d", len(key))
	}
	return &Table{entries: make(map[string]storedCreds), encryptionKey: key}, nil
}

func (t *Table) encrypt(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	block, err := aes.NewCipher(t.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ociauth: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ociauth: create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ociauth: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

func (t *Table) decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	block, err := aes.NewCipher(t.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("ociauth: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("ociauth: create GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ociauth: ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("ociauth: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Put merges creds into the table for host, overwriting any existing
// entry for that host. allowLatest, per the control-verb contract, is
// only applied when host is newly added — an existing entry's
// AllowLatest is left as it was unless creds explicitly sets it.
func (t *Table) Put(host string, creds RegistryCreds) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, existed := t.entries[host]

	password, err := t.encrypt(creds.Password)
	if err != nil {
		return err
	}
	token, err := t.encrypt(creds.Token)
	if err != nil {
		return err
	}

	allowLatest := creds.AllowLatest
	if existed && !creds.AllowLatest {
		allowLatest = t.entries[host].allowLatest
	}

	t.entries[host] = storedCreds{
		user:          creds.User,
		password:      password,
		token:         token,
		allowInsecure: creds.AllowInsecure,
		allowLatest:   allowLatest,
	}
	return nil
}

// Merge applies Put for every entry in creds, the registries_put control
// verb's bulk form.
func (t *Table) Merge(creds map[string]RegistryCreds) error {
	for host, c := range creds {
		if err := t.Put(host, c); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the decrypted credentials for host, and false if no entry
// exists.
func (t *Table) Get(host string) (RegistryCreds, bool, error) {
	t.mu.RLock()
	stored, ok := t.entries[host]
	t.mu.RUnlock()
	if !ok {
		return RegistryCreds{}, false, nil
	}

	password, err := t.decrypt(stored.password)
	if err != nil {
		return RegistryCreds{}, false, err
	}
	token, err := t.decrypt(stored.token)
	if err != nil {
		return RegistryCreds{}, false, err
	}

	creds := RegistryCreds{
		User:          stored.user,
		Password:      password,
		Token:         token,
		AllowInsecure: stored.allowInsecure,
		AllowLatest:   stored.allowLatest,
	}
	return creds, !creds.empty() || creds.AllowInsecure || creds.AllowLatest, nil
}

// Hosts lists every registry host with an entry in the table.
func (t *Table) Hosts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for host := range t.entries {
		out = append(out, host)
	}
	return out
}
