package artifact

import (
	"context"
	"strings"
	"sync"

	digest "github.com/opencontainers/go-digest"

	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
)

// BuiltinFetcher resolves "builtin:<name>" references against a registry
// of in-process provider binaries compiled into the host itself.
type BuiltinFetcher struct {
	mu       sync.RWMutex
	binaries map[string][]byte
}

// NewBuiltinFetcher builds an empty builtin registry.
func NewBuiltinFetcher() *BuiltinFetcher {
	return &BuiltinFetcher{binaries: make(map[string][]byte)}
}

// Register associates name with the bytes of an embedded binary.
func (f *BuiltinFetcher) Register(name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binaries[name] = data
}

func (f *BuiltinFetcher) Fetch(ctx context.Context, ref string) ([]byte, digest.Digest, error) {
	name := strings.TrimPrefix(ref, "builtin:")
	f.mu.RLock()
	data, ok := f.binaries[name]
	f.mu.RUnlock()
	if !ok {
		return nil, "", wasmerr.Wrapf(wasmerr.NotFound, nil, "no builtin artifact named %q", name)
	}
	return data, digest.FromBytes(data), nil
}
