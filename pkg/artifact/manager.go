package artifact

import (
	"context"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
)

// Manager is the host's single entry point for turning an artifact
// reference into bytes: cache lookup, scheme dispatch with retry, and
// cache population on success.
type Manager struct {
	registry *Registry
	cache    *Cache
	retry    RetryConfig
}

// NewManager builds a Manager with the given scheme registry, cache,
// and retry policy. Pass a zero RetryConfig to get DefaultRetryConfig.
func NewManager(registry *Registry, cache *Cache, retry RetryConfig) *Manager {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	return &Manager{registry: registry, cache: cache, retry: retry}
}

// Fetch resolves ref to bytes, consulting the local cache first when
// ref names an explicit digest, retrying the underlying fetch with
// exponential backoff on transient failure, and caching the result
// keyed by its actual digest.
func (m *Manager) Fetch(ctx context.Context, ref string) ([]byte, digest.Digest, error) {
	timer := metrics.NewTimer()
	scheme, _ := schemeOf(ref)
	defer timer.ObserveDurationVec(metrics.ArtifactFetchDuration, scheme)

	if dgst, ok := referenceDigest(ref); ok {
		if data, hit, err := m.cache.Get(dgst); err == nil && hit {
			metrics.ArtifactCacheHits.Inc()
			return data, dgst, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < m.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.retry.delay(attempt - 1)):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
			log.WithComponent("artifact").Warn().Str("ref", ref).Int("attempt", attempt+1).Msg("retrying artifact fetch")
		}

		data, dgst, err := m.registry.Fetch(ctx, ref)
		if err == nil {
			if cacheErr := m.cache.Put(dgst, data); cacheErr != nil {
				log.WithComponent("artifact").Warn().Err(cacheErr).Msg("failed to populate artifact cache")
			}
			return data, dgst, nil
		}

		lastErr = err
		if !retryable(err) {
			return nil, "", err
		}
	}

	return nil, "", wasmerr.Wrapf(wasmerr.Unavailable, lastErr, "artifact fetch exhausted %d attempts for %q", m.retry.MaxAttempts, ref)
}

func retryable(err error) bool {
	return wasmerr.KindOf(err) == wasmerr.Unavailable
}
