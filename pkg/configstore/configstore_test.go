package configstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wasmcloud/wasmhost/pkg/lattice/memtransport"
)

func TestGetPutDeleteRoundTrip(t *testing.T) {
	transport := memtransport.New()
	store := New(transport, "default")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, BucketLinks, "component-a", []byte(`{"target":"kvredis"}`)))

	val, err := store.Get(ctx, BucketLinks, "component-a")
	require.NoError(t, err)
	require.JSONEq(t, `{"target":"kvredis"}`, string(val))

	require.NoError(t, store.Delete(ctx, BucketLinks, "component-a"))
	_, err = store.Get(ctx, BucketLinks, "component-a")
	require.Error(t, err)
}

func TestBucketsAreIsolatedByKeyPrefix(t *testing.T) {
	transport := memtransport.New()
	store := New(transport, "default")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, BucketLinks, "shared-key", []byte("link-value")))
	require.NoError(t, store.Put(ctx, BucketClaims, "shared-key", []byte("claims-value")))

	linkVal, err := store.Get(ctx, BucketLinks, "shared-key")
	require.NoError(t, err)
	require.Equal(t, "link-value", string(linkVal))

	claimsVal, err := store.Get(ctx, BucketClaims, "shared-key")
	require.NoError(t, err)
	require.Equal(t, "claims-value", string(claimsVal))

	keys, err := store.Keys(ctx, BucketLinks)
	require.NoError(t, err)
	require.Equal(t, []string{"shared-key"}, keys)
}

func TestWatchOnlySeesOwnBucketEvents(t *testing.T) {
	transport := memtransport.New()
	store := New(transport, "default")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := store.Watch(ctx, BucketLinks)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, BucketClaims, "other-bucket-key", []byte("irrelevant")))
	require.NoError(t, store.Put(ctx, BucketLinks, "link-key", []byte("link-value")))

	select {
	case ev := <-events:
		require.Equal(t, "link-key", ev.Key)
		require.Equal(t, "link-value", string(ev.Value))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for link bucket watch event")
	}
}

func TestConfigBucketUsesSeparatePhysicalBucket(t *testing.T) {
	transport := memtransport.New()
	store := New(transport, "default")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, BucketConfig, "timeout_ms", []byte("5000")))
	keys, err := store.Keys(ctx, BucketLinks)
	require.NoError(t, err)
	require.Empty(t, keys)

	configKeys, err := store.Keys(ctx, BucketConfig)
	require.NoError(t, err)
	require.Equal(t, []string{"timeout_ms"}, configKeys)
}
