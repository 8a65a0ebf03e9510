package memtransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	tr := New()
	defer tr.Close(context.Background())

	sub, err := tr.Subscribe(context.Background(), "wasmbus.evt.default.host_started")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, tr.Publish(context.Background(), "wasmbus.evt.default.host_started", nil, []byte("hi")))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "hi", string(msg.Data))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRequestReply(t *testing.T) {
	tr := New()
	defer tr.Close(context.Background())

	sub, err := tr.Subscribe(context.Background(), "wasmbus.ctl.v1.default.ping_hosts")
	require.NoError(t, err)

	go func() {
		msg := <-sub.Messages()
		tr.Publish(context.Background(), msg.Reply, nil, []byte("pong"))
	}()

	reply, err := tr.Request(context.Background(), "wasmbus.ctl.v1.default.ping_hosts", nil, []byte("ping"), time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(reply.Data))
}

func TestRequestTimeout(t *testing.T) {
	tr := New()
	defer tr.Close(context.Background())

	_, err := tr.Request(context.Background(), "wasmbus.ctl.v1.default.nobody", nil, nil, 10*time.Millisecond)
	require.Error(t, err)
}

func TestBucketGetPutDeleteWatch(t *testing.T) {
	tr := New()
	defer tr.Close(context.Background())

	b, err := tr.Bucket("LATTICEDATA_default")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := b.Watch(ctx)
	require.NoError(t, err)

	v1, err := b.Put(context.Background(), "k1", []byte("v1"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), v1)

	select {
	case ev := <-events:
		require.Equal(t, "k1", ev.Key)
		require.Equal(t, []byte("v1"), ev.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch event")
	}

	val, ver, err := b.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), val)
	require.Equal(t, uint64(1), ver)

	require.NoError(t, b.Delete(context.Background(), "k1"))
	_, _, err = b.Get(context.Background(), "k1")
	require.Error(t, err)
}
