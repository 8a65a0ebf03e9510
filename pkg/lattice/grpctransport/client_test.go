package grpctransport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewInsecureServer()
	go func() {
		_ = srv.GRPCServer().Serve(lis)
	}()
	t.Cleanup(func() {
		srv.GRPCServer().Stop()
	})
	return srv, lis.Addr().String()
}

func dialTestClient(t *testing.T, addr string) *Transport {
	t.Helper()
	tr, err := Dial(addr, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tr.Close(context.Background())
	})
	return tr
}

func TestClientPublishSubscribe(t *testing.T) {
	_, addr := startTestServer(t)
	client := dialTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, "wasmbus.evt.default.component_started")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// give the server a moment to register the subscription before publishing
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, client.Publish(ctx, "wasmbus.evt.default.component_started", map[string]string{"k": "v"}, []byte("hello")))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "hello", string(msg.Data))
		require.Equal(t, "v", msg.Headers["k"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestClientRequestReply(t *testing.T) {
	_, addr := startTestServer(t)
	client := dialTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, "wasmbus.rpc.default.echo.wasi.http.handler")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	go func() {
		msg := <-sub.Messages()
		if msg == nil || msg.Reply == "" {
			return
		}
		_ = client.Publish(ctx, msg.Reply, nil, []byte("pong"))
	}()

	time.Sleep(50 * time.Millisecond)

	resp, err := client.Request(ctx, "wasmbus.rpc.default.echo.wasi.http.handler", nil, []byte("ping"), 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", string(resp.Data))
}

func TestClientBucketRoundTrip(t *testing.T) {
	_, addr := startTestServer(t)
	client := dialTestClient(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bucket, err := client.Bucket("LATTICEDATA_default")
	require.NoError(t, err)

	watch, err := bucket.Watch(ctx)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	ver, err := bucket.Put(ctx, "component/foo", []byte(`{"count":1}`))
	require.NoError(t, err)
	require.Equal(t, uint64(1), ver)

	val, gotVer, err := bucket.Get(ctx, "component/foo")
	require.NoError(t, err)
	require.Equal(t, uint64(1), gotVer)
	require.JSONEq(t, `{"count":1}`, string(val))

	keys, err := bucket.Keys(ctx)
	require.NoError(t, err)
	require.Contains(t, keys, "component/foo")

	select {
	case ev := <-watch:
		require.Equal(t, "component/foo", ev.Key)
		require.False(t, ev.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}

	require.NoError(t, bucket.Delete(ctx, "component/foo"))

	select {
	case ev := <-watch:
		require.True(t, ev.Deleted)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delete watch event")
	}
}
