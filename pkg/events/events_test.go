package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wasmcloud/wasmhost/pkg/lattice/memtransport"
)

func TestPublishDeliversToLocalSubscriber(t *testing.T) {
	b := NewBroker(nil, "default", "host-1")
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	require.NoError(t, b.Publish(context.Background(), "component_scaled", "wasmbus.evt.default.component_scaled", map[string]any{"component_id": "comp-1"}))

	select {
	case env := <-sub:
		require.Equal(t, "component_scaled", env.Type)
		require.Equal(t, "host-1", env.Source)
		require.NotEmpty(t, env.ID)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &payload))
		require.Equal(t, "comp-1", payload["component_id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local delivery")
	}
}

func TestPublishPutsEnvelopeOnLattice(t *testing.T) {
	transport := memtransport.New()
	b := NewBroker(transport, "default", "host-1")
	b.Start()
	defer b.Stop()

	sub, err := transport.Subscribe(context.Background(), "wasmbus.evt.default.provider_started")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), "provider_started", "provider-1", map[string]string{"image_reference": "builtin:echo"}))

	select {
	case msg := <-sub.Messages():
		var env Envelope
		require.NoError(t, json.Unmarshal(msg.Data, &env))
		require.Equal(t, "provider_started", env.Type)
		require.Equal(t, "provider-1", env.Subject)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lattice delivery")
	}
}

func TestUnsubscribeStopsDeliveryWithoutPanicking(t *testing.T) {
	b := NewBroker(nil, "default", "host-1")
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	require.NoError(t, b.Publish(context.Background(), "host_stopped", "host-1", nil))
}

func TestPublishWithoutTransportOnlyFansOutLocally(t *testing.T) {
	b := NewBroker(nil, "default", "host-1")
	b.Start()
	defer b.Stop()

	require.NoError(t, b.Publish(context.Background(), "link_put", "link-1", nil))
}
