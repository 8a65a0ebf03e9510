package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wasmcloud/wasmhost/pkg/artifact"
	"github.com/wasmcloud/wasmhost/pkg/component"
	"github.com/wasmcloud/wasmhost/pkg/configstore"
	"github.com/wasmcloud/wasmhost/pkg/engine/testengine"
	"github.com/wasmcloud/wasmhost/pkg/heartbeat"
	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/lattice/memtransport"
	"github.com/wasmcloud/wasmhost/pkg/linktable"
	"github.com/wasmcloud/wasmhost/pkg/ociauth"
	"github.com/wasmcloud/wasmhost/pkg/provider"
	"github.com/wasmcloud/wasmhost/pkg/router"
	"github.com/wasmcloud/wasmhost/pkg/supervisor"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

type recordedEvent struct {
	eventType string
	subject   string
	data      any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Publish(ctx context.Context, eventType, subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, subject, data})
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.eventType
	}
	return out
}

type harness struct {
	t         *testing.T
	server    *Server
	transport lattice.Transport
	builtin   *artifact.BuiltinFetcher
	events    *fakeEvents
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cache, err := artifact.NewCache(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	registry := artifact.NewRegistry()
	builtin := artifact.NewBuiltinFetcher()
	registry.Register("builtin", builtin)
	manager := artifact.NewManager(registry, cache, artifact.RetryConfig{})

	eng := testengine.New()
	runtime := component.NewRuntime(eng)

	transport := memtransport.New()
	links := linktable.New()
	rtr := router.New(transport, links, "default", router.DefaultConfig())

	events := &fakeEvents{}

	components := supervisor.New(runtime, rtr, manager, events, "default", supervisor.DefaultConfig())
	providerCfg := provider.DefaultConfig(t.TempDir())
	providerCfg.ShutdownDelay = 20 * time.Millisecond
	providers := provider.New(transport, manager, events, "default", "host-1", providerCfg)

	store := configstore.New(transport, "default")
	labels := heartbeat.NewLabelManager("host-1", map[string]string{"zone": "a"})
	registries, err := ociauth.NewTable(ociauth.DeriveKey("control-test"))
	require.NoError(t, err)

	server := New(transport, "default", "host-1", components, providers, store, links, labels, registries, events, nil, DefaultConfig())
	require.NoError(t, server.Serve(context.Background()))
	t.Cleanup(server.Close)

	return &harness{t: t, server: server, transport: transport, builtin: builtin, events: events}
}

// request publishes payload to the host-scoped verb subject and awaits
// its reply, the same inbox-allocate-and-await flow router_test.go uses.
func (h *harness) request(t *testing.T, verb string, body any, fleet bool) controlReply {
	t.Helper()
	msg := h.requestRaw(t, verb, body, fleet, time.Second)

	var reply controlReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	return reply
}

func (h *harness) requestRaw(t *testing.T, verb string, body any, fleet bool, timeout time.Duration) *lattice.Message {
	t.Helper()
	hostID := "host-1"
	if fleet {
		hostID = ""
	}
	subject := lattice.ControlSubject("default", verb, hostID)

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	msg, err := h.transport.Request(context.Background(), subject, nil, payload, timeout)
	require.NoError(t, err)
	return msg
}

// requireNoReply asserts the auction handler stayed silent, i.e. the
// request times out rather than receiving any envelope at all.
func (h *harness) requireNoReply(t *testing.T, verb string, body any, fleet bool) {
	t.Helper()
	hostID := "host-1"
	if fleet {
		hostID = ""
	}
	subject := lattice.ControlSubject("default", verb, hostID)
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	_, err = h.transport.Request(context.Background(), subject, nil, payload, 50*time.Millisecond)
	require.Error(t, err)
}

func TestConfigPutGetDeleteRoundtrips(t *testing.T) {
	h := newHarness(t)

	reply := h.request(t, "config_put", configPutRequest{Key: "greeting", Value: []byte("hello")}, false)
	require.True(t, reply.OK)

	reply = h.request(t, "config_get", configGetRequest{Key: "greeting"}, false)
	require.True(t, reply.OK)
	var value configValueReply
	require.NoError(t, json.Unmarshal(reply.Data, &value))
	require.Equal(t, "hello", string(value.Value))

	reply = h.request(t, "config_delete", configDeleteRequest{Key: "greeting"}, false)
	require.True(t, reply.OK)

	require.Contains(t, h.events.types(), "config_set")
	require.Contains(t, h.events.types(), "config_deleted")
}

func TestLabelPutRejectsReservedPrefix(t *testing.T) {
	h := newHarness(t)

	reply := h.request(t, "label_put", labelRequest{Key: "hostcore.id", Value: "x"}, false)
	require.False(t, reply.OK)
	require.NotEmpty(t, reply.ErrorKind)
}

func TestLabelPutAndDeleteEmitEvent(t *testing.T) {
	h := newHarness(t)

	reply := h.request(t, "label_put", labelRequest{Key: "zone", Value: "b"}, false)
	require.True(t, reply.OK)

	reply = h.request(t, "label_delete", labelRequest{Key: "zone"}, false)
	require.True(t, reply.OK)

	require.Contains(t, h.events.types(), "labels_changed")
}

func TestLinkPutThenLinksSnapshot(t *testing.T) {
	h := newHarness(t)

	link := wasmtypes.LinkDefinition{
		SourceID:     "comp-a",
		Target:       "provider-kv",
		WitNamespace: "wasi",
		WitPackage:   "keyvalue",
		Interfaces:   []string{"readwrite"},
	}
	reply := h.request(t, "link_put", linkPutRequest{Link: link}, false)
	require.True(t, reply.OK)

	reply = h.request(t, "links", nil, false)
	require.True(t, reply.OK)
	var links linksReply
	require.NoError(t, json.Unmarshal(reply.Data, &links))
	require.Len(t, links.Links, 1)
	require.Equal(t, "provider-kv", links.Links[0].Target)

	require.Contains(t, h.events.types(), "linkdef_set")
}

func TestLinkPutConflictOnOverlappingInterfacesDifferentTarget(t *testing.T) {
	h := newHarness(t)

	first := wasmtypes.LinkDefinition{
		SourceID: "comp-a", Target: "provider-kv",
		WitNamespace: "wasi", WitPackage: "keyvalue", Interfaces: []string{"readwrite"},
	}
	reply := h.request(t, "link_put", linkPutRequest{Link: first}, false)
	require.True(t, reply.OK)

	second := first
	second.Target = "provider-kv-2"
	reply = h.request(t, "link_put", linkPutRequest{Link: second}, false)
	require.False(t, reply.OK)
	require.Equal(t, "conflict", reply.ErrorKind)
}

func TestLinkPutReplacesSameTarget(t *testing.T) {
	h := newHarness(t)

	link := wasmtypes.LinkDefinition{
		SourceID: "comp-a", Target: "provider-kv",
		WitNamespace: "wasi", WitPackage: "keyvalue", Interfaces: []string{"readwrite"},
	}
	reply := h.request(t, "link_put", linkPutRequest{Link: link}, false)
	require.True(t, reply.OK)

	link.Interfaces = []string{"readwrite", "atomics"}
	reply = h.request(t, "link_put", linkPutRequest{Link: link}, false)
	require.True(t, reply.OK)

	reply = h.request(t, "links", nil, false)
	var links linksReply
	require.NoError(t, json.Unmarshal(reply.Data, &links))
	require.Len(t, links.Links, 1)
	require.Len(t, links.Links[0].Interfaces, 2)
}

func TestLinkDelIsIdempotent(t *testing.T) {
	h := newHarness(t)

	reply := h.request(t, "link_del", linkDelRequest{SourceID: "missing", WitNamespace: "wasi", WitPackage: "keyvalue"}, false)
	require.True(t, reply.OK)
}

func TestInventoryAndPingDoNotRequireReady(t *testing.T) {
	h := newHarness(t)

	stopReply := h.request(t, "stop_host", stopHostRequest{TimeoutMillis: 20}, false)
	require.True(t, stopReply.OK)

	reply := h.request(t, "inventory", nil, false)
	require.True(t, reply.OK)

	reply = h.request(t, "ping_hosts", nil, true)
	require.True(t, reply.OK)
}

func TestMutatingVerbRejectedAfterStopHost(t *testing.T) {
	h := newHarness(t)

	stopReply := h.request(t, "stop_host", stopHostRequest{TimeoutMillis: 20}, false)
	require.True(t, stopReply.OK)

	reply := h.request(t, "config_put", configPutRequest{Key: "x", Value: []byte("y")}, false)
	require.False(t, reply.OK)
	require.Equal(t, "unavailable", reply.ErrorKind)
}

func TestRegistriesPutMerges(t *testing.T) {
	h := newHarness(t)

	reply := h.request(t, "registries_put", registriesPutRequest{Registries: map[string]ociauth.RegistryCreds{
		"ghcr.io": {User: "u", Password: "p"},
	}}, false)
	require.True(t, reply.OK)
}

func TestScaleComponentAcksImmediatelyAndEventsFollow(t *testing.T) {
	h := newHarness(t)
	h.builtin.Register("alpha", []byte("component-alpha"))

	reply := h.request(t, "scale_component", scaleComponentRequest{
		Instance: wasmtypes.ComponentInstance{ComponentID: "comp-1", ImageReference: "builtin:alpha", MaxInstances: 5},
		Count:    1,
	}, false)
	require.True(t, reply.OK)

	require.Eventually(t, func() bool {
		for _, typ := range h.events.types() {
			if typ == "component_scaled" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestAuctionComponentRespectsLabelsAndRunningState(t *testing.T) {
	h := newHarness(t)

	h.requireNoReply(t, "auction_component", auctionRequest{ID: "comp-1", Constraints: map[string]string{"zone": "z-missing"}}, true)

	reply := h.request(t, "auction_component", auctionRequest{ID: "comp-1", Constraints: map[string]string{"zone": "a"}}, true)
	require.True(t, reply.OK)

	// Once comp-1 runs here, a matching auction no longer gets a bid.
	h.builtin.Register("alpha", []byte("component-alpha"))
	reply = h.request(t, "scale_component", scaleComponentRequest{
		Instance: wasmtypes.ComponentInstance{ComponentID: "comp-1", ImageReference: "builtin:alpha", MaxInstances: 1},
		Count:    1,
	}, false)
	require.True(t, reply.OK)
	require.Eventually(t, func() bool {
		for _, typ := range h.events.types() {
			if typ == "component_scaled" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	h.requireNoReply(t, "auction_component", auctionRequest{ID: "comp-1", Constraints: map[string]string{"zone": "a"}}, true)
}

func TestStartAndStopProviderVerbs(t *testing.T) {
	h := newHarness(t)
	h.builtin.Register("echo", []byte("#!/bin/sh\nsleep 5\n"))

	reply := h.request(t, "start_provider", provider.StartSpec{ProviderID: "prov-1", ImageReference: "builtin:echo"}, false)
	require.True(t, reply.OK)

	time.Sleep(50 * time.Millisecond)
	reply = h.request(t, "stop_provider", stopProviderRequest{ProviderID: "prov-1"}, false)
	require.True(t, reply.OK)
}
