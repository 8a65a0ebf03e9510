package supervisor

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"

	"github.com/wasmcloud/wasmhost/pkg/artifact"
	"github.com/wasmcloud/wasmhost/pkg/claims"
	"github.com/wasmcloud/wasmhost/pkg/component"
	"github.com/wasmcloud/wasmhost/pkg/engine/testengine"
	"github.com/wasmcloud/wasmhost/pkg/lattice/memtransport"
	"github.com/wasmcloud/wasmhost/pkg/linktable"
	"github.com/wasmcloud/wasmhost/pkg/router"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
	"github.com/wasmcloud/wasmhost/pkg/wit"
)

type recordedEvent struct {
	eventType string
	data      any
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEvents) Publish(ctx context.Context, eventType, subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, data})
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
	sup     *Supervisor
	eng     *testengine.Engine
	builtin *artifact.BuiltinFetcher
	events  *fakeEvents
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
	cfg := DefaultConfig()
	cfg.DrainDeadline = 200 * time.Millisecond
	sup := New(runtime, rtr, manager, events, "default", cfg)

	return &harness{sup: sup, eng: eng, builtin: builtin, events: events}
}

// registerComponent stages a fake artifact under ref and a "run" export
// the testengine will serve, returning the raw bytes used as both the
// artifact body and the testengine's digest key.
func (h *harness) registerComponent(name string, fn testengine.Func) []byte {
	body := []byte("component-" + name)
	h.builtin.Register(name, body)
	h.eng.Register(string(body), "run", fn)
	return body
}

func echoFunc(ctx context.Context, args []wit.Value) ([]wit.Value, error) {
	return []wit.Value{wit.String("ok")}, nil
}

func TestScaleUpFromZeroCreatesPoolAndServesTarget(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 3}
	require.NoError(t, h.sup.Scale(ctx, spec, 2))

	require.Equal(t, 2, h.sup.InstanceCount("comp-alpha"))
	require.Len(t, h.sup.List(), 1)
	require.Contains(t, h.events.types(), "component_scaled")
}

func TestScaleUpClampsToMaxInstances(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 2}
	require.NoError(t, h.sup.Scale(ctx, spec, 10))
	require.Equal(t, 2, h.sup.InstanceCount("comp-alpha"))
}

func TestScaleResizesExistingPoolUpAndDown(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 5}
	require.NoError(t, h.sup.Scale(ctx, spec, 2))
	require.NoError(t, h.sup.Scale(ctx, spec, 4))
	require.Equal(t, 4, h.sup.InstanceCount("comp-alpha"))

	require.NoError(t, h.sup.Scale(ctx, spec, 1))
	require.Equal(t, 1, h.sup.InstanceCount("comp-alpha"))
}

func TestScaleToZeroDrainsAndRemovesPool(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 2}
	require.NoError(t, h.sup.Scale(ctx, spec, 2))
	require.NoError(t, h.sup.Scale(ctx, spec, 0))

	require.Equal(t, 0, h.sup.InstanceCount("comp-alpha"))
	require.Empty(t, h.sup.List())
}

func TestScaleWithDifferingImageWithoutAllowUpdateKeepsOldImage(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)
	h.registerComponent("beta", echoFunc)

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 3, AllowUpdate: false}
	require.NoError(t, h.sup.Scale(ctx, spec, 1))

	updated := spec
	updated.ImageReference = "builtin:beta"
	require.NoError(t, h.sup.Scale(ctx, updated, 2))

	list := h.sup.List()
	require.Len(t, list, 1)
	require.Equal(t, "builtin:alpha", list[0].ImageReference)
	require.Equal(t, 2, h.sup.InstanceCount("comp-alpha"))
}

func TestScaleWithDifferingImageAndAllowUpdateSwapsImage(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)
	h.registerComponent("beta", echoFunc)

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 3, AllowUpdate: true}
	require.NoError(t, h.sup.Scale(ctx, spec, 1))

	updated := spec
	updated.ImageReference = "builtin:beta"
	require.NoError(t, h.sup.Scale(ctx, updated, 1))

	list := h.sup.List()
	require.Len(t, list, 1)
	require.Equal(t, "builtin:beta", list[0].ImageReference)
}

func TestUpdatePreservesComponentIDAndInstanceCount(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)
	h.registerComponent("beta", echoFunc)

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 3}
	require.NoError(t, h.sup.Scale(ctx, spec, 3))

	updated := spec
	updated.ImageReference = "builtin:beta"
	require.NoError(t, h.sup.Update(ctx, updated))

	require.Equal(t, 3, h.sup.InstanceCount("comp-alpha"))
	list := h.sup.List()
	require.Equal(t, "comp-alpha", list[0].ComponentID)
	require.Equal(t, "builtin:beta", list[0].ImageReference)
}

func TestUpdateUnknownComponentFails(t *testing.T) {
	h := newHarness(t)
	err := h.sup.Update(context.Background(), wasmtypes.ComponentInstance{ComponentID: "missing", ImageReference: "builtin:alpha"})
	require.Error(t, err)
}

func TestAuctionRejectsLabelMismatch(t *testing.T) {
	h := newHarness(t)
	hostLabels := map[string]string{"region": "us-east", "hostcore.os": "linux"}
	ok := h.sup.Auction("comp-new", map[string]string{"region": "eu-west"}, hostLabels)
	require.False(t, ok)
}

func TestAuctionAcceptsMatchingLabelsWhenNotRunning(t *testing.T) {
	h := newHarness(t)
	hostLabels := map[string]string{"region": "us-east"}
	ok := h.sup.Auction("comp-new", map[string]string{"region": "us-east"}, hostLabels)
	require.True(t, ok)
}

func TestAuctionRejectsAlreadyRunningComponent(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)
	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 1}
	require.NoError(t, h.sup.Scale(ctx, spec, 1))

	ok := h.sup.Auction("comp-alpha", nil, nil)
	require.False(t, ok)
}

func TestScaleUpRejectsClaimsModuleHashMismatch(t *testing.T) {
	h := newHarness(t)
	h.registerComponent("alpha", echoFunc)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuer := base64.RawURLEncoding.EncodeToString(pub)

	token, err := claims.SignComponentClaims(priv, claims.ComponentClaims{
		ID:         "jti-1",
		Issuer:     issuer,
		Subject:    "comp-alpha",
		ModuleHash: digest.FromBytes([]byte("not-the-actual-bytes")).String(),
	})
	require.NoError(t, err)

	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 1, ClaimsToken: token}
	err = h.sup.Scale(context.Background(), spec, 1)
	require.Error(t, err)
	require.Equal(t, 0, h.sup.InstanceCount("comp-alpha"))
	require.Contains(t, h.events.types(), "component_scale_failed")
}

func TestScaleUpAcceptsMatchingClaimsModuleHash(t *testing.T) {
	h := newHarness(t)
	body := h.registerComponent("alpha", echoFunc)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuer := base64.RawURLEncoding.EncodeToString(pub)

	token, err := claims.SignComponentClaims(priv, claims.ComponentClaims{
		ID:         "jti-1",
		Issuer:     issuer,
		Subject:    "comp-alpha",
		ModuleHash: digest.FromBytes(body).String(),
	})
	require.NoError(t, err)

	spec := wasmtypes.ComponentInstance{ComponentID: "comp-alpha", ImageReference: "builtin:alpha", MaxInstances: 1, ClaimsToken: token}
	require.NoError(t, h.sup.Scale(context.Background(), spec, 1))
	require.Equal(t, 1, h.sup.InstanceCount("comp-alpha"))
}

// slowFunc blocks until released, used to exercise the drain path under a
// pool resize so the in-flight call genuinely overlaps the shrink.
func slowFunc(release <-chan struct{}) testengine.Func {
	return func(ctx context.Context, args []wit.Value) ([]wit.Value, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return []wit.Value{wit.String("done")}, nil
	}
}

func TestDrainWaitsForInFlightInvocation(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	body := []byte("component-slow")
	h.builtin.Register("slow", body)
	h.eng.Register(string(body), "run", slowFunc(release))

	ctx := context.Background()
	spec := wasmtypes.ComponentInstance{ComponentID: "comp-slow", ImageReference: "builtin:slow", MaxInstances: 1}
	require.NoError(t, h.sup.Scale(ctx, spec, 1))

	entry, ok := h.sup.components["comp-slow"]
	require.True(t, ok)
	inst := entry.pool.instances[0]

	callDone := make(chan struct{})
	go func() {
		_, _ = inst.Call(context.Background(), "", "run", nil)
		close(callDone)
	}()

	time.Sleep(10 * time.Millisecond)

	scaleDone := make(chan error, 1)
	go func() { scaleDone <- h.sup.Scale(ctx, spec, 0) }()

	select {
	case <-scaleDone:
		t.Fatal("scale to zero returned while a call was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-scaleDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scale to zero never completed")
	}

	<-callDone
}
