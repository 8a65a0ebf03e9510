package host

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/wasmcloud/wasmhost/pkg/artifact"
	"github.com/wasmcloud/wasmhost/pkg/component"
	"github.com/wasmcloud/wasmhost/pkg/config"
	"github.com/wasmcloud/wasmhost/pkg/configstore"
	"github.com/wasmcloud/wasmhost/pkg/control"
	"github.com/wasmcloud/wasmhost/pkg/engine/testengine"
	"github.com/wasmcloud/wasmhost/pkg/events"
	"github.com/wasmcloud/wasmhost/pkg/heartbeat"
	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/linktable"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/metrics"
	"github.com/wasmcloud/wasmhost/pkg/ociauth"
	"github.com/wasmcloud/wasmhost/pkg/provider"
	"github.com/wasmcloud/wasmhost/pkg/router"
	"github.com/wasmcloud/wasmhost/pkg/supervisor"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

// Host is one running wasmhost process: every subsystem package wired
// together and started. Build one with New, then Run it until the
// passed context is cancelled.
type Host struct {
	cfg config.HostConfig

	transport      lattice.Transport
	closeTransport func() error

	events     *events.Broker
	components *supervisor.Supervisor
	providers  *provider.Supervisor
	store      configstore.Store
	links      *linktable.Table
	labels     *heartbeat.LabelManager
	heartbeat  *heartbeat.Loop
	registries *ociauth.Table
	control    *control.Server
}

// New brings up every subsystem for cfg but does not yet start serving
// control requests or the heartbeat loop; call Run for that.
func New(cfg config.HostConfig) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.HostID == "" {
		cfg.HostID = uuid.NewString()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("host: create data dir: %w", err)
	}

	controlCfg := control.DefaultConfig()
	controlCfg.DefaultStopTimeout = cfg.DefaultStopTimeout
	metrics.SetVersion(controlCfg.Version)

	transport, closeTransport, err := buildTransport(cfg)
	if err != nil {
		metrics.RegisterComponent("lattice", false, err.Error())
		return nil, err
	}
	metrics.RegisterComponent("lattice", true, cfg.Transport+" transport dialed")

	cache, err := artifact.NewCache(cfg.DataDir)
	if err != nil {
		closeTransport()
		return nil, fmt.Errorf("host: build artifact cache: %w", err)
	}

	registries, err := ociauth.NewTable(ociauth.DeriveKey(cfg.Lattice + cfg.HostID))
	if err != nil {
		closeTransport()
		return nil, fmt.Errorf("host: build registry credential table: %w", err)
	}
	if len(cfg.Registries) > 0 {
		if err := registries.Merge(cfg.Registries); err != nil {
			closeTransport()
			return nil, fmt.Errorf("host: seed registry credentials: %w", err)
		}
	}

	registry := artifact.NewRegistry()
	registry.Register("builtin", artifact.NewBuiltinFetcher())
	registry.Register("file", artifact.FileFetcher{})
	registry.Register("http", artifact.NewHTTPFetcher())
	registry.Register("https", artifact.NewHTTPFetcher())
	registry.Register("oci", artifact.NewOCIFetcher(registries))
	manager := artifact.NewManager(registry, cache, artifact.RetryConfig{})

	broker := events.NewBroker(transport, cfg.Lattice, cfg.HostID)

	links := linktable.New()
	rtr := router.New(transport, links, cfg.Lattice, router.DefaultConfig())

	runtime := component.NewRuntime(testengine.New())
	components := supervisor.New(runtime, rtr, manager, broker, cfg.Lattice, supervisor.DefaultConfig())
	metrics.RegisterComponent("engine", true, "runtime instantiated")
	metrics.RegisterComponent("control", false, "starting")

	providerCfg := provider.DefaultConfig(cfg.DataDir)
	providers := provider.New(transport, manager, broker, cfg.Lattice, cfg.HostID, providerCfg)

	store := configstore.New(transport, cfg.Lattice)

	labelExtras := map[string]string{}
	for i, issuer := range cfg.ClusterIssuers {
		labelExtras[fmt.Sprintf("hostcore.cluster_issuer.%d", i)] = issuer
	}
	labels := heartbeat.NewLabelManager(cfg.HostID, labelExtras)

	h := &Host{
		cfg:            cfg,
		transport:      transport,
		closeTransport: closeTransport,
		events:         broker,
		components:     components,
		providers:      providers,
		store:          store,
		links:          links,
		labels:         labels,
		registries:     registries,
	}

	h.control = control.New(transport, cfg.Lattice, cfg.HostID, components, providers, store, links, labels, registries, broker, h, controlCfg)

	heartbeatCfg := heartbeat.DefaultConfig()
	if cfg.HeartbeatInterval > 0 {
		heartbeatCfg.Interval = cfg.HeartbeatInterval
	}
	h.heartbeat = heartbeat.New(transport, labels, h.control, cfg.Lattice, controlCfg.Version, time.Now(), heartbeatCfg)

	return h, nil
}

// Run starts the event broker, control plane, and heartbeat loop, and
// blocks until ctx is cancelled, draining every running component and
// provider before returning.
func (h *Host) Run(ctx context.Context) error {
	h.events.Start()

	if err := h.control.Serve(ctx); err != nil {
		metrics.RegisterComponent("control", false, err.Error())
		h.events.Stop()
		h.closeTransport()
		return fmt.Errorf("host: start control plane: %w", err)
	}
	metrics.RegisterComponent("control", true, "serving")

	go h.heartbeat.Run(ctx)
	go h.watchLinks(ctx)
	h.serveDebug(ctx)

	log.WithComponent("host").Info().Str("host_id", h.cfg.HostID).Str("lattice", h.cfg.Lattice).Msg("host ready")

	<-ctx.Done()
	return h.Close(context.Background())
}

// Close drains every running workload and tears down every subsystem.
// It is safe to call once Run has already returned from context
// cancellation; Run calls it automatically in that case.
func (h *Host) Close(ctx context.Context) error {
	if err := h.DrainAll(ctx); err != nil {
		log.WithComponent("host").Warn().Err(err).Msg("drain did not complete cleanly")
	}
	h.control.Close()
	h.events.Stop()
	return h.closeTransport()
}

// DrainAll scales every running component to zero and stops every
// running provider, satisfying control.Drainer for stop_host.
func (h *Host) DrainAll(ctx context.Context) error {
	var firstErr error
	for _, inst := range h.components.List() {
		if err := h.components.Scale(ctx, wasmtypes.ComponentInstance{ComponentID: inst.ComponentID}, 0); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("host: drain component %s: %w", inst.ComponentID, err)
		}
	}
	for _, inst := range h.providers.List() {
		if err := h.providers.Stop(ctx, inst.ProviderID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("host: drain provider %s: %w", inst.ProviderID, err)
		}
	}
	return firstErr
}
