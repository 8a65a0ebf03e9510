package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Host metrics
	ComponentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wasmhost_components_total",
			Help: "Total number of running component instances by component id",
		},
		[]string{"component_id"},
	)

	ProvidersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wasmhost_providers_total",
			Help: "Total number of running provider instances by status",
		},
		[]string{"status"},
	)

	LinksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wasmhost_links_total",
			Help: "Total number of link definitions in the link table",
		},
	)

	HostUptimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wasmhost_uptime_seconds",
			Help: "Seconds since this host process started",
		},
	)

	// Lattice metrics
	LatticeLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wasmhost_lattice_is_leader",
			Help: "Whether this host's raftkv bucket is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	LatticePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wasmhost_lattice_peers_total",
			Help: "Total number of peers participating in the lattice",
		},
	)

	LatticeApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wasmhost_lattice_apply_duration_seconds",
			Help:    "Time taken to apply a replicated lattice command",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Control plane metrics
	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasmhost_control_requests_total",
			Help: "Total number of control plane requests by verb and status",
		},
		[]string{"verb", "status"},
	)

	ControlRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wasmhost_control_request_duration_seconds",
			Help:    "Control plane request duration in seconds by verb",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	// Supervisor / scale metrics
	ScaleOperationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wasmhost_scale_duration_seconds",
			Help:    "Time taken to converge a component pool to its target count",
			Buckets: prometheus.DefBuckets,
		},
	)

	ComponentsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wasmhost_components_started_total",
			Help: "Total number of component instances started",
		},
	)

	ComponentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wasmhost_components_failed_total",
			Help: "Total number of component instances that failed to start",
		},
	)

	// Provider supervisor metrics
	ProviderStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wasmhost_provider_start_duration_seconds",
			Help:    "Time taken to start a capability provider process",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProviderStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wasmhost_provider_stop_duration_seconds",
			Help:    "Time taken to stop a capability provider process",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProviderHealthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasmhost_provider_health_failures_total",
			Help: "Total number of failed provider health checks by provider id",
		},
		[]string{"provider_id"},
	)

	// Invocation / router metrics
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasmhost_invocations_total",
			Help: "Total number of invocations routed by outcome",
		},
		[]string{"outcome"},
	)

	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wasmhost_invocation_duration_seconds",
			Help:    "Invocation round-trip duration in seconds by target interface",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"interface"},
	)

	InvocationsChunked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wasmhost_invocations_chunked_total",
			Help: "Total number of invocation payloads that required chunked transport",
		},
	)

	// Artifact fetcher metrics
	ArtifactFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wasmhost_artifact_fetch_duration_seconds",
			Help:    "Time taken to fetch an artifact by scheme",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	ArtifactCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wasmhost_artifact_cache_hits_total",
			Help: "Total number of artifact fetches satisfied from the content-addressed cache",
		},
	)

	// Event publisher metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wasmhost_events_published_total",
			Help: "Total number of events published by type",
		},
		[]string{"type"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wasmhost_events_dropped_total",
			Help: "Total number of events dropped because a subscriber channel was full",
		},
	)
)

func init() {
	prometheus.MustRegister(ComponentsTotal)
	prometheus.MustRegister(ProvidersTotal)
	prometheus.MustRegister(LinksTotal)
	prometheus.MustRegister(HostUptimeSeconds)
	prometheus.MustRegister(LatticeLeader)
	prometheus.MustRegister(LatticePeers)
	prometheus.MustRegister(LatticeApplyDuration)
	prometheus.MustRegister(ControlRequestsTotal)
	prometheus.MustRegister(ControlRequestDuration)
	prometheus.MustRegister(ScaleOperationDuration)
	prometheus.MustRegister(ComponentsStarted)
	prometheus.MustRegister(ComponentsFailed)
	prometheus.MustRegister(ProviderStartDuration)
	prometheus.MustRegister(ProviderStopDuration)
	prometheus.MustRegister(ProviderHealthFailures)
	prometheus.MustRegister(InvocationsTotal)
	prometheus.MustRegister(InvocationDuration)
	prometheus.MustRegister(InvocationsChunked)
	prometheus.MustRegister(ArtifactFetchDuration)
	prometheus.MustRegister(ArtifactCacheHits)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
