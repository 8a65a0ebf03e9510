// Package metrics defines and registers the host's Prometheus metrics:
// gauges for running components, providers, links, uptime and lattice
// membership; component, provider-health, invocation, control-request
// and event counters; and latency histograms for scaling, provider
// start/stop, invocations, artifact fetches, control requests and
// lattice applies. Metrics are
// registered with the default Prometheus registry at package init and
// exposed over HTTP via Handler.
//
// Call NewTimer at the start of an operation and ObserveDuration (or
// ObserveDurationVec for a label set known only after the work runs,
// such as a component ID) when it finishes.
package metrics
