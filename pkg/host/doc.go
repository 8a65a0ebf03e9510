// Package host wires every component package into one running wasmhost
// host process: it picks a lattice.Transport from config, brings up the
// event broker, component and provider supervisors, the router, the
// config store, the label manager and heartbeat loop, and the control
// plane server, in the dependency order each one needs its collaborators
// constructed in, so both a CLI entrypoint and tests can build a full
// host without duplicating that bring-up order.
package host
