// Package events is the host's CloudEvents-shaped publisher: every state
// change elsewhere in the host (component scaled, provider started, link
// put, host stopped) funnels through Publish, which stamps an envelope,
// fans it out to local in-process subscribers, and puts it on the
// lattice so other hosts and CLI watchers see it too.
//
// A buffered publish channel, a broadcast loop, and per-subscriber
// buffered channels that drop rather than block a slow reader carry the
// event. The payload itself is a CloudEvents envelope (ID, Source, Type,
// Time, Subject, Data) since the lattice carries these across process
// and host boundaries and consumers outside this binary need a
// self-describing format rather than a Go struct.
package events
