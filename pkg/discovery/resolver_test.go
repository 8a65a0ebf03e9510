package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

// startFakeSRVServer answers every SRV query for query with the given
// targets, on a random free UDP port.
func startFakeSRVServer(t *testing.T, query string, targets []struct {
	host string
	port uint16
}) string {
	t.Helper()

	mux := dns.NewServeMux()
	mux.HandleFunc(query, func(w dns.ResponseWriter, r *dns.Msg) {
		msg := new(dns.Msg)
		msg.SetReply(r)
		for _, target := range targets {
			msg.Answer = append(msg.Answer, &dns.SRV{
				Hdr:      dns.RR_Header{Name: query, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 5},
				Priority: 0,
				Weight:   0,
				Port:     target.port,
				Target:   target.host + ".",
			})
		}
		_ = w.WriteMsg(msg)
	})

	server := &dns.Server{Addr: "127.0.0.1:0", Net: "udp", Handler: mux}
	listener, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	server.PacketConn = listener

	ready := make(chan struct{})
	server.NotifyStartedFunc = func() { close(ready) }
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("fake DNS server did not start")
	}
	return listener.LocalAddr().String()
}

func TestResolverStaticPeersSkipsDNS(t *testing.T) {
	r := NewResolver(Config{StaticPeers: []string{"host-a:9000", "host-b:9000"}})
	peers, err := r.Peers(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"host-a:9000", "host-b:9000"}, peers)
}

func TestResolverNoDomainReturnsEmpty(t *testing.T) {
	r := NewResolver(Config{})
	peers, err := r.Peers(context.Background())
	require.NoError(t, err)
	require.Empty(t, peers)
}

func TestResolverPeersQueriesLiveSRVServer(t *testing.T) {
	query := "_wasmbus._tcp.default."
	addr := startFakeSRVServer(t, query, []struct {
		host string
		port uint16
	}{
		{host: "host-a", port: 9000},
		{host: "host-b", port: 9000},
	})

	r := NewResolver(Config{Domain: "default", Upstream: []string{addr}})
	peers, err := r.Peers(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"host-a:9000", "host-b:9000"}, peers)
}

func TestSRVToAddrsOrdersByPriorityThenWeight(t *testing.T) {
	answers := []dns.RR{
		&dns.SRV{Priority: 10, Weight: 1, Port: 9000, Target: "low-priority."},
		&dns.SRV{Priority: 0, Weight: 5, Port: 9001, Target: "high-priority-heavy."},
		&dns.SRV{Priority: 0, Weight: 1, Port: 9002, Target: "high-priority-light."},
	}
	addrs := srvToAddrs(answers)
	require.Equal(t, []string{
		"high-priority-heavy:9001",
		"high-priority-light:9002",
		"low-priority:9000",
	}, addrs)
}
