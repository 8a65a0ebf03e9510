package discovery

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/miekg/dns"

	"github.com/wasmcloud/wasmhost/pkg/log"
)

const (
	// DefaultService is the SRV record service name peers are published
	// under, following the usual "_service._proto" SRV naming.
	DefaultService = "_wasmbus._tcp"

	// DefaultUpstream is the resolver queried whenever Config.Upstream
	// is empty; the platform resolver (/etc/resolv.conf) is not consulted.
	DefaultUpstream = "8.8.8.8:53"
)

// Config tunes how peers are looked up.
type Config struct {
	// Domain is the zone peers are published under, e.g. "lattice.internal".
	Domain string

	// Service overrides DefaultService.
	Service string

	// Upstream are the DNS servers queried for the SRV lookup.
	Upstream []string

	// StaticPeers, when non-empty, bypasses DNS entirely and is
	// returned as-is (minus shuffling) by Peers. This is how a
	// single-host or manually-configured lattice skips discovery.
	StaticPeers []string
}

func (c Config) withDefaults() Config {
	if c.Service == "" {
		c.Service = DefaultService
	}
	if len(c.Upstream) == 0 {
		c.Upstream = []string{DefaultUpstream}
	}
	return c
}

// Resolver finds other hosts' grpctransport addresses for a lattice.
type Resolver struct {
	config Config
	client *dns.Client
	rnd    *rand.Rand
}

// NewResolver builds a Resolver. Pass a Config with Domain set to the
// lattice's discovery zone, or StaticPeers to skip DNS altogether.
func NewResolver(config Config) *Resolver {
	return &Resolver{
		config: config.withDefaults(),
		client: &dns.Client{Net: "udp", Timeout: 3 * time.Second},
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Peers returns "host:port" addresses for every peer found, shuffled so
// repeated calls from many hosts don't all dial the same peer first. An
// empty, nil-error result means no peers were found (a lone host is not
// a discovery failure).
func (r *Resolver) Peers(ctx context.Context) ([]string, error) {
	if len(r.config.StaticPeers) > 0 {
		peers := append([]string(nil), r.config.StaticPeers...)
		r.shuffle(peers)
		return peers, nil
	}
	if r.config.Domain == "" {
		return nil, nil
	}

	query := fmt.Sprintf("%s.%s.", r.config.Service, r.config.Domain)
	msg := new(dns.Msg)
	msg.SetQuestion(query, dns.TypeSRV)
	msg.RecursionDesired = true

	var lastErr error
	for _, upstream := range r.config.Upstream {
		resp, _, err := r.client.ExchangeContext(ctx, msg, upstream)
		if err != nil {
			lastErr = err
			log.WithComponent("discovery").Debug().Err(err).Str("upstream", upstream).Msg("SRV query failed, trying next upstream")
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("discovery: SRV query for %s returned rcode %d", query, resp.Rcode)
			continue
		}
		peers := srvToAddrs(resp.Answer)
		r.shuffle(peers)
		return peers, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("discovery: resolve %s: %w", query, lastErr)
	}
	return nil, nil
}

func srvToAddrs(answers []dns.RR) []string {
	type record struct {
		priority, weight uint16
		addr             string
	}
	var records []record
	for _, rr := range answers {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		records = append(records, record{
			priority: srv.Priority,
			weight:   srv.Weight,
			addr:     fmt.Sprintf("%s:%d", trimTrailingDot(srv.Target), srv.Port),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].priority != records[j].priority {
			return records[i].priority < records[j].priority
		}
		return records[i].weight > records[j].weight
	})
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.addr
	}
	return out
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

func (r *Resolver) shuffle(addrs []string) {
	r.rnd.Shuffle(len(addrs), func(i, j int) {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})
}
