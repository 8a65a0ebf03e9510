package host

import (
	"context"
	"fmt"
	"net"
	"path/filepath"

	"github.com/wasmcloud/wasmhost/pkg/config"
	"github.com/wasmcloud/wasmhost/pkg/discovery"
	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/lattice/grpctransport"
	"github.com/wasmcloud/wasmhost/pkg/lattice/memtransport"
	"github.com/wasmcloud/wasmhost/pkg/lattice/raftkv"
	"github.com/wasmcloud/wasmhost/pkg/log"
)

// buildTransport constructs the lattice.Transport named by
// cfg.Transport. "grpc" additionally consults pkg/discovery: if peers
// are found, this host dials the first one as a pure client; if none
// are found, this host stands up its own grpctransport.Server and
// dials itself, becoming the lattice's bootstrap broker the way the
// first host in a freshly started lattice has nobody else to join.
func buildTransport(cfg config.HostConfig) (lattice.Transport, func() error, error) {
	switch cfg.Transport {
	case "mem":
		return memtransport.New(), func() error { return nil }, nil

	case "raft":
		t, err := raftkv.New(raftkv.Config{
			NodeID:    cfg.HostID,
			BindAddr:  cfg.ListenAddr,
			DataDir:   filepath.Join(cfg.DataDir, "raft"),
			Bootstrap: true,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("host: build raft transport: %w", err)
		}
		return t, func() error { return t.Close(context.Background()) }, nil

	case "grpc":
		return buildGRPCTransport(cfg)

	default:
		return nil, nil, fmt.Errorf("host: unknown transport %q", cfg.Transport)
	}
}

func buildGRPCTransport(cfg config.HostConfig) (lattice.Transport, func() error, error) {
	resolver := discovery.NewResolver(discovery.Config{
		Domain:      cfg.Discovery.Domain,
		StaticPeers: cfg.Discovery.StaticPeers,
	})
	peers, err := resolver.Peers(context.Background())
	if err != nil {
		log.WithComponent("host").Warn().Err(err).Msg("peer discovery failed, falling back to bootstrap broker")
	}

	if len(peers) > 0 {
		client, err := grpctransport.Dial(peers[0], nil)
		if err != nil {
			return nil, nil, fmt.Errorf("host: dial peer %s: %w", peers[0], err)
		}
		return client, func() error { return client.Close(context.Background()) }, nil
	}

	server := grpctransport.NewInsecureServer()
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("host: listen on %s: %w", cfg.ListenAddr, err)
	}
	go func() {
		if err := server.GRPCServer().Serve(listener); err != nil {
			log.WithComponent("host").Debug().Err(err).Msg("grpc broker listener stopped")
		}
	}()

	client, err := grpctransport.Dial(listener.Addr().String(), nil)
	if err != nil {
		listener.Close()
		return nil, nil, fmt.Errorf("host: dial self-hosted broker: %w", err)
	}

	closeFn := func() error {
		client.Close(context.Background())
		server.GRPCServer().GracefulStop()
		return nil
	}
	return client, closeFn, nil
}
