// Package grpctransport is a lattice.Transport backed by gRPC, with
// mTLS credentials (RequestClientCert, verify-per-RPC, TLS 1.3 minimum).
// One process runs the Server — the broker of record for publish/
// subscribe and the bucket store — and every other host dials in as a
// Client. This is deliberately simpler than a symmetric mesh: it is the
// transport used when no external broker (a real NATS deployment, for
// instance) is configured, not a second consensus protocol competing
// with raftkv.
package grpctransport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
	"github.com/wasmcloud/wasmhost/pkg/log"
)

const serviceName = "wasmhost.lattice.Lattice"

// TLSConfig is a verify-per-RPC mTLS posture: the server requests a
// client certificate but does not require one at the transport level,
// so unauthenticated bootstrap RPCs remain possible while any RPC that
// needs a trusted peer can inspect the per-call peer certificate.
type TLSConfig struct {
	Cert       tls.Certificate
	ClientCAs  *x509.CertPool
}

func (c TLSConfig) build() *tls.Config {
	return &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{c.Cert},
		ClientCAs:    c.ClientCAs,
		MinVersion:   tls.VersionTLS13,
	}
}

// Server is the gRPC-side broker: it owns subject subscriptions and bucket
// state for the lattice and exposes them to dialed-in Clients.
type Server struct {
	grpcServer *grpc.Server

	mu          sync.RWMutex
	subscribers map[string]map[chan envelope]bool
	buckets     map[string]*serverBucket
}

// NewServer constructs the gRPC server with mTLS credentials: build TLS
// config, wrap in grpc.Creds, register the service.
func NewServer(tlsCfg TLSConfig) *Server {
	creds := credentials.NewTLS(tlsCfg.build())
	s := &Server{
		subscribers: make(map[string]map[chan envelope]bool),
		buckets:     make(map[string]*serverBucket),
	}
	s.grpcServer = grpc.NewServer(grpc.Creds(creds))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// NewInsecureServer skips TLS, for tests and local development only.
func NewInsecureServer() *Server {
	s := &Server{
		subscribers: make(map[string]map[chan envelope]bool),
		buckets:     make(map[string]*serverBucket),
	}
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// GRPCServer exposes the underlying *grpc.Server so callers can attach
// it to a net.Listener (net.Listen + grpcServer.Serve) rather than this
// package owning the listener lifecycle itself.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcServer }

func (s *Server) publish(subject string, e envelope) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers[subject] {
		select {
		case ch <- e:
		default:
			log.WithComponent("grpctransport").Warn().Str("subject", subject).Msg("subscriber channel full, dropping message")
		}
	}
}

func (s *Server) bucket(name string) *serverBucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		b = newServerBucket()
		s.buckets[name] = b
	}
	return b
}

// --- unary handlers -------------------------------------------------------

func (s *Server) Publish(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	e, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return nil, err
	}
	s.publish(e.Subject, e)
	return &wrapperspb.BytesValue{}, nil
}

func (s *Server) Request(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return nil, err
	}

	replyCh := make(chan envelope, 1)
	replySubject := fmt.Sprintf("_INBOX.%s", req.Reply)

	s.mu.Lock()
	if s.subscribers[replySubject] == nil {
		s.subscribers[replySubject] = make(map[chan envelope]bool)
	}
	s.subscribers[replySubject][replyCh] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers[replySubject], replyCh)
		s.mu.Unlock()
	}()

	req.Reply = replySubject
	s.publish(req.Subject, req)

	select {
	case resp := <-replyCh:
		data, err := marshalEnvelope(resp)
		if err != nil {
			return nil, err
		}
		return &wrapperspb.BytesValue{Value: data}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) BucketGet(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return nil, err
	}
	val, ver, ok := s.bucket(req.Bucket).get(req.Key)
	if !ok {
		return nil, fmt.Errorf("grpctransport: key %q not found in bucket %q", req.Key, req.Bucket)
	}
	data, err := marshalEnvelope(envelope{Payload: val, Version: ver})
	if err != nil {
		return nil, err
	}
	return &wrapperspb.BytesValue{Value: data}, nil
}

func (s *Server) BucketPut(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return nil, err
	}
	ver := s.bucket(req.Bucket).put(req.Key, req.Payload)
	s.publishWatch(req.Bucket, lattice.KVEvent{Key: req.Key, Value: req.Payload, Version: ver})
	data, err := marshalEnvelope(envelope{Version: ver})
	if err != nil {
		return nil, err
	}
	return &wrapperspb.BytesValue{Value: data}, nil
}

func (s *Server) BucketDelete(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return nil, err
	}
	ver := s.bucket(req.Bucket).delete(req.Key)
	s.publishWatch(req.Bucket, lattice.KVEvent{Key: req.Key, Version: ver, Deleted: true})
	return &wrapperspb.BytesValue{}, nil
}

func (s *Server) BucketKeys(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return nil, err
	}
	keys := s.bucket(req.Bucket).keys()
	data, err := marshalEnvelope(envelope{Payload: []byte(joinKeys(keys))})
	if err != nil {
		return nil, err
	}
	return &wrapperspb.BytesValue{Value: data}, nil
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "\x00"
		}
		out += k
	}
	return out
}

// --- streaming handlers ----------------------------------------------------

func (s *Server) Subscribe(in *wrapperspb.BytesValue, stream grpc.ServerStream) error {
	req, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return err
	}

	ch := make(chan envelope, 64)
	s.mu.Lock()
	if s.subscribers[req.Subject] == nil {
		s.subscribers[req.Subject] = make(map[chan envelope]bool)
	}
	s.subscribers[req.Subject][ch] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers[req.Subject], ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case e := <-ch:
			data, err := marshalEnvelope(e)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(&wrapperspb.BytesValue{Value: data}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (s *Server) publishWatch(bucketName string, ev lattice.KVEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[bucketName]
	if !ok {
		return
	}
	b.notify(ev)
}

func (s *Server) BucketWatch(in *wrapperspb.BytesValue, stream grpc.ServerStream) error {
	req, err := unmarshalEnvelope(in.Value)
	if err != nil {
		return err
	}

	b := s.bucket(req.Bucket)
	ch := b.watch()
	defer b.unwatch(ch)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := marshalEnvelope(envelope{Key: ev.Key, Payload: ev.Value, Version: ev.Version, Deleted: ev.Deleted})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(&wrapperspb.BytesValue{Value: data}); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}
