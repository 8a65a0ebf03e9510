package grpctransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/wasmcloud/wasmhost/pkg/lattice"
)

// Transport is a lattice.Transport that dials a single grpctransport.Server
// and issues every operation as an RPC against it.
type Transport struct {
	conn *grpc.ClientConn
}

// Dial connects to a grpctransport Server at addr. tlsConfig may be nil to
// use an insecure connection (tests, local development only).
func Dial(addr string, tlsConfig *tls.Config) (*Transport, error) {
	var creds credentials.TransportCredentials
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("grpctransport: dial %s: %w", addr, err)
	}
	return &Transport{conn: conn}, nil
}

func (t *Transport) invoke(ctx context.Context, method string, e envelope) (*wrapperspb.BytesValue, error) {
	data, err := marshalEnvelope(e)
	if err != nil {
		return nil, err
	}
	out := new(wrapperspb.BytesValue)
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	if err := t.conn.Invoke(ctx, fullMethod, &wrapperspb.BytesValue{Value: data}, out); err != nil {
		return nil, fmt.Errorf("grpctransport: %s: %w", method, err)
	}
	return out, nil
}

func (t *Transport) Publish(ctx context.Context, subject string, headers map[string]string, payload []byte) error {
	_, err := t.invoke(ctx, "Publish", envelope{Subject: subject, Headers: headers, Payload: payload})
	return err
}

func (t *Transport) Request(ctx context.Context, subject string, headers map[string]string, payload []byte, timeout time.Duration) (*lattice.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := t.invoke(ctx, "Request", envelope{Subject: subject, Headers: headers, Payload: payload, Reply: "pending"})
	if err != nil {
		return nil, err
	}
	resp, err := unmarshalEnvelope(out.Value)
	if err != nil {
		return nil, err
	}
	return &lattice.Message{Subject: subject, Headers: resp.Headers, Data: resp.Payload}, nil
}

func (t *Transport) Subscribe(ctx context.Context, subject string) (lattice.Subscription, error) {
	data, err := marshalEnvelope(envelope{Subject: subject})
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	fullMethod := fmt.Sprintf("/%s/Subscribe", serviceName)
	stream, err := t.conn.NewStream(streamCtx, desc, fullMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("grpctransport: subscribe %s: %w", subject, err)
	}
	if err := stream.SendMsg(&wrapperspb.BytesValue{Value: data}); err != nil {
		cancel()
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, err
	}

	sub := &subscription{ch: make(chan *lattice.Message, 64), cancel: cancel}
	go sub.pump(stream)
	return sub, nil
}

type subscription struct {
	ch     chan *lattice.Message
	cancel context.CancelFunc
}

func (s *subscription) pump(stream grpc.ClientStream) {
	defer close(s.ch)
	for {
		out := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(out); err != nil {
			return
		}
		e, err := unmarshalEnvelope(out.Value)
		if err != nil {
			continue
		}
		msg := &lattice.Message{Subject: e.Subject, Headers: e.Headers, Data: e.Payload, Reply: e.Reply}
		select {
		case s.ch <- msg:
		default:
		}
	}
}

func (s *subscription) Messages() <-chan *lattice.Message { return s.ch }

func (s *subscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (t *Transport) Bucket(name string) (lattice.Bucket, error) {
	return &clientBucket{t: t, name: name}, nil
}

func (t *Transport) Close(ctx context.Context) error {
	return t.conn.Close()
}

type clientBucket struct {
	t    *Transport
	name string
}

func (b *clientBucket) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	out, err := b.t.invoke(ctx, "BucketGet", envelope{Bucket: b.name, Key: key})
	if err != nil {
		return nil, 0, err
	}
	resp, err := unmarshalEnvelope(out.Value)
	if err != nil {
		return nil, 0, err
	}
	return resp.Payload, resp.Version, nil
}

func (b *clientBucket) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	out, err := b.t.invoke(ctx, "BucketPut", envelope{Bucket: b.name, Key: key, Payload: value})
	if err != nil {
		return 0, err
	}
	resp, err := unmarshalEnvelope(out.Value)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (b *clientBucket) Delete(ctx context.Context, key string) error {
	_, err := b.t.invoke(ctx, "BucketDelete", envelope{Bucket: b.name, Key: key})
	return err
}

func (b *clientBucket) Keys(ctx context.Context) ([]string, error) {
	out, err := b.t.invoke(ctx, "BucketKeys", envelope{Bucket: b.name})
	if err != nil {
		return nil, err
	}
	resp, err := unmarshalEnvelope(out.Value)
	if err != nil {
		return nil, err
	}
	return splitKeys(string(resp.Payload)), nil
}

func splitKeys(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func (b *clientBucket) Watch(ctx context.Context) (<-chan lattice.KVEvent, error) {
	data, err := marshalEnvelope(envelope{Bucket: b.name})
	if err != nil {
		return nil, err
	}

	desc := &grpc.StreamDesc{StreamName: "BucketWatch", ServerStreams: true}
	fullMethod := fmt.Sprintf("/%s/BucketWatch", serviceName)
	stream, err := b.t.conn.NewStream(ctx, desc, fullMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&wrapperspb.BytesValue{Value: data}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	out := make(chan lattice.KVEvent, 64)
	go func() {
		defer close(out)
		for {
			msg := new(wrapperspb.BytesValue)
			if err := stream.RecvMsg(msg); err != nil {
				return
			}
			e, err := unmarshalEnvelope(msg.Value)
			if err != nil {
				continue
			}
			ev := lattice.KVEvent{Key: e.Key, Value: e.Payload, Version: e.Version, Deleted: e.Deleted}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
