// Package grpcx is a production raft.Transport carrying messages over
// gRPC. Grounded on the teacher's pkg/grpc/transport.go
// (GRPCTransport: lazy client dial, RegisterXServer/Serve shape), with
// a hand-written grpc.ServiceDesc and the gob codec registered in
// codec.go standing in for protoc-generated stubs the retrieval pack
// does not contain (see DESIGN.md).
package grpcx

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/quorumdb/raft/pkg/raft"
)

// envelope is the wire body for the single Send RPC: the sender's id
// (so the receiver doesn't have to trust the dialed address) plus the
// raft.Message payload.
type envelope struct {
	FromID  string
	FromAddr string
	Msg     raft.Message
}

type ack struct{}

const serviceName = "quorumdb.raft.Transport"

func sendHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	var env envelope
	if err := dec(&env); err != nil {
		return nil, err
	}
	t := srv.(*Transport)
	if t.receiver != nil {
		t.receiver.HandleMessage(ctx, raft.Endpoint{ID: env.FromID, Address: env.FromAddr}, env.Msg)
	}
	return &ack{}, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Send", Handler: sendHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quorumdb/raft/transport.proto",
}

type receiver interface {
	HandleMessage(ctx context.Context, from raft.Endpoint, msg raft.Message)
}

// Transport is a raft.Transport that serves inbound messages over gRPC
// and dials peers lazily on first send, mirroring the teacher's
// double-checked-locking getClient.
type Transport struct {
	mu       sync.Mutex
	self     raft.Endpoint
	server   *grpc.Server
	listener net.Listener
	conns    map[string]*grpc.ClientConn
	receiver receiver
	log      *zap.SugaredLogger
}

var _ raft.Transport = (*Transport)(nil)

// New constructs a Transport bound to self.Address, without starting
// the listener yet; call Start once r is ready to receive.
func New(self raft.Endpoint, r receiver, logger *zap.SugaredLogger) *Transport {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Transport{self: self, receiver: r, conns: make(map[string]*grpc.ClientConn), log: logger}
}

// Start opens the listener and begins serving.
func (t *Transport) Start() error {
	lis, err := net.Listen("tcp", t.self.Address)
	if err != nil {
		return fmt.Errorf("grpcx: listen %s: %w", t.self.Address, err)
	}
	t.listener = lis
	t.server = grpc.NewServer()
	t.server.RegisterService(&serviceDesc, t)
	go func() {
		if err := t.server.Serve(lis); err != nil {
			t.log.Debugw("grpc server stopped", "error", err)
		}
	}()
	return nil
}

// Stop closes every outbound connection and the listener.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.conns {
		_ = c.Close()
	}
	if t.server != nil {
		t.server.GracefulStop()
	}
}

func (t *Transport) clientFor(addr string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}
	c, err := grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, err
	}
	t.conns[addr] = c
	return c, nil
}

// Send delivers msg to to over gRPC, dialing lazily if needed.
func (t *Transport) Send(ctx context.Context, to raft.Endpoint, msg raft.Message) error {
	conn, err := t.clientFor(to.Address)
	if err != nil {
		return fmt.Errorf("grpcx: dial %s: %w", to.Address, err)
	}
	env := envelope{FromID: t.self.ID, FromAddr: t.self.Address, Msg: msg}
	var out ack
	return conn.Invoke(ctx, "/"+serviceName+"/Send", &env, &out)
}
