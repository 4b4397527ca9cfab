// Package replication ships committed WAL records from the primary to
// followers over a gRPC server stream, and bootstraps empty followers from
// a snapshot.
package replication

import (
	"context"

	"google.golang.org/grpc"

	"vidar/infra/rpc"
	"vidar/infra/wal"
	"vidar/snapshot"
)

const (
	serviceName         = "vidar.Replication"
	shipMethod          = "/vidar.Replication/Ship"
	fetchSnapshotMethod = "/vidar.Replication/FetchSnapshot"
)

// ShipRequest opens a log stream starting at FromLSN.
type ShipRequest struct {
	FromLSN uint64
}

// ShipFrame carries a contiguous run of committed records. An empty frame
// is a heartbeat; PrimaryLSN is always the primary's latest committed LSN,
// which followers use to measure lag.
type ShipFrame struct {
	Records    []*wal.Record
	PrimaryLSN uint64
}

type SnapshotRequest struct{}

// SnapshotReply holds the newest durable snapshot, or a zero-LSN state when
// the primary's WAL still reaches back to LSN 1.
type SnapshotReply struct {
	State *snapshot.State
}

// Server is the primary-side replication surface.
type Server interface {
	Ship(*ShipRequest, ShipStream) error
	FetchSnapshot(context.Context, *SnapshotRequest) (*SnapshotReply, error)
}

type ShipStream interface {
	Send(*ShipFrame) error
	Context() context.Context
}

type shipStream struct {
	grpc.ServerStream
}

func (s *shipStream) Send(f *ShipFrame) error { return s.SendMsg(f) }

func shipHandler(srv any, stream grpc.ServerStream) error {
	req := new(ShipRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).Ship(req, &shipStream{stream})
}

func fetchSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(SnapshotRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).FetchSnapshot(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchSnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).FetchSnapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// The descriptor is written by hand: the messages are gob, not protobuf,
// so there is nothing for protoc to generate.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchSnapshot", Handler: fetchSnapshotHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Ship", Handler: shipHandler, ServerStreams: true},
	},
}

func RegisterServer(reg grpc.ServiceRegistrar, srv Server) {
	reg.RegisterService(&serviceDesc, srv)
}

// Client is the follower-side handle.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

type ShipReceiver interface {
	Recv() (*ShipFrame, error)
}

type shipReceiver struct {
	grpc.ClientStream
}

func (s *shipReceiver) Recv() (*ShipFrame, error) {
	f := new(ShipFrame)
	if err := s.RecvMsg(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *Client) Ship(ctx context.Context, req *ShipRequest) (ShipReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], shipMethod,
		grpc.CallContentSubtype(rpc.CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &shipReceiver{stream}, nil
}

func (c *Client) FetchSnapshot(ctx context.Context) (*SnapshotReply, error) {
	reply := new(SnapshotReply)
	err := c.cc.Invoke(ctx, fetchSnapshotMethod, new(SnapshotRequest), reply,
		grpc.CallContentSubtype(rpc.CodecName))
	if err != nil {
		return nil, err
	}
	return reply, nil
}
