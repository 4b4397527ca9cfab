package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"vidar/infra/rpc"
)

const (
	serviceName = "vidar.Orders"

	submitMethod  = "/vidar.Orders/Submit"
	cancelMethod  = "/vidar.Orders/Cancel"
	replaceMethod = "/vidar.Orders/Replace"
	depthMethod   = "/vidar.Orders/GetDepth"
)

// OrderService is the order-entry surface served by a primary.
type OrderService interface {
	Submit(context.Context, *SubmitRequest) (*OrderReply, error)
	Cancel(context.Context, *CancelRequest) (*OrderReply, error)
	Replace(context.Context, *ReplaceRequest) (*OrderReply, error)
	GetDepth(context.Context, *DepthRequest) (*DepthReply, error)
}

func unary[Req any, Rep any](method string, call func(OrderService, context.Context, *Req) (*Rep, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method[len("/vidar.Orders/"):],
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderService), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderService), ctx, req.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderService)(nil),
	Methods: []grpc.MethodDesc{
		unary(submitMethod, OrderService.Submit),
		unary(cancelMethod, OrderService.Cancel),
		unary(replaceMethod, OrderService.Replace),
		unary(depthMethod, OrderService.GetDepth),
	},
}

func Register(reg grpc.ServiceRegistrar, srv OrderService) {
	reg.RegisterService(&serviceDesc, srv)
}

// Client is a thin typed wrapper for tests and tooling.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Req any, Rep any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req) (*Rep, error) {
	reply := new(Rep)
	if err := cc.Invoke(ctx, method, req, reply, grpc.CallContentSubtype(rpc.CodecName)); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*OrderReply, error) {
	return invoke[SubmitRequest, OrderReply](ctx, c.cc, submitMethod, req)
}

func (c *Client) Cancel(ctx context.Context, req *CancelRequest) (*OrderReply, error) {
	return invoke[CancelRequest, OrderReply](ctx, c.cc, cancelMethod, req)
}

func (c *Client) Replace(ctx context.Context, req *ReplaceRequest) (*OrderReply, error) {
	return invoke[ReplaceRequest, OrderReply](ctx, c.cc, replaceMethod, req)
}

func (c *Client) GetDepth(ctx context.Context, req *DepthRequest) (*DepthReply, error) {
	return invoke[DepthRequest, DepthReply](ctx, c.cc, depthMethod, req)
}
