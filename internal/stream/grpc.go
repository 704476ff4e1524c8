package stream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dgmato/PercutaneousNavigation/internal/monitoring"
	"github.com/dgmato/PercutaneousNavigation/internal/proximity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// WatchMethod is the full gRPC method name of the proximity feed.
const WatchMethod = "/percnav.Proximity/Watch"

// ProximityServer is the server API of the percnav.Proximity service.
type ProximityServer interface {
	Watch(*emptypb.Empty, WatchStream) error
}

// WatchStream is the server side of a Watch call.
type WatchStream interface {
	Send(*structpb.Struct) error
	Context() context.Context
}

type watchStream struct {
	grpc.ServerStream
}

func (s *watchStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ProximityServer).Watch(in, &watchStream{stream})
}

// ServiceDesc describes percnav.Proximity. Messages are well-known protobuf
// types, so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "percnav.Proximity",
	HandlerType: (*ProximityServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "percnav/proximity",
}

// Server streams hub readings to gRPC watchers.
type Server struct {
	hub *Hub
}

func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// RegisterService registers the proximity service with a gRPC server.
func RegisterService(grpcServer *grpc.Server, s *Server) {
	grpcServer.RegisterService(&ServiceDesc, s)
}

// Watch sends every reading published after the call starts, preceded by
// the latest one, until the client goes away or the hub closes.
func (s *Server) Watch(_ *emptypb.Empty, stream WatchStream) error {
	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := ReadingToStruct(r)
			if err != nil {
				monitoring.Warnf("stream: encode reading: %v", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Client watches a remote proximity feed.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a percnav gRPC endpoint. Without options the connection
// is plaintext.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Watch calls fn for each reading until ctx is cancelled, the server ends
// the stream or fn returns an error. A clean end of stream returns nil.
func (c *Client) Watch(ctx context.Context, fn func(proximity.Reading) error) error {
	cs, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		return err
	}
	if err := cs.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := cs.CloseSend(); err != nil {
		return err
	}
	for {
		msg := new(structpb.Struct)
		if err := cs.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		r, err := ReadingFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
