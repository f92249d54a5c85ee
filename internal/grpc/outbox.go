package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const OutboxDrainFullMethodName = "/portal.v1.Outbox/Drain"

// PendingDrainer replays every queued status submission once. It is
// satisfied by *outbox.Submitter.
type PendingDrainer interface {
	RecoverAll(ctx context.Context) (int, error)
}

// OutboxServer lets operators flush queued results without a restart.
type OutboxServer interface {
	Drain(ctx context.Context, in *emptypb.Empty) (*wrapperspb.Int32Value, error)
}

type outboxServer struct {
	drainer PendingDrainer
	logger  *slog.Logger
}

func RegisterOutboxServer(s *grpc.Server, drainer PendingDrainer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.RegisterService(&outboxServiceDesc, &outboxServer{drainer: drainer, logger: logger})
}

// Drain answers with the number of delivered records. Records that still
// fail stay queued and the call reports Unavailable.
func (s *outboxServer) Drain(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	delivered, err := s.drainer.RecoverAll(ctx)
	s.logger.Info("pending drain requested", "delivered", delivered, "error", err)
	if err != nil {
		return nil, status.Errorf(codes.Unavailable, "drain incomplete after %d delivered: %v", delivered, err)
	}
	return wrapperspb.Int32(int32(delivered)), nil
}

func outboxDrainHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OutboxServer).Drain(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OutboxDrainFullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OutboxServer).Drain(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var outboxServiceDesc = grpc.ServiceDesc{
	ServiceName: "portal.v1.Outbox",
	HandlerType: (*OutboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Drain", Handler: outboxDrainHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "portal/v1/outbox.proto",
}
