package grpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const serviceTokenHeader = "x-service-token"

// Health probes from the orchestrator carry no service token.
var publicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// Service names reported through the health service.
const (
	ServiceOutbox = "portal.outbox"
	ServiceCache  = "portal.cache"
	ServiceSchool = "upstream.school"
	ServiceCourse = "upstream.course"
	ServiceExam   = "upstream.exam"
)

// NewServer returns a gRPC server exposing the health service behind the
// service token interceptors.
func NewServer(serviceToken string) (*grpc.Server, *health.Server, error) {
	unary, err := NewServiceAuthUnaryInterceptor(serviceToken)
	if err != nil {
		return nil, nil, err
	}
	stream, err := NewServiceAuthStreamInterceptor(serviceToken)
	if err != nil {
		return nil, nil, err
	}
	server := grpc.NewServer(grpc.UnaryInterceptor(unary), grpc.StreamInterceptor(stream))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer, nil
}

func NewServiceAuthUnaryInterceptor(expectedToken string) (grpc.UnaryServerInterceptor, error) {
	if expectedToken == "" {
		return nil, errors.New("service auth token required")
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !publicMethods[info.FullMethod] {
			if err := checkServiceToken(ctx, expectedToken); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}, nil
}

func NewServiceAuthStreamInterceptor(expectedToken string) (grpc.StreamServerInterceptor, error) {
	if expectedToken == "" {
		return nil, errors.New("service auth token required")
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !publicMethods[info.FullMethod] {
			if err := checkServiceToken(ss.Context(), expectedToken); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}, nil
}

func checkServiceToken(ctx context.Context, expectedToken string) error {
	token := serviceTokenFromMetadata(ctx)
	if token == "" {
		return status.Error(codes.Unauthenticated, "missing_service_token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return status.Error(codes.PermissionDenied, "invalid_service_token")
	}
	return nil
}

func serviceTokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(serviceTokenHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
