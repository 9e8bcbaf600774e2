package cloudprovider

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"k8s.io/autoscaler/cluster-autoscaler/cloudprovider/externalgrpc/protos"
)

// NewServer returns a gRPC server serving the provider behind the boundary
// interceptor.
func NewServer(provider *CloudProvider, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(boundaryInterceptor(provider.log)))
	server := grpc.NewServer(opts...)
	protos.RegisterCloudProviderServer(server, provider)
	return server
}

// TLSCredentials loads the server certificate and key.
func TLSCredentials(certFile, keyFile string) (grpc.ServerOption, error) {
	creds, err := credentials.NewServerTLSFromFile(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
	}
	return grpc.Creds(creds), nil
}

// Handler panics and errors without a status both surface as codes.Internal.
func boundaryInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()

		defer func() {
			if r := recover(); r != nil {
				log.Error("Recovered from panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				resp, err = nil, status.Errorf(codes.Internal, "internal error: %v", r)
			}

			attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}
			switch code := status.Code(err); code {
			case codes.OK:
				log.Debug("Call handled", attrs...)
			case codes.NotFound, codes.InvalidArgument, codes.Unimplemented:
				log.Warn("Call rejected", append(attrs, "code", code, "error", err)...)
			default:
				log.Error("Call failed", append(attrs, "code", code, "error", err)...)
			}
		}()

		resp, err = handler(ctx, req)
		if _, ok := status.FromError(err); !ok {
			err = status.Errorf(codes.Internal, "internal error: %v", err)
		}
		return resp, err
	}
}
