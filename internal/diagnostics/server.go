package diagnostics

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"netsync/client/internal/logging"
)

// SecretMetadataKey carries the shared secret on each call.
const SecretMetadataKey = "x-netsync-diagnostics-secret"

// Server hosts the diagnostics and health services.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *logging.Logger
}

// NewServer builds a server over source. A non-empty secret is required on
// every diagnostics call; health checks stay open.
func NewServer(source Source, secret string, logger *logging.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logging.L()
	}
	if secret = strings.TrimSpace(secret); secret != "" {
		opts = append(opts, grpc.ChainUnaryInterceptor(sharedSecretInterceptor(secret)))
	}
	s := &Server{grpc: grpc.NewServer(opts...), health: health.NewServer(), log: logger}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&ServiceDesc, NewService(source))
	s.SetServing(false)
	return s
}

// SetServing flips the health status of the diagnostics service. The engine
// reports serving while connected or playing a netdemo.
func (s *Server) SetServing(serving bool) {
	if s == nil {
		return
	}
	state := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		state = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, state)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	if s == nil {
		return errors.New("diagnostics server not initialised")
	}
	s.log.Info("diagnostics listening", logging.String("address", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// ListenAndServe binds addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()
	select {
	case <-ctx.Done():
		s.Stop()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Stop marks every service not serving and drains in-flight calls.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func sharedSecretInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/") {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractSecret(md)
		if candidate == "" {
			return nil, status.Error(codes.Unauthenticated, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(ctx, req)
	}
}

func extractSecret(md metadata.MD) string {
	for _, value := range md.Get(SecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}
