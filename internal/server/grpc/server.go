// Package grpc runs the gRPC listener: the standard health service, whose
// status follows the key store, behind an access-token interceptor.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/trackauth/internal/logging"
	"github.com/dmitrijs2005/trackauth/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// TokenVerifier validates bearer access tokens.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

// KeyHealth reports whether a signing key set is loaded.
type KeyHealth interface {
	Healthy() bool
}

// HealthInterval is how often the health status is refreshed from the key
// store.
var HealthInterval = 5 * time.Second

type GRPCServer struct {
	address  string
	logger   logging.Logger
	verifier TokenVerifier
	keys     KeyHealth
	health   *health.Server
	// public lists service name prefixes that skip authentication.
	public []string
}

func NewGRPCServer(a string, l logging.Logger, v TokenVerifier, k KeyHealth) (*GRPCServer, error) {
	if l == nil {
		l = logging.Nop()
	}
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		verifier: v,
		keys:     k,
		health:   health.NewServer(),
		public:   []string{"/" + healthpb.Health_ServiceDesc.ServiceName + "/"},
	}, nil
}

// UpdateHealth publishes SERVING when keys are loaded and NOT_SERVING
// otherwise.
func (s *GRPCServer) UpdateHealth() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.keys != nil && s.keys.Healthy() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.accessTokenStreamInterceptor),
	)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()
	s.UpdateHealth()

	go func() {
		t := time.NewTicker(HealthInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info(ctx, "Stopping gRPC server...")
				s.health.Shutdown()
				srv.GracefulStop()
				return
			case <-t.C:
				s.UpdateHealth()
			}
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
