package api

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Server exposes the neighbour service over gRPC.
type Server struct {
	cfg    *Config
	server *grpc.Server
	log    *zap.SugaredLogger
}

// NewServer creates a new API server for the cache.
func NewServer(cfg *Config, cache Cache, log *zap.SugaredLogger) *Server {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(AccessLogInterceptor(log)),
	)
	server.RegisterService(&ServiceDesc, NewNeighbourService(cache, log))

	return &Server{
		cfg:    cfg,
		server: server,
		log:    log,
	}
}

// Run runs the API server until the specified context is canceled.
func (m *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC listener: %w", err)
	}

	return m.Serve(ctx, listener)
}

// Serve serves requests on the listener until the specified context is
// canceled.
func (m *Server) Serve(ctx context.Context, listener net.Listener) error {
	m.log.Infow("exposing gRPC API", zap.Stringer("addr", listener.Addr()))

	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return m.server.Serve(listener)
	})

	<-ctx.Done()

	m.log.Infow("stopping gRPC API", zap.Stringer("addr", listener.Addr()))
	defer m.log.Infow("stopped gRPC API", zap.Stringer("addr", listener.Addr()))

	m.server.GracefulStop()

	return wg.Wait()
}
