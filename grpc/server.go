package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/maxpert/hotspot/cluster"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

const maxMessageSize = 64 * 1024 * 1024

// Server serves the sampling service for the local node, multiplexed with
// HTTP (admin, metrics, pprof) on one port.
type Server struct {
	nodeID   uint64
	address  string
	port     int
	local    cluster.NodeOps
	server   *grpc.Server
	http     *http.Server
	listener net.Listener
	mux      cmux.CMux

	metricsHandler http.Handler
	adminHandler   http.Handler
}

// ServerConfig holds configuration for the gRPC server
type ServerConfig struct {
	NodeID  uint64
	Address string
	Port    int
}

// NewServer creates a server executing ops on local
func NewServer(config ServerConfig, local cluster.NodeOps) *Server {
	return &Server{
		nodeID:  config.NodeID,
		address: config.Address,
		port:    config.Port,
		local:   local,
	}
}

// SetMetricsHandler exposes handler at /metrics. Call before Start.
func (s *Server) SetMetricsHandler(handler http.Handler) {
	s.metricsHandler = handler
}

// SetAdminHandler mounts handler at /admin/. Call before Start.
func (s *Server) SetAdminHandler(handler http.Handler) {
	s.adminHandler = handler
}

// Execute runs a peer's op on every local shard
func (s *Server) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	log.Debug().
		Str("session", req.Op.Session.String()).
		Str("phase", string(req.Op.Phase)).
		Msg("Executing remote sampling op")

	results, err := s.local.Execute(ctx, req.Op)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &ExecuteResponse{Results: results}, nil
}

func newGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMessageSize),
		grpc.MaxSendMsgSize(maxMessageSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
	)
}

func (s *Server) httpMux() *http.ServeMux {
	httpMux := http.NewServeMux()

	httpMux.HandleFunc("/debug/pprof/", pprof.Index)
	httpMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	httpMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	httpMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	httpMux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	if s.metricsHandler != nil {
		httpMux.Handle("/metrics", s.metricsHandler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}
	if s.adminHandler != nil {
		httpMux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
		httpMux.Handle("/admin/", http.StripPrefix("/admin", s.adminHandler))
		log.Info().Msg("Admin endpoints enabled at /admin/")
	}
	return httpMux
}

// Start listens on the configured address and serves until Stop
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.Serve(listener)
	return nil
}

// Serve multiplexes listener between HTTP and gRPC in the background
func (s *Server) Serve(listener net.Listener) {
	s.listener = listener
	s.server = newGRPCServer()
	RegisterSamplingServer(s.server, s)

	log.Info().
		Str("address", listener.Addr().String()).
		Uint64("node_id", s.nodeID).
		Msg("Starting gRPC server")

	s.mux = cmux.New(listener)
	httpListener := s.mux.Match(cmux.HTTP1Fast())
	grpcListener := s.mux.Match(cmux.Any())

	s.http = &http.Server{
		Handler:           s.httpMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.http.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosedErr(err) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	go func() {
		if err := s.server.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) && !isClosedErr(err) {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	go func() {
		if err := s.mux.Serve(); err != nil && !isClosedErr(err) {
			log.Error().Err(err).Msg("cmux failed")
		}
	}()
}

// Addr is the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the gRPC server and closes the HTTP side
func (s *Server) Stop() {
	if s.server != nil {
		log.Info().Msg("Stopping gRPC server")
		s.server.GracefulStop()
	}
	if s.http != nil {
		_ = s.http.Close()
	}
	if s.mux != nil {
		s.mux.Close()
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed)
}
