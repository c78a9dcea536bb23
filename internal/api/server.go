package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/services"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mirador.sentinel.v1.SentinelQuery"

// QueryService is the read surface exposed over gRPC and REST.
type QueryService interface {
	ListAnomalies(ctx context.Context, req services.AnomalyRequest) (models.AnomalyPage, error)
	ListRootCauses(ctx context.Context, req services.RootCauseRequest) (models.RootCausePage, error)
	Stats(ctx context.Context) (models.Stats, error)
	Categories() ([]string, error)
}

// SentinelQueryServer is the server API for the SentinelQuery service.
// Messages are google.protobuf.Struct values shaped like the REST payloads.
type SentinelQueryServer interface {
	ListAnomalies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRootCauses(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCategories(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structCall func(SentinelQueryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call structCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SentinelQueryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SentinelQueryServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var sentinelQueryDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SentinelQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListAnomalies", Handler: unaryHandler("ListAnomalies", SentinelQueryServer.ListAnomalies)},
		{MethodName: "ListRootCauses", Handler: unaryHandler("ListRootCauses", SentinelQueryServer.ListRootCauses)},
		{MethodName: "GetStats", Handler: unaryHandler("GetStats", SentinelQueryServer.GetStats)},
		{MethodName: "ListCategories", Handler: unaryHandler("ListCategories", SentinelQueryServer.ListCategories)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/sentinel/v1/query.proto",
}

// RegisterSentinelQueryServer registers srv with s.
func RegisterSentinelQueryServer(s grpc.ServiceRegistrar, srv SentinelQueryServer) {
	s.RegisterService(&sentinelQueryDesc, srv)
}

// queryServer adapts QueryService to SentinelQueryServer.
type queryServer struct {
	svc    QueryService
	logger *slog.Logger
}

// NewQueryServer wraps svc for gRPC.
func NewQueryServer(svc QueryService, logger *slog.Logger) SentinelQueryServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &queryServer{svc: svc, logger: logger}
}

func (s *queryServer) ListAnomalies(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := AnomalyRequestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	page, err := s.svc.ListAnomalies(ctx, req)
	if err != nil {
		return nil, statusError(err)
	}
	return s.reply(page)
}

func (s *queryServer) ListRootCauses(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := RootCauseRequestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	page, err := s.svc.ListRootCauses(ctx, req)
	if err != nil {
		return nil, statusError(err)
	}
	return s.reply(page)
}

func (s *queryServer) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.svc.Stats(ctx)
	if err != nil {
		return nil, statusError(err)
	}
	return s.reply(stats)
}

func (s *queryServer) ListCategories(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	categories, err := s.svc.Categories()
	if err != nil {
		return nil, statusError(err)
	}
	return s.reply(categoriesResponse{Categories: categories})
}

func (s *queryServer) reply(v any) (*structpb.Struct, error) {
	out, err := ToStruct(v)
	if err != nil {
		s.logger.Error("encode grpc response", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

func statusError(err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, utils.Message(err))
	case errors.Is(err, services.ErrUnavailable):
		return status.Error(codes.FailedPrecondition, utils.Message(err))
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		return status.Error(codes.Internal, utils.Message(err))
	}
}

// Server wraps the gRPC server implementation and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewServer constructs a gRPC server bound to the configured address.
func NewServer(cfg config.ServerConfig, service SentinelQueryServer, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterSentinelQueryServer(grpcServer, service)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	reflection.Register(grpcServer)

	return &Server{
		cfg:        cfg,
		grpcServer: grpcServer,
		health:     healthSrv,
		listener:   lis,
	}, nil
}

// Start serves incoming gRPC requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// Shutdown marks the server not serving, then stops gracefully, falling back
// to Stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
