package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/simonraj1/pdf/internal/common"
)

const getJobMethod = "/pdfquestions.v1.JobService/GetJob"

// JobServiceServer answers job snapshot lookups over gRPC.
type JobServiceServer interface {
	GetJob(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
}

var jobServiceDesc = grpc.ServiceDesc{
	ServiceName: "pdfquestions.v1.JobService",
	HandlerType: (*JobServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetJob", Handler: getJobHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pdfquestions/v1/jobs.proto",
}

func getJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobServiceServer).GetJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getJobMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobServiceServer).GetJob(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

type JobGRPCServer struct {
	jobs   JobService
	logger *slog.Logger
}

func NewJobGRPCServer(svc JobService, logger *slog.Logger) *JobGRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobGRPCServer{jobs: svc, logger: logger}
}

func (s *JobGRPCServer) GetJob(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, common.InvalidArgumentError("job id is required")
	}
	rec, err := s.jobs.Get(id)
	if err != nil {
		return nil, common.ToStatus(err)
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, common.InternalErrorf("encode job: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, common.InternalErrorf("encode job: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, common.InternalErrorf("encode job: %v", err)
	}
	return out, nil
}

// NewGRPCServer registers health, reflection and the job service.
func NewGRPCServer(svc JobService, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogger(logger)))
	grpcServer.RegisterService(&jobServiceDesc, NewJobGRPCServer(svc, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	// Set the service as serving (empty string means overall server health)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	return grpcServer, healthServer
}

func unaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc.request",
			"method", info.FullMethod,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return resp, err
	}
}

// JobClient is a thin client for the job service.
type JobClient struct {
	cc grpc.ClientConnInterface
}

func NewJobClient(cc grpc.ClientConnInterface) *JobClient {
	return &JobClient{cc: cc}
}

func (c *JobClient) GetJob(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getJobMethod, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
