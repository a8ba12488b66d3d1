package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// GRPCReceiver handles OTLP gRPC requests.
type GRPCReceiver struct {
	sink   LineSink
	logger *slog.Logger
	server *grpc.Server
	addr   string
}

// NewGRPCReceiver creates a new gRPC receiver.
func NewGRPCReceiver(addr string, sink LineSink, logger *slog.Logger) *GRPCReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &GRPCReceiver{
		sink:   sink,
		logger: logger,
		addr:   addr,
		server: grpc.NewServer(),
	}

	collogspb.RegisterLogsServiceServer(r.server, &logsService{GRPCReceiver: r})

	// Register reflection service for debugging with grpcurl
	reflection.Register(r.server)

	return r
}

// Start starts the gRPC server.
func (r *GRPCReceiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return r.Serve(lis)
}

// Serve serves on an existing listener.
func (r *GRPCReceiver) Serve(lis net.Listener) error {
	r.logger.Info("gRPC server listening", "addr", lis.Addr().String())
	return r.server.Serve(lis)
}

// Shutdown gracefully shuts down the gRPC server.
func (r *GRPCReceiver) Shutdown(ctx context.Context) error {
	r.server.GracefulStop()
	return nil
}

// logsService implements the OTLP LogsService.
type logsService struct {
	collogspb.UnimplementedLogsServiceServer
	*GRPCReceiver
}

// Export implements the LogsService Export RPC.
func (s *logsService) Export(ctx context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	lines := extractLines(req)
	for _, line := range lines {
		s.sink.Push(line)
	}
	s.logger.Debug("received logs", "transport", "grpc", "lines", len(lines))

	// Return success response
	return &collogspb.ExportLogsServiceResponse{
		PartialSuccess: &collogspb.ExportLogsPartialSuccess{
			RejectedLogRecords: 0,
		},
	}, nil
}
