// OTLP/gRPC trace receiver writing exported spans into the span store
// Lets agents export directly so sessions can be inspected without a backend
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/andrewh/a2atrace/pkg/span"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/status"
)

// unknownProject is used when a resource carries no service.name.
const unknownProject = "unknown_service"

// Writer persists a batch of spans under a project.
type Writer interface {
	Insert(ctx context.Context, project string, spans []span.Span) error
}

// Receiver implements the OTLP TraceService. Each resource's service.name
// becomes the project its spans are stored under.
type Receiver struct {
	coltracepb.UnimplementedTraceServiceServer
	writer Writer
	logger *zap.Logger
}

// NewReceiver creates a receiver writing to w.
func NewReceiver(w Writer, logger *zap.Logger) *Receiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiver{writer: w, logger: logger}
}

// Export stores every valid span in the request. Spans failing validation
// are reported back as rejected rather than failing the whole export.
func (r *Receiver) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	var rejected int64
	var firstReason string
	for _, rs := range req.GetResourceSpans() {
		project, spans := span.FromResourceSpans(rs)
		if project == "" {
			r.logger.Warn("service name not found in resource spans")
			project = unknownProject
		}

		valid := spans[:0]
		for i, s := range spans {
			if err := span.Validate(i, s); err != nil {
				rejected++
				if firstReason == "" {
					firstReason = err.Error()
				}
				continue
			}
			valid = append(valid, s)
		}
		if err := r.writer.Insert(ctx, project, valid); err != nil {
			r.logger.Error("failed to store spans", zap.String("project", project), zap.Error(err))
			return nil, status.Errorf(codes.Internal, "storing spans: %v", err)
		}
		r.logger.Debug("received spans", zap.String("project", project), zap.Int("spans", len(valid)))
	}

	resp := &coltracepb.ExportTraceServiceResponse{}
	if rejected > 0 {
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: rejected,
			ErrorMessage:  firstReason,
		}
	}
	return resp, nil
}

// Serve listens on addr and serves the receiver until ctx is cancelled.
func Serve(ctx context.Context, addr string, r *Receiver) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening for OTLP on %s: %w", addr, err)
	}
	return ServeListener(ctx, lis, r)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func ServeListener(ctx context.Context, lis net.Listener, r *Receiver) error {
	srv := grpc.NewServer()
	coltracepb.RegisterTraceServiceServer(srv, r)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			srv.GracefulStop()
		case <-done:
		}
	}()

	r.logger.Info("OTLP receiver listening", zap.String("addr", lis.Addr().String()))
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving OTLP: %w", err)
	}
	return nil
}
