// ABOUTME: gRPC server exposing the coordinator to CLI clients and remote tools
// ABOUTME: Decodes structpb requests, calls the Coordinator and encodes the results

package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/coordinator"
	"github.com/2389/coven-guardian/internal/telemetry"
)

// RequestIDKey is the metadata key carrying a caller's request id.
const RequestIDKey = "x-request-id"

// Server implements the Coordinator gRPC service.
type Server struct {
	coord  *coordinator.Coordinator
	logger *slog.Logger
	calls  metric.Int64Counter
}

// NewServer creates the service around c.
func NewServer(c *coordinator.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	calls, _ := telemetry.Meter("guardian/rpc").Int64Counter("guardian.rpc.calls",
		metric.WithDescription("Coordinator RPCs by method and result code"),
	)
	return &Server{
		coord:  c,
		logger: logger.With("component", "grpc"),
		calls:  calls,
	}
}

// NewGRPCServer creates a grpc.Server with keepalive settings and the
// request logging interceptor, and registers s on it.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.loggingInterceptor),
	}
	gs := grpc.NewServer(append(base, opts...)...)
	s.Register(gs)
	return gs
}

// Register adds the Coordinator service to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(ServiceDesc(), s)
}

// loggingInterceptor assigns a request id, logs the call and counts it.
func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	requestID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 {
			requestID = ids[0]
		}
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}

	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	s.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", info.FullMethod),
		attribute.String("code", code.String()),
	))

	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "rpc",
		"method", info.FullMethod,
		"request_id", requestID,
		"code", code.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

func (s *Server) dispatch(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	req := decode(in)

	var (
		out fields
		err error
	)
	switch method {
	case MethodRegisterAgent:
		out, err = s.registerAgent(ctx, req)
	case MethodUpdateStatus:
		agentStatus := req.str("status")
		if agentStatus != "" && !coord.KnownStatus(agentStatus) {
			s.logger.Warn("unrecognized agent status", "agent_id", req.str("agent_id"), "status", agentStatus)
		}
		err = s.coord.UpdateStatus(ctx, req.str("agent_id"), agentStatus, req.str("details"))
		out = fields{}
	case MethodSendMessage:
		out, err = s.sendMessage(ctx, req)
	case MethodCheckMessages:
		out, err = s.checkMessages(ctx, req)
	case MethodAnnounceOutput:
		out, err = s.announceOutput(ctx, req)
	case MethodWaitForOutput:
		out, err = s.waitForOutput(ctx, req)
	case MethodListAgents:
		out, err = s.listAgents(ctx)
	case MethodOutputsSince:
		out, err = s.outputsSince(ctx, req)
	case MethodPurgeMessages:
		out, err = s.purgeMessages(ctx, req)
	default:
		err = fmt.Errorf("unknown method %q: %w", method, coord.ErrInvalidArgument)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	resp, err := encode(out)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *Server) registerAgent(ctx context.Context, req fields) (fields, error) {
	caps, err := req.strings("capabilities")
	if err != nil {
		return nil, err
	}
	reg, err := s.coord.RegisterAgent(ctx, req.str("agent_id"), req.str("workspace_path"), caps)
	if err != nil {
		return nil, err
	}
	return fields{
		"agent_id":       reg.AgentID,
		"workspace_path": reg.WorkspacePath,
		"watch_dir":      reg.WatchDir,
		"watching":       reg.Watching,
	}, nil
}

func (s *Server) sendMessage(ctx context.Context, req fields) (fields, error) {
	id, err := s.coord.SendMessage(ctx,
		req.str("from_agent"),
		req.str("to_agent"),
		req.str("message_type"),
		req.str("content"),
		req.str("file_path"),
	)
	if err != nil {
		return nil, err
	}
	return fields{"message_id": id}, nil
}

func (s *Server) checkMessages(ctx context.Context, req fields) (fields, error) {
	msgs, err := s.coord.CheckMessages(ctx, req.str("agent_id"), req.boolean("mark_as_read", true))
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(msgs))
	for _, m := range msgs {
		list = append(list, messageFields(m))
	}
	return fields{"messages": list}, nil
}

func (s *Server) announceOutput(ctx context.Context, req fields) (fields, error) {
	meta, err := req.obj("metadata")
	if err != nil {
		return nil, err
	}
	out, err := s.coord.AnnounceOutput(ctx, req.str("agent_id"), req.str("file_path"), meta)
	if out == nil {
		return nil, err
	}
	resp := fields{"output": outputFields(out)}
	if err != nil {
		resp["warning"] = err.Error()
	}
	return resp, nil
}

func (s *Server) waitForOutput(ctx context.Context, req fields) (fields, error) {
	defMs := float64(s.coord.DefaultWaitTimeout().Milliseconds())
	timeout := coord.MillisToDuration(req.num("timeout_ms", defMs))

	out, err := s.coord.WaitForOutput(ctx, req.str("waiting_agent"), req.str("from_agent"), timeout)
	if err != nil {
		return nil, err
	}
	return fields{"output": outputFields(out)}, nil
}

func (s *Server) listAgents(ctx context.Context) (fields, error) {
	agents, err := s.coord.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(agents))
	for _, a := range agents {
		list = append(list, agentFields(a))
	}
	return fields{"agents": list}, nil
}

func (s *Server) outputsSince(ctx context.Context, req fields) (fields, error) {
	since := time.Time{}
	if raw := req.str("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("since must be RFC 3339: %w", coord.ErrInvalidArgument)
		}
		since = t
	}
	outs, err := s.coord.OutputsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(outs))
	for _, o := range outs {
		list = append(list, outputFields(o))
	}
	return fields{"outputs": list}, nil
}

func (s *Server) purgeMessages(ctx context.Context, req fields) (fields, error) {
	maxAge, err := time.ParseDuration(req.str("older_than"))
	if err != nil || maxAge <= 0 {
		return nil, fmt.Errorf("older_than must be a positive duration: %w", coord.ErrInvalidArgument)
	}
	n, err := s.coord.PurgeMessages(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	return fields{"deleted": n}, nil
}
