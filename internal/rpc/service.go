// ABOUTME: gRPC service description for the coordinator, hand-registered over structpb
// ABOUTME: Maps each coordination operation to a unary method and coord errors to status codes

package rpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/coven-guardian/internal/coord"
	"github.com/2389/coven-guardian/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "guardian.v1.Coordinator"

// Method names of the Coordinator service.
const (
	MethodRegisterAgent  = "RegisterAgent"
	MethodUpdateStatus   = "UpdateStatus"
	MethodSendMessage    = "SendMessage"
	MethodCheckMessages  = "CheckMessages"
	MethodAnnounceOutput = "AnnounceOutput"
	MethodWaitForOutput  = "WaitForOutput"
	MethodListAgents     = "ListAgents"
	MethodOutputsSince   = "OutputsSince"
	MethodPurgeMessages  = "PurgeMessages"
)

var methods = []string{
	MethodRegisterAgent,
	MethodUpdateStatus,
	MethodSendMessage,
	MethodCheckMessages,
	MethodAnnounceOutput,
	MethodWaitForOutput,
	MethodListAgents,
	MethodOutputsSince,
	MethodPurgeMessages,
}

// dispatcher is what the service description routes calls to.
type dispatcher interface {
	dispatch(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc describes the Coordinator service for registration on a gRPC server.
func ServiceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*dispatcher)(nil),
		Metadata:    "guardian/v1/coordinator",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, unaryMethod(m))
	}
	return desc
}

func unaryMethod(method string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			d := srv.(dispatcher)
			if interceptor == nil {
				return d.dispatch(ctx, method, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return d.dispatch(ctx, method, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// toStatus converts a coordination error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var c codes.Code
	switch coord.Code(err) {
	case coord.CodeUnknownAgent:
		c = codes.NotFound
	case coord.CodeOutputTimeout:
		c = codes.DeadlineExceeded
	case coord.CodeStoreUnavailable:
		c = codes.Unavailable
	case coord.CodeInvalidArgument:
		c = codes.InvalidArgument
	case coord.CodeCanceled:
		c = codes.Canceled
	default:
		c = codes.Internal
	}
	return status.Error(c, err.Error())
}

// fromStatus turns a status error back into one matching the coord sentinels.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}

	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = coord.ErrUnknownAgent
	case codes.DeadlineExceeded:
		sentinel = coord.ErrOutputTimeout
	case codes.InvalidArgument:
		sentinel = coord.ErrInvalidArgument
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.Unavailable:
		// Transport failures share this code; only the server's own
		// store errors carry the store's message.
		if !strings.Contains(st.Message(), store.ErrUnavailable.Error()) {
			return err
		}
		sentinel = coord.ErrStoreUnavailable
	default:
		return err
	}
	return &remoteError{msg: st.Message(), sentinel: sentinel, status: err}
}

// remoteError carries the server's message and matches both the coord
// sentinel and the original status error.
type remoteError struct {
	msg      string
	sentinel error
	status   error
}

func (e *remoteError) Error() string   { return e.msg }
func (e *remoteError) Unwrap() []error { return []error{e.sentinel, e.status} }
