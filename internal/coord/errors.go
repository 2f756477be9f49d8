// ABOUTME: Error taxonomy shared by the coordination layer and its transports
// ABOUTME: Sentinel errors plus a mapping to stable wire codes

package coord

import (
	"context"
	"errors"

	"github.com/2389/coven-guardian/internal/store"
)

var (
	// ErrUnknownAgent means an operation referenced an agent id absent from the store.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrOutputTimeout means a wait exceeded its deadline without observing output.
	ErrOutputTimeout = errors.New("timed out waiting for output")

	// ErrStoreUnavailable means persistence failed. The in-flight operation
	// is aborted; callers may retry.
	ErrStoreUnavailable = store.ErrUnavailable

	// ErrInvalidArgument means a request field failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Wire codes returned by Code.
const (
	CodeUnknownAgent     = "unknown_agent"
	CodeOutputTimeout    = "output_timeout"
	CodeStoreUnavailable = "store_unavailable"
	CodeInvalidArgument  = "invalid_argument"
	CodeCanceled         = "canceled"
	CodeInternal         = "internal"
)

// Code classifies err into one of the wire codes. A non-positive wait
// timeout matches both OutputTimeout and InvalidArgument; it is reported as
// output_timeout.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownAgent):
		return CodeUnknownAgent
	case errors.Is(err, ErrOutputTimeout):
		return CodeOutputTimeout
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
