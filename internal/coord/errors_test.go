// ABOUTME: Tests for error classification into wire codes
// ABOUTME: Covers wrapping, double-matching timeout errors and context errors

package coord

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unknown agent", fmt.Errorf("sending message: %w", ErrUnknownAgent), CodeUnknownAgent},
		{"timeout", ErrOutputTimeout, CodeOutputTimeout},
		{"non-positive timeout", fmt.Errorf("timeout must be positive: %w: %w", ErrOutputTimeout, ErrInvalidArgument), CodeOutputTimeout},
		{"store", fmt.Errorf("insert: %w: %w", ErrStoreUnavailable, errors.New("locked")), CodeStoreUnavailable},
		{"invalid", fmt.Errorf("agent_id is required: %w", ErrInvalidArgument), CodeInvalidArgument},
		{"canceled", context.Canceled, CodeCanceled},
		{"other", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestKnownStatus(t *testing.T) {
	assert.True(t, KnownStatus("busy"))
	assert.False(t, KnownStatus("sleeping"))
	assert.True(t, Live("active"))
	assert.True(t, Live("busy"))
	assert.False(t, Live("waiting"))
}
