// ABOUTME: Tests for telemetry initialization
// ABOUTME: Verifies the disabled path installs nothing and shuts down cleanly

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(t.Context(), Config{ServiceName: "guardian", Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(t.Context()))
}

func TestMeterAndTracerAreUsableWithoutInit(t *testing.T) {
	counter, err := Meter("guardian/test").Int64Counter("guardian.test.count")
	require.NoError(t, err)
	counter.Add(t.Context(), 1)

	_, span := Tracer("guardian/test").Start(t.Context(), "noop")
	span.End()
}
