package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "planning-poker", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), "planning-poker", "http://127.0.0.1:4318")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	// Nothing was recorded, so shutdown has nothing to export.
	require.NoError(t, shutdown(context.Background()))
}
