package bridgeerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindNotConnected, "no socket open")
	require.Equal(t, "NOT_CONNECTED: no socket open", err.Error())
	require.Equal(t, KindNotConnected, err.Kind())
	require.Equal(t, "no socket open", err.Message())
}

func TestErrorMessageFallsBackToCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindConnectFailed, "", cause)
	require.Equal(t, "CONNECT_FAILED: dial tcp: connection refused", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := Errorf(KindWorkflowCreateFailed, "workflow %d rejected", 42)
	wrapped := fmt.Errorf("create session: %w", inner)

	be, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindWorkflowCreateFailed, be.Kind())
	require.Equal(t, "workflow 42 rejected", be.Message())
	require.True(t, Is(wrapped, KindWorkflowCreateFailed))
	require.False(t, Is(wrapped, KindNotConnected))
}

func TestIsOnForeignError(t *testing.T) {
	require.False(t, Is(errors.New("plain"), KindDecodeFailed))
	require.False(t, Is(nil, KindDecodeFailed))
}
