package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 2, p.MaxAttempts)
	require.Equal(t, time.Second, p.InitialInterval)
	require.Equal(t, 2.0, p.BackoffCoefficient)
}
