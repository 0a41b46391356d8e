package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunner_RunsRegisteredCallback(t *testing.T) {
	r := NewRunner(0)
	called := false
	r.Register("pre", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, r.Run(context.Background(), "pre"))
	require.True(t, called)
}

func TestRunner_UnknownNameErrors(t *testing.T) {
	r := NewRunner(0)
	require.Error(t, r.Run(context.Background(), "missing"))
}

func TestRunner_EmptyNameIsNoop(t *testing.T) {
	r := NewRunner(0)
	require.NoError(t, r.Run(context.Background(), ""))
}

func TestRunner_RunLoggedSwallowsError(t *testing.T) {
	r := NewRunner(0)
	r.Register("post", func(context.Context) error { return errors.New("boom") })
	require.NotPanics(t, func() { r.RunLogged(context.Background(), "post") })
}

func TestRunner_TimeoutAppliesToContext(t *testing.T) {
	r := NewRunner(5 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := r.Run(context.Background(), "slow")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
