package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatchRunsInPriorityOrder(t *testing.T) {
	b := New()
	var order []string
	b.Register(NewFuncTrigger("b", 10, []Phase{BeforeInsert}, func(context.Context, *Event) error {
		order = append(order, "b")
		return nil
	}))
	b.Register(NewFuncTrigger("a", 1, []Phase{BeforeInsert}, func(context.Context, *Event) error {
		order = append(order, "a")
		return nil
	}))

	require.NoError(t, b.Dispatch(context.Background(), &Event{Phase: BeforeInsert}))
	require.Equal(t, []string{"a", "b"}, order)
}

func TestDispatchAbortsOnError(t *testing.T) {
	b := New()
	called := false
	b.Register(NewFuncTrigger("veto", 0, []Phase{BeforeDelete}, func(context.Context, *Event) error {
		return errors.New("no")
	}))
	b.Register(NewFuncTrigger("never", 1, []Phase{BeforeDelete}, func(context.Context, *Event) error {
		called = true
		return nil
	}))

	err := b.Dispatch(context.Background(), &Event{Phase: BeforeDelete})
	require.Error(t, err)
	require.False(t, called, "a trigger after a failing one must not run")
}

func TestUnregister(t *testing.T) {
	b := New()
	b.Register(NewFuncTrigger("x", 0, []Phase{AfterLoad}, func(context.Context, *Event) error { return nil }))
	require.True(t, b.Unregister("x"))
	require.False(t, b.Unregister("x"))
	require.Empty(t, b.Triggers())
}
