package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaga_CompensatesInReverse(t *testing.T) {
	ctx := context.Background()
	var undone []string

	s := New("addChild")
	step := func(name string) (func(context.Context) error, func(context.Context) error) {
		return func(context.Context) error { return nil },
			func(context.Context) error { undone = append(undone, name); return nil }
	}

	for _, name := range []string{"write child", "append id"} {
		do, undo := step(name)
		require.NoError(t, s.Run(ctx, name, do, undo))
	}
	assert.Equal(t, []string{"write child", "append id"}, s.Completed())

	boom := errors.New("boom")
	err := s.Run(ctx, "invalidate", func(context.Context) error { return boom }, nil)
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.Compensate(ctx))
	assert.Equal(t, []string{"append id", "write child"}, undone)
	assert.Empty(t, s.Completed())
}

func TestSaga_CompensationFailuresAreJoined(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := errors.New("first")
	var ran []string

	s := New("cascade")
	s.Record("delete a", func(ctx context.Context) error {
		ran = append(ran, "a")
		return first
	})
	s.Record("delete b", nil)
	s.Record("delete c", func(ctx context.Context) error {
		ran = append(ran, "c")
		return ctx.Err()
	})

	err := s.Compensate(ctx)
	assert.ErrorIs(t, err, first)
	assert.Equal(t, []string{"c", "a"}, ran)
}
