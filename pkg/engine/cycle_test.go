package engine_test

import (
	"context"
	"testing"

	"github.com/phasecraft/phaseflow/pkg/engine"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCycleController(t *testing.T) {
	ctrl := engine.NewCycleController(logger{})
	ctx := context.Background()

	t.Run("PassStopsImmediately", func(t *testing.T) {
		calls := 0
		history, err := ctrl.Run(ctx, func(ctx context.Context, cycle int) (engine.Verdict, error) {
			calls++
			return engine.VerdictPass, nil
		}, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		require.Len(t, history, 1)
		assert.Equal(t, engine.VerdictPass, history[0].Verdict)
	})

	t.Run("ConcernContinuesUntilPass", func(t *testing.T) {
		history, err := ctrl.Run(ctx, func(ctx context.Context, cycle int) (engine.Verdict, error) {
			if cycle < 3 {
				return engine.VerdictConcern, errors.Errorf("attempt %d not quite right", cycle)
			}
			return engine.VerdictPass, nil
		}, 5)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, engine.VerdictConcern, history[0].Verdict)
		assert.Contains(t, history[0].Detail, "attempt 1")
		assert.Equal(t, engine.VerdictPass, history[2].Verdict)
	})

	t.Run("BudgetExhaustion", func(t *testing.T) {
		calls := 0
		history, err := ctrl.Run(ctx, func(ctx context.Context, cycle int) (engine.Verdict, error) {
			calls++
			return engine.VerdictConcern, errors.New("still wrong")
		}, 3)
		require.ErrorIs(t, err, engine.ErrCycleExhausted)
		assert.Equal(t, 3, calls, "exactly the budget, never more")
		assert.Len(t, history, 3)
	})

	t.Run("BlockStopsWithError", func(t *testing.T) {
		calls := 0
		blocking := errors.New("unrecoverable")
		history, err := ctrl.Run(ctx, func(ctx context.Context, cycle int) (engine.Verdict, error) {
			calls++
			return engine.VerdictBlock, blocking
		}, 5)
		require.ErrorIs(t, err, blocking)
		assert.Equal(t, 1, calls)
		require.Len(t, history, 1)
		assert.Equal(t, engine.VerdictBlock, history[0].Verdict)
	})

	t.Run("NonPositiveBudgetMeansOneCycle", func(t *testing.T) {
		calls := 0
		_, err := ctrl.Run(ctx, func(ctx context.Context, cycle int) (engine.Verdict, error) {
			calls++
			return engine.VerdictConcern, nil
		}, 0)
		require.ErrorIs(t, err, engine.ErrCycleExhausted)
		assert.Equal(t, 1, calls)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		history, err := ctrl.Run(cancelled, func(ctx context.Context, cycle int) (engine.Verdict, error) {
			t.Fatal("attempt ran despite cancelled context")
			return engine.VerdictPass, nil
		}, 3)
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, history)
	})
}
