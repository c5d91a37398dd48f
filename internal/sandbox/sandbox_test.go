package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIsolation(t *testing.T) {
	assert.Equal(t, IsolationMinimal, ParseIsolation("minimal"))
	assert.Equal(t, IsolationModerate, ParseIsolation(" Moderate "))
	assert.Equal(t, IsolationStrict, ParseIsolation("strict"))
	assert.Equal(t, IsolationStrict, ParseIsolation("bogus"), "unknown names fall back to strict")
}

func TestRunPassesThroughResult(t *testing.T) {
	for _, iso := range []Isolation{IsolationMinimal, IsolationModerate, IsolationStrict} {
		r := NewRunner(WithIsolation(iso))

		assert.NoError(t, r.Run("p", func() error { return nil }), iso.String())

		boom := errors.New("boom")
		assert.ErrorIs(t, r.Run("p", func() error { return boom }), boom, iso.String())
	}
}

func TestRunContainsPanics(t *testing.T) {
	for _, iso := range []Isolation{IsolationModerate, IsolationStrict} {
		r := NewRunner(WithIsolation(iso))
		err := r.Run("p", func() error { panic("kaboom") })
		require.Error(t, err, iso.String())
		assert.Contains(t, err.Error(), "kaboom")
	}
}

func TestMinimalIsolationPropagatesPanics(t *testing.T) {
	r := NewRunner(WithIsolation(IsolationMinimal))
	assert.Panics(t, func() {
		_ = r.Run("p", func() error { panic("kaboom") })
	})
}

func TestSuperviseSucceedsAfterRetries(t *testing.T) {
	r := NewRunner(
		WithIsolation(IsolationModerate),
		WithMaxRestarts(3),
		WithRestartDelay(time.Nanosecond),
	)

	attempts := 0
	err := r.Supervise(context.Background(), "p", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("still down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSuperviseExhaustsBudget(t *testing.T) {
	r := NewRunner(
		WithIsolation(IsolationModerate),
		WithMaxRestarts(2),
		WithRestartDelay(time.Nanosecond),
	)

	attempts := 0
	err := r.Supervise(context.Background(), "p", func() error {
		attempts++
		return errors.New("permanently down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart budget exhausted")
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestSuperviseRecoversCrash(t *testing.T) {
	r := NewRunner(
		WithIsolation(IsolationStrict),
		WithMaxRestarts(1),
		WithRestartDelay(time.Nanosecond),
	)

	attempts := 0
	err := r.Supervise(context.Background(), "p", func() error {
		attempts++
		if attempts == 1 {
			panic("first start crashes")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestSuperviseHonorsContext(t *testing.T) {
	r := NewRunner(
		WithIsolation(IsolationModerate),
		WithMaxRestarts(100),
		WithRestartDelay(50*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Supervise(ctx, "p", func() error { return errors.New("down") })
	require.Error(t, err)
}
