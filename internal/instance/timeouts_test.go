package instance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaceReturnsResult(t *testing.T) {
	want := errors.New("boom")
	err := race(context.Background(), time.Second, func(context.Context) error {
		return want
	})
	assert.Same(t, want, err)

	err = race(context.Background(), time.Second, func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestRaceAbandonsSlowOperation(t *testing.T) {
	var finished atomic.Bool
	done := make(chan struct{})

	start := time.Now()
	err := race(context.Background(), 50*time.Millisecond, func(context.Context) error {
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
		close(done)
		return nil
	})

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "the race must return at the budget, not at completion")
	assert.False(t, finished.Load(), "the slow operation is abandoned, not waited for")

	// The abandoned goroutine still completes later.
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("abandoned operation never completed")
	}
}

func TestRaceReturnsOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := race(ctx, time.Second, func(context.Context) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 300*time.Millisecond,
		"a cancelled caller must not wait out the step budget")
}

func TestRaceDerivedContextCarriesDeadline(t *testing.T) {
	err := race(context.Background(), 50*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	// Either side of the race is acceptable here; the point is that a
	// cooperative callee observes the deadline at all.
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	for name, want := range map[string]TerminationPolicy{
		"":       PolicyNone,
		"none":   PolicyNone,
		"scoped": PolicyScoped,
	} {
		got, err := ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParsePolicy("aggressive")
	assert.Error(t, err)
}

func TestDebugPortFromURL(t *testing.T) {
	assert.Equal(t, 37123, debugPortFromURL("ws://127.0.0.1:37123/devtools/browser/x"))
	assert.Equal(t, 0, debugPortFromURL("ws://127.0.0.1/devtools/browser/x"))
	assert.Equal(t, 0, debugPortFromURL("::notaurl"))
}
