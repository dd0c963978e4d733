package instance

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks an operation that exceeded its step budget. Timeouts
// are races: the slow operation is abandoned, never interrupted, so every
// abandoned operation must be safe to complete late.
var ErrTimeout = errors.New("operation timed out")

// Budgets are the fixed per-step time budgets of the shutdown cascade.
type Budgets struct {
	TabClose     time.Duration // each tab-close mechanism
	LocalMode    time.Duration // local-cleanup flag flip
	Stop         time.Duration // instance stop; timing out triggers fallback
	Delete       time.Duration // remote profile deletion
	FallbackStep time.Duration // each fallback-tier attempt
	Settle       time.Duration // wait before liveness verification
	Recheck      time.Duration // wait before the single liveness re-check
	Ready        time.Duration // endpoint readiness after start
}

// DefaultBudgets returns the budgets for a normal close.
func DefaultBudgets() Budgets {
	return Budgets{
		TabClose:     4 * time.Second,
		LocalMode:    3 * time.Second,
		Stop:         20 * time.Second,
		Delete:       10 * time.Second,
		FallbackStep: 5 * time.Second,
		Settle:       2 * time.Second,
		Recheck:      3 * time.Second,
		Ready:        15 * time.Second,
	}
}

// ForceBudgets returns the tightened budgets used by forced bulk cleanup.
func ForceBudgets() Budgets {
	b := DefaultBudgets()
	b.TabClose = 3 * time.Second
	b.LocalMode = time.Second
	b.Stop = 5 * time.Second
	b.Delete = 5 * time.Second
	b.FallbackStep = 5 * time.Second
	b.Settle = 0
	b.Recheck = 0
	return b
}

// race runs fn bounded by d. The derived context carries the deadline so
// cooperative callees stop early, but a callee that ignores it is simply
// abandoned and its eventual result discarded.
func race(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, d)

	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- fn(rctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return ErrTimeout
	}
}
