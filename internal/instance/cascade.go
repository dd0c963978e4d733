package instance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/terracebot/terrace/internal/logging"
	"github.com/terracebot/terrace/internal/provision"
)

// RemoteIDSource resolves the durably recorded remote profile id for a
// logical profile. Deletion only ever uses ids from here. An id recovered
// from a live instance object may be stale.
type RemoteIDSource interface {
	RemoteProfileID(ctx context.Context, profileID string) (string, error)
}

// Outcome is the per-profile result of one close.
type Outcome struct {
	ProfileID string
	Success   bool
	Skipped   bool // nothing to close
	Err       error
	Duration  time.Duration
}

// Cascade tears down one instance through escalating tiers: close tabs,
// flag local cleanup, stop, delete the remote profile, verify. When
// the stop times out, a fallback tier re-runs every cleanup mechanism.
// Every external call is bounded by a fixed budget; the cascade always
// reaches a cleared-registry terminal state no matter which steps fail.
type Cascade struct {
	svc     provision.Service
	ids     RemoteIDSource
	reg     *Registry
	probe   ProcessProbe
	policy  TerminationPolicy
	binary  string
	budgets Budgets
	log     *slog.Logger
}

// NewCascade creates a cascade with the default budgets.
func NewCascade(svc provision.Service, ids RemoteIDSource, reg *Registry, probe ProcessProbe, policy TerminationPolicy, browserBinary string) *Cascade {
	return &Cascade{
		svc:     svc,
		ids:     ids,
		reg:     reg,
		probe:   probe,
		policy:  policy,
		binary:  browserBinary,
		budgets: DefaultBudgets(),
		log:     logging.Component("cascade"),
	}
}

// WithBudgets returns a copy of the cascade using different step budgets.
func (c *Cascade) WithBudgets(b Budgets) *Cascade {
	copied := *c
	copied.budgets = b
	return &copied
}

// Close runs the full shutdown cascade for one profile. The registry entry
// is claimed atomically up front, so a second close on the same profile is
// a no-op and a relaunch is never blocked by a stuck cleanup.
func (c *Cascade) Close(ctx context.Context, profileID string) Outcome {
	start := time.Now()

	e := c.reg.Clear(profileID)
	if e == nil {
		return Outcome{ProfileID: profileID, Success: true, Skipped: true}
	}

	log := c.log.With("profile", profileID, "remote_id", e.Instance.RemoteProfileID)
	log.Info("closing instance")

	if !c.closeTabs(ctx, e, log) {
		log.Warn("no close mechanism succeeded")
	}
	c.markLocalCleanup(ctx, e, log)

	// Stopping is the single designed escalation trigger: a stop that
	// overruns its budget is the expected "stuck instance" signal.
	stopErr := race(ctx, c.budgets.Stop, func(ctx context.Context) error {
		return c.svc.StopProfile(ctx, e.Instance.RemoteProfileID)
	})

	var success bool
	if stopErr == nil {
		c.deleteRemoteProfile(ctx, profileID, log)
		c.verifyProcessGone(log)
		success = true
	} else {
		log.Warn("stop failed, entering fallback cleanup", "error", stopErr)
		success = c.fallbackCleanup(ctx, profileID, e, log)
	}

	if e.Conn != nil {
		e.Conn.Shutdown(ctx)
	}

	out := Outcome{ProfileID: profileID, Success: success, Duration: time.Since(start)}
	if !success {
		out.Err = fmt.Errorf("profile %s: cleanup exhausted all tiers: %w", profileID, stopErr)
	}
	log.Info("instance closed", "success", success, "duration", out.Duration)
	return out
}

type mechanism struct {
	name string
	run  func(ctx context.Context) error
}

// closeTabs runs every available close mechanism in parallel, each in its
// own budget and independently caught. Success means at least one
// mechanism completed; a failing mechanism never blocks the others.
func (c *Cascade) closeTabs(ctx context.Context, e *Entry, log *slog.Logger) bool {
	return c.runMechanisms(ctx, c.tabMechanisms(e), c.budgets.TabClose, log, "close")
}

func (c *Cascade) tabMechanisms(e *Entry) []mechanism {
	var ms []mechanism
	if e.Conn != nil {
		ms = append(ms,
			mechanism{"protocol-browser-close", e.Conn.CloseBrowser},
			mechanism{"protocol-page-close", e.Conn.ClosePages},
		)
	}
	if e.Session != nil {
		ms = append(ms, mechanism{"session-close", func(context.Context) error {
			return e.Session.Close()
		}})
	}
	if c.policy == PolicyScoped && c.probe != nil && e.Instance.DebugPort > 0 {
		port := e.Instance.DebugPort
		ms = append(ms, mechanism{"scoped-kill", func(context.Context) error {
			return c.probe.TerminateByPort(port)
		}})
	}
	return ms
}

func (c *Cascade) runMechanisms(ctx context.Context, ms []mechanism, budget time.Duration, log *slog.Logger, tier string) bool {
	if len(ms) == 0 {
		return false
	}

	results := make(chan error, len(ms))
	for _, m := range ms {
		go func(m mechanism) {
			err := race(ctx, budget, m.run)
			if err != nil {
				log.Debug("mechanism failed", "tier", tier, "mechanism", m.name, "error", err)
			}
			results <- err
		}(m)
	}

	succeeded := 0
	for range ms {
		if <-results == nil {
			succeeded++
		}
	}
	return succeeded > 0
}

// markLocalCleanup flips the service's local-cleanup flag when the service
// supports it. Absence of the capability is not an error.
func (c *Cascade) markLocalCleanup(ctx context.Context, e *Entry, log *slog.Logger) {
	marker, ok := c.svc.(provision.LocalCleanupMarker)
	if !ok {
		return
	}
	err := race(ctx, c.budgets.LocalMode, func(ctx context.Context) error {
		return marker.MarkLocalCleanup(ctx, e.Instance.RemoteProfileID)
	})
	if err != nil {
		log.Debug("local cleanup flag failed", "error", err)
	}
}

// deleteRemoteProfile deletes the remote profile using the recorded id.
// Failure is logged, never propagated: an orphaned remote profile is a
// cost to clean up later, not a reason to fail the close.
func (c *Cascade) deleteRemoteProfile(ctx context.Context, profileID string, log *slog.Logger) {
	recorded, err := c.ids.RemoteProfileID(ctx, profileID)
	if err != nil || recorded == "" {
		log.Warn("no recorded remote profile id, skipping delete", "error", err)
		return
	}

	err = race(ctx, c.budgets.Delete, func(ctx context.Context) error {
		return c.svc.DeleteProfile(ctx, recorded)
	})
	if err != nil {
		log.Warn("remote profile delete failed", "remote_id", recorded, "error", err)
	}
}

// verifyProcessGone checks for a surviving browser process after a settle
// delay, re-checking once. Logging only; force-kill is policy-gated and
// belongs to the scoped mechanisms.
func (c *Cascade) verifyProcessGone(log *slog.Logger) {
	if c.probe == nil || c.binary == "" {
		return
	}

	time.Sleep(c.budgets.Settle)
	if !c.probe.IsRunning(c.binary) {
		return
	}

	time.Sleep(c.budgets.Recheck)
	if c.probe.IsRunning(c.binary) {
		log.Warn("browser process still running after close", "binary", c.binary)
	}
}

// fallbackCleanup is the escalation tier entered when stopping fails. It
// re-runs the close and delete mechanisms independently; every attempt is
// idempotent with the earlier tiers and may legitimately repeat work that
// already ran. Reports whether at least one mechanism succeeded.
func (c *Cascade) fallbackCleanup(ctx context.Context, profileID string, e *Entry, log *slog.Logger) bool {
	ms := c.tabMechanisms(e)

	ms = append(ms, mechanism{"remote-profile-delete", func(ctx context.Context) error {
		recorded, err := c.ids.RemoteProfileID(ctx, profileID)
		if err != nil {
			return err
		}
		if recorded == "" {
			return fmt.Errorf("no recorded remote profile id for %s", profileID)
		}
		return c.svc.DeleteProfile(ctx, recorded)
	}})

	return c.runMechanisms(ctx, ms, c.budgets.FallbackStep, log, "fallback")
}
