package instance

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/terracebot/terrace/internal/logging"
)

// forceGlobalTimeout bounds the entire forced fan-out: whatever has not
// settled by then is treated as failed-but-registry-cleared.
const forceGlobalTimeout = 10 * time.Second

// AggregateResult is the aggregated outcome of a bulk close.
type AggregateResult struct {
	Outcomes      []Outcome
	Succeeded     int
	Failed        int
	GlobalTimeout bool
	Success       bool
}

// Coordinator fans the shutdown cascade out across every registered
// instance. Registry cleanliness outranks cascade success: a profile is
// always removed from the registry, whatever its cascade reported.
type Coordinator struct {
	cascade *Cascade
	reg     *Registry
	probe   ProcessProbe
	policy  TerminationPolicy
	log     *slog.Logger
}

// NewCoordinator creates a bulk cleanup coordinator.
func NewCoordinator(cascade *Cascade, reg *Registry, probe ProcessProbe, policy TerminationPolicy) *Coordinator {
	return &Coordinator{
		cascade: cascade,
		reg:     reg,
		probe:   probe,
		policy:  policy,
		log:     logging.Component("cleanup"),
	}
}

// CloseAll closes every registered instance concurrently and aggregates
// the per-profile outcomes. Results are keyed by profile id, never by
// completion order.
func (c *Coordinator) CloseAll(ctx context.Context) *AggregateResult {
	ids := c.reg.ListAll()
	c.log.Info("closing all instances", "count", len(ids))

	results := make(chan Outcome, len(ids))
	for _, id := range ids {
		go func(id string) {
			results <- c.cascade.Close(ctx, id)
		}(id)
	}

	outcomes := make([]Outcome, 0, len(ids))
	for range ids {
		outcomes = append(outcomes, <-results)
	}

	res := aggregate(outcomes, false)
	res.Success = res.Failed == 0
	c.log.Info("close all finished", "succeeded", res.Succeeded, "failed", res.Failed)
	return res
}

// ForceAll is the emergency variant: tightened per-step budgets, one
// global deadline over the whole fan-out, and a final sweep for leftover
// browser processes. It always reports success: force mode is best
// effort, then move on.
func (c *Coordinator) ForceAll(ctx context.Context) *AggregateResult {
	ids := c.reg.ListAll()
	c.log.Info("force-closing all instances", "count", len(ids))

	// Snapshot ports before the cascades clear the entries; the leftover
	// sweep needs them afterwards.
	ports := make(map[string]int, len(ids))
	for _, id := range ids {
		if e := c.reg.Get(id); e != nil && e.Instance != nil {
			ports[id] = e.Instance.DebugPort
		}
	}

	forced := c.cascade.WithBudgets(ForceBudgets())
	results := make(chan Outcome, len(ids))
	for _, id := range ids {
		go func(id string) {
			results <- forced.Close(ctx, id)
		}(id)
	}

	var outcomes []Outcome
	settled := make(map[string]bool, len(ids))
	deadline := time.After(forceGlobalTimeout)
	timedOut := false

collect:
	for range ids {
		select {
		case o := <-results:
			settled[o.ProfileID] = true
			outcomes = append(outcomes, o)
		case <-deadline:
			timedOut = true
			break collect
		}
	}

	if timedOut {
		// Unsettled cascades keep running in the background; their
		// registry entries were already claimed, so just record them.
		for _, id := range ids {
			if !settled[id] {
				c.reg.Clear(id)
				outcomes = append(outcomes, Outcome{
					ProfileID: id,
					Success:   false,
					Err:       ErrTimeout,
				})
			}
		}
		c.log.Warn("force close hit global deadline", "unsettled", len(ids)-len(settled))
	}

	c.sweepLeftovers(ports)

	res := aggregate(outcomes, timedOut)
	res.Success = true
	return res
}

// sweepLeftovers makes one last attempt to terminate surviving browser
// processes. Under PolicyNone it only reports; termination stays disabled
// because matching by executable name alone has taken down browser windows
// that were never ours.
func (c *Coordinator) sweepLeftovers(ports map[string]int) {
	if c.probe == nil {
		return
	}

	if c.policy != PolicyScoped {
		c.log.Info("leftover process sweep disabled by policy", "policy", c.policy.String())
		return
	}

	for id, port := range ports {
		if port <= 0 {
			continue
		}
		if err := c.probe.TerminateByPort(port); err != nil {
			c.log.Warn("leftover sweep failed", "profile", id, "port", port, "error", err)
		}
	}
}

// Dispose is the process-shutdown hook: graceful close-all first, then a
// forced pass if anything failed.
func (c *Coordinator) Dispose(ctx context.Context) *AggregateResult {
	res := c.CloseAll(ctx)
	if res.Failed == 0 {
		return res
	}
	c.log.Warn("graceful close reported failures, forcing", "failed", res.Failed)
	return c.ForceAll(ctx)
}

func aggregate(outcomes []Outcome, timedOut bool) *AggregateResult {
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].ProfileID < outcomes[j].ProfileID
	})

	res := &AggregateResult{Outcomes: outcomes, GlobalTimeout: timedOut}
	for _, o := range outcomes {
		if o.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	return res
}
