// Package reaper applies the inactivity policy: free-tier agents idle for a
// week and paid-tier agents idle for a month are paused to free resources.
// Pausing removes the registry binding; sandbox state and workspace survive,
// so a paused agent can be woken later.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/sauti/internal/domain"
	"github.com/jkaninda/sauti/internal/storage"
)

const (
	defaultFreeThresholdDays = 7
	defaultPaidThresholdDays = 30
)

// Pauser pauses a single agent's routing. Implemented by the lifecycle manager.
type Pauser interface {
	Pause(ctx context.Context, agentID string) error
}

// BindingChecker reports whether an agent currently has a registry binding.
type BindingChecker interface {
	Exists(agentID string) (bool, error)
}

// Policy holds the per-tier inactivity thresholds in days.
type Policy struct {
	FreeThresholdDays int
	PaidThresholdDays int
}

// DefaultPolicy returns the standard thresholds: 7 days free, 30 days paid.
func DefaultPolicy() Policy {
	return Policy{
		FreeThresholdDays: defaultFreeThresholdDays,
		PaidThresholdDays: defaultPaidThresholdDays,
	}
}

// Report aggregates one sweep's outcome. Per-agent failures are collected
// here, never raised.
type Report struct {
	Paused []string `json:"paused"`
	Errors []string `json:"errors"`
}

// Reaper sweeps inactive agents.
type Reaper struct {
	candidates storage.ReapCandidateSource
	pauser     Pauser
	bindings   BindingChecker
	policy     Policy
	logger     *slog.Logger
}

// New creates a Reaper with the given collaborators.
func New(candidates storage.ReapCandidateSource, pauser Pauser, bindings BindingChecker, policy Policy, logger *slog.Logger) *Reaper {
	if policy.FreeThresholdDays <= 0 {
		policy.FreeThresholdDays = defaultFreeThresholdDays
	}
	if policy.PaidThresholdDays <= 0 {
		policy.PaidThresholdDays = defaultPaidThresholdDays
	}
	return &Reaper{
		candidates: candidates,
		pauser:     pauser,
		bindings:   bindings,
		policy:     policy,
		logger:     logger,
	}
}

// Sweep pauses every agent past its tier's inactivity threshold.
//
// One agent's failure is isolated: it is recorded in the report and the sweep
// continues. Only a failure to enumerate candidates aborts the sweep itself.
func (r *Reaper) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{}

	tiers := []struct {
		tier      domain.Tier
		threshold int
	}{
		{domain.TierFree, r.policy.FreeThresholdDays},
		{domain.TierPaid, r.policy.PaidThresholdDays},
	}

	for _, t := range tiers {
		candidates, err := r.candidates.ListInactive(ctx, t.tier, t.threshold)
		if err != nil {
			return nil, fmt.Errorf("listing inactive %s-tier agents: %w", t.tier, err)
		}
		for _, c := range candidates {
			r.reapOne(ctx, c, t.threshold, report)
		}
	}

	r.logger.Info("reaper sweep complete",
		slog.Int("paused", len(report.Paused)),
		slog.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func (r *Reaper) reapOne(ctx context.Context, c domain.ReapCandidate, thresholdDays int, report *Report) {
	// The candidate source already filters by threshold; re-check here so a
	// lagging projection cannot pause a freshly active agent.
	cutoff := time.Now().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	if c.LastActiveAt.After(cutoff) {
		return
	}

	bound, err := r.bindings.Exists(c.AgentID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: checking binding: %v", c.AgentID, err))
		return
	}
	if !bound {
		// Already paused by other means.
		return
	}

	if err := r.pauser.Pause(ctx, c.AgentID); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", c.AgentID, err))
		r.logger.Warn("failed to pause agent",
			slog.String("agent_id", c.AgentID),
			slog.String("error", err.Error()),
		)
		return
	}

	report.Paused = append(report.Paused, c.AgentID)
	r.logger.Info("agent reaped",
		slog.String("agent_id", c.AgentID),
		slog.String("tier", string(c.Tier)),
		slog.Time("last_active_at", c.LastActiveAt),
	)
}
