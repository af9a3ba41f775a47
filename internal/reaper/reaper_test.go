package reaper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jkaninda/sauti/internal/domain"
)

type fakeCandidates struct {
	byTier  map[domain.Tier][]domain.ReapCandidate
	listErr error
}

func (f *fakeCandidates) ListInactive(_ context.Context, tier domain.Tier, thresholdDays int) ([]domain.ReapCandidate, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	cutoff := time.Now().Add(-time.Duration(thresholdDays) * 24 * time.Hour)
	var out []domain.ReapCandidate
	for _, c := range f.byTier[tier] {
		if !c.LastActiveAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakePauser struct {
	paused  []string
	failFor map[string]error
}

func (f *fakePauser) Pause(_ context.Context, agentID string) error {
	if err, ok := f.failFor[agentID]; ok {
		return err
	}
	f.paused = append(f.paused, agentID)
	return nil
}

type fakeBindings struct {
	bound map[string]bool
	err   error
}

func (f *fakeBindings) Exists(agentID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.bound[agentID], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candidate(id string, tier domain.Tier, inactive time.Duration) domain.ReapCandidate {
	return domain.ReapCandidate{
		AgentID:      id,
		UserID:       id,
		Tier:         tier,
		LastActiveAt: time.Now().Add(-inactive),
	}
}

func TestSweep_PausesStaleAgents(t *testing.T) {
	cands := &fakeCandidates{byTier: map[domain.Tier][]domain.ReapCandidate{
		domain.TierFree: {
			candidate("free-stale", domain.TierFree, 8*24*time.Hour),
		},
		domain.TierPaid: {
			candidate("paid-stale", domain.TierPaid, 31*24*time.Hour),
		},
	}}
	pauser := &fakePauser{}
	bindings := &fakeBindings{bound: map[string]bool{"free-stale": true, "paid-stale": true}}

	r := New(cands, pauser, bindings, DefaultPolicy(), testLogger())
	report, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Paused) != 2 {
		t.Fatalf("paused = %v, want 2 agents", report.Paused)
	}
	if len(report.Errors) != 0 {
		t.Errorf("errors = %v, want none", report.Errors)
	}
}

func TestSweep_ThresholdBoundary(t *testing.T) {
	// One second short of the threshold is kept; one second past is paused.
	threshold := time.Duration(DefaultPolicy().FreeThresholdDays) * 24 * time.Hour
	cands := &fakeCandidates{byTier: map[domain.Tier][]domain.ReapCandidate{
		domain.TierFree: {
			candidate("just-under", domain.TierFree, threshold-time.Second),
			candidate("just-over", domain.TierFree, threshold+time.Second),
		},
	}}
	pauser := &fakePauser{}
	bindings := &fakeBindings{bound: map[string]bool{"just-under": true, "just-over": true}}

	r := New(cands, pauser, bindings, DefaultPolicy(), testLogger())
	report, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Paused) != 1 || report.Paused[0] != "just-over" {
		t.Errorf("paused = %v, want [just-over]", report.Paused)
	}
}

func TestSweep_SkipsAlreadyUnbound(t *testing.T) {
	cands := &fakeCandidates{byTier: map[domain.Tier][]domain.ReapCandidate{
		domain.TierFree: {
			candidate("ghost", domain.TierFree, 10*24*time.Hour),
		},
	}}
	pauser := &fakePauser{}
	bindings := &fakeBindings{bound: map[string]bool{}}

	r := New(cands, pauser, bindings, DefaultPolicy(), testLogger())
	report, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(report.Paused) != 0 || len(report.Errors) != 0 {
		t.Errorf("report = %+v, want empty (silent skip)", report)
	}
}

func TestSweep_IsolatesPerAgentFailures(t *testing.T) {
	cands := &fakeCandidates{byTier: map[domain.Tier][]domain.ReapCandidate{
		domain.TierFree: {
			candidate("broken", domain.TierFree, 10*24*time.Hour),
			candidate("healthy", domain.TierFree, 10*24*time.Hour),
		},
	}}
	pauser := &fakePauser{failFor: map[string]error{"broken": errors.New("engine exploded")}}
	bindings := &fakeBindings{bound: map[string]bool{"broken": true, "healthy": true}}

	r := New(cands, pauser, bindings, DefaultPolicy(), testLogger())
	report, err := r.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep should not fail for per-agent errors: %v", err)
	}
	if len(report.Paused) != 1 || report.Paused[0] != "healthy" {
		t.Errorf("paused = %v, want [healthy]", report.Paused)
	}
	if len(report.Errors) != 1 {
		t.Errorf("errors = %v, want 1 entry for broken", report.Errors)
	}
}

func TestSweep_EnumerationFailureAborts(t *testing.T) {
	cands := &fakeCandidates{listErr: errors.New("db down")}
	r := New(cands, &fakePauser{}, &fakeBindings{}, DefaultPolicy(), testLogger())

	if _, err := r.Sweep(context.Background()); err == nil {
		t.Fatal("expected sweep to abort when enumeration fails")
	}
}

func TestNewRunner_RejectsBadSchedule(t *testing.T) {
	r := New(&fakeCandidates{}, &fakePauser{}, &fakeBindings{}, DefaultPolicy(), testLogger())
	if _, err := NewRunner(r, "not a cron expr", testLogger()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if _, err := NewRunner(r, "", testLogger()); err != nil {
		t.Fatalf("empty schedule should use default: %v", err)
	}
}
