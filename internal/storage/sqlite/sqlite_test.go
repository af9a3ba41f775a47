package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkaninda/sauti/internal/domain"
	"github.com/jkaninda/sauti/internal/storage"
	pgstore "github.com/jkaninda/sauti/internal/storage/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "sauti.db")}, logger)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return s
}

func seedAccount(t *testing.T, s *Store, userID string, credits float64, tier domain.Tier) {
	t.Helper()
	m := pgstore.AccountModel{UserID: userID, Credits: credits, Tier: string(tier)}
	if err := s.GormDB().Create(&m).Error; err != nil {
		t.Fatalf("seeding account: %v", err)
	}
}

func TestAgentRecords_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	records := s.AgentRecords()

	if _, err := records.GetAgentRecord(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	rec := &domain.AgentInstance{
		UserID:       "u1",
		SandboxID:    "sbx-1",
		GatewayToken: "tok-1",
		Status:       domain.StatusProvisioning,
		LastActiveAt: time.Now().UTC(),
	}
	if err := records.SaveAgentRecord(ctx, rec); err != nil {
		t.Fatalf("saving: %v", err)
	}

	got, err := records.GetAgentRecord(ctx, "u1")
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if got.SandboxID != "sbx-1" || got.GatewayToken != "tok-1" {
		t.Errorf("record = %+v, want sandbox sbx-1 / token tok-1", got)
	}
	if got.Status != domain.StatusProvisioning {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusProvisioning)
	}

	// Upsert keeps the key and replaces fields.
	rec.Status = domain.StatusRunning
	if err := records.SaveAgentRecord(ctx, rec); err != nil {
		t.Fatalf("upserting: %v", err)
	}
	got, err = records.GetAgentRecord(ctx, "u1")
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if got.Status != domain.StatusRunning {
		t.Errorf("status after upsert = %q, want %q", got.Status, domain.StatusRunning)
	}

	if err := records.SetAgentStatus(ctx, "u1", domain.StatusSleeping); err != nil {
		t.Fatalf("setting status: %v", err)
	}
	got, _ = records.GetAgentRecord(ctx, "u1")
	if got.Status != domain.StatusSleeping {
		t.Errorf("status = %q, want %q", got.Status, domain.StatusSleeping)
	}

	if err := records.SetAgentStatus(ctx, "ghost", domain.StatusRunning); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestCredits_DebitSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	credits := s.Credits()

	seedAccount(t, s, "u1", 5, domain.TierFree)

	if err := credits.DebitCredits(ctx, "u1", 3); err != nil {
		t.Fatalf("debit within balance: %v", err)
	}
	bal, err := credits.GetCredits(ctx, "u1")
	if err != nil {
		t.Fatalf("get credits: %v", err)
	}
	if bal != 2 {
		t.Errorf("balance = %v, want 2", bal)
	}

	// Over-debit must fail without mutating.
	if err := credits.DebitCredits(ctx, "u1", 3); !errors.Is(err, storage.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	bal, _ = credits.GetCredits(ctx, "u1")
	if bal != 2 {
		t.Errorf("balance after failed debit = %v, want 2", bal)
	}

	if err := credits.RecordUsage(ctx, "u1", "voice", 1); err != nil {
		t.Fatalf("recording usage: %v", err)
	}
	var count int64
	if err := s.GormDB().Model(&pgstore.UsageModel{}).Count(&count).Error; err != nil {
		t.Fatalf("counting usage: %v", err)
	}
	if count != 1 {
		t.Errorf("usage records = %d, want 1", count)
	}
}

func TestReapCandidates_ThresholdBoundary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	const thresholdDays = 7
	threshold := time.Duration(thresholdDays) * 24 * time.Hour
	now := time.Now().UTC()

	seedAccount(t, s, "fresh", 0, domain.TierFree)
	seedAccount(t, s, "stale", 0, domain.TierFree)
	seedAccount(t, s, "paid-stale", 0, domain.TierPaid)

	save := func(userID string, lastActive time.Time) {
		t.Helper()
		err := s.AgentRecords().SaveAgentRecord(ctx, &domain.AgentInstance{
			UserID:       userID,
			SandboxID:    "sbx-" + userID,
			GatewayToken: "tok",
			Status:       domain.StatusRunning,
			LastActiveAt: lastActive,
		})
		if err != nil {
			t.Fatalf("saving %s: %v", userID, err)
		}
	}

	// One second inside the threshold: not a candidate.
	save("fresh", now.Add(-threshold+time.Second))
	// One second past the threshold: a candidate.
	save("stale", now.Add(-threshold-time.Second))
	// Past the free threshold but paid tier: not a free candidate.
	save("paid-stale", now.Add(-threshold-time.Second))

	got, err := s.ReapCandidates().ListInactive(ctx, domain.TierFree, thresholdDays)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1: %+v", len(got), got)
	}
	if got[0].UserID != "stale" {
		t.Errorf("candidate = %q, want %q", got[0].UserID, "stale")
	}
}

func TestDriverName(t *testing.T) {
	s := newTestStore(t)
	if got := s.Driver(); got != storage.DriverSQLite {
		t.Errorf("driver = %q, want %q", got, storage.DriverSQLite)
	}
}
