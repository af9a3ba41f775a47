package httpapi

import (
	"context"
	"errors"
	"testing"

	"github.com/jkaninda/sauti/internal/storage"
)

// stubCredits is a CreditStore with a fixed balance, counting every call so
// tests can assert what the handlers touched.
type stubCredits struct {
	balance    float64
	getErr     error
	getCalls   int
	debitCalls int
	usageCalls int
}

func (s *stubCredits) GetCredits(context.Context, string) (float64, error) {
	s.getCalls++
	if s.getErr != nil {
		return 0, s.getErr
	}
	return s.balance, nil
}

func (s *stubCredits) DebitCredits(_ context.Context, _ string, amount float64) error {
	s.debitCalls++
	if s.balance < amount {
		return storage.ErrInsufficientCredits
	}
	s.balance -= amount
	return nil
}

func (s *stubCredits) RecordUsage(context.Context, string, string, float64) error {
	s.usageCalls++
	return nil
}

func TestEnsureCredits_ZeroBalanceRefusedBeforeAnyWork(t *testing.T) {
	credits := &stubCredits{balance: 0}
	s := &Server{credits: credits}

	err := s.ensureCredits(context.Background(), "alice", 1.0)
	if !errors.Is(err, storage.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if credits.debitCalls != 0 {
		t.Errorf("precheck must not debit, got %d debit calls", credits.debitCalls)
	}
}

func TestEnsureCredits_MissingAccountReadsAsZero(t *testing.T) {
	credits := &stubCredits{getErr: storage.ErrNotFound}
	s := &Server{credits: credits}

	err := s.ensureCredits(context.Background(), "ghost", 1.0)
	if !errors.Is(err, storage.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits for missing account, got %v", err)
	}
}

func TestEnsureCredits_SufficientBalancePasses(t *testing.T) {
	credits := &stubCredits{balance: 2.5}
	s := &Server{credits: credits}

	if err := s.ensureCredits(context.Background(), "alice", 1.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credits.balance != 2.5 {
		t.Errorf("precheck must not mutate the balance, got %v", credits.balance)
	}
}

func TestEnsureCredits_StoreFailureIsNotInsufficient(t *testing.T) {
	credits := &stubCredits{getErr: errors.New("connection refused")}
	s := &Server{credits: credits}

	err := s.ensureCredits(context.Background(), "alice", 1.0)
	if err == nil {
		t.Fatal("expected error from failing store")
	}
	if errors.Is(err, storage.ErrInsufficientCredits) {
		t.Error("store failure must not masquerade as an insufficient balance")
	}
}
