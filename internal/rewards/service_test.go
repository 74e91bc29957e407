package rewards

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

// These are true unit tests for rewards.Service input validation behavior.
//
// The posting path is implemented with Postgres-specific SQL (the
// ON CONFLICT idempotency insert and the balance projection upsert), so
// end-to-end behavior (double-credit protection under concurrent retries,
// balance arithmetic) is best covered via integration tests against
// Postgres. Client-side duplicate suppression has its own coverage in
// internal/call.

func TestCreditCallConnected_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil), 10)

	_, _, err := svc.CreditCallConnected(context.Background(), "", "m1")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.CreditCallConnected(context.Background(), "u1", "")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestGetBalance_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil), 10)
	if _, err := svc.GetBalance(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNewService_DefaultsPoints(t *testing.T) {
	svc := NewService((*sql.DB)(nil), 0)
	if svc.connectedPoints <= 0 {
		t.Fatalf("expected positive default credit, got %d", svc.connectedPoints)
	}
}
