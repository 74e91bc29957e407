package utils

import (
	"context"
	"testing"
	"time"
)

func TestConcurrencyScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
	if rateWindowScript == nil {
		t.Fatalf("expected rate window script to be initialized")
	}
}

func TestAllowRate_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := AllowRate(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	// Validation must fire before any network use of the client.
	if _, err := AllowRate(ctx, nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestAcquireConcurrencyCap_ValidatesArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 1, time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := AcquireConcurrencyCap(ctx, nil, "k", 0, time.Second); err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
}
