package registrar

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/ledger"
)

func TestEnsureRegisteredIdempotent(t *testing.T) {
	led := ledger.NewMemory()
	logger := zerolog.Nop()

	reg := New(led, logger)
	if err := reg.EnsureRegistered(context.Background()); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	// Same process: short-circuits.
	if err := reg.EnsureRegistered(context.Background()); err != nil {
		t.Fatalf("repeated call should be a no-op: %v", err)
	}

	// New process against the same ledger: already-exists is tolerated.
	if err := New(led, logger).EnsureRegistered(context.Background()); err != nil {
		t.Fatalf("re-registration against a primed ledger should succeed: %v", err)
	}
}

func TestEnsureRegisteredPropagatesHardFailures(t *testing.T) {
	led := ledger.NewMemory()
	led.RegisterErr = errors.New("chain unreachable")

	err := New(led, zerolog.Nop()).EnsureRegistered(context.Background())
	if err == nil {
		t.Fatal("hard registration failure must surface")
	}

	// The registrar must not latch done on failure.
	led.RegisterErr = nil
	reg := New(led, zerolog.Nop())
	if err := reg.EnsureRegistered(context.Background()); err != nil {
		t.Fatalf("recovery registration failed: %v", err)
	}
}
