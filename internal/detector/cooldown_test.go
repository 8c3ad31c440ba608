package detector

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dipwatcher/internal/storage"
)

func testKey(threshold int64) storage.CooldownKey {
	return storage.CooldownKey{
		Symbol:       "HDFCBANK",
		Market:       "NSE",
		ThresholdPct: decimal.NewFromInt(threshold),
		Timeframe:    string(TimeframeDay),
	}
}

func TestSweepClearsAfterDuration(t *testing.T) {
	store := newMemCooldownStore()
	policy := NewCooldownPolicy(store, CooldownOptions{Duration: time.Hour}, zerolog.Nop())

	now := time.Now()
	key := testKey(10)
	if err := policy.Arm(context.Background(), key, decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	// Price still depressed but an hour has passed.
	if err := policy.Sweep(context.Background(), key.Symbol, key.Market, decimal.NewFromInt(85), now.Add(time.Hour)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	suppressed, err := policy.Suppressed(context.Background(), key)
	if err != nil {
		t.Fatalf("Suppressed: %v", err)
	}
	if suppressed {
		t.Fatal("cooldown should clear once duration elapsed")
	}
}

func TestSweepClearsOnRecovery(t *testing.T) {
	store := newMemCooldownStore()
	policy := NewCooldownPolicy(store, CooldownOptions{Duration: 24 * time.Hour}, zerolog.Nop())

	now := time.Now()
	key := testKey(15)
	if err := policy.Arm(context.Background(), key, decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	// Recovered to the historical reference well before the duration.
	if err := policy.Sweep(context.Background(), key.Symbol, key.Market, decimal.NewFromInt(100), now.Add(time.Minute)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	suppressed, err := policy.Suppressed(context.Background(), key)
	if err != nil {
		t.Fatalf("Suppressed: %v", err)
	}
	if suppressed {
		t.Fatal("cooldown should clear on price recovery")
	}
}

func TestSweepKeepsEntryWhileDepressed(t *testing.T) {
	store := newMemCooldownStore()
	policy := NewCooldownPolicy(store, CooldownOptions{Duration: 24 * time.Hour}, zerolog.Nop())

	now := time.Now()
	key := testKey(5)
	if err := policy.Arm(context.Background(), key, decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	if err := policy.Sweep(context.Background(), key.Symbol, key.Market, decimal.NewFromInt(93), now.Add(time.Hour)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	suppressed, err := policy.Suppressed(context.Background(), key)
	if err != nil {
		t.Fatalf("Suppressed: %v", err)
	}
	if !suppressed {
		t.Fatal("cooldown must hold while price is depressed and duration not elapsed")
	}
}

func TestSweepUsesRecoveryFraction(t *testing.T) {
	store := newMemCooldownStore()
	policy := NewCooldownPolicy(store, CooldownOptions{
		Duration:         24 * time.Hour,
		RecoveryFraction: decimal.RequireFromString("0.95"),
	}, zerolog.Nop())

	now := time.Now()
	key := testKey(10)
	if err := policy.Arm(context.Background(), key, decimal.NewFromInt(100), now); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	// 95 meets the 0.95 fraction.
	if err := policy.Sweep(context.Background(), key.Symbol, key.Market, decimal.NewFromInt(95), now.Add(time.Minute)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	suppressed, err := policy.Suppressed(context.Background(), key)
	if err != nil {
		t.Fatalf("Suppressed: %v", err)
	}
	if suppressed {
		t.Fatal("cooldown should clear at the configured recovery fraction")
	}
}
