package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pump-trader/internal/ai"
	"pump-trader/internal/quote"
)

const testMint = "8Y3RkHg21Gj1VBXJi7pcay4qeRqRrY3juZaBac64pump"

func buyFixture(now time.Time) (ai.TradeIntent, quote.Quote) {
	intent := ai.TradeIntent{
		Mint:             testMint,
		Side:             quote.SideBuy,
		Amount:           1_000_000_000,
		MaxSlippageBps:   500,
		MaxSpendLamports: 1_100_000_000,
		Caller:           "test",
		IssuedAt:         now,
	}
	q := quote.Quote{
		Mint:        testMint,
		Side:        quote.SideBuy,
		AmountIn:    1_000_000_000,
		ExpectedOut: 32_000_000_000_000,
		FeeLamports: 10_000_000,
		SpotPrice:   decimal.NewFromFloat(0.00003),
		ExecPrice:   decimal.NewFromFloat(0.000031),
		Slot:        100,
		Sequence:    7,
		SnapshotAt:  now,
	}
	return intent, q
}

func TestValidate_Pass(t *testing.T) {
	now := time.Now()
	intent, q := buyFixture(now)

	v := NewValidator(10*time.Second, func(uint64) uint64 { return 10_000 }, nil)
	got, err := v.Validate(intent, q, now)
	if err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
	if got.Intent.Mint != intent.Mint || got.Quote.Sequence != q.Sequence {
		t.Errorf("validated payload should carry intent and quote unchanged")
	}
}

func TestValidate_StaleQuote(t *testing.T) {
	now := time.Now()
	intent, q := buyFixture(now)
	v := NewValidator(10*time.Second, nil, nil)

	q.SnapshotAt = now.Add(-11 * time.Second)
	if _, err := v.Validate(intent, q, now); !errors.Is(err, ErrStaleQuote) {
		t.Errorf("aged snapshot: expected ErrStaleQuote, got %v", err)
	}

	q.SnapshotAt = now
	q.SnapshotStale = true
	if _, err := v.Validate(intent, q, now); !errors.Is(err, ErrStaleQuote) {
		t.Errorf("stale-flagged snapshot: expected ErrStaleQuote, got %v", err)
	}
}

func TestValidate_CheckOrder(t *testing.T) {
	// 三项同时违规时必须先报过期，其次上限，最后滑点。
	now := time.Now()
	intent, q := buyFixture(now)
	intent.MaxSpendLamports = 1
	intent.MaxSlippageBps = 1
	q.SnapshotStale = true

	v := NewValidator(10*time.Second, nil, nil)
	if _, err := v.Validate(intent, q, now); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected ErrStaleQuote first, got %v", err)
	}

	q.SnapshotStale = false
	if _, err := v.Validate(intent, q, now); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded second, got %v", err)
	}

	intent.MaxSpendLamports = 2_000_000_000
	if _, err := v.Validate(intent, q, now); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded last, got %v", err)
	}
}

func TestValidate_LimitIncludesFeeAndTip(t *testing.T) {
	now := time.Now()
	intent, q := buyFixture(now)

	// 本金恰好等于上限，但加上手续费与小费后越界。
	intent.MaxSpendLamports = q.AmountIn
	v := NewValidator(10*time.Second, func(uint64) uint64 { return 10_000 }, nil)
	if _, err := v.Validate(intent, q, now); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}

	intent.MaxSpendLamports = q.AmountIn + q.FeeLamports + 10_000
	if _, err := v.Validate(intent, q, now); err != nil {
		t.Fatalf("spend exactly at limit should pass, got %v", err)
	}
}

func TestValidate_SellSpendIsTipOnly(t *testing.T) {
	now := time.Now()
	intent := ai.TradeIntent{
		Mint:             testMint,
		Side:             quote.SideSell,
		Amount:           5_000_000_000,
		MaxSlippageBps:   500,
		MaxSpendLamports: 20_000,
		Caller:           "test",
		IssuedAt:         now,
	}
	q := quote.Quote{
		Mint:        testMint,
		Side:        quote.SideSell,
		AmountIn:    5_000_000_000,
		ExpectedOut: 140_000_000,
		FeeLamports: 1_400_000,
		SpotPrice:   decimal.NewFromFloat(0.00003),
		ExecPrice:   decimal.NewFromFloat(0.0000295),
		SnapshotAt:  now,
	}

	v := NewValidator(10*time.Second, func(uint64) uint64 { return 10_000 }, nil)
	if _, err := v.Validate(intent, q, now); err != nil {
		t.Fatalf("sell spends only the tip, expected pass, got %v", err)
	}

	intent.MaxSpendLamports = 9_999
	if _, err := v.Validate(intent, q, now); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded when tip exceeds cap, got %v", err)
	}
}

func TestValidate_MismatchedQuote(t *testing.T) {
	now := time.Now()
	intent, q := buyFixture(now)
	q.Side = quote.SideSell

	v := NewValidator(10*time.Second, nil, nil)
	if _, err := v.Validate(intent, q, now); err == nil {
		t.Fatalf("expected error for intent/quote side mismatch")
	}
}
