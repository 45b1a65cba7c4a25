package ai

import (
	"context"
	"testing"
	"time"

	"pump-trader/internal/quote"
)

func validIntent() TradeIntent {
	return TradeIntent{
		Mint:             "8Y3RkHg21Gj1VBXJi7pcay4qeRqRrY3juZaBac64pump",
		Side:             quote.SideBuy,
		Amount:           100_000_000,
		MaxSlippageBps:   100,
		MaxSpendLamports: 110_000_000,
		Caller:           "test",
		IssuedAt:         time.Now().UTC(),
	}
}

func TestTradeIntentValidate(t *testing.T) {
	if err := validIntent().Validate(); err != nil {
		t.Fatalf("valid intent rejected: %v", err)
	}

	bad := validIntent()
	bad.Mint = " "
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for empty mint")
	}

	bad = validIntent()
	bad.Side = "hold"
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for invalid side")
	}

	bad = validIntent()
	bad.Amount = 0
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for zero amount")
	}

	bad = validIntent()
	bad.MaxSlippageBps = 20_000
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for slippage above 10000 bps")
	}

	bad = validIntent()
	bad.MaxSpendLamports = 0
	if err := bad.Validate(); err == nil {
		t.Errorf("expected error for zero max spend")
	}
}

type staticResolver struct {
	mint     string
	decimals uint8
}

func (r staticResolver) Resolve(ctx context.Context, ref string) (string, uint8, error) {
	return r.mint, r.decimals, nil
}

func TestBuildIntent_Defaults(t *testing.T) {
	c := &Client{resolver: staticResolver{mint: "RESOLVED_MINT", decimals: 6}}

	intent, err := c.buildIntent(context.Background(), tradeToolArgs{
		Asset: "pepe",
		Side:  "buy",
	})
	if err != nil {
		t.Fatalf("buildIntent returned error: %v", err)
	}

	if intent.Mint != "RESOLVED_MINT" {
		t.Errorf("expected resolver to map asset name, got %s", intent.Mint)
	}
	if intent.Amount != 10_000_000 {
		t.Errorf("expected default 0.01 SOL = 10000000 lamports, got %d", intent.Amount)
	}
	if intent.MaxSlippageBps != 1000 {
		t.Errorf("expected default slippage 1000 bps, got %d", intent.MaxSlippageBps)
	}
	if intent.MaxSpendLamports <= intent.Amount {
		t.Errorf("default max spend should cover amount plus costs")
	}
}

func TestBuildIntent_SellRequiresTokens(t *testing.T) {
	c := &Client{resolver: staticResolver{mint: "RESOLVED_MINT", decimals: 6}}

	if _, err := c.buildIntent(context.Background(), tradeToolArgs{
		Asset: "pepe",
		Side:  "sell",
	}); err == nil {
		t.Fatalf("expected error for sell without amount_tokens")
	}

	intent, err := c.buildIntent(context.Background(), tradeToolArgs{
		Asset:        "pepe",
		Side:         "sell",
		AmountTokens: 1500,
		MaxSpendSol:  0.01,
	})
	if err != nil {
		t.Fatalf("buildIntent returned error: %v", err)
	}
	if intent.Amount != 1_500_000_000 {
		t.Errorf("expected 1500 tokens at 6 decimals = 1500000000 units, got %d", intent.Amount)
	}
}
