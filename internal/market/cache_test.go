package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func makeTick(mint string, seq uint64, price string) Tick {
	p, _ := decimal.NewFromString(price)
	return Tick{
		Mint:                 mint,
		Price:                p,
		VirtualSolReserves:   30_000_000_000,
		VirtualTokenReserves: 1_000_000_000_000_000,
		Slot:                 304_577_356,
		Sequence:             seq,
		ReceivedAt:           time.Now().UTC(),
	}
}

func TestCacheApply_MonotonicSequence(t *testing.T) {
	cache := NewCache()

	if !cache.Apply(makeTick("MINT_A", 10, "0.000000028")) {
		t.Fatalf("expected first tick to apply")
	}

	if cache.Apply(makeTick("MINT_A", 10, "0.000000030")) {
		t.Errorf("expected equal sequence to be discarded")
	}
	if cache.Apply(makeTick("MINT_A", 9, "0.000000030")) {
		t.Errorf("expected lower sequence to be discarded")
	}

	snap, ok := cache.Latest("MINT_A")
	if !ok {
		t.Fatalf("expected snapshot to exist")
	}
	if snap.Tick.Sequence != 10 {
		t.Errorf("snapshot sequence changed: got %d want 10", snap.Tick.Sequence)
	}
	if got := snap.Tick.Price.String(); got != "0.000000028" {
		t.Errorf("snapshot price changed by stale tick: got %s", got)
	}

	if !cache.Apply(makeTick("MINT_A", 11, "0.000000031")) {
		t.Fatalf("expected higher sequence to apply")
	}
	snap, _ = cache.Latest("MINT_A")
	if snap.Tick.Sequence != 11 {
		t.Errorf("expected sequence 11, got %d", snap.Tick.Sequence)
	}
}

func TestCacheApply_IndependentPerAsset(t *testing.T) {
	cache := NewCache()

	if !cache.Apply(makeTick("MINT_A", 100, "0.1")) {
		t.Fatalf("expected MINT_A tick to apply")
	}
	if !cache.Apply(makeTick("MINT_B", 1, "0.2")) {
		t.Fatalf("expected MINT_B tick with lower sequence to apply independently")
	}
}

func TestCacheMarkAllStale(t *testing.T) {
	cache := NewCache()
	cache.Apply(makeTick("MINT_A", 1, "0.1"))

	cache.MarkAllStale(time.Now().UTC())

	snap, ok := cache.Latest("MINT_A")
	if !ok {
		t.Fatalf("expected snapshot to survive staleness marking")
	}
	if !snap.Stale {
		t.Errorf("expected snapshot to be stale after disconnect")
	}

	// 新行情到达后恢复新鲜。
	cache.Apply(makeTick("MINT_A", 2, "0.1"))
	snap, _ = cache.Latest("MINT_A")
	if snap.Stale {
		t.Errorf("expected snapshot to be fresh after new tick")
	}
}

func TestParseTick(t *testing.T) {
	payload := []byte(`{
		"type": "tick",
		"asset": "8Y3RkHg21Gj1VBXJi7pcay4qeRqRrY3juZaBac64pump",
		"price": "0.0000000281",
		"liquidity": {"sol_reserves": 30000000000, "token_reserves": 1000000000000000},
		"slot": 304577356,
		"sequence": 42
	}`)

	now := time.Now().UTC()
	tick, err := parseTick(payload, now)
	if err != nil {
		t.Fatalf("parseTick returned error: %v", err)
	}

	if tick.Mint != "8Y3RkHg21Gj1VBXJi7pcay4qeRqRrY3juZaBac64pump" {
		t.Errorf("unexpected mint: %s", tick.Mint)
	}
	if tick.Sequence != 42 {
		t.Errorf("unexpected sequence: %d", tick.Sequence)
	}
	if tick.VirtualSolReserves != 30_000_000_000 {
		t.Errorf("unexpected sol reserves: %d", tick.VirtualSolReserves)
	}
	if !tick.ReceivedAt.Equal(now) {
		t.Errorf("unexpected receive time")
	}

	if _, err := parseTick([]byte(`{"asset":"x","price":"not-a-number"}`), now); err == nil {
		t.Errorf("expected error for invalid price")
	}
	if _, err := parseTick([]byte(`{"price":"1"}`), now); err == nil {
		t.Errorf("expected error for missing asset")
	}
}
