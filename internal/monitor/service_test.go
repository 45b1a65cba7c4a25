package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pump-trader/internal/ai"
	"pump-trader/internal/config"
	"pump-trader/internal/quote"
	"pump-trader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	s, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRecordAndListByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordIntent(ctx, ai.TradeIntent{
		Mint:     "8Y3RkHg21Gj1VBXJi7pcay4qeRqRrY3juZaBac64pump",
		Side:     quote.SideBuy,
		Amount:   1_000_000_000,
		IssuedAt: time.Now().UTC(),
	})
	svc.RecordFeedGap(ctx, "8Y3RkHg21Gj1VBXJi7pcay4qeRqRrY3juZaBac64pump", 41, 45)
	svc.RecordFeedGap(ctx, "8Y3RkHg21Gj1VBXJi7pcay4qeRqRrY3juZaBac64pump", 45, 50)

	gaps, err := svc.ListEvents(ctx, EventFeedGap, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(gaps) != 2 {
		t.Fatalf("期望 2 条行情跳变事件, 实际 %d", len(gaps))
	}

	// 最新事件排在最前。
	raw, ok := gaps[0].Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("payload 类型不符: %T", gaps[0].Payload)
	}
	var gap FeedGapPayload
	if err := json.Unmarshal(raw, &gap); err != nil {
		t.Fatalf("解析 payload 失败: %v", err)
	}
	if gap.FromSequence != 45 || gap.ToSequence != 50 {
		t.Fatalf("跳变区间不符: %d -> %d", gap.FromSequence, gap.ToSequence)
	}

	all, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("期望 3 条事件, 实际 %d", len(all))
	}
}

func TestListEventsLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordError(ctx, "测试异常", context.DeadlineExceeded, nil)
	}

	events, err := svc.ListEvents(ctx, EventError, 3)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("期望 3 条事件, 实际 %d", len(events))
	}
}
