package monitor

import (
	"time"

	"pump-trader/internal/ai"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventIntent      EventType = "intent"
	EventTradeResult EventType = "trade_result"
	EventFeedGap     EventType = "feed_gap"
	EventError       EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// IntentPayload 记录已解析的交易意图。
type IntentPayload struct {
	Intent ai.TradeIntent `json:"intent"`
}

// TradeResultPayload 记录一次交易的终态摘要。
type TradeResultPayload struct {
	Result ai.ResultDigest `json:"result"`
}

// FeedGapPayload 记录行情序列跳变：重连窗口内丢失的推送区间。
type FeedGapPayload struct {
	Mint         string `json:"mint"`
	FromSequence uint64 `json:"from_sequence"`
	ToSequence   uint64 `json:"to_sequence"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
