package market

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Asset 描述一个被跟踪的币种，身份字段不可变。
type Asset struct {
	Mint     string
	Symbol   string
	Decimals uint8
}

// Tick 表示单条行情推送。
type Tick struct {
	Mint                 string
	Price                decimal.Decimal
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	Slot                 uint64
	Sequence             uint64
	ReceivedAt           time.Time
}

// Snapshot 是某个币种当前的行情快照。断连期间 Stale 置位。
type Snapshot struct {
	Tick      Tick
	Stale     bool
	UpdatedAt time.Time
}

// Age 返回快照距离给定时刻的年龄。
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Tick.ReceivedAt)
}

type tickMessage struct {
	Type      string `json:"type"`
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Liquidity struct {
		SolReserves   uint64 `json:"sol_reserves"`
		TokenReserves uint64 `json:"token_reserves"`
	} `json:"liquidity"`
	Slot     uint64 `json:"slot"`
	Sequence uint64 `json:"sequence"`
}

type subscribeMessage struct {
	Method string `json:"method"`
	Asset  string `json:"asset"`
}

func parseTick(payload []byte, now time.Time) (Tick, error) {
	var msg tickMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Tick{}, fmt.Errorf("market: 解析行情消息失败: %w", err)
	}
	if msg.Asset == "" {
		return Tick{}, fmt.Errorf("market: 行情消息缺少 asset 字段")
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return Tick{}, fmt.Errorf("market: 解析价格 %q 失败: %w", msg.Price, err)
	}

	return Tick{
		Mint:                 msg.Asset,
		Price:                price,
		VirtualSolReserves:   msg.Liquidity.SolReserves,
		VirtualTokenReserves: msg.Liquidity.TokenReserves,
		Slot:                 msg.Slot,
		Sequence:             msg.Sequence,
		ReceivedAt:           now,
	}, nil
}
