package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示交易方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid 判断方向取值是否合法。
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Quote 是一次报价的结果：给定输入量在当前曲线状态下的预期产出。
// 买入时 AmountIn 为 lamports、ExpectedOut 为代币最小单位；卖出相反。
type Quote struct {
	Mint        string
	Side        Side
	AmountIn    uint64
	ExpectedOut uint64
	FeeLamports uint64

	// SpotPrice 为快照时点的边际价格（lamports / 代币最小单位），
	// ExecPrice 为本次成交量下的实际均价，两者之差即价格冲击。
	SpotPrice decimal.Decimal
	ExecPrice decimal.Decimal

	Slot       uint64
	Sequence   uint64
	SnapshotAt time.Time
	// SnapshotStale 在行情断连期间为真。
	SnapshotStale bool
}

// Fresh 判断报价的行情来源在给定新鲜窗口内是否仍然可用。
func (q Quote) Fresh(now time.Time, window time.Duration) bool {
	if q.SnapshotStale {
		return false
	}
	return now.Sub(q.SnapshotAt) <= window
}

// ImpliedSlippageBps 返回报价相对即时价格的隐含滑点（基点）。
func (q Quote) ImpliedSlippageBps() uint64 {
	if q.SpotPrice.IsZero() || q.ExecPrice.IsZero() {
		return 0
	}

	var drift decimal.Decimal
	switch q.Side {
	case SideBuy:
		drift = q.ExecPrice.Sub(q.SpotPrice)
	case SideSell:
		drift = q.SpotPrice.Sub(q.ExecPrice)
	default:
		return 0
	}

	if drift.Sign() <= 0 {
		return 0
	}

	bps := drift.Div(q.SpotPrice).Mul(decimal.NewFromInt(10_000))
	return uint64(bps.Ceil().IntPart())
}
