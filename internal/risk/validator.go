package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"pump-trader/internal/ai"
	"pump-trader/internal/quote"
)

// 校验拒绝的三类原因，按检查顺序排列。拒绝是纯函数行为，
// 不产生任何链上或账本副作用。
var (
	ErrStaleQuote       = errors.New("risk: 报价已过期")
	ErrLimitExceeded    = errors.New("risk: 超出支出上限")
	ErrSlippageExceeded = errors.New("risk: 超出滑点上限")
)

// TipEstimator 估算一笔给定规模的交易将附加的小费（lamports）。
type TipEstimator func(amountIn uint64) uint64

// Validated 表示已通过全部校验、可以进入构建阶段的意图与报价组合。
type Validated struct {
	Intent ai.TradeIntent
	Quote  quote.Quote
}

// Validator 在交易进入链上阶段之前执行本地校验。
// 检查顺序固定：新鲜度、支出上限、滑点，命中即返回首个原因。
type Validator struct {
	window time.Duration
	tip    TipEstimator
	logger *zap.Logger
}

// NewValidator 创建校验器。tip 为空时按零小费估算。
func NewValidator(window time.Duration, tip TipEstimator, logger *zap.Logger) *Validator {
	if tip == nil {
		tip = func(uint64) uint64 { return 0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		window: window,
		tip:    tip,
		logger: logger,
	}
}

// Validate 校验意图与报价的匹配性与约束条件。
func (v *Validator) Validate(intent ai.TradeIntent, q quote.Quote, now time.Time) (Validated, error) {
	if err := intent.Validate(); err != nil {
		return Validated{}, fmt.Errorf("risk: 意图非法: %w", err)
	}
	if intent.Mint != q.Mint || intent.Side != q.Side {
		return Validated{}, fmt.Errorf("risk: 意图与报价不匹配: %s/%s vs %s/%s",
			intent.Mint, intent.Side, q.Mint, q.Side)
	}

	if !q.Fresh(now, v.window) {
		v.logger.Warn("拒绝交易：报价过期",
			zap.String("mint", q.Mint),
			zap.Time("snapshot_at", q.SnapshotAt),
			zap.Bool("snapshot_stale", q.SnapshotStale),
		)
		return Validated{}, fmt.Errorf("%w: 快照时间 %s", ErrStaleQuote, q.SnapshotAt.Format(time.RFC3339))
	}

	spend := v.estimateSpend(intent, q)
	if spend > intent.MaxSpendLamports {
		v.logger.Warn("拒绝交易：超出支出上限",
			zap.String("mint", q.Mint),
			zap.Uint64("spend", spend),
			zap.Uint64("max_spend", intent.MaxSpendLamports),
		)
		return Validated{}, fmt.Errorf("%w: 预计支出 %d > 上限 %d", ErrLimitExceeded, spend, intent.MaxSpendLamports)
	}

	if bps := q.ImpliedSlippageBps(); bps > intent.MaxSlippageBps {
		v.logger.Warn("拒绝交易：超出滑点上限",
			zap.String("mint", q.Mint),
			zap.Uint64("implied_bps", bps),
			zap.Uint64("max_bps", intent.MaxSlippageBps),
		)
		return Validated{}, fmt.Errorf("%w: 隐含滑点 %d bps > 上限 %d bps", ErrSlippageExceeded, bps, intent.MaxSlippageBps)
	}

	return Validated{Intent: intent, Quote: q}, nil
}

// estimateSpend 计算本次交易预计消耗的 lamports 总额。
// 买入为本金加场所费加小费；卖出只消耗小费，本金与费用均在代币腿上结算。
func (v *Validator) estimateSpend(intent ai.TradeIntent, q quote.Quote) uint64 {
	tip := v.tip(q.AmountIn)
	if intent.Side == quote.SideSell {
		return tip
	}

	spend := q.AmountIn
	if spend > math.MaxUint64-q.FeeLamports {
		return math.MaxUint64
	}
	spend += q.FeeLamports
	if spend > math.MaxUint64-tip {
		return math.MaxUint64
	}
	return spend + tip
}
