package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pump-trader/internal/ai"
	"pump-trader/internal/quote"
	"pump-trader/internal/submit"
)

var (
	// ErrDuplicateAttempt 表示同一签名已经入账，一次尝试只允许一条账目。
	ErrDuplicateAttempt = errors.New("ledger: 该签名已入账")
	// ErrInsufficientPosition 标记卖出量超过本地持仓的账目差异。
	// 链上既成事实不回滚，该差异只体现在账目的 note 里。
	ErrInsufficientPosition = errors.New("ledger: 持仓不足")
	// ErrAssetNotFound 表示注册表中没有该币。
	ErrAssetNotFound = errors.New("ledger: 未注册的币")
)

// Asset 是注册表中的一个币：mint 及其曲线账户组。
type Asset struct {
	Mint                   string
	Symbol                 string
	Decimals               uint8
	BondingCurve           string
	AssociatedBondingCurve string
}

// Position 是某个钱包在单个币上的本地持仓。Quantity 为代币最小单位，
// CostLamports 为累计买入成本（含费用与小费）。
type Position struct {
	Wallet       string
	Mint         string
	Quantity     uint64
	CostLamports uint64
	UpdatedAt    time.Time
}

// AvgCost 返回单位成本（lamports / 代币最小单位）。
func (p Position) AvgCost() decimal.Decimal {
	if p.Quantity == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(p.CostLamports).Div(decimal.NewFromUint64(p.Quantity))
}

// Record 是一次交易尝试的完整账目输入：
// 意图、报价快照与终态结果在一个事务里一起落库。
type Record struct {
	Intent      ai.TradeIntent
	Quote       quote.Quote
	Wallet      string
	Signature   string
	Route       submit.Route
	Status      submit.Status
	TipLamports uint64
	// ExecutedOut 为链上实际成交量：买入是到手代币数，卖出是到手 lamports。
	ExecutedOut uint64
	ReconcileOK bool
	Note        string
	SubmittedAt time.Time
	FinalizedAt time.Time
}

// AttemptRow 是账本中一条已落库的尝试记录。
type AttemptRow struct {
	ID          int64
	Signature   string
	Mint        string
	Side        string
	Status      string
	Route       string
	AmountIn    uint64
	ExpectedOut uint64
	ExecutedOut uint64
	FeeLamports uint64
	TipLamports uint64
	ReconcileOK bool
	Note        string
	SubmittedAt time.Time
	FinalizedAt time.Time
}
