package quote

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pump-trader/internal/config"
	"pump-trader/internal/market"
)

var (
	// ErrStaleMarketData 表示没有可用快照或快照超出新鲜窗口。
	ErrStaleMarketData = errors.New("stale market data")
)

type snapshotSource interface {
	Latest(mint string) (market.Snapshot, bool)
}

// Engine 将请求量换算为预期产出。报价是 (请求, 快照) 的纯函数，
// 不在两次调用之间保留任何可变状态。
type Engine struct {
	src    snapshotSource
	window time.Duration
	logger *zap.Logger
}

// NewEngine 创建报价引擎。
func NewEngine(src snapshotSource, cfg config.QuoteConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		src:    src,
		window: cfg.FreshnessWindow,
		logger: logger,
	}
}

// Quote 读取最新快照并计算预期产出。快照缺失或超窗时返回
// ErrStaleMarketData，由调用方决定过期是否致命。
func (e *Engine) Quote(mint string, side Side, amount uint64) (Quote, error) {
	if mint == "" {
		return Quote{}, errors.New("quote: mint 不能为空")
	}
	if !side.Valid() {
		return Quote{}, fmt.Errorf("quote: 非法方向 %q", side)
	}
	if amount == 0 {
		return Quote{}, errors.New("quote: 数量必须大于0")
	}

	snap, ok := e.src.Latest(mint)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s 无行情快照", ErrStaleMarketData, mint)
	}

	now := time.Now().UTC()
	if snap.Stale || snap.Age(now) > e.window {
		return Quote{}, fmt.Errorf("%w: %s 快照已超出新鲜窗口 %s", ErrStaleMarketData, mint, e.window)
	}

	vSol := snap.Tick.VirtualSolReserves
	vTok := snap.Tick.VirtualTokenReserves

	q := Quote{
		Mint:          mint,
		Side:          side,
		AmountIn:      amount,
		Slot:          snap.Tick.Slot,
		Sequence:      snap.Tick.Sequence,
		SnapshotAt:    snap.Tick.ReceivedAt,
		SnapshotStale: snap.Stale,
		SpotPrice:     spotPrice(vSol, vTok),
	}

	switch side {
	case SideBuy:
		out, err := buyTokensOut(vSol, vTok, amount)
		if err != nil {
			return Quote{}, fmt.Errorf("quote: %w", err)
		}
		if out == 0 {
			return Quote{}, errors.New("quote: 预期产出为0")
		}
		q.ExpectedOut = out
		q.FeeLamports = venueFee(amount)
		q.ExecPrice = decimal.NewFromUint64(amount).Div(decimal.NewFromUint64(out))
	case SideSell:
		gross, err := sellSolOut(vSol, vTok, amount)
		if err != nil {
			return Quote{}, fmt.Errorf("quote: %w", err)
		}
		if gross == 0 {
			return Quote{}, errors.New("quote: 预期产出为0")
		}
		fee := venueFee(gross)
		q.FeeLamports = fee
		q.ExpectedOut = gross - fee
		q.ExecPrice = decimal.NewFromUint64(gross).Div(decimal.NewFromUint64(amount))
	}

	return q, nil
}

func spotPrice(vSol, vTok uint64) decimal.Decimal {
	if vTok == 0 {
		return decimal.Zero
	}
	return decimal.NewFromUint64(vSol).Div(decimal.NewFromUint64(vTok))
}
