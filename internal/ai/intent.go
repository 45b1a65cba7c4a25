package ai

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pump-trader/internal/quote"
)

// TradeIntent 是 AI 指令层产出的强类型交易意图，发出后不可变。
// 买入时 Amount 为 lamports，卖出时为代币最小单位。
type TradeIntent struct {
	Mint             string     `json:"mint"`
	Side             quote.Side `json:"side"`
	Amount           uint64     `json:"amount"`
	MaxSlippageBps   uint64     `json:"max_slippage_bps"`
	MaxSpendLamports uint64     `json:"max_spend_lamports"`
	Caller           string     `json:"caller"`
	IssuedAt         time.Time  `json:"issued_at"`
}

// Validate 校验意图字段合法性。
func (i TradeIntent) Validate() error {
	if strings.TrimSpace(i.Mint) == "" {
		return errors.New("mint 不能为空")
	}
	if !i.Side.Valid() {
		return fmt.Errorf("side 字段取值非法: %s", i.Side)
	}
	if i.Amount == 0 {
		return errors.New("amount 必须大于0")
	}
	if i.MaxSlippageBps == 0 || i.MaxSlippageBps > 10_000 {
		return fmt.Errorf("max_slippage_bps 必须位于 (0,10000]，当前为 %d", i.MaxSlippageBps)
	}
	if i.MaxSpendLamports == 0 {
		return errors.New("max_spend_lamports 必须大于0")
	}
	return nil
}

// ResultDigest 是交给模型叙述的终态摘要，由上层从 TradeResult 映射而来。
type ResultDigest struct {
	Mint         string `json:"mint"`
	Side         string `json:"side"`
	Status       string `json:"status"`
	AmountIn     uint64 `json:"amount_in"`
	ExecutedOut  uint64 `json:"executed_out"`
	FeeLamports  uint64 `json:"fee_lamports"`
	TipLamports  uint64 `json:"tip_lamports"`
	Attempts     int    `json:"attempts"`
	Route        string `json:"route"`
	ReconcileOK  bool   `json:"reconcile_ok"`
	FailureNote  string `json:"failure_note,omitempty"`
	TxSignature  string `json:"tx_signature,omitempty"`
}
