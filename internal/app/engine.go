package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"pump-trader/internal/ai"
	"pump-trader/internal/confirm"
	"pump-trader/internal/ledger"
	"pump-trader/internal/quote"
	"pump-trader/internal/risk"
	"pump-trader/internal/submit"
	"pump-trader/internal/txbuild"
)

// Engine 依赖的各阶段能力，均以消费方接口收敛，便于测试替换。
type quoter interface {
	Quote(mint string, side quote.Side, amount uint64) (quote.Quote, error)
}

type validator interface {
	Validate(intent ai.TradeIntent, q quote.Quote, now time.Time) (risk.Validated, error)
}

type builder interface {
	Build(ctx context.Context, v risk.Validated, accounts txbuild.CurveAccounts, signerKey solana.PrivateKey) (txbuild.SignedTx, error)
}

type simulator interface {
	Simulate(ctx context.Context, tx *solana.Transaction) error
}

type submitter interface {
	Submit(ctx context.Context, signed txbuild.SignedTx) (submit.Result, error)
}

type tracker interface {
	Track(ctx context.Context, signed txbuild.SignedTx, q quote.Quote, owner solana.PublicKey) (confirm.Outcome, error)
}

type book interface {
	LookupAsset(ctx context.Context, ref string) (ledger.Asset, error)
	Apply(ctx context.Context, r ledger.Record) error
}

// TradeResult 是一次意图执行的完整结果。
type TradeResult struct {
	Intent      ai.TradeIntent
	Quote       quote.Quote
	Wallet      string
	Signature   string
	Route       submit.Route
	Status      submit.Status
	ExecutedOut uint64
	TipLamports uint64
	ReconcileOK bool
	Note        string
	Attempts    []submit.Attempt
}

// Digest 把结果映射为 AI 叙述层的输入。
func (r TradeResult) Digest() ai.ResultDigest {
	return ai.ResultDigest{
		Mint:        r.Intent.Mint,
		Side:        string(r.Intent.Side),
		Status:      string(r.Status),
		AmountIn:    r.Quote.AmountIn,
		ExecutedOut: r.ExecutedOut,
		FeeLamports: r.Quote.FeeLamports,
		TipLamports: r.TipLamports,
		Attempts:    len(r.Attempts),
		Route:       string(r.Route),
		ReconcileOK: r.ReconcileOK,
		FailureNote: r.Note,
		TxSignature: r.Signature,
	}
}

// Engine 驱动单笔意图的全流程：报价、校验、构建、提交、确认、入账。
// 同一签名钱包的构建与提交互斥执行，保证 blockhash 锚点与
// 账户状态在这两步之间不被并发交易搅动。
type Engine struct {
	quotes    quoter
	validator validator
	builder   builder
	simulator simulator
	submitter submitter
	tracker   tracker
	book      book

	walletKey string
	simulate  bool

	signerMu sync.Mutex
	logger   *zap.Logger
}

// EngineParams 聚合 Engine 的依赖。
type EngineParams struct {
	Quotes    quoter
	Validator validator
	Builder   builder
	Simulator simulator
	Submitter submitter
	Tracker   tracker
	Book      book
	WalletKey string
	Simulate  bool
	Logger    *zap.Logger
}

// NewEngine 创建执行引擎。
func NewEngine(p EngineParams) (*Engine, error) {
	if p.Quotes == nil || p.Validator == nil || p.Builder == nil ||
		p.Submitter == nil || p.Tracker == nil || p.Book == nil {
		return nil, errors.New("app: 引擎依赖不完整")
	}
	if p.WalletKey == "" {
		return nil, errors.New("app: 钱包私钥不能为空")
	}
	if p.Simulate && p.Simulator == nil {
		return nil, errors.New("app: 开启模拟时需要 simulator")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}

	return &Engine{
		quotes:    p.Quotes,
		validator: p.Validator,
		builder:   p.Builder,
		simulator: p.Simulator,
		submitter: p.Submitter,
		tracker:   p.Tracker,
		book:      p.Book,
		walletKey: p.WalletKey,
		simulate:  p.Simulate,
		logger:    p.Logger,
	}, nil
}

// Execute 执行一笔交易意图直至终态并入账。
// 校验阶段的拒绝是纯函数行为：直接返回错误，不产生任何账目。
func (e *Engine) Execute(ctx context.Context, intent ai.TradeIntent) (TradeResult, error) {
	result := TradeResult{Intent: intent, Status: submit.StatusBuilt}

	q, err := e.quotes.Quote(intent.Mint, intent.Side, intent.Amount)
	if err != nil {
		return result, fmt.Errorf("报价失败: %w", err)
	}
	result.Quote = q

	validated, err := e.validator.Validate(intent, q, time.Now().UTC())
	if err != nil {
		return result, err
	}

	asset, err := e.book.LookupAsset(ctx, intent.Mint)
	if err != nil {
		return result, err
	}
	accounts, err := curveAccounts(asset)
	if err != nil {
		return result, err
	}

	// 私钥按次解码，作用域只覆盖构建与签名。
	signerKey, err := solana.PrivateKeyFromBase58(e.walletKey)
	if err != nil {
		return result, fmt.Errorf("解析钱包私钥失败: %w", err)
	}
	owner := signerKey.PublicKey()
	result.Wallet = owner.String()

	submitted, signed, err := e.buildAndSubmit(ctx, validated, accounts, signerKey)
	if err != nil {
		// 签名一旦完成，失败也必须以终态入账，不允许无痕丢弃。
		if signed.Signature.IsZero() {
			return result, err
		}
		result.Signature = signed.Signature.String()
		result.TipLamports = signed.TipLamports
		result.Status = submitted.Status
		result.Attempts = submitted.Attempts
		result.Note = err.Error()
		if recErr := e.record(ctx, result, time.Now().UTC(), 0, false, result.Note); recErr != nil {
			return result, recErr
		}
		return result, err
	}

	result.Signature = signed.Signature.String()
	result.TipLamports = signed.TipLamports
	result.Route = submitted.Route
	result.Status = submitted.Status
	result.Attempts = submitted.Attempts

	submittedAt := time.Now().UTC()

	if submitted.Status.Terminal() {
		// 未能交付出口：Expired 或 Rejected，直接入账留痕。
		if err := e.record(ctx, result, submittedAt, 0, false, noteFromAttempts(submitted.Attempts)); err != nil {
			return result, err
		}
		return result, nil
	}

	outcome, err := e.tracker.Track(ctx, signed, q, owner)
	if err != nil {
		result.Status = submit.StatusExpired
		result.Note = fmt.Sprintf("追踪失败: %v", err)
		if recErr := e.record(ctx, result, submittedAt, 0, false, result.Note); recErr != nil {
			return result, recErr
		}
		return result, err
	}

	result.Status = outcome.Status
	result.ReconcileOK = outcome.ReconcileOK
	result.Note = outcome.Note
	result.ExecutedOut = executedOut(q, signed, outcome)

	if err := e.record(ctx, result, submittedAt, result.ExecutedOut, outcome.ReconcileOK, outcome.Note); err != nil {
		return result, err
	}

	e.logger.Info("交易已终结",
		zap.String("mint", intent.Mint),
		zap.String("side", string(intent.Side)),
		zap.String("status", string(result.Status)),
		zap.String("signature", result.Signature),
	)
	return result, nil
}

// buildAndSubmit 在签名者互斥区内完成构建、可选模拟与提交。
// 签名之后的失败会连同已签名交易与终态一起返回，交由调用方入账：
// 模拟拒绝记为 Rejected，交付异常记为 Expired（从未离开本进程）。
func (e *Engine) buildAndSubmit(ctx context.Context, v risk.Validated, accounts txbuild.CurveAccounts, signerKey solana.PrivateKey) (submit.Result, txbuild.SignedTx, error) {
	e.signerMu.Lock()
	defer e.signerMu.Unlock()

	signed, err := e.builder.Build(ctx, v, accounts, signerKey)
	if err != nil {
		return submit.Result{}, txbuild.SignedTx{}, err
	}

	if e.simulate {
		if err := e.simulator.Simulate(ctx, signed.Tx); err != nil {
			return submit.Result{Signature: signed.Signature, Status: submit.StatusRejected}, signed, err
		}
	}

	submitted, err := e.submitter.Submit(ctx, signed)
	if err != nil {
		return submit.Result{Signature: signed.Signature, Status: submit.StatusExpired}, signed, err
	}
	return submitted, signed, nil
}

func (e *Engine) record(ctx context.Context, r TradeResult, submittedAt time.Time, executed uint64, reconcileOK bool, note string) error {
	return e.book.Apply(ctx, ledger.Record{
		Intent:      r.Intent,
		Quote:       r.Quote,
		Wallet:      r.Wallet,
		Signature:   r.Signature,
		Route:       r.Route,
		Status:      r.Status,
		TipLamports: r.TipLamports,
		ExecutedOut: executed,
		ReconcileOK: reconcileOK,
		Note:        note,
		SubmittedAt: submittedAt,
		FinalizedAt: time.Now().UTC(),
	})
}

func curveAccounts(a ledger.Asset) (txbuild.CurveAccounts, error) {
	mint, err := solana.PublicKeyFromBase58(a.Mint)
	if err != nil {
		return txbuild.CurveAccounts{}, fmt.Errorf("mint 地址非法: %w", err)
	}
	curve, err := solana.PublicKeyFromBase58(a.BondingCurve)
	if err != nil {
		return txbuild.CurveAccounts{}, fmt.Errorf("曲线账户非法: %w", err)
	}
	assoc, err := solana.PublicKeyFromBase58(a.AssociatedBondingCurve)
	if err != nil {
		return txbuild.CurveAccounts{}, fmt.Errorf("曲线代币账户非法: %w", err)
	}
	return txbuild.CurveAccounts{
		Mint:                   mint,
		BondingCurve:           curve,
		AssociatedBondingCurve: assoc,
	}, nil
}

// executedOut 从链上执行结果换算实际成交量。
func executedOut(q quote.Quote, signed txbuild.SignedTx, outcome confirm.Outcome) uint64 {
	if outcome.Status != submit.StatusLanded {
		return 0
	}
	switch q.Side {
	case quote.SideBuy:
		if outcome.Execution.TokenDelta > 0 {
			return uint64(outcome.Execution.TokenDelta)
		}
	case quote.SideSell:
		received := outcome.Execution.SolDelta + int64(outcome.Execution.FeeLamports) + int64(signed.TipLamports)
		if received > 0 {
			return uint64(received)
		}
	}
	return 0
}

func noteFromAttempts(attempts []submit.Attempt) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Note != "" {
			return attempts[i].Note
		}
	}
	return ""
}
