package txbuild

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"pump-trader/internal/chain"
	"pump-trader/internal/config"
	"pump-trader/internal/quote"
	"pump-trader/internal/risk"
)

// ErrBuild 标记构建阶段的失败，此类失败不产生任何链上副作用。
var ErrBuild = errors.New("txbuild: 构建交易失败")

// anchorSource 提供交易生命周期锚点。
type anchorSource interface {
	LatestAnchor(ctx context.Context) (chain.Anchor, error)
}

// SignedTx 是一笔已签名、待提交的交易及其生命周期信息。
type SignedTx struct {
	Tx           *solana.Transaction
	Signature    solana.Signature
	Blockhash    solana.Hash
	ExpiryHeight uint64
	TipLamports  uint64
}

// Builder 把通过校验的意图物化为已签名交易。
// 签名私钥按次传入，不在任何字段上常驻。
type Builder struct {
	cfg         config.TxConfig
	anchors     anchorSource
	tip         TipStrategy
	tipAccounts []solana.PublicKey
	logger      *zap.Logger
}

// NewBuilder 创建交易构建器。tipAccounts 为中继的小费收款账户池。
func NewBuilder(cfg config.TxConfig, anchors anchorSource, tip TipStrategy, tipAccounts []string, logger *zap.Logger) (*Builder, error) {
	if anchors == nil {
		return nil, errors.New("txbuild: anchors 不能为空")
	}
	if len(tipAccounts) == 0 {
		return nil, errors.New("txbuild: tip_accounts 至少包含一个账户")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool := make([]solana.PublicKey, 0, len(tipAccounts))
	for _, a := range tipAccounts {
		key, err := solana.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("txbuild: 小费账户 %q 非法: %w", a, err)
		}
		pool = append(pool, key)
	}

	return &Builder{
		cfg:         cfg,
		anchors:     anchors,
		tip:         tip,
		tipAccounts: pool,
		logger:      logger,
	}, nil
}

// Tip 返回构建器采用的小费策略。
func (b *Builder) Tip() TipStrategy {
	return b.tip
}

// Build 根据已校验的意图与报价构建并签名一笔交易。
// 交易锚定在构建时刻的最新 blockhash 上，超过 ExpiryHeight 即失效。
func (b *Builder) Build(ctx context.Context, v risk.Validated, accounts CurveAccounts, signerKey solana.PrivateKey) (SignedTx, error) {
	signer := signerKey.PublicKey()

	userATA, _, err := solana.FindAssociatedTokenAddress(signer, accounts.Mint)
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: 推导用户代币账户失败: %v", ErrBuild, err)
	}

	anchor, err := b.anchors.LatestAnchor(ctx)
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	isBuy := v.Quote.Side == quote.SideBuy
	data, err := b.swapDataFor(v)
	if err != nil {
		return SignedTx{}, err
	}

	tipLamports := b.tip.Size(v.Quote.AmountIn)
	tipAccount := b.tipAccounts[rand.Intn(len(b.tipAccounts))]

	instructions := []solana.Instruction{
		computeBudgetInstruction(computeUnitLimitData(b.cfg.ComputeUnitLimit)),
	}
	if b.cfg.ComputeUnitPrice > 0 {
		instructions = append(instructions, computeBudgetInstruction(computeUnitPriceData(b.cfg.ComputeUnitPrice)))
	}
	if isBuy {
		instructions = append(instructions, createATAIdempotent(signer, signer, accounts.Mint, userATA))
	}
	instructions = append(instructions, swapInstruction(accounts, userATA, signer, isBuy, data))
	if tipLamports > 0 {
		instructions = append(instructions,
			system.NewTransferInstruction(tipLamports, signer, tipAccount).Build())
	}

	tx, err := solana.NewTransaction(instructions, anchor.Blockhash, solana.TransactionPayer(signer))
	if err != nil {
		return SignedTx{}, fmt.Errorf("%w: %v", ErrBuild, err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer) {
			return &signerKey
		}
		return nil
	}); err != nil {
		return SignedTx{}, fmt.Errorf("%w: 签名失败: %v", ErrBuild, err)
	}

	b.logger.Info("交易构建完成",
		zap.String("mint", v.Quote.Mint),
		zap.String("side", string(v.Quote.Side)),
		zap.String("signature", tx.Signatures[0].String()),
		zap.Uint64("expiry_height", anchor.ExpiryHeight),
		zap.Uint64("tip_lamports", tipLamports),
	)

	return SignedTx{
		Tx:           tx,
		Signature:    tx.Signatures[0],
		Blockhash:    anchor.Blockhash,
		ExpiryHeight: anchor.ExpiryHeight,
		TipLamports:  tipLamports,
	}, nil
}

// swapDataFor 生成指令数据。SOL 侧边界由报价与意图滑点共同决定：
// 买入为本金加滑点余量加场所费的上限，卖出为预期产出按滑点折减的下限。
func (b *Builder) swapDataFor(v risk.Validated) ([]byte, error) {
	q := v.Quote
	switch q.Side {
	case quote.SideBuy:
		allowance := q.AmountIn / 10_000 * v.Intent.MaxSlippageBps
		allowance += q.AmountIn % 10_000 * v.Intent.MaxSlippageBps / 10_000
		maxCost := q.AmountIn
		for _, add := range []uint64{allowance, q.FeeLamports} {
			if maxCost > math.MaxUint64-add {
				return nil, fmt.Errorf("%w: SOL 上限溢出", ErrBuild)
			}
			maxCost += add
		}
		return swapData(buyDiscriminator, q.ExpectedOut, maxCost), nil

	case quote.SideSell:
		keepBps := 10_000 - v.Intent.MaxSlippageBps
		minOut := q.ExpectedOut / 10_000 * keepBps
		minOut += q.ExpectedOut % 10_000 * keepBps / 10_000
		return swapData(sellDiscriminator, q.AmountIn, minOut), nil

	default:
		return nil, fmt.Errorf("%w: 未知方向 %s", ErrBuild, q.Side)
	}
}
