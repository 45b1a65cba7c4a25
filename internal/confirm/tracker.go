package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"pump-trader/internal/chain"
	"pump-trader/internal/quote"
	"pump-trader/internal/submit"
	"pump-trader/internal/txbuild"
)

// statusSource 是追踪器依赖的链上查询能力。
type statusSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (chain.TxStatus, error)
	ExecutedAmounts(ctx context.Context, sig solana.Signature, owner, mint solana.PublicKey) (chain.Execution, error)
}

// Outcome 是一次提交的终态裁定结果。
// Status 只会是 Landed、Rejected、Expired 三者之一。
type Outcome struct {
	Status      submit.Status
	Slot        uint64
	Execution   chain.Execution
	ReconcileOK bool
	Note        string
}

// Tracker 负责把 Submitted 状态推进到终态：
// 确认最终落块、判定过期，并把链上实际执行量与报价对账。
// 对账只记录差异，从不回滚已落块的交易。
type Tracker struct {
	src      statusSource
	interval time.Duration
	logger   *zap.Logger
}

// NewTracker 创建确认追踪器。
func NewTracker(src statusSource, interval time.Duration, logger *zap.Logger) (*Tracker, error) {
	if src == nil {
		return nil, errors.New("confirm: 链上查询源不能为空")
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		src:      src,
		interval: interval,
		logger:   logger,
	}, nil
}

// Track 轮询签名状态直至终态。上下文取消时停止查询并按过期处理，
// 因为无法再确认该交易是否生效。查询失败不改变交易命运：
// 记录后继续轮询，直到确认落块或确认越过失效高度为止。
func (t *Tracker) Track(ctx context.Context, signed txbuild.SignedTx, q quote.Quote, owner solana.PublicKey) (Outcome, error) {
	mint, err := solana.PublicKeyFromBase58(q.Mint)
	if err != nil {
		return Outcome{}, fmt.Errorf("confirm: mint 地址非法: %w", err)
	}

	for {
		if ctx.Err() != nil {
			t.logger.Warn("追踪被取消，按过期处理",
				zap.String("signature", signed.Signature.String()),
			)
			return Outcome{Status: submit.StatusExpired, Note: "追踪被取消"}, nil
		}

		status, err := t.src.SignatureStatus(ctx, signed.Signature)
		switch {
		case err != nil:
			t.logger.Warn("查询签名状态失败，继续轮询",
				zap.String("signature", signed.Signature.String()),
				zap.Error(err),
			)

		case status.Known && status.Failed:
			t.logger.Warn("交易落块但执行失败",
				zap.String("signature", signed.Signature.String()),
				zap.Uint64("slot", status.Slot),
			)
			return Outcome{
				Status: submit.StatusRejected,
				Slot:   status.Slot,
				Note:   "交易在链上执行失败",
			}, nil

		case status.Known && status.Finalized:
			return t.reconcile(ctx, signed, q, owner, mint), nil

		case !status.Known:
			height, err := t.src.CurrentHeight(ctx)
			if err != nil {
				t.logger.Warn("查询区块高度失败，继续轮询",
					zap.String("signature", signed.Signature.String()),
					zap.Error(err),
				)
			} else if height > signed.ExpiryHeight {
				t.logger.Info("交易过期未落块",
					zap.String("signature", signed.Signature.String()),
					zap.Uint64("expiry_height", signed.ExpiryHeight),
					zap.Uint64("height", height),
				)
				return Outcome{Status: submit.StatusExpired, Note: "超过失效高度仍未落块"}, nil
			}
		}

		timer := time.NewTimer(t.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// reconcile 读取余额差并与报价对账。差异只影响 ReconcileOK 与 Note，
// 不改变 Landed 判定；读取失败同理，落块已确认，缺的只是对账数据。
func (t *Tracker) reconcile(ctx context.Context, signed txbuild.SignedTx, q quote.Quote, owner, mint solana.PublicKey) Outcome {
	exec, err := t.src.ExecutedAmounts(ctx, signed.Signature, owner, mint)
	if err != nil {
		t.logger.Warn("读取链上执行量失败",
			zap.String("signature", signed.Signature.String()),
			zap.Error(err),
		)
		return Outcome{
			Status: submit.StatusLanded,
			Note:   fmt.Sprintf("无法读取链上执行量: %v", err),
		}
	}

	outcome := Outcome{
		Status:    submit.StatusLanded,
		Slot:      exec.Slot,
		Execution: exec,
	}

	switch q.Side {
	case quote.SideBuy:
		if exec.TokenDelta == int64(q.ExpectedOut) {
			outcome.ReconcileOK = true
		} else {
			outcome.Note = fmt.Sprintf("买入对账差异: 预期 %d 实际 %d", q.ExpectedOut, exec.TokenDelta)
		}
	case quote.SideSell:
		// SolDelta 已扣除网络费与小费，补回后才是场所实付额。
		received := exec.SolDelta + int64(exec.FeeLamports) + int64(signed.TipLamports)
		if received == int64(q.ExpectedOut) {
			outcome.ReconcileOK = true
		} else {
			outcome.Note = fmt.Sprintf("卖出对账差异: 预期 %d 实际 %d", q.ExpectedOut, received)
		}
	}

	if !outcome.ReconcileOK {
		t.logger.Warn("对账存在差异",
			zap.String("signature", signed.Signature.String()),
			zap.String("note", outcome.Note),
		)
	}

	return outcome
}
