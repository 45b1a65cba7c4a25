package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"pump-trader/internal/config"
)

// rpcAPI 收敛本包用到的 RPC 节点能力，便于测试替换。
type rpcAPI interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// Anchor 是交易的生命周期锚点：基于哪个 blockhash 构建，
// 以及超过哪个区块高度后该交易必然失效。
type Anchor struct {
	Blockhash    solana.Hash
	ExpiryHeight uint64
}

// TxStatus 是签名状态查询的归一化结果。
type TxStatus struct {
	Known     bool
	Finalized bool
	Failed    bool
	Slot      uint64
}

// Execution 是最终落块交易的实际执行结果，来自链上余额差。
type Execution struct {
	Slot        uint64
	FeeLamports uint64
	// SolDelta 为签名者 SOL 余额变化（含网络费与小费），
	// TokenDelta 为签名者在目标 mint 上的余额变化（最小单位）。
	SolDelta   int64
	TokenDelta int64
	Failed     bool
}

// Client 封装链上 RPC 访问，读路径带统一重试。
type Client struct {
	cfg        config.ChainConfig
	api        rpcAPI
	commitment rpc.CommitmentType
	logger     *zap.Logger
}

// NewClient 创建 RPC 客户端。
func NewClient(cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("chain: rpc_url 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		cfg:        cfg,
		api:        rpc.New(cfg.RPCURL),
		commitment: commitmentFromString(cfg.Commitment),
		logger:     logger,
	}, nil
}

func commitmentFromString(s string) rpc.CommitmentType {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// LatestAnchor 获取最新 blockhash 及其失效高度。
func (c *Client) LatestAnchor(ctx context.Context) (Anchor, error) {
	var anchor Anchor
	err := c.callWithRetry(ctx, "get_latest_blockhash", func() error {
		out, err := c.api.GetLatestBlockhash(ctx, c.commitment)
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return errors.New("节点返回空 blockhash")
		}
		anchor = Anchor{
			Blockhash:    out.Value.Blockhash,
			ExpiryHeight: out.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		return Anchor{}, fmt.Errorf("获取blockhash失败: %w", err)
	}
	return anchor, nil
}

// CurrentHeight 返回当前区块高度。
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.callWithRetry(ctx, "get_block_height", func() error {
		h, err := c.api.GetBlockHeight(ctx, c.commitment)
		if err != nil {
			return err
		}
		height = h
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("获取区块高度失败: %w", err)
	}
	return height, nil
}

// Simulate 对已签名交易做一次模拟执行，失败时返回 ErrSimulationFailed。
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) error {
	return c.callWithRetry(ctx, "simulate_transaction", func() error {
		out, err := c.api.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
			Commitment: c.commitment,
		})
		if err != nil {
			return err
		}
		if out != nil && out.Value != nil && out.Value.Err != nil {
			c.logger.Warn("交易模拟失败",
				zap.Any("err", out.Value.Err),
				zap.Strings("logs", out.Value.Logs),
			)
			return fmt.Errorf("%w: %v", ErrSimulationFailed, out.Value.Err)
		}
		return nil
	})
}

// Send 直接向 RPC 节点广播交易，不做重试。
// 重提交的节奏与边界由提交器控制，这里只负责单次发送。
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.api.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("广播交易失败: %w", err)
	}
	return sig, nil
}

// SignatureStatus 查询单个签名的归一化状态。
// 节点未收录该签名时返回 Known=false 而非错误。
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (TxStatus, error) {
	var status TxStatus
	err := c.callWithRetry(ctx, "get_signature_statuses", func() error {
		out, err := c.api.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			status = TxStatus{}
			return nil
		}

		v := out.Value[0]
		status = TxStatus{
			Known:     true,
			Finalized: v.ConfirmationStatus == rpc.ConfirmationStatusFinalized,
			Failed:    v.Err != nil,
			Slot:      v.Slot,
		}
		return nil
	})
	if err != nil {
		return TxStatus{}, fmt.Errorf("查询签名状态失败: %w", err)
	}
	return status, nil
}

// ExecutedAmounts 读取最终落块交易的余额差，用于与报价对账。
// owner 为签名者地址（费支付账户位于账户表第0位），mint 为目标代币。
func (c *Client) ExecutedAmounts(ctx context.Context, sig solana.Signature, owner solana.PublicKey, mint solana.PublicKey) (Execution, error) {
	maxVersion := uint64(0)
	var exec Execution

	err := c.callWithRetry(ctx, "get_transaction", func() error {
		out, err := c.api.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Commitment:                     rpc.CommitmentFinalized,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			return err
		}
		if out == nil || out.Meta == nil {
			return fmt.Errorf("%w: 交易 %s", ErrNotFound, sig)
		}

		parsed, err := executionFromMeta(out.Slot, out.Meta, owner, mint)
		if err != nil {
			return err
		}
		exec = parsed
		return nil
	})
	if err != nil {
		return Execution{}, fmt.Errorf("读取交易执行结果失败: %w", err)
	}
	return exec, nil
}

func executionFromMeta(slot uint64, meta *rpc.TransactionMeta, owner solana.PublicKey, mint solana.PublicKey) (Execution, error) {
	if len(meta.PreBalances) == 0 || len(meta.PostBalances) == 0 {
		return Execution{}, errors.New("交易元数据缺少余额信息")
	}

	exec := Execution{
		Slot:        slot,
		FeeLamports: meta.Fee,
		SolDelta:    int64(meta.PostBalances[0]) - int64(meta.PreBalances[0]),
		Failed:      meta.Err != nil,
	}

	pre, err := tokenAmount(meta.PreTokenBalances, owner, mint)
	if err != nil {
		return Execution{}, err
	}
	post, err := tokenAmount(meta.PostTokenBalances, owner, mint)
	if err != nil {
		return Execution{}, err
	}
	exec.TokenDelta = int64(post) - int64(pre)

	return exec, nil
}

// tokenAmount 在余额表中定位 owner 持有的 mint 余额，找不到按0处理
// （买入前 ATA 尚不存在时就是这种情况）。
func tokenAmount(balances []rpc.TokenBalance, owner solana.PublicKey, mint solana.PublicKey) (uint64, error) {
	for _, b := range balances {
		if b.Mint != mint {
			continue
		}
		if b.Owner == nil || !b.Owner.Equals(owner) {
			continue
		}
		if b.UiTokenAmount == nil {
			return 0, errors.New("代币余额缺少数量字段")
		}
		amount, err := strconv.ParseUint(b.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("解析代币余额失败: %w", err)
		}
		return amount, nil
	}
	return 0, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("RPC调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := classifyError(err)
		if !retry || attempt >= maxAttempts {
			c.logger.Error("RPC调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("RPC调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
