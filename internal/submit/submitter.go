package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"pump-trader/internal/config"
	"pump-trader/internal/txbuild"
)

// relayAPI 是提交器依赖的中继能力。
type relayAPI interface {
	SendBundle(ctx context.Context, txs []string) (string, error)
	BundleStatuses(ctx context.Context, bundleID string) (BundleStatus, error)
}

// broadcaster 是降级路径与高度查询依赖的链上能力。
type broadcaster interface {
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	CurrentHeight(ctx context.Context) (uint64, error)
}

// Submitter 负责把已签名交易交付出口。
// 它把状态从 Built 推进到 Submitted，或在交付失败时给出
// Rejected/Expired；落块与否由确认追踪器裁定，这里不做。
// 所有重试都以交易的失效高度为硬边界：高度一过，绝不再发。
type Submitter struct {
	cfg    config.RelayConfig
	relay  relayAPI
	chain  broadcaster
	logger *zap.Logger
}

// NewSubmitter 创建提交器。
func NewSubmitter(cfg config.RelayConfig, relay relayAPI, chain broadcaster, logger *zap.Logger) (*Submitter, error) {
	if relay == nil {
		return nil, errors.New("submit: relay 不能为空")
	}
	if chain == nil {
		return nil, errors.New("submit: chain 不能为空")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.LandingWait <= 0 {
		cfg.LandingWait = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		cfg:    cfg,
		relay:  relay,
		chain:  chain,
		logger: logger,
	}, nil
}

// Submit 交付一笔已签名交易。优先走中继，在失效高度内做有限次
// 重试；中继路径耗尽后降级为直连广播。同一签名重复交付是安全的，
// 链上去重保证至多一次生效。
func (s *Submitter) Submit(ctx context.Context, signed txbuild.SignedTx) (Result, error) {
	result := Result{
		Signature: signed.Signature,
		Status:    StatusBuilt,
	}

	bin, err := signed.Tx.MarshalBinary()
	if err != nil {
		return result, fmt.Errorf("submit: 序列化交易失败: %w", err)
	}
	encoded := base58.Encode(bin)

	handedOff := false
	delay := s.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := s.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := s.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	expired := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return s.conclude(result, handedOff), nil
		}

		beyond, err := s.beyondExpiry(ctx, signed.ExpiryHeight)
		if err != nil {
			// 高度未知就不能确认未过期，本轮不发，退避后重查。
			s.logger.Warn("查询区块高度失败，跳过本轮交付",
				zap.String("signature", signed.Signature.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if !s.sleep(ctx, delay) {
				return s.conclude(result, handedOff), nil
			}
			delay = nextDelay(delay, maxDelay)
			continue
		}
		if beyond {
			expired = true
			break
		}

		rec := Attempt{
			Signature:   signed.Signature,
			Route:       RouteRelay,
			SubmittedAt: time.Now().UTC(),
		}

		bundleID, err := s.relay.SendBundle(ctx, []string{encoded})
		if err != nil {
			rec.Note = err.Error()
			result.Attempts = append(result.Attempts, rec)
			s.logger.Warn("中继提交失败",
				zap.String("signature", signed.Signature.String()),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if !s.sleep(ctx, delay) {
				return s.conclude(result, handedOff), nil
			}
			delay = nextDelay(delay, maxDelay)
			continue
		}

		handedOff = true
		rec.Accepted = true
		rec.BundleID = bundleID
		result.Attempts = append(result.Attempts, rec)
		s.logger.Info("bundle已提交",
			zap.String("signature", signed.Signature.String()),
			zap.String("bundle_id", bundleID),
			zap.Int("attempt", attempt),
		)

		if landed := s.awaitBundle(ctx, bundleID, signed.ExpiryHeight); landed {
			result.Status = StatusSubmitted
			result.Route = RouteRelay
			return result, nil
		}
	}

	if !expired {
		beyond, err := s.beyondExpiry(ctx, signed.ExpiryHeight)
		if err != nil {
			// 无法确认仍在失效高度内，放弃降级直连并收束状态。
			s.logger.Warn("查询区块高度失败，停止交付",
				zap.String("signature", signed.Signature.String()),
				zap.Error(err),
			)
			return s.conclude(result, handedOff), nil
		}
		expired = beyond
	}

	if expired {
		return s.conclude(result, handedOff), nil
	}

	// 中继路径耗尽，降级直连。
	rec := Attempt{
		Signature:   signed.Signature,
		Route:       RouteDirect,
		SubmittedAt: time.Now().UTC(),
	}
	if _, err := s.chain.Send(ctx, signed.Tx); err != nil {
		rec.Note = err.Error()
		result.Attempts = append(result.Attempts, rec)
		s.logger.Error("直连广播失败",
			zap.String("signature", signed.Signature.String()),
			zap.Error(err),
		)
		if handedOff {
			// 中继已受理过，交易可能仍会落块，留给追踪器裁定。
			result.Status = StatusSubmitted
			result.Route = RouteRelay
			return result, nil
		}
		result.Status = StatusRejected
		return result, nil
	}

	rec.Accepted = true
	result.Attempts = append(result.Attempts, rec)
	result.Status = StatusSubmitted
	result.Route = RouteDirect
	s.logger.Info("已降级直连广播",
		zap.String("signature", signed.Signature.String()),
	)
	return result, nil
}

// conclude 在过期或取消时收束状态：已交付过就交给追踪器，
// 从未交付则直接判定过期。
func (s *Submitter) conclude(result Result, handedOff bool) Result {
	if handedOff {
		result.Status = StatusSubmitted
		result.Route = RouteRelay
		return result
	}
	result.Status = StatusExpired
	return result
}

// awaitBundle 在落块等待窗口内轮询 bundle 状态。
// 窗口耗尽、超过失效高度或上下文取消时返回未落块。
// 查询失败只记录，等待窗口本身就是轮询的硬边界。
func (s *Submitter) awaitBundle(ctx context.Context, bundleID string, expiryHeight uint64) bool {
	deadline := time.Now().Add(s.cfg.LandingWait)

	for {
		if err := ctx.Err(); err != nil {
			return false
		}
		if time.Now().After(deadline) {
			return false
		}

		beyond, err := s.beyondExpiry(ctx, expiryHeight)
		if err != nil {
			s.logger.Warn("查询区块高度失败，继续等待落块",
				zap.String("bundle_id", bundleID),
				zap.Error(err),
			)
		} else if beyond {
			return false
		}

		status, err := s.relay.BundleStatuses(ctx, bundleID)
		if err != nil {
			s.logger.Warn("查询bundle状态失败",
				zap.String("bundle_id", bundleID),
				zap.Error(err),
			)
		} else if status.Landed {
			return true
		}

		if !s.sleep(ctx, s.cfg.PollInterval) {
			return false
		}
	}
}

func (s *Submitter) beyondExpiry(ctx context.Context, expiryHeight uint64) (bool, error) {
	height, err := s.chain.CurrentHeight(ctx)
	if err != nil {
		return false, fmt.Errorf("submit: 查询区块高度失败: %w", err)
	}
	return height > expiryHeight, nil
}

func (s *Submitter) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}
