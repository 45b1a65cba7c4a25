package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pump-trader/internal/config"
)

var (
	// ErrFeedUnavailable 表示在有限次重连内未能建立行情连接。
	// 依赖方应将其视为数据过期，而非硬失败。
	ErrFeedUnavailable = errors.New("market feed unavailable")
)

// Ingester 维护每个币种的行情订阅，将推送按序列号写入快照缓存，
// 并向下游广播有效行情。
type Ingester struct {
	cfg    config.FeedConfig
	logger *zap.Logger
	cache  *Cache

	mu     sync.Mutex
	assets map[string]struct{}
	conn   *websocket.Conn

	updates chan Tick
}

// NewIngester 创建行情采集器，cfg.Assets 中的币种在启动时自动订阅。
func NewIngester(cfg config.FeedConfig, logger *zap.Logger) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}

	assets := make(map[string]struct{}, len(cfg.Assets))
	for _, mint := range cfg.Assets {
		assets[mint] = struct{}{}
	}

	return &Ingester{
		cfg:     cfg,
		logger:  logger,
		cache:   NewCache(),
		assets:  assets,
		updates: make(chan Tick, bufferSize),
	}
}

// Latest 返回币种的最新快照。
func (i *Ingester) Latest(mint string) (Snapshot, bool) {
	return i.cache.Latest(mint)
}

// Updates 返回推送通道。通道为有界缓冲，消费过慢会反压读取循环，
// 而不是无限堆积。
func (i *Ingester) Updates() <-chan Tick {
	return i.updates
}

// Subscribe 将币种加入订阅集合；若当前已连接则立即下发订阅。
func (i *Ingester) Subscribe(mint string) error {
	if mint == "" {
		return errors.New("market: mint 不能为空")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.assets[mint]; ok {
		return nil
	}
	i.assets[mint] = struct{}{}

	if i.conn != nil {
		if err := i.conn.WriteJSON(subscribeMessage{Method: "subscribe", Asset: mint}); err != nil {
			return fmt.Errorf("market: 下发订阅失败: %w", err)
		}
	}
	return nil
}

// Unsubscribe 将币种移出订阅集合。
func (i *Ingester) Unsubscribe(mint string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.assets[mint]; !ok {
		return nil
	}
	delete(i.assets, mint)

	if i.conn != nil {
		if err := i.conn.WriteJSON(subscribeMessage{Method: "unsubscribe", Asset: mint}); err != nil {
			return fmt.Errorf("market: 取消订阅失败: %w", err)
		}
	}
	return nil
}

// Run 以独立任务运行连接与读取循环，断连后按指数退避重连并恢复
// 全部订阅。连续失败超过 reconnect.max_attempts 时返回
// ErrFeedUnavailable，此时所有快照保持过期状态。
func (i *Ingester) Run(ctx context.Context) error {
	delay := i.cfg.Reconnect.MinDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := i.cfg.Reconnect.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 16 * time.Second
	}

	failures := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, i.cfg.URL, nil)
		if err != nil {
			failures++
			i.cache.MarkAllStale(time.Now().UTC())

			if failures >= i.cfg.Reconnect.MaxAttempts {
				i.logger.Error("行情连接重试耗尽",
					zap.String("url", i.cfg.URL),
					zap.Int("failures", failures),
					zap.Error(err),
				)
				return fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
			}

			i.logger.Warn("行情连接失败，等待重连",
				zap.String("url", i.cfg.URL),
				zap.Int("failures", failures),
				zap.Duration("wait", delay),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}

		failures = 0
		delay = i.cfg.Reconnect.MinDelay
		i.logger.Info("行情连接已建立", zap.String("url", i.cfg.URL))

		if err := i.resubscribe(conn); err != nil {
			i.logger.Warn("恢复订阅失败，准备重连", zap.Error(err))
			_ = conn.Close()
			i.cache.MarkAllStale(time.Now().UTC())
			continue
		}

		if err := i.readLoop(ctx, conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			i.logger.Warn("行情读取中断，准备重连", zap.Error(err))
		}

		i.setConn(nil)
		_ = conn.Close()
		i.cache.MarkAllStale(time.Now().UTC())

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (i *Ingester) resubscribe(conn *websocket.Conn) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for mint := range i.assets {
		if err := conn.WriteJSON(subscribeMessage{Method: "subscribe", Asset: mint}); err != nil {
			return fmt.Errorf("market: 订阅 %s 失败: %w", mint, err)
		}
	}
	i.conn = conn
	return nil
}

func (i *Ingester) setConn(conn *websocket.Conn) {
	i.mu.Lock()
	i.conn = conn
	i.mu.Unlock()
}

func (i *Ingester) readLoop(ctx context.Context, conn *websocket.Conn) error {
	readTimeout := i.cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 20 * time.Second
	}

	for {
		if ctx.Err() != nil {
			return context.Canceled
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("market: 设置读超时失败: %w", err)
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("market: 读取行情消息失败: %w", err)
		}

		tick, err := parseTick(payload, time.Now().UTC())
		if err != nil {
			i.logger.Warn("丢弃无法解析的行情消息", zap.Error(err))
			continue
		}

		if !i.subscribed(tick.Mint) {
			continue
		}

		if !i.cache.Apply(tick) {
			// 乱序或重复推送，静默丢弃。
			continue
		}

		select {
		case i.updates <- tick:
		case <-ctx.Done():
			return context.Canceled
		}
	}
}

func (i *Ingester) subscribed(mint string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	_, ok := i.assets[mint]
	return ok
}
