package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pump-trader/internal/ai"
	"pump-trader/internal/chain"
	"pump-trader/internal/confirm"
	"pump-trader/internal/config"
	"pump-trader/internal/ledger"
	"pump-trader/internal/market"
	"pump-trader/internal/monitor"
	"pump-trader/internal/quote"
	"pump-trader/internal/risk"
	"pump-trader/internal/store"
	"pump-trader/internal/submit"
	"pump-trader/internal/txbuild"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	input  io.Reader
	output io.Writer
}

// New 创建 App 实例。交易指令默认从标准输入读取。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		input:  os.Stdin,
		output: os.Stdout,
	}
}

// Run 组装全部组件并运行：行情接入与指令循环并行，
// 任一致命失败或退出信号都会带停另一方。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Strings("assets", a.cfg.Feed.Assets),
	)

	book, err := ledger.New(a.store.DB(), a.logger)
	if err != nil {
		return err
	}

	chainClient, err := chain.NewClient(a.cfg.Chain, a.logger)
	if err != nil {
		return err
	}

	ingester := market.NewIngester(a.cfg.Feed, a.logger)
	quotes := quote.NewEngine(ingester, a.cfg.Quote, a.logger)

	tip := txbuild.TipStrategy{
		Fixed: a.cfg.Relay.TipLamports,
		Bps:   a.cfg.Relay.TipBps,
		Max:   a.cfg.Relay.TipMaxLamports,
	}

	builder, err := txbuild.NewBuilder(a.cfg.Tx, chainClient, tip, a.cfg.Relay.TipAccounts, a.logger)
	if err != nil {
		return err
	}

	relay, err := submit.NewRelay(a.cfg.Relay.URL, a.logger)
	if err != nil {
		return err
	}
	submitter, err := submit.NewSubmitter(a.cfg.Relay, relay, chainClient, a.logger)
	if err != nil {
		return err
	}

	trackerSvc, err := confirm.NewTracker(chainClient, a.cfg.Relay.PollInterval, a.logger)
	if err != nil {
		return err
	}

	engine, err := NewEngine(EngineParams{
		Quotes:    quotes,
		Validator: risk.NewValidator(a.cfg.Quote.FreshnessWindow, tip.Size, a.logger),
		Builder:   builder,
		Simulator: chainClient,
		Submitter: submitter,
		Tracker:   trackerSvc,
		Book:      book,
		WalletKey: a.cfg.Wallet.PrivateKey,
		Simulate:  a.cfg.Tx.Simulate,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	aiClient, err := ai.NewClient(a.cfg.OpenAI, book, a.logger)
	if err != nil {
		return err
	}

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, monitorSvc, a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	g.Go(func() error {
		return ingester.Run(ctx)
	})
	g.Go(func() error {
		return a.consumeTicks(ctx, ingester, monitorSvc)
	})
	g.Go(func() error {
		return a.commandLoop(ctx, aiClient, engine, monitorSvc)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("系统已停止")
	return nil
}

// consumeTicks 消费行情更新，发现序列跳变时留监控痕迹。
// 这个循环同时承担背压出口：不消费，接入层的读循环就会停摆。
func (a *App) consumeTicks(ctx context.Context, ingester *market.Ingester, monitorSvc *monitor.Service) error {
	lastSeq := make(map[string]uint64)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-ingester.Updates():
			if !ok {
				return nil
			}
			if prev, seen := lastSeq[tick.Mint]; seen && tick.Sequence > prev+1 {
				a.logger.Warn("行情序列跳变",
					zap.String("mint", tick.Mint),
					zap.Uint64("from", prev),
					zap.Uint64("to", tick.Sequence),
				)
				monitorSvc.RecordFeedGap(ctx, tick.Mint, prev, tick.Sequence)
			}
			lastSeq[tick.Mint] = tick.Sequence
		}
	}
}

// commandLoop 逐行读取自然语言指令并执行。
// 输入流关闭或上下文取消时退出。
func (a *App) commandLoop(ctx context.Context, aiClient *ai.Client, engine *Engine, monitorSvc *monitor.Service) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.input)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				a.logger.Info("指令输入流已关闭")
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			a.handleCommand(ctx, aiClient, engine, monitorSvc, line)
		}
	}
}

func (a *App) handleCommand(ctx context.Context, aiClient *ai.Client, engine *Engine, monitorSvc *monitor.Service, line string) {
	intent, err := aiClient.ParseIntent(ctx, line)
	if err != nil {
		a.logger.Error("解析指令失败", zap.Error(err))
		fmt.Fprintf(a.output, "指令无法执行: %v\n", err)
		return
	}
	monitorSvc.RecordIntent(ctx, intent)

	result, err := engine.Execute(ctx, intent)
	if err != nil {
		a.logger.Warn("交易未执行",
			zap.String("mint", intent.Mint),
			zap.Error(err),
		)
		monitorSvc.RecordError(ctx, "交易未执行", err, map[string]interface{}{
			"mint": intent.Mint,
			"side": string(intent.Side),
		})
		fmt.Fprintf(a.output, "交易未执行: %v\n", err)
		return
	}
	monitorSvc.RecordTrade(ctx, result.Digest())

	narration, err := aiClient.Narrate(ctx, result.Digest())
	if err != nil {
		a.logger.Warn("结果叙述失败", zap.Error(err))
		narration = fmt.Sprintf("交易 %s 终态 %s，签名 %s", intent.Mint, result.Status, result.Signature)
	}
	fmt.Fprintln(a.output, narration)
}
