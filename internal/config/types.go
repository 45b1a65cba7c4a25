package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Tx       TxConfig       `mapstructure:"tx"`
	Quote    QuoteConfig    `mapstructure:"quote"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// FeedConfig 描述行情推送连接信息。
type FeedConfig struct {
	URL         string        `mapstructure:"url"`
	Assets      []string      `mapstructure:"assets"`
	BufferSize  int           `mapstructure:"buffer_size"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	Reconnect   RetryConfig   `mapstructure:"reconnect"`
}

// ChainConfig 描述链上 RPC 节点连接信息。
type ChainConfig struct {
	RPCURL     string      `mapstructure:"rpc_url"`
	Commitment string      `mapstructure:"commitment"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RelayConfig 控制防抢跑中继的提交路径。
type RelayConfig struct {
	URL            string        `mapstructure:"url"`
	TipAccounts    []string      `mapstructure:"tip_accounts"`
	TipLamports    uint64        `mapstructure:"tip_lamports"`
	TipBps         uint64        `mapstructure:"tip_bps"`
	TipMaxLamports uint64        `mapstructure:"tip_max_lamports"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	LandingWait    time.Duration `mapstructure:"landing_wait"`
	Retry          RetryConfig   `mapstructure:"retry"`
}

// TxConfig 控制交易构建参数。
type TxConfig struct {
	ComputeUnitLimit uint32 `mapstructure:"compute_unit_limit"`
	ComputeUnitPrice uint64 `mapstructure:"compute_unit_price"`
	Simulate         bool   `mapstructure:"simulate"`
}

// QuoteConfig 控制报价引擎行为。
type QuoteConfig struct {
	FreshnessWindow time.Duration `mapstructure:"freshness_window"`
}

// WalletConfig 描述签名钱包。私钥只在构建交易时按需取用，不常驻在组件内。
type WalletConfig struct {
	Address    string `mapstructure:"address"`
	PrivateKey string `mapstructure:"private_key"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MonitorConfig 控制监控事件接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Feed.URL == "" {
		err = multierr.Append(err, errors.New("feed.url 不能为空"))
	}
	if c.Feed.BufferSize <= 0 {
		err = multierr.Append(err, errors.New("feed.buffer_size 必须大于0"))
	}
	if c.Feed.ReadTimeout <= 0 {
		err = multierr.Append(err, errors.New("feed.read_timeout 必须大于0"))
	}
	err = multierr.Append(err, validateRetry("feed.reconnect", c.Feed.Reconnect))
	if c.Chain.RPCURL == "" {
		err = multierr.Append(err, errors.New("chain.rpc_url 不能为空"))
	}
	switch c.Chain.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		err = multierr.Append(err, errors.New("chain.commitment 必须为 processed/confirmed/finalized 之一"))
	}
	err = multierr.Append(err, validateRetry("chain.retry", c.Chain.Retry))
	if c.Relay.URL == "" {
		err = multierr.Append(err, errors.New("relay.url 不能为空"))
	}
	if len(c.Relay.TipAccounts) == 0 {
		err = multierr.Append(err, errors.New("relay.tip_accounts 至少包含一个账户"))
	}
	if c.Relay.TipLamports == 0 && c.Relay.TipBps == 0 {
		err = multierr.Append(err, errors.New("relay.tip_lamports 与 relay.tip_bps 不能同时为0"))
	}
	if c.Relay.TipMaxLamports > 0 && c.Relay.TipLamports > c.Relay.TipMaxLamports {
		err = multierr.Append(err, errors.New("relay.tip_lamports 不能大于 tip_max_lamports"))
	}
	if c.Relay.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("relay.poll_interval 必须大于0"))
	}
	if c.Relay.LandingWait <= 0 {
		err = multierr.Append(err, errors.New("relay.landing_wait 必须大于0"))
	}
	err = multierr.Append(err, validateRetry("relay.retry", c.Relay.Retry))
	if c.Tx.ComputeUnitLimit == 0 {
		err = multierr.Append(err, errors.New("tx.compute_unit_limit 必须大于0"))
	}
	if c.Quote.FreshnessWindow <= 0 {
		err = multierr.Append(err, errors.New("quote.freshness_window 必须大于0"))
	}
	if c.Wallet.Address == "" || c.Wallet.PrivateKey == "" {
		err = multierr.Append(err, errors.New("wallet 需要配置 address 与 private_key"))
	}
	if c.OpenAI.APIKey == "" {
		err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
	}
	if c.OpenAI.Model == "" {
		err = multierr.Append(err, errors.New("openai.model 不能为空"))
	}
	if c.OpenAI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65_535) {
		err = multierr.Append(err, errors.New("monitor.port 必须为合法端口"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

func validateRetry(prefix string, r RetryConfig) error {
	var err error

	if r.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_attempts 必须大于0", prefix))
	}
	if r.MinDelay <= 0 || r.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.delay 必须为正", prefix))
	}
	if r.MinDelay > r.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.min_delay 不能大于 max_delay", prefix))
	}

	return err
}
