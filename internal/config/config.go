package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "pump"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("feed.buffer_size", 256)
	v.SetDefault("feed.read_timeout", "20s")
	v.SetDefault("feed.reconnect.max_attempts", 10)
	v.SetDefault("feed.reconnect.min_delay", "1s")
	v.SetDefault("feed.reconnect.max_delay", "16s")

	v.SetDefault("chain.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("chain.commitment", "confirmed")
	v.SetDefault("chain.retry.max_attempts", 5)
	v.SetDefault("chain.retry.min_delay", "500ms")
	v.SetDefault("chain.retry.max_delay", "5s")

	v.SetDefault("relay.tip_lamports", 10_000)
	v.SetDefault("relay.tip_bps", 0)
	v.SetDefault("relay.tip_max_lamports", 1_000_000)
	v.SetDefault("relay.poll_interval", "5s")
	v.SetDefault("relay.landing_wait", "30s")
	v.SetDefault("relay.retry.max_attempts", 3)
	v.SetDefault("relay.retry.min_delay", "500ms")
	v.SetDefault("relay.retry.max_delay", "4s")

	v.SetDefault("tx.compute_unit_limit", 100_000)
	v.SetDefault("tx.compute_unit_price", 0)
	v.SetDefault("tx.simulate", true)

	v.SetDefault("quote.freshness_window", "10s")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 8090)

	v.SetDefault("database.path", "data/pump_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
