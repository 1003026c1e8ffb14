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
	envPrefix         = "trader"
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

	v.SetDefault("account.id", "default")
	v.SetDefault("account.starting_cash", "700.00")
	v.SetDefault("account.symbols", []string{"AAPL"})
	v.SetDefault("account.order_qty", 1)
	v.SetDefault("account.buy_below", "500.00")

	v.SetDefault("broker.exchange", "alpaca")
	v.SetDefault("broker.use_sandbox", true)

	v.SetDefault("settlement.delay", "24h")

	v.SetDefault("risk.max_volatility", 0.05)
	v.SetDefault("risk.cooldown", "24h")
	v.SetDefault("risk.blackout_window", "1h")
	v.SetDefault("risk.strict_positions", false)

	v.SetDefault("execution.retry.max_attempts", 3)
	v.SetDefault("execution.retry.min_delay", "500ms")
	v.SetDefault("execution.retry.max_delay", "5s")
	v.SetDefault("execution.time_in_force", "gtc")

	v.SetDefault("mode.failure_threshold", 3)
	v.SetDefault("mode.success_threshold", 2)
	v.SetDefault("mode.cooldown", "1h")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("calendar.base_url", "https://financialmodelingprep.com/api/v4/economic_calendar")
	v.SetDefault("calendar.api_key", "demo")
	v.SetDefault("calendar.keywords", []string{"fed", "fomc", "cpi", "earnings"})
	v.SetDefault("calendar.lookahead", "168h")

	v.SetDefault("database.path", "data/stock_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "5m")

	v.SetDefault("monitor.port", 8787)
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
