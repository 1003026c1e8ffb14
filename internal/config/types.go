package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Account    AccountConfig    `mapstructure:"account"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Mode       ModeConfig       `mapstructure:"mode"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Calendar   CalendarConfig   `mapstructure:"calendar"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// AccountConfig 描述交易账户、标的与占位策略参数。
type AccountConfig struct {
	ID           string   `mapstructure:"id"`
	StartingCash string   `mapstructure:"starting_cash"`
	Symbols      []string `mapstructure:"symbols"`
	OrderQty     int64    `mapstructure:"order_qty"`
	BuyBelow     string   `mapstructure:"buy_below"`
}

// BrokerConfig 描述实盘券商连接信息。
type BrokerConfig struct {
	Exchange   string `mapstructure:"exchange"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// SettlementConfig 控制卖出资金的交收延迟。
type SettlementConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	MaxVolatility   float64       `mapstructure:"max_volatility"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	BlackoutWindow  time.Duration `mapstructure:"blackout_window"`
	StrictPositions bool          `mapstructure:"strict_positions"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Retry       RetryConfig `mapstructure:"retry"`
	TimeInForce string      `mapstructure:"time_in_force"`
}

// ModeConfig 控制实盘/模拟盘切换状态机。
type ModeConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// OpenAIConfig 描述大模型调用参数，api_key 为空时情绪顾问自动关闭。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CalendarConfig 描述财经日历数据源。
type CalendarConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Keywords  []string      `mapstructure:"keywords"`
	Lookahead time.Duration `mapstructure:"lookahead"`
}

// TelegramConfig 描述告警通道，bot_token 为空时降级为空实现。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
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

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// MonitorConfig 控制监控服务。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// StartingCashDecimal 解析初始资金为定点数。
func (c AccountConfig) StartingCashDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.StartingCash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析 account.starting_cash 失败: %w", err)
	}
	return d, nil
}

// BuyBelowDecimal 解析占位策略的买入价格阈值。
func (c AccountConfig) BuyBelowDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.BuyBelow)
	if err != nil {
		return decimal.Zero, fmt.Errorf("解析 account.buy_below 失败: %w", err)
	}
	return d, nil
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Account.ID == "" {
		err = multierr.Append(err, errors.New("account.id 不能为空"))
	}
	if d, parseErr := c.Account.StartingCashDecimal(); parseErr != nil {
		err = multierr.Append(err, parseErr)
	} else if d.IsNegative() {
		err = multierr.Append(err, errors.New("account.starting_cash 不能为负"))
	}
	if _, parseErr := c.Account.BuyBelowDecimal(); parseErr != nil {
		err = multierr.Append(err, parseErr)
	}
	if len(c.Account.Symbols) == 0 {
		err = multierr.Append(err, errors.New("account.symbols 至少包含一个标的"))
	}
	if c.Account.OrderQty <= 0 {
		err = multierr.Append(err, errors.New("account.order_qty 必须大于0"))
	}
	if c.Broker.Exchange == "" {
		err = multierr.Append(err, errors.New("broker.exchange 不能为空"))
	}
	if c.Settlement.Delay <= 0 {
		err = multierr.Append(err, errors.New("settlement.delay 必须大于0"))
	}
	if c.Risk.MaxVolatility <= 0 || c.Risk.MaxVolatility > 1 {
		err = multierr.Append(err, errors.New("risk.max_volatility 必须位于(0,1]"))
	}
	if c.Risk.Cooldown < 0 {
		err = multierr.Append(err, errors.New("risk.cooldown 不能为负"))
	}
	if c.Risk.BlackoutWindow < 0 {
		err = multierr.Append(err, errors.New("risk.blackout_window 不能为负"))
	}
	if c.Execution.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("execution.retry.max_attempts 必须大于0"))
	}
	if c.Execution.Retry.MinDelay <= 0 || c.Execution.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("execution.retry.delay 必须为正"))
	}
	if c.Execution.Retry.MinDelay > c.Execution.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("execution.retry.min_delay 不能大于 max_delay"))
	}
	if c.Mode.FailureThreshold <= 0 {
		err = multierr.Append(err, errors.New("mode.failure_threshold 必须大于0"))
	}
	if c.Mode.SuccessThreshold <= 0 {
		err = multierr.Append(err, errors.New("mode.success_threshold 必须大于0"))
	}
	if c.Mode.Cooldown <= 0 {
		err = multierr.Append(err, errors.New("mode.cooldown 必须大于0"))
	}
	if c.OpenAI.APIKey != "" {
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}
	if c.Calendar.BaseURL == "" {
		err = multierr.Append(err, errors.New("calendar.base_url 不能为空"))
	}
	if c.Calendar.Lookahead <= 0 {
		err = multierr.Append(err, errors.New("calendar.lookahead 必须大于0"))
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
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[1,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
