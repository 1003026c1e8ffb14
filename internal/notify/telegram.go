// Package notify 提供尽力而为的告警通道。发送失败只记录日志，
// 绝不向调用方返回错误或阻塞交易流程。
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"stock-trader/internal/config"
)

const telegramAPIBase = "https://api.telegram.org"

// Notifier 发送一条告警消息。
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// New 根据配置选择 Telegram 通道或空实现。
func New(cfg config.TelegramConfig, logger *zap.Logger) Notifier {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return Nop{}
	}
	return NewTelegram(cfg, logger)
}

// Nop 丢弃所有消息。
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Telegram 通过 Bot API 发送消息。
type Telegram struct {
	cfg     config.TelegramConfig
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

// NewTelegram 创建 Telegram 告警通道。
func NewTelegram(cfg config.TelegramConfig, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
		baseURL: telegramAPIBase,
	}
}

// Notify 发送消息，失败时记录日志后静默返回。
func (t *Telegram) Notify(ctx context.Context, message string) {
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.cfg.ChatID,
		"text":    message,
	})
	if err != nil {
		t.logger.Error("序列化告警消息失败", zap.Error(err))
		return
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		t.logger.Error("构造告警请求失败", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Error("发送 Telegram 告警失败", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		t.logger.Error("Telegram 接口返回异常",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
	}
}
