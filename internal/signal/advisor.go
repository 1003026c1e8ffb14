package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"stock-trader/internal/broker"
	"stock-trader/internal/config"
)

// Assessment 为情绪顾问对单一标的的判断。
type Assessment struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Bullish 表示判断为看涨且置信度达到阈值，可用于豁免交易冷却。
func (a Assessment) Bullish() bool {
	return a.Sentiment == "bullish" && a.Confidence >= 0.6
}

// Advisor 是情绪顾问接口，未配置 API Key 时退化为空实现。
type Advisor interface {
	Assess(ctx context.Context, symbol string, candles []broker.Candle) (Assessment, error)
}

// NewAdvisor 根据配置选择真实顾问或空实现。
func NewAdvisor(cfg config.OpenAIConfig, logger *zap.Logger) Advisor {
	if cfg.APIKey == "" {
		return NopAdvisor{}
	}
	return newSentimentAdvisor(cfg, logger)
}

// NopAdvisor 始终给出中性判断。
type NopAdvisor struct{}

func (NopAdvisor) Assess(context.Context, string, []broker.Candle) (Assessment, error) {
	return Assessment{Sentiment: "neutral"}, nil
}

// SentimentAdvisor 调用大模型对近期价格走势做情绪分类。
type SentimentAdvisor struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

func newSentimentAdvisor(cfg config.OpenAIConfig, logger *zap.Logger) *SentimentAdvisor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &SentimentAdvisor{
		cfg:    cfg,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientConfig),
	}
}

// Assess 返回模型对标的近期走势的情绪判断。
func (a *SentimentAdvisor) Assess(ctx context.Context, symbol string, candles []broker.Candle) (Assessment, error) {
	if a.cfg.Model == "" {
		return Assessment{}, errors.New("openai model 不能为空")
	}

	response, err := a.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildSentimentPrompt(symbol, candles),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return Assessment{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return Assessment{}, errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	assessment, err := parseAssessment(rawContent)
	if err != nil {
		a.logger.Error("解析情绪判断失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Assessment{}, err
	}

	a.logger.Info("情绪顾问判断完成",
		zap.String("symbol", symbol),
		zap.String("sentiment", assessment.Sentiment),
		zap.Float64("confidence", assessment.Confidence),
	)

	return assessment, nil
}

func buildSentimentPrompt(symbol string, candles []broker.Candle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "你是股票情绪分析师。以下是 %s 最近的小时K线收盘价:\n", symbol)
	start := 0
	if len(candles) > 24 {
		start = len(candles) - 24
	}
	for _, c := range candles[start:] {
		fmt.Fprintf(&sb, "%s close=%.2f volume=%.0f\n", c.Timestamp.UTC().Format("01-02 15:04"), c.Close, c.Volume)
	}
	sb.WriteString(`请只输出JSON，格式: {"sentiment":"bullish|bearish|neutral","confidence":0.0,"reason":"一句话"}`)
	return sb.String()
}

func parseAssessment(content string) (Assessment, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return Assessment{}, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	var assessment Assessment
	if err := json.Unmarshal([]byte(content[start:end+1]), &assessment); err != nil {
		return Assessment{}, fmt.Errorf("解析情绪JSON失败: %w", err)
	}

	switch assessment.Sentiment {
	case "bullish", "bearish", "neutral":
	default:
		return Assessment{}, fmt.Errorf("未知的情绪标签: %q", assessment.Sentiment)
	}
	if assessment.Confidence < 0 || assessment.Confidence > 1 {
		return Assessment{}, fmt.Errorf("置信度越界: %f", assessment.Confidence)
	}

	return assessment, nil
}
