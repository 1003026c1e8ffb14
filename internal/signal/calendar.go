package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stock-trader/internal/config"
)

const (
	calendarDateLayout = "2006-01-02 15:04:05"
	calendarCacheTTL   = 15 * time.Minute
)

// EconEvent 表示一条财经日历事件。
type EconEvent struct {
	Name string
	At   time.Time
}

type calendarEntry struct {
	Event string `json:"event"`
	Date  string `json:"date"`
}

// EconCalendar 从财经日历接口拉取宏观事件，按关键字过滤后
// 判断当前时间是否落在事件前后的禁闭窗口内。
// 结果带短期缓存，避免每个交易周期都访问外部接口。
type EconCalendar struct {
	cfg      config.CalendarConfig
	window   time.Duration
	client   *http.Client
	logger   *zap.Logger
	keywords []string

	mu        sync.Mutex
	cached    []EconEvent
	fetchedAt time.Time
}

// NewEconCalendar 创建财经日历信号源。
func NewEconCalendar(cfg config.CalendarConfig, window time.Duration, logger *zap.Logger) *EconCalendar {
	if logger == nil {
		logger = zap.NewNop()
	}
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		keywords = append(keywords, strings.ToLower(k))
	}
	return &EconCalendar{
		cfg:      cfg,
		window:   window,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		keywords: keywords,
	}
}

// BlockedAt 在 now 处于任一关键事件的禁闭窗口内时返回 true 与事件名。
func (c *EconCalendar) BlockedAt(ctx context.Context, now time.Time) (bool, string, error) {
	if c.window <= 0 {
		return false, "", nil
	}
	events, err := c.events(ctx, now)
	if err != nil {
		return false, "", err
	}
	for _, ev := range events {
		delta := ev.At.Sub(now)
		if delta < 0 {
			delta = -delta
		}
		if delta <= c.window {
			return true, ev.Name, nil
		}
	}
	return false, "", nil
}

func (c *EconCalendar) events(ctx context.Context, now time.Time) ([]EconEvent, error) {
	c.mu.Lock()
	if !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < calendarCacheTTL {
		events := c.cached
		c.mu.Unlock()
		return events, nil
	}
	c.mu.Unlock()

	events, err := c.fetch(ctx, now.Add(-c.window), now.Add(c.cfg.Lookahead))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = events
	c.fetchedAt = now
	c.mu.Unlock()

	return events, nil
}

func (c *EconCalendar) fetch(ctx context.Context, from, to time.Time) ([]EconEvent, error) {
	endpoint, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("解析日历接口地址失败: %w", err)
	}
	query := endpoint.Query()
	query.Set("from", from.UTC().Format("2006-01-02"))
	query.Set("to", to.UTC().Format("2006-01-02"))
	if c.cfg.APIKey != "" {
		query.Set("apikey", c.cfg.APIKey)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造日历请求失败: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求财经日历失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("财经日历接口返回 %d: %s", resp.StatusCode, string(body))
	}

	var entries []calendarEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析日历响应失败: %w", err)
	}

	return c.filter(entries), nil
}

func (c *EconCalendar) filter(entries []calendarEntry) []EconEvent {
	var events []EconEvent
	for _, entry := range entries {
		if !c.matches(entry.Event) {
			continue
		}
		at, err := time.ParseInLocation(calendarDateLayout, entry.Date, time.UTC)
		if err != nil {
			c.logger.Warn("跳过无法解析时间的日历事件",
				zap.String("event", entry.Event),
				zap.String("date", entry.Date),
			)
			continue
		}
		events = append(events, EconEvent{Name: entry.Event, At: at})
	}
	return events
}

func (c *EconCalendar) matches(event string) bool {
	if len(c.keywords) == 0 {
		return true
	}
	lowered := strings.ToLower(event)
	for _, keyword := range c.keywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}
