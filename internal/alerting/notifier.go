package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-advisor/internal/engine"
)

// Notification 封装一次推荐变化的告警上下文。
type Notification struct {
	ItemName      string
	ExternalID    string
	Score         int
	Tier          engine.Tier
	PreviousTier  engine.Tier
	CurrentPrice  decimal.Decimal
	AveragePrice  decimal.Decimal
	Action        string
	Reasoning     []string
	Forecast      *engine.Forecast
	EvaluatedAt   time.Time
	Channels      []string
	AdditionalMsg string
}

// NotificationFromResult builds a notification for an analysed item.
func NotificationFromResult(name, externalID string, previous engine.Tier, res *engine.RecommendationResult, at time.Time) Notification {
	return Notification{
		ItemName:     name,
		ExternalID:   externalID,
		Score:        res.Score,
		Tier:         res.Tier,
		PreviousTier: previous,
		CurrentPrice: decimal.NewFromFloat(res.Statistics.Current),
		AveragePrice: decimal.NewFromFloat(res.Statistics.Mean),
		Action:       res.ActionText,
		Reasoning:    res.Reasoning,
		Forecast:     res.Forecast,
		EvaluatedAt:  at,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("item", note.ItemName).
		Str("tier", string(note.Tier)).
		Int("score", note.Score).
		Msg("告警已发送 (Telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Price Advisor] %s\n", note.ItemName))
	if note.PreviousTier != "" && note.PreviousTier != note.Tier {
		builder.WriteString(fmt.Sprintf("Recommendation: %s -> %s (score %d/100)\n", note.PreviousTier, note.Tier, note.Score))
	} else {
		builder.WriteString(fmt.Sprintf("Recommendation: %s (score %d/100)\n", note.Tier, note.Score))
	}
	builder.WriteString(fmt.Sprintf("Price: %s (average %s)\n", note.CurrentPrice.StringFixed(2), note.AveragePrice.StringFixed(2)))
	if note.Action != "" {
		builder.WriteString(note.Action + "\n")
	}
	for _, reason := range note.Reasoning {
		builder.WriteString("- " + reason + "\n")
	}
	if f := note.Forecast; f != nil {
		builder.WriteString(fmt.Sprintf("Discount within 30 days: %.0f%% (%s)\n", f.Probability*100, f.Band))
	}
	if !note.EvaluatedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Evaluated: %s UTC\n", note.EvaluatedAt.UTC().Format(time.RFC3339)))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
