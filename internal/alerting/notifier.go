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
)

// Notification is a rendered alert or recovery message for delivery.
type Notification struct {
	Kind      string // "alert" or "recovery"
	Symbol    string
	Market    string
	Currency  string
	Timeframe string

	DropPct         decimal.Decimal
	ThresholdPct    decimal.Decimal
	Price           decimal.Decimal
	HistoricalPrice decimal.Decimal
	RecoveryPct     decimal.Decimal
	Critical        bool

	Timestamp time.Time
	Location  *time.Location
}

// Notifier delivers a notification through one channel.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify sends the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("kind", note.Kind).
		Str("symbol", note.Symbol).
		Str("market", note.Market).
		Msg("notification sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	loc := note.Location
	if loc == nil {
		loc = time.UTC
	}
	stamp := note.Timestamp.In(loc).Format("2006-01-02 15:04 MST")

	builder := strings.Builder{}
	switch note.Kind {
	case "recovery":
		builder.WriteString(fmt.Sprintf("[Recovery] %s (%s)\n", note.Symbol, note.Market))
		builder.WriteString(fmt.Sprintf("Price: %s%s\n", note.Currency, note.Price.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Recovered: +%s%% off the trough\n", note.RecoveryPct.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("Reference: %s%s\n", note.Currency, note.HistoricalPrice.StringFixed(2)))
	default:
		header := "[Drop Alert]"
		if note.Critical {
			header = "[CRITICAL Drop Alert]"
		}
		builder.WriteString(fmt.Sprintf("%s %s (%s)\n", header, note.Symbol, note.Market))
		builder.WriteString(fmt.Sprintf("Down %s%% over 1 %s (threshold %s%%)\n",
			note.DropPct.StringFixed(2), note.Timeframe, note.ThresholdPct.StringFixed(0)))
		builder.WriteString(fmt.Sprintf("Price: %s%s (was %s%s)\n",
			note.Currency, note.Price.StringFixed(2), note.Currency, note.HistoricalPrice.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("At: %s\n", stamp))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
