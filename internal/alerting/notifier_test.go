package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNotification() Notification {
	return Notification{
		Kind:            "alert",
		Symbol:          "RELIANCE",
		Market:          "NSE",
		Currency:        "₹",
		Timeframe:       "week",
		DropPct:         decimal.RequireFromString("12.50"),
		ThresholdPct:    decimal.NewFromInt(10),
		Price:           decimal.RequireFromString("2450.00"),
		HistoricalPrice: decimal.RequireFromString("2800.00"),
		Timestamp:       time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifySendsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token123", "chat42", server.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotPath != "/bottoken123/sendMessage" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody["chat_id"] != "chat42" {
		t.Fatalf("chat_id = %q, want chat42", gotBody["chat_id"])
	}
	if !strings.Contains(gotBody["text"], "RELIANCE") {
		t.Fatalf("message missing symbol: %q", gotBody["text"])
	}
}

func TestTelegramNotifyRejectsNotOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error on ok=false response")
	}
}

func TestTelegramNotifyRejectsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "chat", server.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestRenderMessageAlert(t *testing.T) {
	msg := renderMessage(testNotification())

	if !strings.HasPrefix(msg, "[Drop Alert] RELIANCE (NSE)") {
		t.Fatalf("unexpected header: %q", msg)
	}
	if !strings.Contains(msg, "Down 12.50% over 1 week (threshold 10%)") {
		t.Fatalf("missing drop line: %q", msg)
	}
	if !strings.Contains(msg, "Price: ₹2450.00 (was ₹2800.00)") {
		t.Fatalf("missing price line: %q", msg)
	}
}

func TestRenderMessageCritical(t *testing.T) {
	note := testNotification()
	note.Critical = true
	msg := renderMessage(note)
	if !strings.HasPrefix(msg, "[CRITICAL Drop Alert]") {
		t.Fatalf("expected critical header, got %q", msg)
	}
}

func TestRenderMessageUsesMarketLocalTime(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	note := testNotification()
	note.Location = loc
	msg := renderMessage(note)
	// 06:00 UTC is 11:30 IST.
	if !strings.Contains(msg, "2026-03-10 11:30 IST") {
		t.Fatalf("expected market-local timestamp, got %q", msg)
	}
}

func TestRenderMessageRecovery(t *testing.T) {
	note := Notification{
		Kind:            "recovery",
		Symbol:          "AAPL",
		Market:          "NASDAQ",
		Currency:        "$",
		Price:           decimal.RequireFromString("198.00"),
		HistoricalPrice: decimal.RequireFromString("200.00"),
		RecoveryPct:     decimal.RequireFromString("15.12"),
		Timestamp:       time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC),
	}
	msg := renderMessage(note)

	if !strings.HasPrefix(msg, "[Recovery] AAPL (NASDAQ)") {
		t.Fatalf("unexpected header: %q", msg)
	}
	if !strings.Contains(msg, "Recovered: +15.12% off the trough") {
		t.Fatalf("missing recovery line: %q", msg)
	}
	if !strings.Contains(msg, "Price: $198.00") {
		t.Fatalf("missing price line: %q", msg)
	}
}
