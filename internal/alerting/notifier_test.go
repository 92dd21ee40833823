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

	"watch-arbitrage/internal/model"
)

func opportunity(product string, pct int64) model.Opportunity {
	return model.Opportunity{
		ProductID:          product,
		Date:               time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC),
		BuyCurrency:        "EUR",
		BuyPriceLocal:      decimal.NewFromInt(10000),
		BuyPriceReference:  decimal.NewFromInt(10000),
		SellCurrency:       "USD",
		SellPriceLocal:     decimal.NewFromInt(12000),
		SellPriceReference: decimal.NewFromInt(10000 + pct*100),
		ProfitReference:    decimal.NewFromInt(pct * 100),
		ProfitPct:          decimal.NewFromInt(pct),
		Direction:          model.ReferenceToForeign,
	}
}

func TestBuildNotification(t *testing.T) {
	opps := []model.Opportunity{opportunity("P1", 3), opportunity("P2", 9), opportunity("P3", 6), opportunity("P4", 12)}

	note, ok := BuildNotification(opps, decimal.NewFromInt(5), 2)
	if !ok {
		t.Fatal("expected a notification")
	}
	if note.Total != 3 {
		t.Fatalf("expected 3 qualifying, got %d", note.Total)
	}
	if len(note.Opportunities) != 2 || note.Opportunities[0].ProductID != "P4" || note.Opportunities[1].ProductID != "P2" {
		t.Fatalf("unexpected selection: %+v", note.Opportunities)
	}

	if _, ok := BuildNotification(opps, decimal.NewFromInt(50), 2); ok {
		t.Fatal("expected no notification above every profit")
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note, _ := BuildNotification([]model.Opportunity{opportunity("PAM00111", 8), opportunity("PAM00312", 6)}, decimal.NewFromInt(5), 1)
	note.Brand = "Panerai"
	note.RunID = "run-1"

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"[Panerai arbitrage]", "Run: run-1", "PAM00111 2022-06-01 (EUR->Foreign)", "Profit 800.00 EUR (8.0%)", "+1 more"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), Notification{Total: 1})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected ok=false error, got %v", err)
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{}); err == nil {
		t.Fatal("expected status error")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
