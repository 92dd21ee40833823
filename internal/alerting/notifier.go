package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

// Notification carries the opportunities worth alerting on for one run.
type Notification struct {
	RunID             string
	Brand             string
	ReferenceCurrency string
	MinProfitPct      decimal.Decimal
	// Total is the number of qualifying opportunities; Opportunities may be truncated.
	Total         int
	Opportunities []model.Opportunity
}

// Notifier defines the alert delivery interface.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// BuildNotification keeps opportunities with ProfitPct >= minProfitPct and
// returns the topN most profitable. ok is false when nothing qualifies.
func BuildNotification(opps []model.Opportunity, minProfitPct decimal.Decimal, topN int) (Notification, bool) {
	qualifying := make([]model.Opportunity, 0)
	for _, o := range opps {
		if o.ProfitPct.GreaterThanOrEqual(minProfitPct) {
			qualifying = append(qualifying, o)
		}
	}
	if len(qualifying) == 0 {
		return Notification{}, false
	}
	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].ProfitPct.GreaterThan(qualifying[j].ProfitPct)
	})

	note := Notification{MinProfitPct: minProfitPct, Total: len(qualifying), Opportunities: qualifying}
	if topN > 0 && len(qualifying) > topN {
		note.Opportunities = qualifying[:topN]
	}
	return note, true
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify calls sendMessage with the rendered notification.
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("run_id", note.RunID).
		Int("opportunities", note.Total).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	ref := note.ReferenceCurrency
	if ref == "" {
		ref = "EUR"
	}

	var b strings.Builder
	title := strings.TrimSpace(note.Brand)
	if title == "" {
		title = "Watch"
	}
	fmt.Fprintf(&b, "[%s arbitrage]\n", title)
	if note.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", note.RunID)
	}
	fmt.Fprintf(&b, "%d opportunities at or above %s%%\n", note.Total, note.MinProfitPct.StringFixed(1))
	for _, o := range note.Opportunities {
		fmt.Fprintf(&b, "\n%s %s (%s)\n", o.ProductID, model.DateKey(o.Date), o.Direction.Label(ref))
		fmt.Fprintf(&b, "Buy %s %s, sell %s %s\n",
			o.BuyPriceLocal.StringFixed(2), o.BuyCurrency,
			o.SellPriceLocal.StringFixed(2), o.SellCurrency)
		fmt.Fprintf(&b, "Profit %s %s (%s%%)\n", o.ProfitReference.StringFixed(2), ref, o.ProfitPct.StringFixed(1))
	}
	if hidden := note.Total - len(note.Opportunities); hidden > 0 {
		fmt.Fprintf(&b, "\n+%d more\n", hidden)
	}
	return b.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
