package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"watch-arbitrage/internal/model"
)

const defaultHistoricalBaseURL = "https://api.frankfurter.app"

// HistoricalOptions parameterise the HTTP historical rate fetcher.
type HistoricalOptions struct {
	BaseURL           string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
}

// Historical queries an ECB-backed historical FX API (Frankfurter wire format).
type Historical struct {
	opts    HistoricalOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewHistorical constructs an HTTP historical rate fetcher.
func NewHistorical(opts HistoricalOptions, logger zerolog.Logger) *Historical {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultHistoricalBaseURL
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Historical{
		opts:    opts,
		logger:  logger.With().Str("component", "historical_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		baseURL: baseURL,
	}
}

// Convert asks the API to convert amount from one currency into another on date.
func (h *Historical) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" {
		return decimal.Decimal{}, errors.New("from and to currencies required")
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, errors.New("amount must be greater than zero")
	}
	if from == to {
		return amount, nil
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	query := url.Values{}
	query.Set("amount", amount.String())
	query.Set("from", from)
	query.Set("to", to)
	endpoint := fmt.Sprintf("%s/%s?%s", h.baseURL, model.DateKey(date), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "watcharb/1.0")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusUnprocessableEntity:
		return decimal.Decimal{}, fmt.Errorf("%w: %s->%s on %s: %v", ErrRateUnavailable, from, to, model.DateKey(date), parseHTTPError(resp.StatusCode, payload))
	default:
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res historicalResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode historical response: %w", err)
	}

	converted, ok := res.Rates[to]
	if !ok || !converted.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s->%s on %s", ErrRateUnavailable, from, to, model.DateKey(date))
	}

	h.logger.Debug().
		Str("from", from).
		Str("to", to).
		Str("date", model.DateKey(date)).
		Str("quoted_date", res.Date).
		Msg("historical rate resolved")

	return converted, nil
}

type historicalResponse struct {
	Amount decimal.Decimal            `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("rates api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("rates api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("rates api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("rates api error (%d)", status)
}

var _ HistoricalRateFetcher = (*Historical)(nil)
