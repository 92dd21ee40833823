package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-arbitrage/internal/alerting"
	"watch-arbitrage/internal/arbitrage"
	"watch-arbitrage/internal/config"
	"watch-arbitrage/internal/fx"
	"watch-arbitrage/internal/ingest"
	"watch-arbitrage/internal/model"
	"watch-arbitrage/internal/normalize"
	"watch-arbitrage/internal/storage"
)

var (
	june1 = time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)
	july1 = time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC)
)

type fakeProvider struct {
	rows  []model.RawObservation
	err   error
	calls int
}

func (p *fakeProvider) Fetch(context.Context) ([]model.RawObservation, error) {
	p.calls++
	return p.rows, p.err
}

type fakeRuns struct {
	mu            sync.Mutex
	insertErr     error
	runs          map[uuid.UUID]storage.RunRecord
	normalized    int
	opportunities int
}

func (f *fakeRuns) InsertRun(_ context.Context, run storage.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if f.runs == nil {
		f.runs = map[uuid.UUID]storage.RunRecord{}
	}
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRuns) FinishRun(_ context.Context, run storage.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRuns) InsertNormalized(_ context.Context, _ uuid.UUID, obs []model.NormalizedObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.normalized += len(obs)
	return nil
}

func (f *fakeRuns) InsertOpportunities(_ context.Context, _ uuid.UUID, opps []model.Opportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opportunities += len(opps)
	return nil
}

type fakeNotifier struct {
	err   error
	notes []alerting.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.notes = append(n.notes, note)
	return n.err
}

type fakeUploader struct {
	keys []string
}

func (u *fakeUploader) PutFile(_ context.Context, runID, localPath string) (string, error) {
	key := runID + "/" + filepath.Base(localPath)
	u.keys = append(u.keys, key)
	return key, nil
}

type fakeLocker struct {
	acquired bool
	released bool
}

func (l *fakeLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released = true }, true, nil
}

func raw(product, currency, price string, date time.Time) model.RawObservation {
	return model.RawObservation{
		ProductID:  product,
		Collection: "Luminor",
		Brand:      "Panerai",
		Price:      decimal.RequireFromString(price),
		Currency:   currency,
		Date:       date,
	}
}

func sampleRows() []model.RawObservation {
	return []model.RawObservation{
		raw("PAM00111", "EUR", "10000", june1),
		raw("PAM00111", "USD", "11500", june1),
		raw("PAM00111", "GBP", "8000", june1),
		raw("PAM00111", "CHF", "0", june1),
		raw("PAM00111", "EUR", "10300", july1),
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Source:    config.SourceConfig{Kind: "csv", Brand: "Panerai", MaxRawPrice: 150000},
		Database:  config.DatabaseConfig{Persist: true},
		FX:        config.FXConfig{ReferenceCurrency: "EUR"},
		Report:    config.ReportConfig{MinProfitThreshold: 2, StableMinOccurrence: 1, StableMinProfit: 2, TopN: 5},
		Export:    config.ExportConfig{Dir: t.TempDir(), CSV: true},
		Alerting:  config.AlertingConfig{Enabled: true, MinProfitPct: 4, TopN: 5},
		Scheduler: config.SchedulerConfig{Interval: time.Hour, AdvisoryLockKey: 42},
	}
}

func pipeline(t *testing.T) (Normalizer, Scanner) {
	t.Helper()
	table, err := fx.NewFallbackTable(map[string]float64{"USD": 0.9, "GBP": 1.2})
	require.NoError(t, err)
	resolver := fx.NewResolver(fx.ResolverOptions{ReferenceCurrency: "EUR", Fallback: table}, nil, zerolog.Nop())
	return normalize.New(resolver, normalize.Options{}, zerolog.Nop()),
		arbitrage.NewScanner(arbitrage.DefaultConfig(), zerolog.Nop())
}

func TestAnalyzeRunsPipelineAndSinks(t *testing.T) {
	norm, scan := pipeline(t)
	runs := &fakeRuns{}
	notifier := &fakeNotifier{}
	uploader := &fakeUploader{}
	svc := New(testConfig(t), Dependencies{
		Provider:   &fakeProvider{rows: sampleRows()},
		Normalizer: norm,
		Scanner:    scan,
		Runs:       runs,
		Uploader:   uploader,
		Notifier:   notifier,
	}, zerolog.Nop())

	res, err := svc.Analyze(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.SinkErrors)

	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 4, res.Clean.Kept)
	assert.Len(t, res.Usable, 4)
	require.Len(t, res.Scan.Opportunities, 2)

	byDirection := map[model.Direction]model.Opportunity{}
	for _, o := range res.Scan.Opportunities {
		byDirection[o.Direction] = o
	}
	usd := byDirection[model.ReferenceToForeign]
	assert.Equal(t, "USD", usd.SellCurrency)
	assert.True(t, usd.ProfitReference.Equal(decimal.NewFromInt(350)), "got %s", usd.ProfitReference)
	gbp := byDirection[model.ForeignToReference]
	assert.Equal(t, "GBP", gbp.BuyCurrency)
	assert.True(t, gbp.ProfitReference.Equal(decimal.NewFromInt(400)), "got %s", gbp.ProfitReference)

	assert.Equal(t, 2, res.Summary.Count)
	assert.Contains(t, res.Report, "PANERAI ARBITRAGE REPORT")
	assert.Equal(t, 4, res.Insights.Overview.Observations)

	run, ok := runs.runs[res.RunID]
	require.True(t, ok)
	assert.Equal(t, storage.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Opportunities)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, 4, runs.normalized)
	assert.Equal(t, 2, runs.opportunities)

	require.Len(t, res.Artifacts, 3)
	assert.Len(t, uploader.keys, 3)
	assert.Equal(t, res.Artifacts, []string{
		filepath.Join(svc.exportDir, res.RunID.String(), "opportunities.csv"),
		filepath.Join(svc.exportDir, res.RunID.String(), "normalized.csv"),
		filepath.Join(svc.exportDir, res.RunID.String(), "stable_pairs.csv"),
	})

	require.True(t, res.Alerted)
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, res.RunID.String(), note.RunID)
	assert.Equal(t, 1, note.Total)
	assert.Equal(t, "GBP", note.Opportunities[0].BuyCurrency)
}

func TestAnalyzeNoPersistSkipsStore(t *testing.T) {
	norm, scan := pipeline(t)
	runs := &fakeRuns{}
	cfg := testConfig(t)
	cfg.Export.CSV = false
	cfg.Alerting.Enabled = false
	svc := New(cfg, Dependencies{Provider: &fakeProvider{rows: sampleRows()}, Normalizer: norm, Scanner: scan, Runs: runs}, zerolog.Nop())

	res, err := svc.Analyze(context.Background(), RunOptions{NoPersist: true})
	require.NoError(t, err)
	assert.Empty(t, runs.runs)
	assert.Empty(t, res.Artifacts)
	assert.False(t, res.Alerted)
}

func TestAnalyzeEmptySnapshot(t *testing.T) {
	norm, scan := pipeline(t)
	provider := &fakeProvider{rows: []model.RawObservation{raw("PAM00111", "EUR", "0", june1)}}
	svc := New(testConfig(t), Dependencies{Provider: provider, Normalizer: norm, Scanner: scan}, zerolog.Nop())

	_, err := svc.Analyze(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestAnalyzeKeepsLargeYenQuotes(t *testing.T) {
	norm, scan := pipeline(t)
	cfg := testConfig(t)
	cfg.Export.CSV = false
	cfg.FX.FallbackRates = map[string]float64{"jpy": 0.00723}
	provider := &fakeProvider{rows: []model.RawObservation{
		raw("PAM00111", "EUR", "10000", june1),
		raw("PAM00111", "JPY", "1400000", june1),
		raw("PAM00111", "JPY", "30000000", june1),
	}}
	svc := New(cfg, Dependencies{Provider: provider, Normalizer: norm, Scanner: scan}, zerolog.Nop())

	res, err := svc.Analyze(context.Background(), RunOptions{NoPersist: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Clean.Kept)
	assert.Equal(t, map[string]int{ingest.DropAboveCeiling: 1}, res.Clean.Dropped)
}

func TestAnalyzeProviderError(t *testing.T) {
	norm, scan := pipeline(t)
	boom := errors.New("connection refused")
	svc := New(testConfig(t), Dependencies{Provider: &fakeProvider{err: boom}, Normalizer: norm, Scanner: scan}, zerolog.Nop())

	_, err := svc.Analyze(context.Background(), RunOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestAnalyzeCollectsSinkErrors(t *testing.T) {
	norm, scan := pipeline(t)
	runs := &fakeRuns{insertErr: errors.New("db down")}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	cfg := testConfig(t)
	cfg.Export.CSV = false
	svc := New(cfg, Dependencies{
		Provider:   &fakeProvider{rows: sampleRows()},
		Normalizer: norm,
		Scanner:    scan,
		Runs:       runs,
		Notifier:   notifier,
	}, zerolog.Nop())

	res, err := svc.Analyze(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, res.SinkErrors, 2)
	assert.Contains(t, res.SinkErrors[0].Error(), "persist run")
	assert.Contains(t, res.SinkErrors[1].Error(), "dispatch alert")
	assert.Zero(t, runs.opportunities)
	assert.False(t, res.Alerted)
	assert.Len(t, res.Scan.Opportunities, 2)
}

func TestAnalyzeCancelled(t *testing.T) {
	norm, scan := pipeline(t)
	runs := &fakeRuns{}
	svc := New(testConfig(t), Dependencies{Provider: &fakeProvider{rows: sampleRows()}, Normalizer: norm, Scanner: scan, Runs: runs}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Analyze(ctx, RunOptions{})
	require.ErrorIs(t, err, context.Canceled)

	for _, run := range runs.runs {
		assert.Equal(t, storage.RunStatusFailed, run.Status)
		require.NotNil(t, run.Error)
	}
}

func TestProcessSlotHonoursAdvisoryLock(t *testing.T) {
	norm, scan := pipeline(t)
	provider := &fakeProvider{rows: sampleRows()}
	locker := &fakeLocker{}
	cfg := testConfig(t)
	cfg.Export.CSV = false
	svc := New(cfg, Dependencies{Provider: provider, Normalizer: norm, Scanner: scan, Locker: locker}, zerolog.Nop())

	require.NoError(t, svc.ProcessSlot(context.Background(), june1))
	assert.Zero(t, provider.calls, "lock held elsewhere must skip the run")

	locker.acquired = true
	require.NoError(t, svc.ProcessSlot(context.Background(), june1))
	assert.Equal(t, 1, provider.calls)
	assert.True(t, locker.released)
}

func TestRunWithoutScheduler(t *testing.T) {
	svc := New(testConfig(t), Dependencies{}, zerolog.Nop())
	assert.Error(t, svc.Run(context.Background()))
}

func TestForecast(t *testing.T) {
	norm, scan := pipeline(t)
	svc := New(testConfig(t), Dependencies{Provider: &fakeProvider{rows: sampleRows()}, Normalizer: norm, Scanner: scan}, zerolog.Nop())

	res, err := svc.Forecast(context.Background(), "PAM00111", "eur")
	require.NoError(t, err)
	assert.Equal(t, "EUR", res.Currency)
	assert.True(t, res.LastPrice.Equal(decimal.NewFromInt(10300)))
	assert.True(t, res.Benefit.IsPositive())

	best, err := svc.Forecast(context.Background(), "PAM00111", "")
	require.NoError(t, err)
	assert.Equal(t, "EUR", best.Currency)
}
