// Package service runs the analysis pipeline and fans its results out to sinks.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/alerting"
	"watch-arbitrage/internal/arbitrage"
	"watch-arbitrage/internal/config"
	"watch-arbitrage/internal/export"
	"watch-arbitrage/internal/forecast"
	"watch-arbitrage/internal/ingest"
	"watch-arbitrage/internal/logging"
	"watch-arbitrage/internal/model"
	"watch-arbitrage/internal/normalize"
	"watch-arbitrage/internal/report"
	"watch-arbitrage/internal/scheduler"
	"watch-arbitrage/internal/storage"
)

// ErrNoObservations is returned when the provider yields nothing usable after cleaning.
var ErrNoObservations = errors.New("no observations to analyse")

// Normalizer converts raw observations into reference-currency prices.
type Normalizer interface {
	Normalize(ctx context.Context, observations []model.RawObservation) ([]model.NormalizedObservation, normalize.Stats)
}

// Scanner finds arbitrage opportunities in normalized observations.
type Scanner interface {
	Scan(ctx context.Context, observations []model.NormalizedObservation) (arbitrage.Result, error)
}

// Uploader publishes a local artefact and returns its remote key.
type Uploader interface {
	PutFile(ctx context.Context, runID, localPath string) (string, error)
}

// Dependencies are the collaborators of a Service. Only Provider, Normalizer
// and Scanner are required; nil sinks are skipped.
type Dependencies struct {
	Provider   ingest.Provider
	Normalizer Normalizer
	Scanner    Scanner
	Runs       storage.RunStore
	Locker     storage.AdvisoryLocker
	Uploader   Uploader
	Notifier   alerting.Notifier
	Scheduler  *scheduler.Scheduler
}

// RunOptions override per-invocation sink behaviour.
type RunOptions struct {
	// CSVDir and PNGDir replace export.dir for the respective artefacts when set.
	CSVDir    string
	PNGDir    string
	NoPersist bool
}

// Result is everything one analysis run produced.
type Result struct {
	RunID       uuid.UUID
	Fetched     int
	Clean       ingest.CleanReport
	Normalized  []model.NormalizedObservation
	Usable      []model.NormalizedObservation
	Stats       normalize.Stats
	Scan        arbitrage.Result
	Summary     report.Summary
	StablePairs []report.CurrencyStats
	Insights    report.Insights
	Report      string
	Artifacts   []string
	Uploaded    []string
	Alerted     bool
	// SinkErrors collects persistence, export, upload and alert failures.
	SinkErrors []error
}

// Service orchestrates acquisition, normalization, scanning, and the output sinks.
type Service struct {
	deps   Dependencies
	logger zerolog.Logger

	brand       string
	reference   string
	maxRawPrice decimal.Decimal
	cleanRates  map[string]decimal.Decimal

	minProfitThreshold decimal.Decimal
	stableMinOcc       int
	stableMinProfit    decimal.Decimal
	topN               int

	exportDir string
	exportCSV bool
	exportPNG bool

	persist bool

	alertsOn       bool
	alertMinProfit decimal.Decimal
	alertTopN      int

	lockKey int64
}

// New constructs the analysis service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Service {
	return &Service{
		deps:               deps,
		logger:             logger.With().Str("component", "service").Logger(),
		brand:              cfg.Source.Brand,
		reference:          cfg.FX.ReferenceCurrency,
		maxRawPrice:        decimal.NewFromFloat(cfg.Source.MaxRawPrice),
		cleanRates:         ceilingRates(cfg.FX.FallbackRates),
		minProfitThreshold: decimal.NewFromFloat(cfg.Report.MinProfitThreshold),
		stableMinOcc:       cfg.Report.StableMinOccurrence,
		stableMinProfit:    decimal.NewFromFloat(cfg.Report.StableMinProfit),
		topN:               cfg.Report.TopN,
		exportDir:          cfg.Export.Dir,
		exportCSV:          cfg.Export.CSV,
		exportPNG:          cfg.Export.PNG,
		persist:            cfg.Database.Persist,
		alertsOn:           cfg.Alerting.Enabled,
		alertMinProfit:     decimal.NewFromFloat(cfg.Alerting.MinProfitPct),
		alertTopN:          cfg.Alerting.TopN,
		lockKey:            cfg.Scheduler.AdvisoryLockKey,
	}
}

// Analyze runs the full pipeline once. Acquisition failures and empty
// snapshots abort the run; sink failures are logged and collected in the result.
func (s *Service) Analyze(ctx context.Context, opts RunOptions) (*Result, error) {
	res := &Result{RunID: uuid.New()}
	logger := logging.WithRun(s.logger, res.RunID.String())
	started := time.Now().UTC()

	cleaned, err := s.acquire(ctx, res)
	if err != nil {
		return nil, err
	}

	persist := s.persist && !opts.NoPersist && s.deps.Runs != nil
	run := storage.RunRecord{
		ID:                res.RunID,
		Brand:             s.brand,
		ReferenceCurrency: s.reference,
		Observations:      len(cleaned),
		Status:            storage.RunStatusRunning,
		StartedAt:         started,
	}
	if persist {
		if err := s.deps.Runs.InsertRun(ctx, run); err != nil {
			s.sinkFailed(logger, res, "persist run", err)
			persist = false
		}
	}

	res.Normalized, res.Stats = s.deps.Normalizer.Normalize(ctx, cleaned)
	res.Usable = normalize.Usable(res.Normalized)

	res.Scan, err = s.deps.Scanner.Scan(ctx, res.Usable)
	if err != nil {
		if persist {
			s.finishRun(ctx, logger, res, run, err)
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	opps := res.Scan.Opportunities
	res.Summary = report.Summarize(opps, s.minProfitThreshold)
	res.StablePairs = report.FindStablePairs(opps, s.stableMinOcc, s.stableMinProfit)
	res.Insights = report.BuildInsights(res.Usable)
	res.Report = report.Render(opps, report.RenderOptions{
		ReferenceCurrency: s.reference,
		Brand:             s.brand,
		TopN:              s.topN,
	})

	logger.Info().
		Int("fetched", res.Fetched).
		Int("cleaned", len(cleaned)).
		Int("usable", len(res.Usable)).
		Int("opportunities", len(opps)).
		Int("skipped_groups", len(res.Scan.Skipped)).
		Int("stable_pairs", len(res.StablePairs)).
		Msg("analysis completed")

	if persist {
		if err := s.deps.Runs.InsertNormalized(ctx, res.RunID, res.Normalized); err != nil {
			s.sinkFailed(logger, res, "persist normalized observations", err)
		}
		if err := s.deps.Runs.InsertOpportunities(ctx, res.RunID, opps); err != nil {
			s.sinkFailed(logger, res, "persist opportunities", err)
		}
		run.Usable = len(res.Usable)
		run.Opportunities = len(opps)
		run.SkippedGroups = len(res.Scan.Skipped)
		s.finishRun(ctx, logger, res, run, nil)
	}

	s.exportArtifacts(logger, res, opts)
	s.upload(ctx, logger, res)
	s.alert(ctx, logger, res)

	return res, nil
}

// Forecast projects the reference price of productID. An empty currency picks
// the currency with the highest projected benefit.
func (s *Service) Forecast(ctx context.Context, productID, currency string) (forecast.Result, error) {
	var scratch Result
	cleaned, err := s.acquire(ctx, &scratch)
	if err != nil {
		return forecast.Result{}, err
	}
	normalized, _ := s.deps.Normalizer.Normalize(ctx, cleaned)
	usable := normalize.Usable(normalized)

	if currency == "" {
		return forecast.Best(usable, productID)
	}
	return forecast.Forecast(usable, productID, currency)
}

// Run starts the scheduled watch loop.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, s.ProcessSlot)
}

// ProcessSlot runs one scheduled analysis unless another instance holds the advisory lock.
func (s *Service) ProcessSlot(ctx context.Context, slot time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip slot because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	res, err := s.Analyze(ctx, RunOptions{})
	if err != nil {
		return err
	}
	s.logger.Info().
		Time("slot", slot).
		Str("run_id", res.RunID.String()).
		Int("opportunities", len(res.Scan.Opportunities)).
		Int("sink_errors", len(res.SinkErrors)).
		Msg("scheduled analysis recorded")
	return nil
}

// ceilingRates turns the configured fallback rates into the table Clean uses
// to express the price ceiling in the reference currency.
func ceilingRates(rates map[string]float64) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		if rate <= 0 {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(code))] = decimal.NewFromFloat(rate)
	}
	return out
}

func (s *Service) acquire(ctx context.Context, res *Result) ([]model.RawObservation, error) {
	if s.deps.Provider == nil {
		return nil, fmt.Errorf("observation provider not configured")
	}
	raw, err := s.deps.Provider.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch observations: %w", err)
	}
	res.Fetched = len(raw)

	cleaned, cleanReport := ingest.Clean(raw, ingest.CleanOptions{MaxPrice: s.maxRawPrice, Rates: s.cleanRates})
	res.Clean = cleanReport
	if len(cleanReport.Dropped) > 0 {
		s.logger.Info().
			Int("input", cleanReport.Input).
			Int("kept", cleanReport.Kept).
			Strs("dropped", cleanReport.Reasons()).
			Msg("observations cleaned")
	}
	if len(cleaned) == 0 {
		return nil, ErrNoObservations
	}
	return cleaned, nil
}

func (s *Service) finishRun(ctx context.Context, logger zerolog.Logger, res *Result, run storage.RunRecord, runErr error) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = storage.RunStatusCompleted
	if runErr != nil {
		msg := runErr.Error()
		run.Status = storage.RunStatusFailed
		run.Error = &msg
	}
	if err := s.deps.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		s.sinkFailed(logger, res, "finish run", err)
	}
}

func (s *Service) exportArtifacts(logger zerolog.Logger, res *Result, opts RunOptions) {
	runID := res.RunID.String()

	csvDir := opts.CSVDir
	if csvDir == "" && s.exportCSV && s.exportDir != "" {
		csvDir = filepath.Join(s.exportDir, runID)
	}
	if csvDir != "" {
		files := []struct {
			name  string
			write func(string) error
		}{
			{"opportunities.csv", func(p string) error { return export.WriteOpportunitiesCSV(p, res.Scan.Opportunities) }},
			{"normalized.csv", func(p string) error { return export.WriteNormalizedCSV(p, res.Normalized) }},
			{"stable_pairs.csv", func(p string) error { return export.WriteStablePairsCSV(p, res.StablePairs) }},
		}
		for _, f := range files {
			path := filepath.Join(csvDir, f.name)
			if err := f.write(path); err != nil {
				s.sinkFailed(logger, res, "export "+f.name, err)
				continue
			}
			res.Artifacts = append(res.Artifacts, path)
		}
	}

	pngDir := opts.PNGDir
	if pngDir == "" && s.exportPNG && s.exportDir != "" {
		pngDir = filepath.Join(s.exportDir, runID)
	}
	if pngDir != "" && len(res.Scan.Opportunities) > 0 {
		path := filepath.Join(pngDir, "opportunities.png")
		if err := export.WriteOpportunityChart(path, res.Scan.Opportunities, s.reference); err != nil {
			s.sinkFailed(logger, res, "export opportunity chart", err)
		} else {
			res.Artifacts = append(res.Artifacts, path)
		}
	}

	if len(res.Artifacts) > 0 {
		logger.Info().Strs("artifacts", res.Artifacts).Msg("artifacts exported")
	}
}

func (s *Service) upload(ctx context.Context, logger zerolog.Logger, res *Result) {
	if s.deps.Uploader == nil {
		return
	}
	for _, path := range res.Artifacts {
		key, err := s.deps.Uploader.PutFile(ctx, res.RunID.String(), path)
		if err != nil {
			s.sinkFailed(logger, res, "upload "+filepath.Base(path), err)
			continue
		}
		res.Uploaded = append(res.Uploaded, key)
	}
}

func (s *Service) alert(ctx context.Context, logger zerolog.Logger, res *Result) {
	if !s.alertsOn || s.deps.Notifier == nil {
		return
	}
	note, ok := alerting.BuildNotification(res.Scan.Opportunities, s.alertMinProfit, s.alertTopN)
	if !ok {
		logger.Debug().Str("min_profit_pct", s.alertMinProfit.String()).Msg("no opportunity meets the alert threshold")
		return
	}
	note.RunID = res.RunID.String()
	note.Brand = s.brand
	note.ReferenceCurrency = s.reference
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.sinkFailed(logger, res, "dispatch alert", err)
		return
	}
	res.Alerted = true
}

func (s *Service) sinkFailed(logger zerolog.Logger, res *Result, what string, err error) {
	wrapped := fmt.Errorf("%s: %w", what, err)
	res.SinkErrors = append(res.SinkErrors, wrapped)
	logger.Error().Err(err).Msg("failed to " + what)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
