package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/alerting"
	"watch-arbitrage/internal/arbitrage"
	"watch-arbitrage/internal/cache"
	"watch-arbitrage/internal/config"
	"watch-arbitrage/internal/export"
	"watch-arbitrage/internal/fetcher"
	"watch-arbitrage/internal/fx"
	"watch-arbitrage/internal/ingest"
	"watch-arbitrage/internal/model"
	"watch-arbitrage/internal/normalize"
	"watch-arbitrage/internal/scheduler"
	"watch-arbitrage/internal/service"
	"watch-arbitrage/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// AnalyzeOptions configure the analyze command.
type AnalyzeOptions struct {
	CSVDir    string
	PNGDir    string
	NoPersist bool
}

// ForecastOptions configure the forecast command.
type ForecastOptions struct {
	ProductID string
	Currency  string
	PNGPath   string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// runtime holds the service and the resources it borrows for one command.
type runtime struct {
	svc     *service.Service
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newProvider(store *storage.Store) (ingest.Provider, error) {
	src := a.Config.Source
	switch src.Kind {
	case "postgres":
		if store == nil {
			return nil, errors.New("postgres source requires database.dsn")
		}
		return store.Provider(src.Brand), nil
	case "xlsx":
		return ingest.NewXLSXProvider(src.Path, src.Sheet, src.Brand, a.Logger), nil
	case "csv":
		return ingest.NewCSVProvider(src.Path, src.Brand, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", src.Kind)
	}
}

// newRateFetcher builds the precise historical source. A nil fetcher means the
// resolver relies on the fallback table alone.
func (a *App) newRateFetcher(ctx context.Context) (fetcher.HistoricalRateFetcher, func(), error) {
	rates := a.Config.Rates

	var inner fetcher.HistoricalRateFetcher
	switch rates.Kind {
	case "none", "":
		return nil, nil, nil
	case "chainlink":
		inner = fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:   rates.Chainlink.RPCURL,
			Feeds:    rates.Chainlink.Feeds,
			Timeout:  rates.RequestTimeout,
			MaxSteps: rates.Chainlink.MaxSteps,
		}, a.Logger)
	case "http":
		inner = fetcher.NewHistorical(fetcher.HistoricalOptions{
			BaseURL:           rates.BaseURL,
			Timeout:           rates.RequestTimeout,
			UserAgent:         rates.UserAgent,
			RequestsPerSecond: rates.RequestsPerSecond,
			Burst:             rates.Burst,
		}, a.Logger)
	default:
		return nil, nil, fmt.Errorf("unknown rates kind %q", rates.Kind)
	}

	switch rates.Cache.Kind {
	case "memory":
		return fetcher.NewCached(inner, cache.NewMemory(rates.Cache.TTL), a.Logger), nil, nil
	case "redis":
		rc := a.Config.Redis
		prefix := rc.Prefix
		if prefix != "" && !strings.HasSuffix(prefix, ":") {
			prefix += ":"
		}
		redisCache, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:       rc.Addr,
			Password:   rc.Password,
			DB:         rc.DB,
			PoolSize:   rc.PoolSize,
			TLSEnabled: rc.TLSEnabled,
			Prefix:     prefix,
			TTL:        rates.Cache.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if err := redisCache.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close redis rate cache")
			}
		}
		return fetcher.NewCached(inner, redisCache, a.Logger), closer, nil
	default:
		return inner, nil, nil
	}
}

func (a *App) bound() model.Bound {
	return model.Bound{
		Min: decimal.NewFromFloat(a.Config.Normalize.MinPlausible),
		Max: decimal.NewFromFloat(a.Config.Normalize.MaxPlausible),
	}
}

func (a *App) newPipeline(precise fetcher.HistoricalRateFetcher) (*normalize.Normalizer, *arbitrage.Scanner, error) {
	table, err := fx.NewFallbackTable(a.Config.FX.FallbackRates)
	if err != nil {
		return nil, nil, err
	}
	resolver := fx.NewResolver(fx.ResolverOptions{
		ReferenceCurrency: a.Config.FX.ReferenceCurrency,
		Fallback:          table,
		Tolerance:         decimal.NewFromFloat(a.Config.FX.Tolerance),
	}, precise, a.Logger)

	normalizer := normalize.New(resolver, normalize.Options{
		Bound:   a.bound(),
		Workers: a.Config.Normalize.Workers,
	}, a.Logger)

	scanner := arbitrage.NewScanner(arbitrage.Config{
		ReferenceCurrency: a.Config.FX.ReferenceCurrency,
		AllowedCurrencies: a.Config.Scanner.AllowedCurrencies,
		MinProfitPct:      decimal.NewFromFloat(a.Config.Scanner.MinProfitPct),
		MaxProfitPct:      decimal.NewFromFloat(a.Config.Scanner.MaxProfitPct),
		Bound:             a.bound(),
		Workers:           a.Config.Scanner.Workers,
	}, a.Logger)

	return normalizer, scanner, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newUploader(ctx context.Context) (service.Uploader, error) {
	cfg := a.Config.S3
	if !cfg.Enabled {
		return nil, nil
	}
	sink, err := export.NewS3Sink(ctx, export.S3Config{
		Endpoint:       cfg.Endpoint,
		Region:         cfg.Region,
		Bucket:         cfg.Bucket,
		Prefix:         cfg.Prefix,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		ForcePathStyle: cfg.ForcePathStyle,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("init s3 sink: %w", err)
	}
	return sink, nil
}

// build wires every dependency the service needs. Sinks are only built when
// withSinks is set; the forecast command needs the pipeline alone.
func (a *App) build(ctx context.Context, withSinks bool, sched *scheduler.Scheduler) (*runtime, error) {
	rt := &runtime{}
	fail := func(err error) (*runtime, error) {
		rt.close()
		return nil, err
	}

	var store *storage.Store
	if a.Config.Source.Kind == "postgres" || (withSinks && a.Config.PersistenceEnabled()) || sched != nil {
		s, closeStore, err := a.openStore(ctx)
		if err != nil {
			return fail(err)
		}
		if closeStore != nil {
			rt.closers = append(rt.closers, closeStore)
		}
		store = s
	}

	provider, err := a.newProvider(store)
	if err != nil {
		return fail(err)
	}

	precise, closeRates, err := a.newRateFetcher(ctx)
	if err != nil {
		return fail(err)
	}
	if closeRates != nil {
		rt.closers = append(rt.closers, closeRates)
	}

	normalizer, scanner, err := a.newPipeline(precise)
	if err != nil {
		return fail(err)
	}

	deps := service.Dependencies{
		Provider:   provider,
		Normalizer: normalizer,
		Scanner:    scanner,
		Scheduler:  sched,
	}
	if store != nil {
		deps.Locker = store
	}
	if withSinks {
		if store != nil && a.Config.Database.Persist {
			deps.Runs = store
		}
		uploader, err := a.newUploader(ctx)
		if err != nil {
			return fail(err)
		}
		deps.Uploader = uploader
		deps.Notifier = a.newNotifier()
	}

	rt.svc = service.New(a.Config, deps, a.Logger)
	return rt, nil
}

// Watch runs analyses on the scheduler interval until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, a.Logger)
	if err != nil {
		return err
	}

	rt, err := a.build(ctx, true, sched)
	if err != nil {
		return err
	}
	defer rt.close()

	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; persistence and advisory lock disabled")
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting watch loop")
	err = rt.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}
