package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"watch-arbitrage/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listObservationsSQL = `SELECT
        reference_code,
        collection,
        brand,
        price::text,
        currency,
        life_span_date
    FROM price_observations
    WHERE ($1 = '' OR lower(brand) = lower($1))
    ORDER BY life_span_date, reference_code, currency, id;`

	insertRunSQL = `INSERT INTO analysis_runs (
        id,
        brand,
        reference_currency,
        status,
        started_at
    ) VALUES ($1,$2,$3,$4,$5);`

	finishRunSQL = `UPDATE analysis_runs
    SET observations   = $2,
        usable         = $3,
        opportunities  = $4,
        skipped_groups = $5,
        status         = $6,
        error          = $7,
        finished_at    = $8
    WHERE id = $1;`

	insertNormalizedSQL = `INSERT INTO normalized_observations (
        run_id,
        position,
        reference_code,
        currency,
        life_span_date,
        price,
        reference_price,
        method,
        failure_reason
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    ON CONFLICT (run_id, position) DO NOTHING;`

	insertOpportunitySQL = `INSERT INTO opportunities (
        run_id,
        reference_code,
        life_span_date,
        direction,
        buy_currency,
        buy_price_local,
        buy_price_reference,
        sell_currency,
        sell_price_local,
        sell_price_reference,
        implied_rate,
        profit_reference,
        profit_pct
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`

	listRecentOpportunitiesSQL = `SELECT
        id,
        run_id,
        reference_code,
        life_span_date,
        direction,
        buy_currency,
        buy_price_local::text,
        buy_price_reference::text,
        sell_currency,
        sell_price_local::text,
        sell_price_reference::text,
        implied_rate::text,
        profit_reference::text,
        profit_pct::text,
        created_at
    FROM opportunities
    ORDER BY created_at DESC, profit_pct DESC
    LIMIT $1;`

	listRecentRunsSQL = `SELECT
        id,
        brand,
        reference_currency,
        observations,
        usable,
        opportunities,
        skipped_groups,
        status,
        error,
        started_at,
        finished_at
    FROM analysis_runs
    ORDER BY started_at DESC
    LIMIT $1;`

	createMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        filename   TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationSource lists raw price observations.
type ObservationSource interface {
	ListObservations(ctx context.Context, brand string) ([]model.RawObservation, error)
}

// RunStore persists analysis runs and their outputs.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) error
	FinishRun(ctx context.Context, run RunRecord) error
	InsertNormalized(ctx context.Context, runID uuid.UUID, observations []model.NormalizedObservation) error
	InsertOpportunities(ctx context.Context, runID uuid.UUID, opps []model.Opportunity) error
}

// OpportunityStore reads persisted opportunities.
type OpportunityStore interface {
	ListRecentOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store implements every persistence interface on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies embedded schema migrations that have not run yet.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		var applied bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, string(body)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListObservations returns raw observations for brand; an empty brand lists everything.
func (s *Store) ListObservations(ctx context.Context, brand string) ([]model.RawObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listObservationsSQL, strings.TrimSpace(brand))
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	out := make([]model.RawObservation, 0)
	for rows.Next() {
		var (
			obs      model.RawObservation
			priceStr string
			date     time.Time
		)
		if err := rows.Scan(&obs.ProductID, &obs.Collection, &obs.Brand, &priceStr, &obs.Currency, &date); err != nil {
			return nil, err
		}
		if obs.Price, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		obs.Date = model.Day(date)
		out = append(out, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// InsertRun records the start of an analysis run.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertRunSQL, run.ID, run.Brand, run.ReferenceCurrency, run.Status, run.StartedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters and status of a run.
func (s *Store) FinishRun(ctx context.Context, run RunRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}

	if _, err := pool.Exec(ctx, finishRunSQL,
		run.ID,
		run.Observations,
		run.Usable,
		run.Opportunities,
		run.SkippedGroups,
		run.Status,
		errMsg,
		finished,
	); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// InsertNormalized stores the normalized dataset of a run, failed rows included.
func (s *Store) InsertNormalized(ctx context.Context, runID uuid.UUID, observations []model.NormalizedObservation) error {
	if len(observations) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, o := range observations {
		var refPrice, reason interface{}
		if o.HasReferencePrice() {
			refPrice = o.ReferencePrice.String()
		}
		if o.FailureReason != "" {
			reason = o.FailureReason
		}
		batch.Queue(insertNormalizedSQL,
			runID,
			i,
			o.ProductID,
			o.Currency,
			o.Date,
			o.Price.String(),
			refPrice,
			string(o.Method),
			reason,
		)
	}
	return sendBatch(ctx, pool, batch, "normalized observation")
}

// InsertOpportunities stores the opportunities found by a run.
func (s *Store) InsertOpportunities(ctx context.Context, runID uuid.UUID, opps []model.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, o := range opps {
		batch.Queue(insertOpportunitySQL,
			runID,
			o.ProductID,
			o.Date,
			string(o.Direction),
			o.BuyCurrency,
			o.BuyPriceLocal.String(),
			o.BuyPriceReference.String(),
			o.SellCurrency,
			o.SellPriceLocal.String(),
			o.SellPriceReference.String(),
			o.ImpliedRate.StringFixed(10),
			o.ProfitReference.String(),
			o.ProfitPct.StringFixed(6),
		)
	}
	return sendBatch(ctx, pool, batch, "opportunity")
}

func sendBatch(ctx context.Context, pool *pgxpool.Pool, batch *pgx.Batch, what string) error {
	br := pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert %s batch item %d: %w", what, i, err)
		}
	}
	return nil
}

// ListRecentOpportunities lists the most recently stored opportunities.
func (s *Store) ListRecentOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentOpportunitiesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", err)
	}
	defer rows.Close()

	out := make([]OpportunityRecord, 0, limit)
	for rows.Next() {
		rec, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ListRecentRuns lists the most recent analysis runs.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunRecord, 0, limit)
	for rows.Next() {
		var (
			rec      RunRecord
			errMsg   sql.NullString
			finished sql.NullTime
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Brand,
			&rec.ReferenceCurrency,
			&rec.Observations,
			&rec.Usable,
			&rec.Opportunities,
			&rec.SkippedGroups,
			&rec.Status,
			&errMsg,
			&rec.StartedAt,
			&finished,
		); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			msg := errMsg.String
			rec.Error = &msg
		}
		if finished.Valid {
			ts := finished.Time
			rec.FinishedAt = &ts
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanOpportunity(rows pgx.Rows) (OpportunityRecord, error) {
	var (
		rec       OpportunityRecord
		direction string
		date      time.Time
		amounts   [7]string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.RunID,
		&rec.ProductID,
		&date,
		&direction,
		&rec.BuyCurrency,
		&amounts[0],
		&amounts[1],
		&rec.SellCurrency,
		&amounts[2],
		&amounts[3],
		&amounts[4],
		&amounts[5],
		&amounts[6],
		&rec.CreatedAt,
	); err != nil {
		return OpportunityRecord{}, err
	}

	targets := []*decimal.Decimal{
		&rec.BuyPriceLocal,
		&rec.BuyPriceReference,
		&rec.SellPriceLocal,
		&rec.SellPriceReference,
		&rec.ImpliedRate,
		&rec.ProfitReference,
		&rec.ProfitPct,
	}
	for i, target := range targets {
		value, err := decimal.NewFromString(amounts[i])
		if err != nil {
			return OpportunityRecord{}, fmt.Errorf("parse opportunity amount %d: %w", i, err)
		}
		*target = value
	}
	rec.Date = model.Day(date)
	rec.Direction = model.Direction(direction)
	return rec, nil
}

// Provider adapts the store to the observation provider contract for one brand.
func (s *Store) Provider(brand string) *ObservationProvider {
	return &ObservationProvider{source: s, brand: brand}
}

// ObservationProvider serves raw observations of one brand from an ObservationSource.
type ObservationProvider struct {
	source ObservationSource
	brand  string
}

// Fetch lists the brand's observations.
func (p *ObservationProvider) Fetch(ctx context.Context) ([]model.RawObservation, error) {
	return p.source.ListObservations(ctx, p.brand)
}

var (
	_ ObservationSource = (*Store)(nil)
	_ RunStore          = (*Store)(nil)
	_ OpportunityStore  = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
