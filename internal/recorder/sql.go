package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"
)

// SQLRecorder stores run history through database/sql. The same schema and
// queries serve SQLite and DuckDB.
type SQLRecorder struct {
	db     *sql.DB
	driver string
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewSQLiteRecorder opens (or creates) a SQLite history database.
func NewSQLiteRecorder(ctx context.Context, path string, logger *slog.Logger) (*SQLRecorder, error) {
	return open(ctx, "sqlite", path, []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}, logger)
}

// NewDuckDBRecorder opens (or creates) a DuckDB history database.
func NewDuckDBRecorder(ctx context.Context, path string, logger *slog.Logger) (*SQLRecorder, error) {
	return open(ctx, "duckdb", path, []string{
		"SET enable_progress_bar = false",
	}, logger)
}

func open(ctx context.Context, driver, path string, pragmas []string, logger *slog.Logger) (*SQLRecorder, error) {
	if path == "" {
		return nil, fmt.Errorf("%s recorder requires a database path", driver)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, newRecorderError("open", "", fmt.Errorf("failed to open %s database: %w", driver, err))
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			logger.Warn("failed to apply database setting", "driver", driver, "setting", p, "error", err)
		}
	}

	if err := NewMigrationManager(db, logger).MigrateToLatest(ctx); err != nil {
		db.Close()
		return nil, newRecorderError("migrate", "", err)
	}

	logger.Info("run recorder opened", "driver", driver, "path", path)
	return &SQLRecorder{db: db, driver: driver, path: path, logger: logger}, nil
}

// Driver returns the database/sql driver name.
func (r *SQLRecorder) Driver() string {
	return r.driver
}

// RecordCollection stores a run and its per-symbol results, replacing any
// earlier copy of the same run.
func (r *SQLRecorder) RecordCollection(ctx context.Context, report *models.CollectionReport) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return newRecorderError("begin", "collection_runs", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"symbol_results", "collection_runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", report.RunID); err != nil {
			return newRecorderError("delete", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO collection_runs
		(run_id, run_date, bar_interval, started_at, finished_at, succeeded, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, toMillis(report.Date), report.Interval,
		toMillis(report.StartedAt), toMillis(report.FinishedAt),
		report.Succeeded(), report.Failed(),
	); err != nil {
		return newRecorderError("insert", "collection_runs", err)
	}

	for i, res := range report.Results {
		if _, err := tx.ExecContext(ctx, `INSERT INTO symbol_results
			(run_id, position, symbol, status, path, bars, first_bar, last_bar, error_type, error_message, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, i, res.Symbol, string(res.Status), res.Path, res.Bars,
			toMillis(res.First), toMillis(res.Last), res.ErrorType, res.Error, int64(res.Duration),
		); err != nil {
			return newRecorderError("insert", "symbol_results", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newRecorderError("commit", "collection_runs", err)
	}

	r.logger.Debug("collection run recorded", "run_id", report.RunID, "symbols", len(report.Results))
	return nil
}

// RecordForecast stores a forecast summary. A summary without a run id gets
// a fresh one.
func (r *SQLRecorder) RecordForecast(ctx context.Context, s models.ForecastSummary) error {
	if s.RunID == "" {
		s.RunID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return newRecorderError("begin", "forecasts", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM forecasts WHERE run_id = ? AND symbol = ?", s.RunID, s.Symbol); err != nil {
		return newRecorderError("delete", "forecasts", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO forecasts
		(run_id, symbol, generated_at, observations, first_observed, last_observed, last_close,
		 horizon_hours, next_ds, next_yhat, next_lower, next_upper, horizon_ds, horizon_yhat,
		 expected_change, latest_signal, plot_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Symbol, toMillis(s.GeneratedAt), s.Observations,
		toMillis(s.FirstObserved), toMillis(s.LastObserved), s.LastClose,
		s.HorizonHours, toMillis(s.NextDS), s.NextYHat, s.NextLower, s.NextUpper,
		toMillis(s.HorizonDS), s.HorizonYHat, s.ExpectedChange, int64(s.LatestSignal), s.PlotPath,
	); err != nil {
		return newRecorderError("insert", "forecasts", err)
	}

	if err := tx.Commit(); err != nil {
		return newRecorderError("commit", "forecasts", err)
	}
	return nil
}

// RecentCollections returns the latest runs, newest first.
func (r *SQLRecorder) RecentCollections(ctx context.Context, limit int) ([]models.CollectionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT run_id, run_date, bar_interval, started_at, finished_at
		FROM collection_runs ORDER BY started_at DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, newRecorderError("query", "collection_runs", err)
	}

	var reports []models.CollectionReport
	for rows.Next() {
		var (
			rep                     models.CollectionReport
			date, started, finished int64
		)
		if err := rows.Scan(&rep.RunID, &date, &rep.Interval, &started, &finished); err != nil {
			rows.Close()
			return nil, newRecorderError("scan", "collection_runs", err)
		}
		rep.Date, rep.StartedAt, rep.FinishedAt = fromMillis(date), fromMillis(started), fromMillis(finished)
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, newRecorderError("query", "collection_runs", err)
	}
	rows.Close()

	for i := range reports {
		results, err := r.results(ctx, reports[i].RunID)
		if err != nil {
			return nil, err
		}
		reports[i].Results = results
	}
	return reports, nil
}

func (r *SQLRecorder) results(ctx context.Context, runID string) ([]models.SymbolResult, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, status, path, bars, first_bar, last_bar, error_type, error_message, duration_ns
		FROM symbol_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, newRecorderError("query", "symbol_results", err)
	}
	defer rows.Close()

	var out []models.SymbolResult
	for rows.Next() {
		var (
			res                   models.SymbolResult
			status                string
			first, last, duration int64
		)
		if err := rows.Scan(&res.Symbol, &status, &res.Path, &res.Bars, &first, &last, &res.ErrorType, &res.Error, &duration); err != nil {
			return nil, newRecorderError("scan", "symbol_results", err)
		}
		res.Status = models.RunStatus(status)
		res.First, res.Last = fromMillis(first), fromMillis(last)
		res.Duration = time.Duration(duration)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, newRecorderError("query", "symbol_results", err)
	}
	return out, nil
}

// RecentForecasts returns the latest summaries for symbol, newest first.
func (r *SQLRecorder) RecentForecasts(ctx context.Context, symbol string, limit int) ([]models.ForecastSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT run_id, symbol, generated_at, observations, first_observed, last_observed,
		last_close, horizon_hours, next_ds, next_yhat, next_lower, next_upper, horizon_ds, horizon_yhat,
		expected_change, latest_signal, plot_path
		FROM forecasts WHERE symbol = ? ORDER BY generated_at DESC LIMIT ?`, symbol, normalizeLimit(limit))
	if err != nil {
		return nil, newRecorderError("query", "forecasts", err)
	}
	defer rows.Close()

	var out []models.ForecastSummary
	for rows.Next() {
		var (
			s                                 models.ForecastSummary
			generated, first, last, next, end int64
			signal                            int64
		)
		if err := rows.Scan(&s.RunID, &s.Symbol, &generated, &s.Observations, &first, &last,
			&s.LastClose, &s.HorizonHours, &next, &s.NextYHat, &s.NextLower, &s.NextUpper, &end, &s.HorizonYHat,
			&s.ExpectedChange, &signal, &s.PlotPath); err != nil {
			return nil, newRecorderError("scan", "forecasts", err)
		}
		s.GeneratedAt, s.FirstObserved, s.LastObserved = fromMillis(generated), fromMillis(first), fromMillis(last)
		s.NextDS, s.HorizonDS = fromMillis(next), fromMillis(end)
		s.LatestSignal = models.Signal(signal)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, newRecorderError("query", "forecasts", err)
	}
	return out, nil
}

// Close closes the database.
func (r *SQLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 20
	}
	return limit
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
