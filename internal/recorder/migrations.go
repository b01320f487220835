package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration is one versioned schema change.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
	Down        func(ctx context.Context, tx *sql.Tx) error
}

// MigrationManager applies migrations and records them in schema_migrations.
// The schema sticks to types both SQLite and DuckDB understand, and rows are
// replaced with delete then insert instead of relying on upsert syntax.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrationManager creates a migration manager for db.
func NewMigrationManager(db *sql.DB, logger *slog.Logger) *MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &MigrationManager{
		db:         db,
		logger:     logger,
		migrations: allMigrations(),
	}
}

func (m *MigrationManager) initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at BIGINT NOT NULL,
			execution_time BIGINT NOT NULL
		)`
	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// MigrateToLatest applies every pending migration in order.
func (m *MigrationManager) MigrateToLatest(ctx context.Context) error {
	if err := m.initialize(ctx); err != nil {
		return err
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.run(ctx, mig); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", mig.Version, err)
		}
		applied++
	}

	if applied > 0 {
		m.logger.Info("recorder schema migrated",
			"from_version", current,
			"migrations_run", applied)
	}
	return nil
}

// Rollback reverts migrations above target, newest first.
func (m *MigrationManager) Rollback(ctx context.Context, target int) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.Version <= target || mig.Version > current {
			continue
		}
		if err := m.revert(ctx, mig); err != nil {
			return fmt.Errorf("failed to roll back migration %d: %w", mig.Version, err)
		}
	}
	return nil
}

// CurrentVersion returns the highest applied version, 0 when none.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

func (m *MigrationManager) run(ctx context.Context, mig Migration) error {
	start := time.Now()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := mig.Up(ctx, tx); err != nil {
		return fmt.Errorf("migration execution failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description, applied_at, execution_time) VALUES (?, ?, ?, ?)`,
		mig.Version, mig.Description, start.UnixMilli(), time.Since(start).Nanoseconds()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.logger.Debug("migration applied", "version", mig.Version, "description", mig.Description)
	return nil
}

func (m *MigrationManager) revert(ctx context.Context, mig Migration) error {
	if mig.Down == nil {
		return fmt.Errorf("migration %d has no rollback function", mig.Version)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start rollback transaction: %w", err)
	}
	defer tx.Rollback()

	if err := mig.Down(ctx, tx); err != nil {
		return fmt.Errorf("rollback execution failed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", mig.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}
	return tx.Commit()
}

func allMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Collection runs and per-symbol results",
			Up: execAll(
				`CREATE TABLE IF NOT EXISTS collection_runs (
					run_id VARCHAR NOT NULL,
					run_date BIGINT NOT NULL,
					bar_interval VARCHAR NOT NULL,
					started_at BIGINT NOT NULL,
					finished_at BIGINT NOT NULL,
					succeeded BIGINT NOT NULL,
					failed BIGINT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS symbol_results (
					run_id VARCHAR NOT NULL,
					position BIGINT NOT NULL,
					symbol VARCHAR NOT NULL,
					status VARCHAR NOT NULL,
					path VARCHAR NOT NULL,
					bars BIGINT NOT NULL,
					first_bar BIGINT NOT NULL,
					last_bar BIGINT NOT NULL,
					error_type VARCHAR NOT NULL,
					error_message VARCHAR NOT NULL,
					duration_ns BIGINT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_collection_runs_run_id ON collection_runs (run_id)`,
				`CREATE INDEX IF NOT EXISTS idx_collection_runs_started ON collection_runs (started_at)`,
				`CREATE INDEX IF NOT EXISTS idx_symbol_results_run_id ON symbol_results (run_id)`,
			),
			Down: execAll(
				"DROP TABLE IF EXISTS symbol_results",
				"DROP TABLE IF EXISTS collection_runs",
			),
		},
		{
			Version:     2,
			Description: "Forecast summaries",
			Up: execAll(
				`CREATE TABLE IF NOT EXISTS forecasts (
					run_id VARCHAR NOT NULL,
					symbol VARCHAR NOT NULL,
					generated_at BIGINT NOT NULL,
					observations BIGINT NOT NULL,
					first_observed BIGINT NOT NULL,
					last_observed BIGINT NOT NULL,
					last_close DOUBLE NOT NULL,
					horizon_hours BIGINT NOT NULL,
					next_ds BIGINT NOT NULL,
					next_yhat DOUBLE NOT NULL,
					next_lower DOUBLE NOT NULL,
					next_upper DOUBLE NOT NULL,
					horizon_ds BIGINT NOT NULL,
					horizon_yhat DOUBLE NOT NULL,
					expected_change DOUBLE NOT NULL,
					latest_signal BIGINT NOT NULL,
					plot_path VARCHAR NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_forecasts_symbol_generated ON forecasts (symbol, generated_at)`,
			),
			Down: execAll("DROP TABLE IF EXISTS forecasts"),
		},
	}
}

func execAll(queries ...string) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, q := range queries {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
		}
		return nil
	}
}
