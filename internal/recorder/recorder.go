// Package recorder keeps an optional history of collection runs and forecast
// summaries. The CSV snapshots stay the source of truth; the recorder only
// answers "what happened on previous runs" for the API and for operators.
package recorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

// Recorder persists run history.
type Recorder interface {
	RecordCollection(ctx context.Context, report *models.CollectionReport) error
	RecordForecast(ctx context.Context, summary models.ForecastSummary) error
	RecentCollections(ctx context.Context, limit int) ([]models.CollectionReport, error)
	RecentForecasts(ctx context.Context, symbol string, limit int) ([]models.ForecastSummary, error)
	Close() error
}

// Backend names accepted by New.
const (
	TypeNone   = "none"
	TypeSQLite = "sqlite"
	TypeDuckDB = "duckdb"
)

// New opens the configured backend. An empty type means no recording.
func New(ctx context.Context, cfg config.RecorderConfig, logger *slog.Logger) (Recorder, error) {
	var (
		r   *SQLRecorder
		err error
	)
	switch cfg.Type {
	case "", TypeNone:
		return NewNoopRecorder(), nil
	case TypeSQLite:
		r, err = NewSQLiteRecorder(ctx, cfg.Path, logger)
	case TypeDuckDB:
		r, err = NewDuckDBRecorder(ctx, cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported recorder type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RecorderError wraps a failed database operation.
type RecorderError struct {
	Operation string
	Table     string
	Err       error
}

func (e *RecorderError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("recorder %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("recorder %s failed: %v", e.Operation, e.Err)
}

func (e *RecorderError) Unwrap() error {
	return e.Err
}

func newRecorderError(operation, table string, err error) *RecorderError {
	return &RecorderError{Operation: operation, Table: table, Err: err}
}
