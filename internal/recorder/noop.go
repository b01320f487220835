package recorder

import (
	"context"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

// NoopRecorder is used when no history database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordCollection(context.Context, *models.CollectionReport) error {
	return nil
}

func (n *NoopRecorder) RecordForecast(context.Context, models.ForecastSummary) error {
	return nil
}

func (n *NoopRecorder) RecentCollections(context.Context, int) ([]models.CollectionReport, error) {
	return nil, nil
}

func (n *NoopRecorder) RecentForecasts(context.Context, string, int) ([]models.ForecastSummary, error) {
	return nil, nil
}

func (n *NoopRecorder) Close() error { return nil }
