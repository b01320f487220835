package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}-[A-Z0-9]{1,15}$`)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// CandleResponse is one bar of a series.
type CandleResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Open      string    `json:"open"`
	High      string    `json:"high"`
	Low       string    `json:"low"`
	Close     string    `json:"close"`
	Volume    string    `json:"volume"`
	Value     string    `json:"value,omitempty"`
}

// SeriesResponse is returned by GET /series/:symbol.
type SeriesResponse struct {
	Symbol       string           `json:"symbol"`
	LookbackDays int              `json:"lookback_days,omitempty"`
	Bars         int              `json:"bars"`
	Files        int              `json:"files"`
	MissingBars  int              `json:"missing_bars"`
	Candles      []CandleResponse `json:"candles"`
}

// ForecastResponse is returned by GET /forecast/:symbol.
type ForecastResponse struct {
	Summary models.ForecastSummary `json:"summary"`
	Points  []models.ForecastPoint `json:"points"`
}

// HealthCheck reports liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Timestamp: time.Now().UTC(),
	})
}

// GetSeries returns the aggregated series.
//
// GET /series/:symbol?days=180
func (h *Handler) GetSeries(c *gin.Context) {
	symbol, ok := h.symbol(c)
	if !ok {
		return
	}
	days, ok := h.intQuery(c, "days", 0, 1, maxLookbackDays)
	if !ok {
		return
	}

	series, err := h.service.Series(c.Request.Context(), symbol, days)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp := SeriesResponse{
		Symbol:       series.Symbol,
		LookbackDays: days,
		Bars:         series.Len(),
		Files:        len(series.Files),
		Candles:      make([]CandleResponse, 0, series.Len()),
	}
	for _, g := range series.Gaps(h.step) {
		resp.MissingBars += g.Missing
	}
	for _, cd := range series.Candles {
		resp.Candles = append(resp.Candles, CandleResponse{
			Timestamp: cd.Timestamp,
			Open:      cd.Open,
			High:      cd.High,
			Low:       cd.Low,
			Close:     cd.Close,
			Volume:    cd.Volume,
			Value:     cd.Value,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// GetForecast fits the series and returns the summary with the future rows.
// history=true includes the fitted rows over the observations as well.
//
// GET /forecast/:symbol?horizon=24&history=false
func (h *Handler) GetForecast(c *gin.Context) {
	symbol, ok := h.symbol(c)
	if !ok {
		return
	}
	horizon, ok := h.intQuery(c, "horizon", 0, 1, maxHorizonHours)
	if !ok {
		return
	}
	withHistory, _ := strconv.ParseBool(c.DefaultQuery("history", "false"))

	fc, err := h.service.Forecast(c.Request.Context(), symbol, horizon)
	if err != nil {
		h.fail(c, err)
		return
	}

	points := fc.FuturePoints()
	if withHistory {
		points = fc.Points
	}
	if points == nil {
		points = []models.ForecastPoint{}
	}
	c.JSON(http.StatusOK, ForecastResponse{Summary: fc.Summarize(), Points: points})
}

// GetForecastHistory lists recorded forecast summaries for a symbol.
//
// GET /forecast/:symbol/history?limit=20
func (h *Handler) GetForecastHistory(c *gin.Context) {
	symbol, ok := h.symbol(c)
	if !ok {
		return
	}
	limit, ok := h.intQuery(c, "limit", 20, 1, 1000)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusOK, []models.ForecastSummary{})
		return
	}

	summaries, err := h.history.RecentForecasts(c.Request.Context(), symbol, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if summaries == nil {
		summaries = []models.ForecastSummary{}
	}
	c.JSON(http.StatusOK, summaries)
}

// GetRuns lists recorded collection runs.
//
// GET /runs?limit=20
func (h *Handler) GetRuns(c *gin.Context) {
	limit, ok := h.intQuery(c, "limit", 20, 1, 1000)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusOK, []models.CollectionReport{})
		return
	}

	reports, err := h.history.RecentCollections(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	if reports == nil {
		reports = []models.CollectionReport{}
	}
	c.JSON(http.StatusOK, reports)
}

// GetMetrics returns the in-process metrics snapshot.
//
// GET /metrics
func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}

func (h *Handler) symbol(c *gin.Context) (string, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if !symbolPattern.MatchString(symbol) {
		h.badRequest(c, "invalid symbol: "+c.Param("symbol"))
		return "", false
	}
	return symbol, true
}

// intQuery reads an optional integer parameter bounded by [lo, hi].
func (h *Handler) intQuery(c *gin.Context, name string, def, lo, hi int) (int, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		h.badRequest(c, name+" must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return v, true
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:     msg,
		ErrorType: string(apperrors.ErrorTypeBadRequest),
		RequestID: c.GetString(RequestIDContextKey),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	errType := apperrors.TypeOf(err)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrNoData):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errType == apperrors.ErrorTypeNotFound:
		status = http.StatusNotFound
	case errType == apperrors.ErrorTypeNetwork, errType == apperrors.ErrorTypeServerError, errType == apperrors.ErrorTypeRateLimit:
		status = http.StatusBadGateway
	}

	if status >= 500 {
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		ErrorType: string(errType),
		RequestID: c.GetString(RequestIDContextKey),
	})
}
