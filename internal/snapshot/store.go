// Package snapshot persists daily OHLCV batches as one CSV file per symbol
// and date, named <symbol>_<YYYYMMDD>.csv.
//
// Files are the only durable state of the collector. Writing the same
// (symbol, date) twice replaces the earlier file.
package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/shopspring/decimal"
)

const (
	// DateLayout is the date part of a snapshot filename.
	DateLayout = "20060102"
	// TimestampLayout is how bar timestamps are written. The offset keeps
	// the repeated hour at a daylight saving fall-back distinct.
	TimestampLayout = time.RFC3339

	legacyTimestampLayout = "2006-01-02 15:04:05"

	fileExt = ".csv"
)

// Header is the column layout of files written by Store.
var Header = []string{"timestamp", "open", "high", "low", "close", "volume", "value"}

// readLayouts are accepted when reading, so files produced by other tools
// (pandas to_csv with a datetime index, ISO exports) still load.
// Layouts without an offset are read in the store's location.
var readLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	legacyTimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Store reads and writes snapshot files under a single directory.
type Store struct {
	dir      string
	location *time.Location
	interval string
	logger   *slog.Logger
}

// NewStore returns a store rooted at dir. Dates and timestamps are rendered
// in loc; a nil loc means UTC.
func NewStore(dir string, loc *time.Location, logger *slog.Logger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, location: loc, interval: "minute60", logger: logger}
}

// WithInterval sets the interval stamped on candles read back from disk.
func (s *Store) WithInterval(interval string) *Store {
	if interval != "" {
		s.interval = interval
	}
	return s
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Location returns the time zone used for file dates.
func (s *Store) Location() *time.Location {
	return s.location
}

// Filename returns the file name for symbol on date, e.g. KRW-BTC_20240101.csv.
func (s *Store) Filename(symbol string, date time.Time) string {
	return symbol + "_" + date.In(s.location).Format(DateLayout) + fileExt
}

// Path returns the full path for symbol on date.
func (s *Store) Path(symbol string, date time.Time) string {
	return filepath.Join(s.dir, s.Filename(symbol, date))
}

// Write stores candles as the snapshot for (symbol, date), replacing any
// existing file. The new content becomes visible atomically.
func (s *Store) Write(symbol string, date time.Time, candles []models.Candle) (string, error) {
	if len(candles) == 0 {
		return "", fmt.Errorf("refusing to write empty snapshot for %s: %w", symbol, apperrors.ErrEmptyResponse)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	path := s.Path(symbol, date)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if err := s.encode(tmp, candles); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", path, err)
	}

	s.logger.Debug("snapshot written", "path", path, "rows", len(candles))
	return path, nil
}

func (s *Store) encode(w io.Writer, candles []models.Candle) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, c := range candles {
		record := []string{
			c.Timestamp.In(s.location).Format(TimestampLayout),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			c.Value,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// Load reads the snapshot for (symbol, date). A missing file yields an error
// matching fs.ErrNotExist.
func (s *Store) Load(symbol string, date time.Time) ([]models.Candle, error) {
	return s.ReadFile(s.Path(symbol, date), symbol)
}

// Exists reports whether a snapshot for (symbol, date) is present.
func (s *Store) Exists(symbol string, date time.Time) bool {
	_, err := os.Stat(s.Path(symbol, date))
	return err == nil
}

// ReadFile parses one snapshot file. Any malformed row makes the whole file
// unusable and is reported as a *errors.ParseError.
func (s *Store) ReadFile(path, symbol string) ([]models.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return s.decode(f, path, symbol)
}

// columns maps header names to record positions.
type columns struct {
	timestamp, open, high, low, close, volume, value int
}

func parseHeader(header []string) (columns, error) {
	cols := columns{timestamp: -1, open: -1, high: -1, low: -1, close: -1, volume: -1, value: -1}

	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "timestamp", "datetime", "date", "time", "index", "":
			if cols.timestamp < 0 {
				cols.timestamp = i
			}
		case "open":
			cols.open = i
		case "high":
			cols.high = i
		case "low":
			cols.low = i
		case "close":
			cols.close = i
		case "volume":
			cols.volume = i
		case "value":
			cols.value = i
		}
	}

	required := []struct {
		name string
		idx  int
	}{
		{"timestamp", cols.timestamp},
		{"open", cols.open},
		{"high", cols.high},
		{"low", cols.low},
		{"close", cols.close},
		{"volume", cols.volume},
	}
	var missing []string
	for _, col := range required {
		if col.idx < 0 {
			missing = append(missing, col.name)
		}
	}
	if len(missing) > 0 {
		return cols, fmt.Errorf("header is missing columns %v", missing)
	}
	return cols, nil
}

func (s *Store) decode(r io.Reader, path, symbol string) ([]models.Candle, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &apperrors.ParseError{Source: path, Err: errors.New("empty file")}
	}
	if err != nil {
		return nil, &apperrors.ParseError{Source: path, Line: 1, Err: err}
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, &apperrors.ParseError{Source: path, Line: 1, Err: err}
	}

	var candles []models.Candle
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, &apperrors.ParseError{Source: path, Line: line, Err: err}
		}

		candle, err := s.parseRecord(record, cols, symbol)
		if err != nil {
			return nil, &apperrors.ParseError{Source: path, Line: line, Err: err}
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func (s *Store) parseRecord(record []string, cols columns, symbol string) (models.Candle, error) {
	ts, err := s.parseTimestamp(record[cols.timestamp])
	if err != nil {
		return models.Candle{}, err
	}

	candle := models.Candle{
		Timestamp: ts,
		Symbol:    symbol,
		Interval:  s.interval,
	}

	fields := []struct {
		name string
		idx  int
		dst  *string
	}{
		{"open", cols.open, &candle.Open},
		{"high", cols.high, &candle.High},
		{"low", cols.low, &candle.Low},
		{"close", cols.close, &candle.Close},
		{"volume", cols.volume, &candle.Volume},
		{"value", cols.value, &candle.Value},
	}
	for _, f := range fields {
		if f.idx < 0 {
			continue
		}
		v, err := normalizeNumber(record[f.idx])
		if err != nil {
			return models.Candle{}, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = v
	}

	return candle, nil
}

// normalizeNumber validates a decimal cell. Empty and NaN cells are kept as
// missing values; the forecaster drops them.
func normalizeNumber(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "nan") {
		return "", nil
	}
	if _, err := decimal.NewFromString(v); err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) parseTimestamp(raw string) (time.Time, error) {
	v := strings.TrimSpace(raw)
	for _, layout := range readLayouts {
		if ts, err := time.ParseInLocation(layout, v, s.location); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// IsNotExist reports whether err means the snapshot file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
