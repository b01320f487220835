// Package config provides centralized configuration management for the collector,
// aggregator, forecaster and presenter. Configuration is layered: built-in
// defaults, then a JSON or YAML file, then environment variables (a .env file
// in the working directory is loaded first).
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // snapshot timezones must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name" env:"APP_NAME"`
	Version    string `json:"version" yaml:"version" env:"VERSION"`
	ConfigPath string `json:"-" yaml:"-" env:"CONFIG_PATH"`

	Exchange   ExchangeConfig   `json:"exchange" yaml:"exchange"`
	Collector  CollectorConfig  `json:"collector" yaml:"collector"`
	Snapshot   SnapshotConfig   `json:"snapshot" yaml:"snapshot"`
	Aggregator AggregatorConfig `json:"aggregator" yaml:"aggregator"`
	Forecast   ForecastConfig   `json:"forecast" yaml:"forecast"`
	Presenter  PresenterConfig  `json:"presenter" yaml:"presenter"`
	Recorder   RecorderConfig   `json:"recorder" yaml:"recorder"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	API        APIConfig        `json:"api" yaml:"api"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// ExchangeConfig configures the read-only exchange client
type ExchangeConfig struct {
	Type              string `json:"type" yaml:"type" env:"EXCHANGE_TYPE"`                      // "upbit"
	BaseURL           string `json:"base_url" yaml:"base_url" env:"EXCHANGE_BASE_URL"`          // API root
	RateLimit         int    `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`             // Requests per second
	Timeout           string `json:"timeout" yaml:"timeout" env:"HTTP_TIMEOUT"`                 // HTTP request timeout
	MaxRetries        int    `json:"max_retries" yaml:"max_retries" env:"MAX_RETRIES"`          // Extra attempts per request, 0 disables retry
	RetryInitialDelay string `json:"retry_initial_delay" yaml:"retry_initial_delay"`            // First backoff delay
	RetryMaxDelay     string `json:"retry_max_delay" yaml:"retry_max_delay"`                    // Backoff ceiling
}

// CollectorConfig configures the daily snapshot collector
type CollectorConfig struct {
	Symbols   []string `json:"symbols" yaml:"symbols" env:"SYMBOLS"`            // Markets to collect, e.g. KRW-BTC
	Interval  string   `json:"interval" yaml:"interval" env:"COLLECT_INTERVAL"` // Bar interval
	Count     int      `json:"count" yaml:"count" env:"COLLECT_COUNT"`          // Bars fetched per symbol
	DayOffset int      `json:"day_offset" yaml:"day_offset"`                    // Target date = today - offset
}

// SnapshotConfig configures the daily CSV snapshot store
type SnapshotConfig struct {
	DataDir  string `json:"data_dir" yaml:"data_dir" env:"DATA_PATH"`  // Directory holding <symbol>_<YYYYMMDD>.csv
	Timezone string `json:"timezone" yaml:"timezone" env:"TIMEZONE"`   // Location used for file dates and timestamps
}

// AggregatorConfig configures the rolling window aggregation
type AggregatorConfig struct {
	LookbackDays int `json:"lookback_days" yaml:"lookback_days" env:"LOOKBACK_DAYS"`
}

// ForecastConfig configures the forecasting model
type ForecastConfig struct {
	Source                string  `json:"source" yaml:"source" env:"FORECAST_SOURCE"`          // "local" snapshots or "exchange"
	FetchCount            int     `json:"fetch_count" yaml:"fetch_count"`                       // Bars fetched when source is exchange
	HorizonHours          int     `json:"horizon_hours" yaml:"horizon_hours" env:"HORIZON_HOURS"`
	IntervalWidth         float64 `json:"interval_width" yaml:"interval_width"`
	ChangepointPriorScale float64 `json:"changepoint_prior_scale" yaml:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `json:"seasonality_prior_scale" yaml:"seasonality_prior_scale"`
	NChangepoints         int     `json:"n_changepoints" yaml:"n_changepoints"`
	ChangepointRange      float64 `json:"changepoint_range" yaml:"changepoint_range"`
	YearlySeasonality     bool    `json:"yearly_seasonality" yaml:"yearly_seasonality"`
	WeeklySeasonality     bool    `json:"weekly_seasonality" yaml:"weekly_seasonality"`
	DailySeasonality      bool    `json:"daily_seasonality" yaml:"daily_seasonality"`
}

// PresenterConfig configures console and chart output
type PresenterConfig struct {
	PlotEnabled bool    `json:"plot_enabled" yaml:"plot_enabled" env:"PLOT_ENABLED"`
	PlotDir     string  `json:"plot_dir" yaml:"plot_dir" env:"PLOT_DIR"`
	WidthCM     float64 `json:"width_cm" yaml:"width_cm"`
	HeightCM    float64 `json:"height_cm" yaml:"height_cm"`
}

// RecorderConfig configures optional run history persistence
type RecorderConfig struct {
	Type string `json:"type" yaml:"type" env:"RECORDER_TYPE"` // "none", "sqlite", "duckdb"
	Path string `json:"path" yaml:"path" env:"RECORDER_PATH"`
}

// SchedulerConfig configures the built-in cron trigger
type SchedulerConfig struct {
	Cron        string `json:"cron" yaml:"cron" env:"SCHEDULE_CRON"` // Six-field cron spec (with seconds)
	RunForecast bool   `json:"run_forecast" yaml:"run_forecast"`     // Forecast every symbol after collecting
	RunOnStart  bool   `json:"run_on_start" yaml:"run_on_start" env:"RUN_ON_START"`
}

// APIConfig configures the read-only HTTP presenter
type APIConfig struct {
	Port           int    `json:"port" yaml:"port" env:"API_PORT"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level" env:"LOG_LEVEL"`               // debug, info, warn, error
	Format        string            `json:"format" yaml:"format" env:"LOG_FORMAT"`            // json, text
	Output        string            `json:"output" yaml:"output" env:"LOG_OUTPUT"`            // stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path" env:"LOG_FILE_PATH"`   // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size" env:"LOG_MAX_SIZE"`      // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAge        int               `json:"max_age" yaml:"max_age" env:"LOG_MAX_AGE"`         // Days
	Compress      bool              `json:"compress" yaml:"compress" env:"LOG_COMPRESS"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFile    string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		envFile:    ".env",
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority, .env included)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()
	config.ConfigPath = cm.configPath

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(cm.envFile); err == nil {
		cm.logger.Debug("loaded environment file", "path", cm.envFile)
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Debug("configuration loaded",
		"config_path", cm.configPath,
		"exchange_type", config.Exchange.Type,
		"symbols", config.Collector.Symbols,
		"data_dir", config.Snapshot.DataDir)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}

	// Exchange
	if val := os.Getenv("EXCHANGE_TYPE"); val != "" {
		config.Exchange.Type = val
	}
	if val := os.Getenv("EXCHANGE_BASE_URL"); val != "" {
		config.Exchange.BaseURL = val
	}
	if val := os.Getenv("RATE_LIMIT"); val != "" {
		if rateLimit, err := strconv.Atoi(val); err == nil {
			config.Exchange.RateLimit = rateLimit
		}
	}
	if val := os.Getenv("HTTP_TIMEOUT"); val != "" {
		config.Exchange.Timeout = val
	}
	if val := os.Getenv("MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			config.Exchange.MaxRetries = retries
		}
	}

	// Collector
	if val := os.Getenv("SYMBOLS"); val != "" {
		config.Collector.Symbols = splitList(val)
	}
	if val := os.Getenv("COLLECT_INTERVAL"); val != "" {
		config.Collector.Interval = val
	}
	if val := os.Getenv("COLLECT_COUNT"); val != "" {
		if count, err := strconv.Atoi(val); err == nil {
			config.Collector.Count = count
		}
	}

	// Snapshot store and aggregation
	if val := os.Getenv("DATA_PATH"); val != "" {
		config.Snapshot.DataDir = val
	}
	if val := os.Getenv("TIMEZONE"); val != "" {
		config.Snapshot.Timezone = val
	}
	if val := os.Getenv("LOOKBACK_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			config.Aggregator.LookbackDays = days
		}
	}

	// Forecast and presentation
	if val := os.Getenv("FORECAST_SOURCE"); val != "" {
		config.Forecast.Source = val
	}
	if val := os.Getenv("HORIZON_HOURS"); val != "" {
		if hours, err := strconv.Atoi(val); err == nil {
			config.Forecast.HorizonHours = hours
		}
	}
	if val := os.Getenv("PLOT_ENABLED"); val != "" {
		config.Presenter.PlotEnabled = val == "true"
	}
	if val := os.Getenv("PLOT_DIR"); val != "" {
		config.Presenter.PlotDir = val
	}

	// Recorder, scheduler, API
	if val := os.Getenv("RECORDER_TYPE"); val != "" {
		config.Recorder.Type = val
	}
	if val := os.Getenv("RECORDER_PATH"); val != "" {
		config.Recorder.Path = val
	}
	if val := os.Getenv("SCHEDULE_CRON"); val != "" {
		config.Scheduler.Cron = val
	}
	if val := os.Getenv("RUN_ON_START"); val != "" {
		config.Scheduler.RunOnStart = val == "true"
	}
	if val := os.Getenv("API_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.API.Port = port
		}
	}

	// Logging
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	if config.Exchange.Type != "upbit" {
		errors = append(errors, "exchange.type must be one of: upbit")
	}
	if config.Exchange.BaseURL == "" {
		errors = append(errors, "exchange.base_url is required")
	}
	if config.Exchange.RateLimit <= 0 {
		errors = append(errors, "exchange.rate_limit must be greater than 0")
	}
	if config.Exchange.MaxRetries < 0 {
		errors = append(errors, "exchange.max_retries cannot be negative")
	}
	for name, val := range map[string]string{
		"exchange.timeout":             config.Exchange.Timeout,
		"exchange.retry_initial_delay": config.Exchange.RetryInitialDelay,
		"exchange.retry_max_delay":     config.Exchange.RetryMaxDelay,
		"api.request_timeout":          config.API.RequestTimeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			errors = append(errors, fmt.Sprintf("%s is not a valid duration: %v", name, err))
		}
	}

	if len(config.Collector.Symbols) == 0 {
		errors = append(errors, "collector.symbols must list at least one symbol")
	}
	if config.Collector.Interval == "" {
		errors = append(errors, "collector.interval is required")
	}
	if config.Collector.Count <= 0 {
		errors = append(errors, "collector.count must be greater than 0")
	}
	if config.Collector.DayOffset < 0 {
		errors = append(errors, "collector.day_offset cannot be negative")
	}

	if config.Snapshot.DataDir == "" {
		errors = append(errors, "snapshot.data_dir is required")
	}
	if _, err := time.LoadLocation(config.Snapshot.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("snapshot.timezone is not a valid location: %v", err))
	}

	if config.Aggregator.LookbackDays <= 0 {
		errors = append(errors, "aggregator.lookback_days must be greater than 0")
	}

	if config.Forecast.Source != "local" && config.Forecast.Source != "exchange" {
		errors = append(errors, "forecast.source must be one of: local, exchange")
	}
	if config.Forecast.HorizonHours <= 0 {
		errors = append(errors, "forecast.horizon_hours must be greater than 0")
	}
	if config.Forecast.IntervalWidth <= 0 || config.Forecast.IntervalWidth >= 1 {
		errors = append(errors, "forecast.interval_width must be between 0 and 1")
	}
	if config.Forecast.ChangepointPriorScale <= 0 {
		errors = append(errors, "forecast.changepoint_prior_scale must be greater than 0")
	}
	if config.Forecast.SeasonalityPriorScale <= 0 {
		errors = append(errors, "forecast.seasonality_prior_scale must be greater than 0")
	}
	if config.Forecast.ChangepointRange <= 0 || config.Forecast.ChangepointRange > 1 {
		errors = append(errors, "forecast.changepoint_range must be in (0, 1]")
	}
	if config.Forecast.Source == "exchange" && config.Forecast.FetchCount <= 0 {
		errors = append(errors, "forecast.fetch_count must be greater than 0 when source is exchange")
	}

	if config.Presenter.PlotEnabled && config.Presenter.PlotDir == "" {
		errors = append(errors, "presenter.plot_dir is required when plotting is enabled")
	}

	switch config.Recorder.Type {
	case "none", "":
	case "sqlite", "duckdb":
		if config.Recorder.Path == "" {
			errors = append(errors, "recorder.path is required for "+config.Recorder.Type)
		}
	default:
		errors = append(errors, "recorder.type must be one of: none, sqlite, duckdb")
	}

	if config.API.Port <= 0 || config.API.Port > 65535 {
		errors = append(errors, "api.port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "ohlcv-forecaster",
		Version: "1.0.0",
		Exchange: ExchangeConfig{
			Type:              "upbit",
			BaseURL:           "https://api.upbit.com",
			RateLimit:         8,
			Timeout:           "30s",
			MaxRetries:        0,
			RetryInitialDelay: "500ms",
			RetryMaxDelay:     "30s",
		},
		Collector: CollectorConfig{
			Symbols:   []string{"KRW-BTC", "KRW-ETH"},
			Interval:  "minute60",
			Count:     24,
			DayOffset: 1,
		},
		Snapshot: SnapshotConfig{
			DataDir:  "data",
			Timezone: "Asia/Seoul",
		},
		Aggregator: AggregatorConfig{
			LookbackDays: 180,
		},
		Forecast: ForecastConfig{
			Source:                "local",
			FetchCount:            4380,
			HorizonHours:          24,
			IntervalWidth:         0.95,
			ChangepointPriorScale: 0.05,
			SeasonalityPriorScale: 10,
			NChangepoints:         25,
			ChangepointRange:      0.8,
			YearlySeasonality:     true,
			WeeklySeasonality:     true,
			DailySeasonality:      true,
		},
		Presenter: PresenterConfig{
			PlotEnabled: true,
			PlotDir:     "plots",
			WidthCM:     38,
			HeightCM:    13,
		},
		Recorder: RecorderConfig{
			Type: "none",
		},
		Scheduler: SchedulerConfig{
			Cron:        "0 10 0 * * *",
			RunForecast: true,
		},
		API: APIConfig{
			Port:           8080,
			RequestTimeout: "60s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			ContextFields: map[string]string{
				"service": "ohlcv-forecaster",
			},
		},
	}
}

// Location returns the configured snapshot location.
// Validation guarantees the name resolves.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Snapshot.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// String returns a JSON representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// mustDuration parses a duration validated by validateConfig.
func mustDuration(val string) time.Duration {
	d, _ := time.ParseDuration(val)
	return d
}

// HTTPTimeout returns the exchange request timeout.
func (e ExchangeConfig) HTTPTimeout() time.Duration { return mustDuration(e.Timeout) }

// InitialDelay returns the first retry delay.
func (e ExchangeConfig) InitialDelay() time.Duration { return mustDuration(e.RetryInitialDelay) }

// MaxDelay returns the retry delay ceiling.
func (e ExchangeConfig) MaxDelay() time.Duration { return mustDuration(e.RetryMaxDelay) }

// Timeout returns the per-request timeout for the HTTP presenter.
func (a APIConfig) Timeout() time.Duration { return mustDuration(a.RequestTimeout) }
