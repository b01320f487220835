// OHLCV Forecaster CLI
// This application collects daily hourly-bar snapshots from a cryptocurrency
// exchange, rebuilds a trailing series from those snapshots and forecasts the
// hourly close.
//
// Usage:
//
//	ohlcv collect --symbols KRW-BTC,KRW-ETH
//	ohlcv aggregate --symbols KRW-BTC --days 30
//	ohlcv forecast --symbols KRW-BTC --horizon 24
//	ohlcv run
//	ohlcv schedule --cron "0 10 0 * * *"
//	ohlcv serve --port 8080
//
// For detailed help on any command, use: ohlcv <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/aggregator"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/api"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/collector"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/exchange"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/forecast"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/logger"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/metrics"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/pipeline"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/presenter"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/recorder"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/scheduler"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/snapshot"
)

// CLI version information
const (
	Version    = "1.0.0"
	AppName    = "ohlcv"
	ConfigFile = "ohlcv.yaml"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// CLI represents the main CLI application
type CLI struct {
	config     *config.AppConfig
	logs       *logger.LoggerManager
	logger     *slog.Logger
	store      *snapshot.Store
	exchange   exchange.Exchange
	recorder   recorder.Recorder
	collector  *collector.Collector
	aggregator *aggregator.Aggregator
	forecaster *forecast.Forecaster
	presenter  *presenter.Presenter
	metrics    *metrics.MetricsCollector
	pipeline   *pipeline.Pipeline
	step       time.Duration
}

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error  { return &exitError{code: ExitUsageError, err: err} }
func configErr(err error) error { return &exitError{code: ExitConfigError, err: err} }

// main is the entry point for the CLI application
func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	cli := &CLI{}
	defer cli.close()

	var err error
	switch command {
	case "collect":
		err = cli.handleCollect(ctx, args)
	case "aggregate":
		err = cli.handleAggregate(ctx, args)
	case "forecast":
		err = cli.handleForecast(ctx, args)
	case "run":
		err = cli.handleRun(ctx, args)
	case "schedule":
		err = cli.handleSchedule(ctx, args)
	case "serve":
		err = cli.handleServe(ctx, args)
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code := exitCode(err)
		cli.close()
		os.Exit(code)
	}
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupt
	}
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeNetwork, apperrors.ErrorTypeTimeout,
		apperrors.ErrorTypeRateLimit, apperrors.ErrorTypeServerError:
		return ExitConnectionErr
	}
	return ExitDataError
}

// initialize loads configuration, applies command line overrides and builds
// every component. Errors are reported with ExitConfigError.
func (cli *CLI) initialize(ctx context.Context, configPath string, override func(*config.AppConfig)) error {
	if configPath == "" {
		configPath = ConfigFile
	}

	cfg, err := config.NewConfigManager(configPath, nil).LoadConfig(ctx)
	if err != nil {
		return configErr(fmt.Errorf("failed to load configuration: %w", err))
	}
	if override != nil {
		override(cfg)
	}
	cli.config = cfg

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return configErr(fmt.Errorf("failed to setup logging: %w", err))
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()

	interval, err := exchange.ParseInterval(cfg.Collector.Interval)
	if err != nil {
		return configErr(err)
	}
	cli.step = interval.Step

	cli.store = snapshot.NewStore(cfg.Snapshot.DataDir, cfg.Location(), logs.GetComponentLogger("snapshot")).
		WithInterval(interval.Name)

	ex, err := exchange.New(cfg.Exchange, logs.GetComponentLogger("exchange"))
	if err != nil {
		return configErr(fmt.Errorf("failed to initialize exchange: %w", err))
	}
	cli.exchange = ex

	rec, err := recorder.New(ctx, cfg.Recorder, logs.GetComponentLogger("recorder"))
	if err != nil {
		return configErr(fmt.Errorf("failed to initialize run recorder: %w", err))
	}
	cli.recorder = rec

	cli.collector, err = collector.New(ex, cli.store, &collector.Config{
		Symbols:   cfg.Collector.Symbols,
		Interval:  interval.Name,
		Count:     cfg.Collector.Count,
		DayOffset: cfg.Collector.DayOffset,
		Logger:    logs.GetComponentLogger("collector"),
	}, collector.WithRecorder(rec))
	if err != nil {
		return configErr(fmt.Errorf("failed to initialize collector: %w", err))
	}

	cli.aggregator = aggregator.New(cli.store, logs.GetComponentLogger("aggregator"), aggregator.WithStep(interval.Step))

	cli.forecaster, err = forecast.New(forecast.FromAppConfig(cfg.Forecast), logs.GetComponentLogger("forecast"))
	if err != nil {
		return configErr(fmt.Errorf("failed to initialize forecaster: %w", err))
	}

	cli.presenter = presenter.New(cfg.Presenter, os.Stdout, cfg.Location(), logs.GetComponentLogger("presenter")).
		WithStep(interval.Step)
	cli.metrics = metrics.NewMetricsCollector()

	cli.pipeline, err = pipeline.New(cli.aggregator, cli.forecaster, pipeline.Options{
		Symbols:              cfg.Collector.Symbols,
		LookbackDays:         cfg.Aggregator.LookbackDays,
		Source:               cfg.Forecast.Source,
		FetchCount:           cfg.Forecast.FetchCount,
		Interval:             interval.Name,
		ForecastAfterCollect: cfg.Scheduler.RunForecast,
	}, cli.logger,
		pipeline.WithCollector(cli.collector),
		pipeline.WithFetcher(ex),
		pipeline.WithPresenter(cli.presenter),
		pipeline.WithRecorder(rec),
		pipeline.WithObserver(cli.metrics),
	)
	if err != nil {
		return configErr(fmt.Errorf("failed to initialize pipeline: %w", err))
	}

	cli.logger.Debug("initialized",
		"symbols", cfg.Collector.Symbols,
		"interval", interval.Name,
		"data_dir", cfg.Snapshot.DataDir,
		"recorder", cfg.Recorder.Type)
	return nil
}

func (cli *CLI) close() {
	if cli.recorder != nil {
		if err := cli.recorder.Close(); err != nil && cli.logger != nil {
			cli.logger.Warn("failed to close run recorder", "error", err)
		}
		cli.recorder = nil
	}
	if cli.logs != nil {
		_ = cli.logs.Close()
		cli.logs = nil
	}
}

// handleCollect handles the 'collect' command: one daily snapshot per symbol
func (cli *CLI) handleCollect(ctx context.Context, args []string) error {
	flags, err := parseCollectFlags(args)
	if err != nil {
		return usageErr(err)
	}

	if flags.Help {
		printCommandHelp("collect")
		return nil
	}

	err = cli.initialize(ctx, flags.Config, func(cfg *config.AppConfig) {
		if len(flags.Symbols) > 0 {
			cfg.Collector.Symbols = flags.Symbols
		}
		if flags.Count > 0 {
			cfg.Collector.Count = flags.Count
		}
		if flags.Interval != "" {
			cfg.Collector.Interval = flags.Interval
		}
	})
	if err != nil {
		return err
	}

	date := cli.collector.TargetDate()
	if flags.Date != "" {
		if date, err = parseDate(flags.Date, cli.config.Location()); err != nil {
			return usageErr(err)
		}
	}

	fmt.Printf("🚀 Collecting %d symbols for %s...\n", len(cli.config.Collector.Symbols), date.Format("2006-01-02"))

	report, err := cli.collector.CollectDaily(ctx, date)
	if report != nil {
		cli.presenter.PrintCollection(report)
	}
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}
	if len(report.Results) > 0 && report.Succeeded() == 0 {
		return fmt.Errorf("no symbol was collected for %s", date.Format("2006-01-02"))
	}
	return nil
}

// handleAggregate handles the 'aggregate' command: rebuild and describe the
// series from local snapshots
func (cli *CLI) handleAggregate(ctx context.Context, args []string) error {
	flags, err := parseAggregateFlags(args)
	if err != nil {
		return usageErr(err)
	}

	if flags.Help {
		printCommandHelp("aggregate")
		return nil
	}

	err = cli.initialize(ctx, flags.Config, func(cfg *config.AppConfig) {
		if len(flags.Symbols) > 0 {
			cfg.Collector.Symbols = flags.Symbols
		}
		cfg.Forecast.Source = pipeline.SourceLocal
	})
	if err != nil {
		return err
	}

	days := flags.Days
	if days <= 0 {
		days = cli.config.Aggregator.LookbackDays
	}

	found := 0
	for _, symbol := range cli.pipeline.Symbols() {
		series, err := cli.pipeline.Series(ctx, symbol, days)
		switch {
		case errors.Is(err, apperrors.ErrNoData):
			fmt.Printf("⚠️  %s: no data in the last %d days\n", symbol, days)
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cli.logger.Error("aggregation failed", apperrors.Classify(err, "cli", "aggregate").With("symbol", symbol).LogAttrs()...)
			fmt.Printf("❌ %s: %v\n", symbol, err)
		default:
			found++
			cli.presenter.PrintSeries(series)
		}
	}

	if found == 0 {
		return fmt.Errorf("aggregate: %w", apperrors.ErrNoData)
	}
	return nil
}

// handleForecast handles the 'forecast' command
func (cli *CLI) handleForecast(ctx context.Context, args []string) error {
	flags, err := parseForecastFlags(args)
	if err != nil {
		return usageErr(err)
	}

	if flags.Help {
		printCommandHelp("forecast")
		return nil
	}

	err = cli.initialize(ctx, flags.Config, func(cfg *config.AppConfig) {
		if len(flags.Symbols) > 0 {
			cfg.Collector.Symbols = flags.Symbols
		}
		if flags.Days > 0 {
			cfg.Aggregator.LookbackDays = flags.Days
		}
		if flags.Horizon > 0 {
			cfg.Forecast.HorizonHours = flags.Horizon
		}
		if flags.Source != "" {
			cfg.Forecast.Source = flags.Source
		}
		if flags.NoPlot {
			cfg.Presenter.PlotEnabled = false
		}
	})
	if err != nil {
		return err
	}

	horizon := cli.config.Forecast.HorizonHours
	fmt.Printf("🔮 Forecasting %d symbols %dh ahead from %s data...\n\n",
		len(cli.pipeline.Symbols()), horizon, cli.config.Forecast.Source)

	outcomes := cli.pipeline.ForecastAll(ctx, horizon)
	if flags.Table {
		for _, o := range outcomes {
			if o.Err == nil && o.Forecast != nil {
				cli.presenter.PrintForecastTable(o.Forecast)
			}
		}
	}
	return reportOutcomes(outcomes)
}

// handleRun handles the 'run' command: one collection followed by forecasts,
// the same job the scheduler runs
func (cli *CLI) handleRun(ctx context.Context, args []string) error {
	flags, err := parseRunFlags(args)
	if err != nil {
		return usageErr(err)
	}

	if flags.Help {
		printCommandHelp("run")
		return nil
	}

	if err := cli.initialize(ctx, flags.Config, runOverrides(flags)); err != nil {
		return err
	}

	report, outcomes, err := cli.pipeline.RunDaily(ctx, cli.config.Forecast.HorizonHours)
	if err != nil {
		return fmt.Errorf("daily run failed: %w", err)
	}
	if report.Succeeded() == 0 && len(report.Results) > 0 {
		fmt.Println("⚠️  No symbol was collected")
	}
	if outcomes == nil {
		return nil
	}
	fmt.Println()
	return reportOutcomes(outcomes)
}

// handleSchedule handles the 'schedule' command for the daily cron job
func (cli *CLI) handleSchedule(ctx context.Context, args []string) error {
	flags, err := parseRunFlags(args)
	if err != nil {
		return usageErr(err)
	}

	if flags.Help {
		printCommandHelp("schedule")
		return nil
	}

	if err := cli.initialize(ctx, flags.Config, runOverrides(flags)); err != nil {
		return err
	}

	sched := scheduler.New(ctx, cli.pipeline, cli.config.Forecast.HorizonHours, cli.logs.GetComponentLogger("scheduler"))
	if err := sched.Register(cli.config.Scheduler.Cron); err != nil {
		return configErr(err)
	}

	fmt.Printf("🚀 Starting scheduler for %d symbols (cron: %s)...\n",
		len(cli.pipeline.Symbols()), cli.config.Scheduler.Cron)
	fmt.Println("Press Ctrl+C to stop gracefully")

	serveErr := make(chan error, 1)
	if flags.Serve {
		srv := api.NewServer(cli.newAPIHandler(), cli.config.API.Port)
		fmt.Printf("🌐 Serving on :%d\n", cli.config.API.Port)
		go func() { serveErr <- srv.Run(ctx) }()
	}

	sched.Start()
	if cli.config.Scheduler.RunOnStart {
		sched.RunNow()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sched.Stop(stopCtx)

	fmt.Println("👋 Scheduler stopped")
	if runErr != nil {
		return fmt.Errorf("http server: %w", runErr)
	}
	return nil
}

// handleServe handles the 'serve' command for the read-only HTTP API
func (cli *CLI) handleServe(ctx context.Context, args []string) error {
	flags, err := parseServeFlags(args)
	if err != nil {
		return usageErr(err)
	}

	if flags.Help {
		printCommandHelp("serve")
		return nil
	}

	err = cli.initialize(ctx, flags.Config, func(cfg *config.AppConfig) {
		if flags.Port > 0 {
			cfg.API.Port = flags.Port
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("🌐 Serving on :%d (Ctrl+C to stop)\n", cli.config.API.Port)

	if err := api.NewServer(cli.newAPIHandler(), cli.config.API.Port).Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (cli *CLI) newAPIHandler() *api.Handler {
	return api.NewHandler(cli.pipeline, cli.recorder, Version, cli.config.API.Timeout(), cli.logs.GetComponentLogger("api")).
		WithMetrics(cli.metrics).
		WithStep(cli.step)
}

func runOverrides(flags *RunFlags) func(*config.AppConfig) {
	return func(cfg *config.AppConfig) {
		if len(flags.Symbols) > 0 {
			cfg.Collector.Symbols = flags.Symbols
		}
		if flags.Horizon > 0 {
			cfg.Forecast.HorizonHours = flags.Horizon
		}
		if flags.Cron != "" {
			cfg.Scheduler.Cron = flags.Cron
		}
		if flags.NoForecast {
			cfg.Scheduler.RunForecast = false
		}
		if flags.RunOnStart {
			cfg.Scheduler.RunOnStart = true
		}
		if flags.Port > 0 {
			cfg.API.Port = flags.Port
		}
	}
}

// reportOutcomes prints failed symbols and returns an error only when no
// symbol produced a forecast.
func reportOutcomes(outcomes []pipeline.Outcome) error {
	var lastErr error
	ok := 0
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("❌ %s: %v\n", o.Symbol, o.Err)
			lastErr = o.Err
			continue
		}
		ok++
	}

	fmt.Printf("Forecast %d/%d symbols\n", ok, len(outcomes))
	if ok == 0 && lastErr != nil {
		return fmt.Errorf("no forecast produced: %w", lastErr)
	}
	return nil
}
