package main

import (
	"fmt"
	"os"
)

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - OHLCV Forecaster CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    collect     Fetch the last 24 hourly bars per symbol into a daily CSV snapshot
    aggregate   Rebuild the trailing series from local snapshots and describe it
    forecast    Forecast the hourly close for each symbol
    run         Collect once, then forecast every symbol
    schedule    Run the daily collection on a cron schedule
    serve       Serve series and forecasts over HTTP
    version     Show version information

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Collect yesterday's snapshot for the configured symbols
    %s collect

    # Describe the last 30 days of KRW-BTC snapshots
    %s aggregate --symbols KRW-BTC --days 30

    # Forecast KRW-BTC and KRW-ETH 48 hours ahead without charts
    %s forecast --symbols KRW-BTC,KRW-ETH --horizon 48 --no-plot

    # Run the daily job every day at 00:10:00 and once right away
    %s schedule --now

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (YAML or JSON, selected by extension)
    - .env file in the working directory
    - Environment variables (e.g., SYMBOLS, DATA_PATH, LOG_LEVEL)

    Example config file:
    collector:
      symbols: [KRW-BTC, KRW-ETH]
      interval: minute60
      count: 24
    snapshot:
      data_dir: data
      timezone: Asia/Seoul
    aggregator:
      lookback_days: 180
    forecast:
      horizon_hours: 24

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "collect":
		fmt.Printf(`%s collect - Write one daily snapshot per symbol

USAGE:
    %s collect [options]

OPTIONS:
    --config, -c <path>       Config file (default: %s)
    --date, -d <date>         Date stamped on the files (YYYYMMDD or YYYY-MM-DD)
                              Default: yesterday in the configured timezone
    --symbols, -s <list>      Comma-separated symbols, e.g. KRW-BTC,KRW-ETH
    --count, -n <bars>        Bars fetched per symbol (default: 24)
    --interval, -i <interval> Bar interval (default: minute60)
                              Supported: minute1..minute240, day, week, 1h, 4h, 1d
    --help, -h                Show this help message

EXAMPLES:
    # Collect yesterday's bars for the configured symbols
    %s collect

    # Re-collect a specific date for one symbol
    %s collect --symbols KRW-BTC --date 20240401

NOTES:
    - Files are named <symbol>_<YYYYMMDD>.csv under the data directory
    - An existing file for the same symbol and date is overwritten
    - A failing symbol is logged and the run continues with the next one
    - Retries are off unless exchange.max_retries is set
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "aggregate":
		fmt.Printf(`%s aggregate - Rebuild the series from local snapshots

USAGE:
    %s aggregate [options]

OPTIONS:
    --config, -c <path>       Config file (default: %s)
    --symbols, -s <list>      Comma-separated symbols
    --days, -d <days>         Lookback window in days, today included (default: 180)
    --help, -h                Show this help message

EXAMPLES:
    # Summarise the default window for every configured symbol
    %s aggregate

    # Summarise the last week of KRW-ETH
    %s aggregate --symbols KRW-ETH --days 7

NOTES:
    - Missing daily files are skipped silently
    - Unreadable files are logged and skipped
    - Duplicate timestamps keep the bar from the later file
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "forecast":
		fmt.Printf(`%s forecast - Forecast the hourly close

USAGE:
    %s forecast [options]

OPTIONS:
    --config, -c <path>       Config file (default: %s)
    --symbols, -s <list>      Comma-separated symbols
    --days, -d <days>         Lookback window for local snapshots (default: 180)
    --horizon, -H <hours>     Hours to forecast past the last bar (default: 24)
    --source <source>         Series source: local or exchange (default: local)
    --no-plot                 Do not write the forecast chart
    --table, -t               Print every future row after the summary
    --help, -h                Show this help message

EXAMPLES:
    # Forecast every configured symbol from local snapshots
    %s forecast

    # Forecast KRW-BTC a week ahead from bars fetched directly
    %s forecast --symbols KRW-BTC --horizon 168 --source exchange --table

NOTES:
    - Rows with a missing close are dropped before fitting
    - A symbol without data is reported and the next symbol is processed
    - Charts are written to the configured plot directory
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "run":
		fmt.Printf(`%s run - Collect once, then forecast

USAGE:
    %s run [options]

OPTIONS:
    --config, -c <path>       Config file (default: %s)
    --symbols, -s <list>      Comma-separated symbols
    --horizon, -H <hours>     Forecast horizon in hours (default: 24)
    --no-forecast             Only collect
    --help, -h                Show this help message

EXAMPLES:
    %s run
    %s run --symbols KRW-BTC --horizon 12
`, AppName, AppName, ConfigFile, AppName, AppName)

	case "schedule":
		fmt.Printf(`%s schedule - Run the daily job on a schedule

USAGE:
    %s schedule [options]

OPTIONS:
    --config, -c <path>       Config file (default: %s)
    --symbols, -s <list>      Comma-separated symbols
    --horizon, -H <hours>     Forecast horizon in hours (default: 24)
    --cron <spec>             Six-field cron spec with seconds (default: "0 10 0 * * *")
    --no-forecast             Only collect on each run
    --now                     Also run once immediately
    --serve                   Run the HTTP API (with /metrics) alongside
    --port, -p <port>         Listen port for --serve (default: 8080)
    --help, -h                Show this help message

EXAMPLES:
    # Collect and forecast every day at 00:10:00
    %s schedule

    # Same, with the HTTP API on port 9090
    %s schedule --serve --port 9090

    # Collect every hour on the hour, no forecasts
    %s schedule --cron "0 0 * * * *" --no-forecast

NOTES:
    - The schedule is evaluated in the process timezone
    - A run still in progress when the next one fires is skipped
    - Press Ctrl+C to stop gracefully
`, AppName, AppName, ConfigFile, AppName, AppName, AppName)

	case "serve":
		fmt.Printf(`%s serve - Serve series and forecasts over HTTP

USAGE:
    %s serve [options]

OPTIONS:
    --config, -c <path>       Config file (default: %s)
    --port, -p <port>         Listen port (default: 8080)
    --help, -h                Show this help message

ENDPOINTS:
    GET /health
    GET /series/:symbol?days=180
    GET /forecast/:symbol?horizon=24&history=false
    GET /forecast/:symbol/history?limit=20
    GET /runs?limit=20
    GET /metrics

EXAMPLES:
    %s serve --port 9090
`, AppName, AppName, ConfigFile, AppName)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
