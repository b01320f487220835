package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CollectFlags holds flags for the collect command
type CollectFlags struct {
	Config   string
	Date     string
	Symbols  []string
	Count    int
	Interval string
	Help     bool
}

// AggregateFlags holds flags for the aggregate command
type AggregateFlags struct {
	Config  string
	Symbols []string
	Days    int
	Help    bool
}

// ForecastFlags holds flags for the forecast command
type ForecastFlags struct {
	Config  string
	Symbols []string
	Days    int
	Horizon int
	Source  string
	NoPlot  bool
	Table   bool
	Help    bool
}

// RunFlags holds flags for the run and schedule commands
type RunFlags struct {
	Config     string
	Symbols    []string
	Horizon    int
	Cron       string
	NoForecast bool
	RunOnStart bool
	Serve      bool
	Port       int
	Help       bool
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Config string
	Port   int
	Help   bool
}

// parseCollectFlags parses command line arguments for the collect command
func parseCollectFlags(args []string) (*CollectFlags, error) {
	flags := &CollectFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Config = v
		case "--date", "-d":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Date = v
		case "--symbols", "-s":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Symbols = splitSymbols(v)
		case "--count", "-n":
			n, err := intFlagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Count = n
		case "--interval", "-i":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Interval = v
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseAggregateFlags parses command line arguments for the aggregate command
func parseAggregateFlags(args []string) (*AggregateFlags, error) {
	flags := &AggregateFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Config = v
		case "--symbols", "-s":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Symbols = splitSymbols(v)
		case "--days", "-d":
			n, err := intFlagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Days = n
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseForecastFlags parses command line arguments for the forecast command
func parseForecastFlags(args []string) (*ForecastFlags, error) {
	flags := &ForecastFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Config = v
		case "--symbols", "-s":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Symbols = splitSymbols(v)
		case "--days", "-d":
			n, err := intFlagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Days = n
		case "--horizon", "-H":
			n, err := intFlagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Horizon = n
		case "--source":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Source = strings.ToLower(v)
		case "--no-plot":
			flags.NoPlot = true
		case "--table", "-t":
			flags.Table = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if flags.Days < 0 {
		return nil, fmt.Errorf("--days must be positive")
	}
	if flags.Horizon < 0 {
		return nil, fmt.Errorf("--horizon must be positive")
	}
	if flags.Source != "" && flags.Source != "local" && flags.Source != "exchange" {
		return nil, fmt.Errorf("--source must be local or exchange")
	}
	return flags, nil
}

// parseRunFlags parses command line arguments for the run and schedule commands
func parseRunFlags(args []string) (*RunFlags, error) {
	flags := &RunFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Config = v
		case "--symbols", "-s":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Symbols = splitSymbols(v)
		case "--horizon", "-H":
			n, err := intFlagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Horizon = n
		case "--cron":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Cron = v
		case "--no-forecast":
			flags.NoForecast = true
		case "--now":
			flags.RunOnStart = true
		case "--serve":
			flags.Serve = true
		case "--port", "-p":
			n, err := intFlagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Port = n
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// parseServeFlags parses command line arguments for the serve command
func parseServeFlags(args []string) (*ServeFlags, error) {
	flags := &ServeFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config", "-c":
			v, err := flagValue(args, &i)
			if err != nil {
				return nil, err
			}
			flags.Config = v
		case "--port", "-p":
			n, err := intFlagValue(args, &i)
			if err != nil {
				return nil, err
			}
			if n < 0 || n > 65535 {
				return nil, fmt.Errorf("invalid port: %d", n)
			}
			flags.Port = n
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// flagValue returns the argument following the flag at *i and advances i.
func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

func intFlagValue(args []string, i *int) (int, error) {
	name := args[*i]
	v, err := flagValue(args, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", strings.TrimLeft(name, "-"), err)
	}
	return n, nil
}

func splitSymbols(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseDate accepts YYYYMMDD (the file name form) or YYYY-MM-DD.
func parseDate(v string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, use YYYYMMDD or YYYY-MM-DD", v)
}
