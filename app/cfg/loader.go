package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

// ErrHelp is returned by Load when usage was printed instead of parsing.
var ErrHelp = errors.New("help requested")

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/rss-harvest.db" description:"Path to the SQLite database file"`

	// Application configuration
	TasksDir     string `long:"tasks-dir" env:"TASKS_DIR" default:"./tasks" description:"Directory containing static task files (*.yml)"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Scheduling
	FetchTimeout         int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Timeout in seconds for a single feed request"`
	MaxConcurrentFetches int    `long:"max-concurrent-fetches" env:"MAX_CONCURRENT_FETCHES" default:"0" description:"Maximum fetch cycles running at once across all tasks (0 = unbounded)"`
	OverlapPolicy        string `long:"overlap-policy" env:"OVERLAP_POLICY" default:"serialize" choice:"serialize" choice:"skip" choice:"allow" description:"What to do when a task fires while its previous cycle is still running"`
	HostInterval         int    `long:"host-interval" env:"HOST_INTERVAL" default:"0" description:"Minimum milliseconds between requests to the same host (0 = disabled)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Harvest/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load parses the process arguments and environment.
func Load() (*Cfg, error) {
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.FetchTimeout <= 0 {
		return nil, fmt.Errorf("fetch timeout must be positive, got %d", raw.FetchTimeout)
	}
	if raw.MaxConcurrentFetches < 0 {
		return nil, fmt.Errorf("max concurrent fetches must not be negative, got %d", raw.MaxConcurrentFetches)
	}
	if raw.HostInterval < 0 {
		return nil, fmt.Errorf("host interval must not be negative, got %d", raw.HostInterval)
	}

	cfg := &Cfg{
		DBPath:               raw.DBPath,
		TasksDir:             raw.TasksDir,
		Port:                 raw.Port,
		APIAccessKey:         raw.APIAccessKey,
		FetchTimeout:         time.Duration(raw.FetchTimeout) * time.Second,
		MaxConcurrentFetches: raw.MaxConcurrentFetches,
		OverlapPolicy:        raw.OverlapPolicy,
		HostInterval:         time.Duration(raw.HostInterval) * time.Millisecond,
		UserAgent:            raw.UserAgent,
		Timezone:             raw.Timezone,
		Debug:                raw.Debug,
		Version:              GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		slog.Warn("Invalid timezone, using system default", "timezone", cfg.Timezone, "error", err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}
	time.Local = loc
	return nil
}
