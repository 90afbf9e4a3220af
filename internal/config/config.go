package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"marketsim/internal/market"
)

type Config struct {
	Addr            string        `envconfig:"MARKETSIM_API_ADDR" default:":8080"`
	Port            string        `envconfig:"PORT"`
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	RedisURL        string        `envconfig:"REDIS_URL"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	DriftEvery      time.Duration `envconfig:"MARKETSIM_DRIFT_EVERY" default:"30s"`
	MarketOpen      string        `envconfig:"MARKETSIM_MARKET_OPEN" default:"09:30"`
	MarketTimezone  string        `envconfig:"MARKETSIM_MARKET_TZ" default:"America/New_York"`
	SectorBandsFile string        `envconfig:"MARKETSIM_SECTOR_BANDS_FILE"`
	SeedStocks      bool          `envconfig:"MARKETSIM_SEED_STOCKS" default:"true"`
	EmbeddedWorker  bool          `envconfig:"MARKETSIM_EMBEDDED_WORKER" default:"false"`
	WorkerRunOnce   bool          `envconfig:"MARKETSIM_WORKER_RUN_ONCE" default:"false"`
	RandSeed        int64         `envconfig:"MARKETSIM_RAND_SEED" default:"0"`
	OperatorToken   string        `envconfig:"MARKETSIM_OPERATOR_TOKEN"`

	location *time.Location
	openAt   time.Duration
	bands    market.SectorBands
}

type CLIConfig struct {
	APIBaseURL string `envconfig:"MSIM_API_BASE_URL" default:"http://localhost:8080"`
	Token      string `envconfig:"MSIM_TOKEN"`
}

func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}
	if port := strings.TrimSpace(cfg.Port); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.OperatorToken = strings.TrimSpace(cfg.OperatorToken)

	if cfg.DriftEvery <= 0 {
		return cfg, fmt.Errorf("MARKETSIM_DRIFT_EVERY must be > 0")
	}
	openAt, err := ParseClock(cfg.MarketOpen)
	if err != nil {
		return cfg, fmt.Errorf("MARKETSIM_MARKET_OPEN: %w", err)
	}
	cfg.openAt = openAt
	loc, err := time.LoadLocation(cfg.MarketTimezone)
	if err != nil {
		return cfg, fmt.Errorf("MARKETSIM_MARKET_TZ: %w", err)
	}
	cfg.location = loc
	bands, err := LoadSectorBands(cfg.SectorBandsFile)
	if err != nil {
		return cfg, err
	}
	cfg.bands = bands
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}

// Location is the market time zone; UTC until LoadFromEnv succeeds.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// OpenAt is the trading-day open as an offset from local midnight.
func (c Config) OpenAt() time.Duration {
	return c.openAt
}

func (c Config) SectorBands() market.SectorBands {
	if c.bands == nil {
		return market.DefaultSectorBands()
	}
	return c.bands
}

func (c Config) Level() slog.Level {
	lvl, _ := ParseLogLevel(c.LogLevel)
	return lvl
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", raw)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", raw)
	}
}

type sectorBandsFile struct {
	Sectors map[string]float64 `yaml:"sectors"`
}

// LoadSectorBands reads a YAML sector table and lays it over the defaults.
// An empty path returns the defaults.
//
//	sectors:
//	  energy: 0.004
//	  crypto: 0.01
func LoadSectorBands(path string) (market.SectorBands, error) {
	bands := market.DefaultSectorBands()
	path = strings.TrimSpace(path)
	if path == "" {
		return bands, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sector bands: %w", err)
	}
	parsed, err := ParseSectorBands(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, amp := range parsed {
		bands[strings.ToLower(strings.TrimSpace(name))] = amp
	}
	return bands, nil
}

func ParseSectorBands(raw []byte) (market.SectorBands, error) {
	var file sectorBandsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse sector bands: %w", err)
	}
	bands := market.SectorBands(file.Sectors)
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	return bands, nil
}
