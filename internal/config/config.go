package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"coinbot/internal/game"
)

const (
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type BotConfig struct {
	DiscordToken    string
	DiscordDisabled bool
	CommandPrefix   string
	AnnounceChannel string

	APIAddr  string
	APIToken string

	Store         string
	DataDir       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
	JournalPath   string

	LogLevel slog.Level
	Economy  game.Settings
}

type CLIConfig struct {
	APIBaseURL string
	APIToken   string
}

// LoadDotEnv reads .env from the working directory when one exists.
// Variables already set in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadBotFromEnv() (BotConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("COINBOT_API_ADDR", ":8080")
	}

	cfg := BotConfig{
		DiscordToken:    strings.TrimSpace(os.Getenv("DISCORD_TOKEN")),
		DiscordDisabled: envBoolDefault("COINBOT_DISCORD_DISABLED", false),
		CommandPrefix:   envDefault("COINBOT_PREFIX", "!"),
		AnnounceChannel: strings.TrimSpace(os.Getenv("COINBOT_ANNOUNCE_CHANNEL")),
		APIAddr:         addr,
		APIToken:        strings.TrimSpace(os.Getenv("COINBOT_API_TOKEN")),
		Store:           strings.ToLower(envDefault("COINBOT_STORE", StoreFile)),
		DataDir:         envDefault("COINBOT_DATA_DIR", "data"),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         envIntDefault("REDIS_DB", 0),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JournalPath:     strings.TrimSpace(os.Getenv("COINBOT_JOURNAL")),
		LogLevel:        envLevelDefault("COINBOT_LOG_LEVEL", slog.LevelInfo),
	}

	economy, err := LoadEconomy(strings.TrimSpace(os.Getenv("COINBOT_ECONOMY_FILE")))
	if err != nil {
		return cfg, err
	}
	economy.InterestRate = envFloatDefault("COINBOT_INTEREST_RATE", economy.InterestRate)
	economy.DividendRate = envFloatDefault("COINBOT_DIVIDEND_RATE", economy.DividendRate)
	cfg.Economy = economy
	return cfg, cfg.Validate()
}

func (c BotConfig) Validate() error {
	var errs []error
	if c.DiscordToken == "" && !c.DiscordDisabled {
		errs = append(errs, errors.New("DISCORD_TOKEN is required unless COINBOT_DISCORD_DISABLED=true"))
	}
	switch c.Store {
	case StoreFile:
		if c.DataDir == "" {
			errs = append(errs, errors.New("COINBOT_DATA_DIR is required for the file store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown COINBOT_STORE %q", c.Store))
	}
	if err := c.Economy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("economy: %w", err))
	}
	return errors.Join(errs...)
}

// LoadEconomy returns the default economy overlaid with the YAML file at
// path. An empty path yields the defaults.
func LoadEconomy(path string) (game.Settings, error) {
	settings := game.DefaultSettings()
	if path == "" {
		return settings, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("read economy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("parse economy file: %w", err)
	}
	return settings.Normalize(), nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("COINBOT_API_URL", "http://localhost:8080"), "/"),
		APIToken:   strings.TrimSpace(os.Getenv("COINBOT_API_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envLevelDefault(key string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return lvl
}

// Intervals are the scheduler periods, overridable per job from the
// environment for local testing.
type Intervals struct {
	Interest  time.Duration
	Dividends time.Duration
	Restock   time.Duration
	Market    time.Duration
}

func (c BotConfig) Intervals() Intervals {
	return Intervals{
		Interest:  envDurationDefault("COINBOT_INTEREST_EVERY", c.Economy.InterestEvery),
		Dividends: envDurationDefault("COINBOT_DIVIDEND_EVERY", c.Economy.DividendEvery),
		Restock:   envDurationDefault("COINBOT_RESTOCK_EVERY", c.Economy.RestockEvery),
		Market:    envDurationDefault("COINBOT_MARKET_TICK_EVERY", c.Economy.MarketTickEvery),
	}
}
