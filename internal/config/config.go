// Package config loads the JSON config file and applies environment
// overrides. Secrets (API keys, redis password) are expected to come
// from the environment, not the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

// Cache selects the backend. "tiered" puts the in-process cache in
// front of redis.
type Cache struct {
	Backend       string `json:"backend"` // memory | redis | tiered
	TTLSeconds    int    `json:"ttl_sec"`
	MaxItems      int    `json:"max_items"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
}

// Provider holds the per-provider tunables shared by all upstreams.
type Provider struct {
	Enabled              bool   `json:"enabled"`
	APIKey               string `json:"api_key"`
	BaseURL              string `json:"base_url"`
	Priority             int    `json:"priority"`
	MinRequestIntervalMS int    `json:"min_request_interval_ms"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
	BatchSize            int    `json:"batch_size"`
	BatchDelayMS         int    `json:"batch_delay_ms"`
	QuoteTimeoutSec      int    `json:"quote_timeout_sec"`
	HistoryTimeoutSec    int    `json:"history_timeout_sec"`
}

type Service struct {
	DemoMode        bool     `json:"demo_mode"`
	Currency        string   `json:"currency"`
	Watchlist       []string `json:"watchlist"`
	RefreshSchedule string   `json:"refresh_schedule"`
	LogLevel        string   `json:"log_level"`
}

type Config struct {
	Server       Server   `json:"server"`
	Cache        Cache    `json:"cache"`
	AlphaVantage Provider `json:"alphavantage"`
	CoinGecko    Provider `json:"coingecko"`
	Yahoo        Provider `json:"yahoo"`
	Service      Service  `json:"service"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		Cache: Cache{
			Backend:    "memory",
			TTLSeconds: 300,
			MaxItems:   10000,
			RedisAddr:  "localhost:6379",
		},
		AlphaVantage: Provider{
			Enabled:              true,
			Priority:             1,
			MinRequestIntervalMS: 12000,
			BatchSize:            5,
			BatchDelayMS:         1000,
			QuoteTimeoutSec:      10,
			HistoryTimeoutSec:    30,
		},
		CoinGecko: Provider{
			Enabled:              true,
			Priority:             2,
			MinRequestIntervalMS: 1500,
			BatchSize:            50,
			BatchDelayMS:         2000,
			QuoteTimeoutSec:      8,
			HistoryTimeoutSec:    20,
		},
		Yahoo: Provider{
			Enabled:              true,
			Priority:             3,
			MinRequestIntervalMS: 1000,
			BatchSize:            10,
			BatchDelayMS:         1000,
			QuoteTimeoutSec:      10,
			HistoryTimeoutSec:    20,
		},
		Service: Service{
			DemoMode:        true,
			Currency:        "USD",
			RefreshSchedule: "@hourly",
			LogLevel:        "info",
		},
	}
}

// Load reads JSON config from path. If path is empty or the file does
// not exist, it returns defaults. A .env file, when present, feeds the
// environment overrides applied last.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("PORT", &cfg.Server.Port)
	envInt("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec)

	envStr("CACHE_BACKEND", &cfg.Cache.Backend)
	envInt("CACHE_TTL_SEC", &cfg.Cache.TTLSeconds)
	envInt("CACHE_MAX_ITEMS", &cfg.Cache.MaxItems)
	envStr("REDIS_ADDR", &cfg.Cache.RedisAddr)
	envStr("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	envInt("REDIS_DB", &cfg.Cache.RedisDB)

	applyProviderEnv("ALPHAVANTAGE", &cfg.AlphaVantage)
	applyProviderEnv("COINGECKO", &cfg.CoinGecko)
	applyProviderEnv("YAHOO", &cfg.Yahoo)

	envBool("DEMO_MODE", &cfg.Service.DemoMode)
	envStr("CURRENCY", &cfg.Service.Currency)
	envStr("REFRESH_SCHEDULE", &cfg.Service.RefreshSchedule)
	envStr("LOG_LEVEL", &cfg.Service.LogLevel)
	if v := os.Getenv("WATCHLIST"); v != "" {
		cfg.Service.Watchlist = splitCSV(v)
	}
}

func applyProviderEnv(prefix string, p *Provider) {
	envBool(prefix+"_ENABLED", &p.Enabled)
	envStr(prefix+"_API_KEY", &p.APIKey)
	envStr(prefix+"_BASE_URL", &p.BaseURL)
	envInt(prefix+"_PRIORITY", &p.Priority)
	envInt(prefix+"_MIN_INTERVAL_MS", &p.MinRequestIntervalMS)
	envInt(prefix+"_MAX_RPM", &p.MaxRequestsPerMinute)
	envInt(prefix+"_BURST", &p.Burst)
	envInt(prefix+"_BATCH_SIZE", &p.BatchSize)
	envInt(prefix+"_BATCH_DELAY_MS", &p.BatchDelayMS)
	envInt(prefix+"_QUOTE_TIMEOUT_SEC", &p.QuoteTimeoutSec)
	envInt(prefix+"_HISTORY_TIMEOUT_SEC", &p.HistoryTimeoutSec)
}

func envStr(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		var x int
		if _, err := fmt.Sscanf(v, "%d", &x); err == nil && x >= 0 {
			*dst = x
		}
	}
}

func envBool(name string, dst *bool) {
	switch strings.ToLower(os.Getenv(name)) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
