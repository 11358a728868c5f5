// Command fetch resolves current prices for a set of symbols once and
// prints them as JSON. Useful for smoke-testing provider credentials.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/cache"
	"marketdata/internal/config"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/provider/coingecko"
	"marketdata/internal/provider/yahoo"
	"marketdata/internal/registry"
	"marketdata/internal/service"
)

func main() {
	var symbolsCSV string
	var currency string
	var configPath string
	var timeout int
	var demo bool

	flag.StringVar(&symbolsCSV, "symbols", os.Getenv("SYMBOLS"), "comma-separated symbols to resolve")
	flag.StringVar(&currency, "currency", "", "quote currency (default from config)")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.IntVar(&timeout, "timeout", 0, "request timeout seconds (overrides config)")
	flag.BoolVar(&demo, "demo", false, "synthesize values when no provider answers")
	flag.Parse()

	log := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		symbols = cfg.Service.Watchlist
	}
	if len(symbols) == 0 {
		log.Fatal().Msg("No symbols: pass -symbols or configure a watchlist")
	}

	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	reg := registry.New(log, buildProviders(cfg, hc, log)...)
	svc := service.New(log, reg, cache.NewMemory(1000), service.Config{
		DemoMode: demo || cfg.Service.DemoMode,
		Currency: cfg.Service.Currency,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	prices := svc.GetBatchPrices(ctx, symbols, currency, true)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(prices); err != nil {
		log.Fatal().Err(err).Msg("Encode failed")
	}
	if len(prices) < len(symbols) {
		os.Exit(1)
	}
}

func buildProviders(cfg config.Config, hc *httpx.Client, log zerolog.Logger) []provider.Provider {
	var providers []provider.Provider

	if cfg.AlphaVantage.Enabled && cfg.AlphaVantage.APIKey != "" {
		client := alphavantage.NewAPIClient(cfg.AlphaVantage.APIKey)
		providers = append(providers, alphavantage.New(alphavantage.Config{
			APIKey:               cfg.AlphaVantage.APIKey,
			Priority:             cfg.AlphaVantage.Priority,
			MinInterval:          time.Duration(cfg.AlphaVantage.MinRequestIntervalMS) * time.Millisecond,
			MaxRequestsPerMinute: cfg.AlphaVantage.MaxRequestsPerMinute,
			Burst:                cfg.AlphaVantage.Burst,
		}, client, log))
	}
	if cfg.CoinGecko.Enabled {
		providers = append(providers, coingecko.New(coingecko.Config{
			APIKey:               cfg.CoinGecko.APIKey,
			Priority:             cfg.CoinGecko.Priority,
			MinInterval:          time.Duration(cfg.CoinGecko.MinRequestIntervalMS) * time.Millisecond,
			MaxRequestsPerMinute: cfg.CoinGecko.MaxRequestsPerMinute,
			Burst:                cfg.CoinGecko.Burst,
		}, hc, log))
	}
	if cfg.Yahoo.Enabled {
		providers = append(providers, yahoo.New(yahoo.Config{
			Priority:             cfg.Yahoo.Priority,
			MinInterval:          time.Duration(cfg.Yahoo.MinRequestIntervalMS) * time.Millisecond,
			MaxRequestsPerMinute: cfg.Yahoo.MaxRequestsPerMinute,
			Burst:                cfg.Yahoo.Burst,
		}, hc, log))
	}
	return providers
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
