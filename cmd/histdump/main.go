// Command histdump bulk-fetches daily OHLC history for a list of
// symbols and writes one JSON document per symbol to an output file.
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
	"marketdata/internal/marketdata"
	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/provider/coingecko"
	"marketdata/internal/provider/yahoo"
	"marketdata/internal/registry"
	"marketdata/internal/service"
)

type dumpRow struct {
	Symbol string                            `json:"symbol"`
	Points []marketdata.HistoricalPricePoint `json:"points"`
}

func main() {
	var (
		symbolsCSV string
		startStr   string
		endStr     string
		currency   string
		outPath    string
		cfgPath    string
		timeoutSec int
	)
	flag.StringVar(&symbolsCSV, "symbols", os.Getenv("SYMBOLS"), "comma-separated symbols")
	flag.StringVar(&startStr, "start", "", "range start, YYYY-MM-DD (default: one year ago)")
	flag.StringVar(&endStr, "end", "", "range end, YYYY-MM-DD (default: today)")
	flag.StringVar(&currency, "currency", "", "quote currency (default from config)")
	flag.StringVar(&outPath, "out", "historical_dump.json", "output file path, - for stdout")
	flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.IntVar(&timeoutSec, "timeout", 30, "HTTP timeout seconds")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if timeoutSec > 0 {
		cfg.Server.RequestTimeoutSec = timeoutSec
	}

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		symbols = cfg.Service.Watchlist
	}
	if len(symbols) == 0 {
		log.Fatal().Msg("No symbols: pass -symbols or configure a watchlist")
	}

	end := time.Now().UTC()
	if endStr != "" {
		if end, err = time.Parse(marketdata.DateFormat, endStr); err != nil {
			log.Fatal().Err(err).Msg("Bad -end date")
		}
	}
	start := end.AddDate(-1, 0, 0)
	if startStr != "" {
		if start, err = time.Parse(marketdata.DateFormat, startStr); err != nil {
			log.Fatal().Err(err).Msg("Bad -start date")
		}
	}
	if end.Before(start) {
		log.Fatal().Msg("Range end is before start")
	}

	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	reg := registry.New(log, buildProviders(cfg, hc, log)...)
	svc := service.New(log, reg, cache.NewMemory(1000), service.Config{
		Currency: cfg.Service.Currency,
	})

	ctx := context.Background()
	rows := make([]dumpRow, 0, len(symbols))
	for _, sym := range symbols {
		sym = marketdata.NormalizeSymbol(sym)
		points := svc.GetHistoricalPrices(ctx, sym, start, end, currency, false)
		if len(points) == 0 {
			log.Warn().Str("symbol", sym).Msg("No historical data")
			continue
		}
		log.Info().Str("symbol", sym).Int("points", len(points)).Msg("Fetched history")
		rows = append(rows, dumpRow{Symbol: sym, Points: points})
	}

	out := os.Stdout
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Create output file")
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		log.Fatal().Err(err).Msg("Encode failed")
	}
	log.Info().Int("symbols", len(rows)).Str("out", outPath).Msg("Dump complete")
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
