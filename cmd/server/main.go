package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"marketdata/internal/cache"
	"marketdata/internal/config"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/provider/coingecko"
	"marketdata/internal/provider/yahoo"
	"marketdata/internal/registry"
	"marketdata/internal/scheduler"
	"marketdata/internal/service"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := newLogger(cfg.Service.LogLevel)
	log.Info().Msg("Starting market data service")

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	reg := registry.New(log, buildProviders(cfg, httpClient, log)...)
	store := buildCache(cfg.Cache, log)

	svc := service.New(log, reg, store, service.Config{
		DemoMode:  cfg.Service.DemoMode,
		Currency:  cfg.Service.Currency,
		CacheTTL:  time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		Watchlist: cfg.Service.Watchlist,
	})

	sched := scheduler.New(log)
	if schedule := cfg.Service.RefreshSchedule; schedule != "" {
		refreshJob := service.NewRefreshJob(svc, log)
		if err := sched.AddJob(schedule, refreshJob); err != nil {
			log.Fatal().Err(err).Str("schedule", schedule).Msg("Failed to register refresh job")
		}
		// Warm the cache once at startup instead of waiting for the
		// first scheduled tick.
		go func() {
			if err := sched.RunNow(refreshJob); err != nil {
				log.Error().Err(err).Msg("Initial refresh failed")
			}
		}()
	}
	sched.Start()
	defer sched.Stop()

	srv := NewServer(":"+cfg.Server.Port, svc, reg, log)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func buildProviders(cfg config.Config, hc *httpx.Client, log zerolog.Logger) []provider.Provider {
	var providers []provider.Provider

	if cfg.AlphaVantage.Enabled {
		if cfg.AlphaVantage.APIKey == "" {
			log.Warn().Msg("alphavantage enabled but ALPHAVANTAGE_API_KEY not set, provider stays disabled until a key arrives")
		}
		opts := []alphavantage.APIClientOption{}
		if cfg.AlphaVantage.BaseURL != "" {
			opts = append(opts, alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL))
		}
		client := alphavantage.NewAPIClient(cfg.AlphaVantage.APIKey, opts...)
		providers = append(providers, alphavantage.New(alphavantage.Config{
			APIKey:               cfg.AlphaVantage.APIKey,
			Priority:             cfg.AlphaVantage.Priority,
			MinInterval:          time.Duration(cfg.AlphaVantage.MinRequestIntervalMS) * time.Millisecond,
			MaxRequestsPerMinute: cfg.AlphaVantage.MaxRequestsPerMinute,
			Burst:                cfg.AlphaVantage.Burst,
			QuoteTimeout:         time.Duration(cfg.AlphaVantage.QuoteTimeoutSec) * time.Second,
			HistoryTimeout:       time.Duration(cfg.AlphaVantage.HistoryTimeoutSec) * time.Second,
			BatchSize:            cfg.AlphaVantage.BatchSize,
			BatchDelay:           time.Duration(cfg.AlphaVantage.BatchDelayMS) * time.Millisecond,
		}, client, log))
	}

	if cfg.CoinGecko.Enabled {
		providers = append(providers, coingecko.New(coingecko.Config{
			BaseURL:              cfg.CoinGecko.BaseURL,
			APIKey:               cfg.CoinGecko.APIKey,
			Priority:             cfg.CoinGecko.Priority,
			MinInterval:          time.Duration(cfg.CoinGecko.MinRequestIntervalMS) * time.Millisecond,
			MaxRequestsPerMinute: cfg.CoinGecko.MaxRequestsPerMinute,
			Burst:                cfg.CoinGecko.Burst,
			QuoteTimeout:         time.Duration(cfg.CoinGecko.QuoteTimeoutSec) * time.Second,
			HistoryTimeout:       time.Duration(cfg.CoinGecko.HistoryTimeoutSec) * time.Second,
			BatchSize:            cfg.CoinGecko.BatchSize,
			BatchDelay:           time.Duration(cfg.CoinGecko.BatchDelayMS) * time.Millisecond,
		}, hc, log))
	}

	if cfg.Yahoo.Enabled {
		providers = append(providers, yahoo.New(yahoo.Config{
			BaseURL:              cfg.Yahoo.BaseURL,
			Priority:             cfg.Yahoo.Priority,
			MinInterval:          time.Duration(cfg.Yahoo.MinRequestIntervalMS) * time.Millisecond,
			MaxRequestsPerMinute: cfg.Yahoo.MaxRequestsPerMinute,
			Burst:                cfg.Yahoo.Burst,
			QuoteTimeout:         time.Duration(cfg.Yahoo.QuoteTimeoutSec) * time.Second,
			HistoryTimeout:       time.Duration(cfg.Yahoo.HistoryTimeoutSec) * time.Second,
			BatchSize:            cfg.Yahoo.BatchSize,
			BatchDelay:           time.Duration(cfg.Yahoo.BatchDelayMS) * time.Millisecond,
		}, hc, log))
	}

	return providers
}

func buildCache(cfg config.Cache, log zerolog.Logger) cache.Cache {
	newRedis := func() *cache.Redis {
		return cache.NewRedis(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), log)
	}

	switch cfg.Backend {
	case "redis":
		return newRedis()
	case "tiered":
		return cache.NewTiered(cache.NewMemory(cfg.MaxItems), newRedis(), log)
	default:
		return cache.NewMemory(cfg.MaxItems)
	}
}
