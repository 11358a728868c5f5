// Package service is the price resolution facade: cache in front,
// provider registry behind, synthetic data as the last resort so
// callers never see a hard error for a transient upstream outage.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/cache"
	"marketdata/internal/marketdata"
)

// Resolver is the registry surface the facade depends on.
type Resolver interface {
	GetCurrentPrice(ctx context.Context, symbol, currency string) *marketdata.AssetPrice
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, currency string) []marketdata.HistoricalPricePoint
	SearchAssets(ctx context.Context, query string) []marketdata.AssetSearchResult
	GetBatchPrices(ctx context.Context, symbols []string, currency string) map[string]marketdata.AssetPrice
	UpdateProviderConfig(name string, enabled *bool, apiKey *string) bool
}

// Config holds the facade's tunables. CacheTTL is the base TTL;
// historical entries live twice as long, search entries half.
type Config struct {
	DemoMode  bool
	Currency  string
	CacheTTL  time.Duration
	Watchlist []string
}

func (c Config) priceTTL() time.Duration {
	if c.CacheTTL <= 0 {
		return 5 * time.Minute
	}
	return c.CacheTTL
}

func (c Config) historicalTTL() time.Duration { return 2 * c.priceTTL() }
func (c Config) searchTTL() time.Duration     { return c.priceTTL() / 2 }

func (c Config) currencyOr(currency string) string {
	if currency != "" {
		return currency
	}
	if c.Currency != "" {
		return c.Currency
	}
	return cache.DefaultCurrency
}

// Service resolves prices through cache, registry and mock fallback.
type Service struct {
	log      zerolog.Logger
	resolver Resolver
	cache    cache.Cache

	mu  sync.RWMutex
	cfg Config
}

func New(log zerolog.Logger, resolver Resolver, c cache.Cache, cfg Config) *Service {
	return &Service{
		log:      log.With().Str("component", "service").Logger(),
		resolver: resolver,
		cache:    c,
		cfg:      cfg,
	}
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// GetCurrentPrice resolves one symbol. Returns nil only when every
// provider is exhausted and demo mode is off.
func (s *Service) GetCurrentPrice(ctx context.Context, symbol, currency string, forceRefresh bool) *marketdata.AssetPrice {
	cfg := s.config()
	symbol = marketdata.NormalizeSymbol(symbol)
	currency = cfg.currencyOr(currency)
	key := cache.PriceKey(symbol, currency)

	if !forceRefresh {
		var cached marketdata.AssetPrice
		if s.readCached(ctx, key, &cached) {
			return &cached
		}
	}

	if price := s.resolver.GetCurrentPrice(ctx, symbol, currency); price != nil {
		s.writeCached(ctx, key, price, cfg.priceTTL())
		return price
	}

	if cfg.DemoMode {
		// Synthetic prices are never cached so the real providers keep
		// being retried on the next call.
		return mockPrice(symbol, currency)
	}
	return nil
}

// GetBatchPrices resolves a set of symbols, serving cache hits locally
// and sending only the misses through the registry's batch path.
func (s *Service) GetBatchPrices(ctx context.Context, symbols []string, currency string, forceRefresh bool) map[string]marketdata.AssetPrice {
	cfg := s.config()
	currency = cfg.currencyOr(currency)

	out := make(map[string]marketdata.AssetPrice, len(symbols))
	var misses []string
	for _, raw := range symbols {
		sym := marketdata.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if _, done := out[sym]; done {
			continue
		}
		if !forceRefresh {
			var cached marketdata.AssetPrice
			if s.readCached(ctx, cache.PriceKey(sym, currency), &cached) {
				out[sym] = cached
				continue
			}
		}
		misses = append(misses, sym)
	}

	if len(misses) > 0 {
		fresh := s.resolver.GetBatchPrices(ctx, misses, currency)
		for sym, price := range fresh {
			p := price
			s.writeCached(ctx, cache.PriceKey(sym, currency), &p, cfg.priceTTL())
			out[sym] = price
		}
		if cfg.DemoMode {
			for _, sym := range misses {
				if _, ok := out[sym]; !ok {
					out[sym] = *mockPrice(sym, currency)
				}
			}
		}
	}
	return out
}

// GetHistoricalPrices resolves a daily OHLC series for the date range.
func (s *Service) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, currency string, forceRefresh bool) []marketdata.HistoricalPricePoint {
	cfg := s.config()
	symbol = marketdata.NormalizeSymbol(symbol)
	currency = cfg.currencyOr(currency)
	dateRange := start.Format(marketdata.DateFormat) + "_" + end.Format(marketdata.DateFormat)
	key := cache.HistoricalKey(symbol, "1d", dateRange)

	if !forceRefresh {
		var cached []marketdata.HistoricalPricePoint
		if s.readCached(ctx, key, &cached) {
			return cached
		}
	}

	if points := s.resolver.GetHistoricalPrices(ctx, symbol, start, end, currency); len(points) > 0 {
		s.writeCached(ctx, key, points, cfg.historicalTTL())
		return points
	}

	if cfg.DemoMode {
		return mockHistorical(symbol, start, end)
	}
	return nil
}

// SearchAssets returns the merged, deduplicated search result, cached
// after merging under a single shared TTL.
func (s *Service) SearchAssets(ctx context.Context, query string, forceRefresh bool) []marketdata.AssetSearchResult {
	cfg := s.config()
	key := cache.SearchKey(query)

	if !forceRefresh {
		var cached []marketdata.AssetSearchResult
		if s.readCached(ctx, key, &cached) {
			return cached
		}
	}

	results := s.resolver.SearchAssets(ctx, query)
	if len(results) > 0 {
		s.writeCached(ctx, key, results, cfg.searchTTL())
	}
	return results
}

// RefreshPrices force-refreshes the given symbols, falling back to the
// configured watchlist when none are given. Returns the number of
// symbols that resolved.
func (s *Service) RefreshPrices(ctx context.Context, symbols []string) int {
	cfg := s.config()
	if len(symbols) == 0 {
		symbols = cfg.Watchlist
	}
	if len(symbols) == 0 {
		return 0
	}
	return len(s.GetBatchPrices(ctx, symbols, cfg.Currency, true))
}

// ProviderUpdate is a partial change to one provider's runtime config.
type ProviderUpdate struct {
	Enabled *bool
	APIKey  *string
}

// ConfigUpdate is a partial change to the facade config. Nil fields
// are left untouched.
type ConfigUpdate struct {
	DemoMode  *bool
	Currency  *string
	CacheTTL  *time.Duration
	Watchlist []string
	Providers map[string]ProviderUpdate
}

// UpdateConfig merges the partial update and propagates provider
// changes to the registry. Unknown provider names are reported back.
func (s *Service) UpdateConfig(update ConfigUpdate) (unknown []string) {
	s.mu.Lock()
	if update.DemoMode != nil {
		s.cfg.DemoMode = *update.DemoMode
	}
	if update.Currency != nil {
		s.cfg.Currency = *update.Currency
	}
	if update.CacheTTL != nil {
		s.cfg.CacheTTL = *update.CacheTTL
	}
	if update.Watchlist != nil {
		s.cfg.Watchlist = update.Watchlist
	}
	s.mu.Unlock()

	for name, pu := range update.Providers {
		if !s.resolver.UpdateProviderConfig(name, pu.Enabled, pu.APIKey) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		s.log.Warn().Strs("providers", unknown).Msg("Config update named unknown providers")
	}
	return unknown
}

// ClearCache wipes the owned cache namespaces. Backends that cannot
// enumerate keys are not an error: entries there expire on their own.
func (s *Service) ClearCache(ctx context.Context) bool {
	err := s.cache.Clear(ctx)
	switch {
	case err == nil:
		s.log.Info().Msg("Cache cleared")
		return true
	case errors.Is(err, cache.ErrClearUnsupported):
		s.log.Warn().Msg("Cache backend cannot enumerate keys, entries will expire by TTL")
		return true
	default:
		s.log.Error().Err(err).Msg("Cache clear failed")
		return false
	}
}

// CacheHealth probes the cache with a write/read/delete cycle.
func (s *Service) CacheHealth(ctx context.Context) cache.Health {
	return s.cache.HealthCheck(ctx)
}

// readCached loads and decodes a cache entry into v. Backend and
// decode failures count as misses.
func (s *Service) readCached(ctx context.Context, key string, v any) bool {
	payload, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Debug().Err(err).Str("key", key).Msg("Cache read failed, treating as miss")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Dropping undecodable cache entry")
		_ = s.cache.Delete(ctx, key)
		return false
	}
	return true
}

// writeCached stores v under key. Failures are logged and swallowed:
// the caller already has the fresh value.
func (s *Service) writeCached(ctx context.Context, key string, v any, ttl time.Duration) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache encode failed")
		return
	}
	if err := s.cache.Set(ctx, key, payload, ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
