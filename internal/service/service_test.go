package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/cache"
	"marketdata/internal/marketdata"
)

// fakeResolver scripts the registry surface with call counters.
type fakeResolver struct {
	price      *marketdata.AssetPrice
	batch      map[string]marketdata.AssetPrice
	historical []marketdata.HistoricalPricePoint
	searches   []marketdata.AssetSearchResult

	priceCalls  atomic.Int64
	batchCalls  atomic.Int64
	histCalls   atomic.Int64
	searchCalls atomic.Int64

	knownProviders map[string]bool
}

func (f *fakeResolver) GetCurrentPrice(_ context.Context, symbol, currency string) *marketdata.AssetPrice {
	f.priceCalls.Add(1)
	if f.price == nil {
		return nil
	}
	p := *f.price
	p.Symbol = symbol
	p.Currency = currency
	return &p
}

func (f *fakeResolver) GetHistoricalPrices(context.Context, string, time.Time, time.Time, string) []marketdata.HistoricalPricePoint {
	f.histCalls.Add(1)
	return f.historical
}

func (f *fakeResolver) SearchAssets(context.Context, string) []marketdata.AssetSearchResult {
	f.searchCalls.Add(1)
	return f.searches
}

func (f *fakeResolver) GetBatchPrices(_ context.Context, symbols []string, _ string) map[string]marketdata.AssetPrice {
	f.batchCalls.Add(1)
	out := make(map[string]marketdata.AssetPrice)
	for _, sym := range symbols {
		if p, ok := f.batch[sym]; ok {
			out[sym] = p
		}
	}
	return out
}

func (f *fakeResolver) UpdateProviderConfig(name string, _ *bool, _ *string) bool {
	return f.knownProviders[name]
}

func livePrice(symbol, source, value string) *marketdata.AssetPrice {
	d, _ := decimal.NewFromString(value)
	return &marketdata.AssetPrice{
		Symbol:      symbol,
		Price:       d,
		Currency:    "USD",
		Source:      source,
		LastUpdated: time.Now().UTC(),
	}
}

func newService(resolver Resolver, c cache.Cache, cfg Config) *Service {
	return New(zerolog.Nop(), resolver, c, cfg)
}

func TestGetCurrentPrice_WritesThroughToCache(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{price: livePrice("AAPL", "yahoo", "189.43")}
	mem := cache.NewMemory(100)
	svc := newService(resolver, mem, Config{CacheTTL: 300 * time.Second})

	got := svc.GetCurrentPrice(context.Background(), "aapl", "USD", false)
	require.NotNil(t, got)
	assert.Equal(t, "yahoo", got.Source)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("189.43")))

	// The fresh value landed under the canonical key.
	payload, ok, err := mem.Get(context.Background(), "price:AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(payload), "189.43")

	// Second read is served from cache.
	again := svc.GetCurrentPrice(context.Background(), "AAPL", "USD", false)
	require.NotNil(t, again)
	assert.True(t, again.Price.Equal(got.Price))
	assert.Equal(t, int64(1), resolver.priceCalls.Load())
}

func TestGetCurrentPrice_ForceRefreshSkipsCache(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{price: livePrice("AAPL", "yahoo", "190")}
	svc := newService(resolver, cache.NewMemory(100), Config{})

	svc.GetCurrentPrice(context.Background(), "AAPL", "", false)
	svc.GetCurrentPrice(context.Background(), "AAPL", "", true)
	assert.Equal(t, int64(2), resolver.priceCalls.Load())
}

func TestGetCurrentPrice_DemoModeMockFallback(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{} // every provider path returns nil
	mem := cache.NewMemory(100)
	svc := newService(resolver, mem, Config{DemoMode: true})

	got := svc.GetCurrentPrice(context.Background(), "BTC", "USD", false)
	require.NotNil(t, got, "demo mode never returns nil")
	assert.Equal(t, "Mock Data", got.Source)
	assert.True(t, got.Price.IsPositive())

	// Mock values are deterministic per symbol and never cached.
	_, ok, err := mem.Get(context.Background(), "price:BTC")
	require.NoError(t, err)
	assert.False(t, ok)
	again := svc.GetCurrentPrice(context.Background(), "BTC", "USD", false)
	require.NotNil(t, again)
	assert.True(t, again.Price.Equal(got.Price))
}

func TestGetCurrentPrice_NoDemoModeReturnsNil(t *testing.T) {
	t.Parallel()

	svc := newService(&fakeResolver{}, cache.NewMemory(100), Config{})
	assert.Nil(t, svc.GetCurrentPrice(context.Background(), "GONE", "USD", false))
}

func TestGetBatchPrices_PartitionsHitsAndMisses(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{batch: map[string]marketdata.AssetPrice{
		"AAPL": *livePrice("AAPL", "yahoo", "190"),
		"MSFT": *livePrice("MSFT", "yahoo", "410"),
	}}
	svc := newService(resolver, cache.NewMemory(100), Config{})

	first := svc.GetBatchPrices(context.Background(), []string{"aapl", "MSFT", "AAPL"}, "USD", false)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), resolver.batchCalls.Load())

	// Repeating the request is idempotent: all hits, no provider traffic.
	second := svc.GetBatchPrices(context.Background(), []string{"AAPL", "MSFT"}, "USD", false)
	require.Len(t, second, 2)
	assert.Equal(t, int64(1), resolver.batchCalls.Load())
	assert.True(t, second["AAPL"].Price.Equal(first["AAPL"].Price))
}

func TestGetBatchPrices_DemoModeFillsUnresolved(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{batch: map[string]marketdata.AssetPrice{
		"AAPL": *livePrice("AAPL", "yahoo", "190"),
	}}
	svc := newService(resolver, cache.NewMemory(100), Config{DemoMode: true})

	got := svc.GetBatchPrices(context.Background(), []string{"AAPL", "UNKNOWN1"}, "USD", false)
	require.Len(t, got, 2)
	assert.Equal(t, "yahoo", got["AAPL"].Source)
	assert.Equal(t, "Mock Data", got["UNKNOWN1"].Source)
}

func TestGetHistoricalPrices_CachedUnderRangeKey(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{historical: []marketdata.HistoricalPricePoint{
		{Symbol: "AAPL", Date: "2024-01-02", Close: decimal.NewFromInt(185)},
	}}
	mem := cache.NewMemory(100)
	svc := newService(resolver, mem, Config{})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	points := svc.GetHistoricalPrices(context.Background(), "AAPL", start, end, "USD", false)
	require.Len(t, points, 1)

	_, ok, err := mem.Get(context.Background(), "historical:AAPL:1d:2024-01-01_2024-01-31")
	require.NoError(t, err)
	assert.True(t, ok)

	svc.GetHistoricalPrices(context.Background(), "AAPL", start, end, "USD", false)
	assert.Equal(t, int64(1), resolver.histCalls.Load())
}

func TestGetHistoricalPrices_DemoModeSyntheticSeries(t *testing.T) {
	t.Parallel()

	svc := newService(&fakeResolver{}, cache.NewMemory(100), Config{DemoMode: true})

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	points := svc.GetHistoricalPrices(context.Background(), "BTC", start, end, "USD", false)
	require.Len(t, points, 5)
	for _, p := range points {
		assert.True(t, p.Low.LessThanOrEqual(p.Open), "low <= open on %s", p.Date)
		assert.True(t, p.Low.LessThanOrEqual(p.Close), "low <= close on %s", p.Date)
		assert.True(t, p.High.GreaterThanOrEqual(p.Open), "high >= open on %s", p.Date)
		assert.True(t, p.High.GreaterThanOrEqual(p.Close), "high >= close on %s", p.Date)
		assert.True(t, p.Low.IsPositive())
	}
}

func TestSearchAssets_CachesMergedResult(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{searches: []marketdata.AssetSearchResult{
		{Symbol: "AAPL", Name: "Apple Inc.", Class: marketdata.ClassEquity},
	}}
	svc := newService(resolver, cache.NewMemory(100), Config{})

	first := svc.SearchAssets(context.Background(), "Apple!", false)
	require.Len(t, first, 1)
	second := svc.SearchAssets(context.Background(), "apple", false)
	require.Len(t, second, 1)
	assert.Equal(t, int64(1), resolver.searchCalls.Load(), "normalized query shares one cache entry")
}

func TestSearchAssets_EmptyResultNotCached(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{}
	svc := newService(resolver, cache.NewMemory(100), Config{})

	assert.Empty(t, svc.SearchAssets(context.Background(), "nothing", false))
	assert.Empty(t, svc.SearchAssets(context.Background(), "nothing", false))
	assert.Equal(t, int64(2), resolver.searchCalls.Load())
}

func TestRefreshPrices_UsesWatchlistAndForcesRefresh(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{batch: map[string]marketdata.AssetPrice{
		"AAPL": *livePrice("AAPL", "yahoo", "190"),
		"BTC":  *livePrice("BTC", "coingecko", "43000"),
	}}
	svc := newService(resolver, cache.NewMemory(100), Config{Watchlist: []string{"AAPL", "BTC"}})

	assert.Equal(t, 2, svc.RefreshPrices(context.Background(), nil))
	assert.Equal(t, 2, svc.RefreshPrices(context.Background(), nil))
	// forceRefresh bypasses the cache both times.
	assert.Equal(t, int64(2), resolver.batchCalls.Load())
}

func TestUpdateConfig_MergesAndReportsUnknownProviders(t *testing.T) {
	t.Parallel()

	resolver := &fakeResolver{knownProviders: map[string]bool{"yahoo": true}}
	svc := newService(resolver, cache.NewMemory(100), Config{})

	demo := true
	enabled := false
	unknown := svc.UpdateConfig(ConfigUpdate{
		DemoMode:  &demo,
		Watchlist: []string{"AAPL"},
		Providers: map[string]ProviderUpdate{
			"yahoo": {Enabled: &enabled},
			"nope":  {Enabled: &enabled},
		},
	})
	assert.Equal(t, []string{"nope"}, unknown)

	cfg := svc.config()
	assert.True(t, cfg.DemoMode)
	assert.Equal(t, []string{"AAPL"}, cfg.Watchlist)
}

// unclearable fails Clear the way a tiered setup with an opaque shared
// tier does.
type unclearable struct{ cache.Cache }

func (unclearable) Clear(context.Context) error { return cache.ErrClearUnsupported }

type brokenClear struct{ cache.Cache }

func (brokenClear) Clear(context.Context) error { return errors.New("conn refused") }

func TestClearCache(t *testing.T) {
	t.Parallel()

	mem := cache.NewMemory(100)
	require.NoError(t, mem.Set(context.Background(), "price:AAPL", []byte("{}"), time.Minute))

	svc := newService(&fakeResolver{}, mem, Config{})
	assert.True(t, svc.ClearCache(context.Background()))
	_, ok, err := mem.Get(context.Background(), "price:AAPL")
	require.NoError(t, err)
	assert.False(t, ok)

	// A backend that cannot enumerate keys is best-effort success.
	svc = newService(&fakeResolver{}, unclearable{mem}, Config{})
	assert.True(t, svc.ClearCache(context.Background()))

	svc = newService(&fakeResolver{}, brokenClear{mem}, Config{})
	assert.False(t, svc.ClearCache(context.Background()))
}

func TestCacheHealth(t *testing.T) {
	t.Parallel()

	svc := newService(&fakeResolver{}, cache.NewMemory(100), Config{})
	assert.True(t, svc.CacheHealth(context.Background()).OK())
}
