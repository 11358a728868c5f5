package coingecko

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/httpx"
)

func TestCoinID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bitcoin", CoinID("btc"))
	assert.Equal(t, "bitcoin", CoinID(" BTC "))
	assert.Equal(t, "solana", CoinID("SOL"))
	// Unmapped tickers fall back to the lowercased symbol.
	assert.Equal(t, "pepe", CoinID("PEPE"))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, MinInterval: time.Millisecond}, httpx.New(5*time.Second), zerolog.Nop())
}

func TestGetCurrentPrice(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		json.NewEncoder(w).Encode(map[string]any{
			"bitcoin": map[string]any{
				"usd":            64250.12,
				"usd_24h_change": 2.5,
				"usd_24h_vol":    12345678.0,
				"usd_market_cap": 1.2e12,
			},
		})
	})

	price, err := p.GetCurrentPrice(context.Background(), "btc", "usd")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, "BTC", price.Symbol)
	assert.Equal(t, "USD", price.Currency)
	assert.True(t, price.Price.IsPositive())
	require.NotNil(t, price.ChangePercent24h)
	assert.Equal(t, "2.5", price.ChangePercent24h.String())
	require.NotNil(t, price.Volume)
	assert.Equal(t, int64(12345678), *price.Volume)
}

func TestGetCurrentPrice_UnknownCoinIsNil(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	})
	price, err := p.GetCurrentPrice(context.Background(), "NOPECOIN", "usd")
	require.NoError(t, err)
	assert.Nil(t, price)
}

func TestGetBatchPrices_MultiIDRequest(t *testing.T) {
	t.Parallel()

	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "bitcoin,ethereum", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		json.NewEncoder(w).Encode(map[string]any{
			"bitcoin":  map[string]any{"usd": 64250.12},
			"ethereum": map[string]any{"usd": 3120.4},
		})
	})

	prices, err := p.GetBatchPrices(context.Background(), []string{"btc", "ETH"}, "usd")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "one upstream call covers the whole batch")
	require.Len(t, prices, 2)
	require.NotNil(t, prices["BTC"])
	assert.Equal(t, "64250.12", prices["BTC"].Price.String())
	require.NotNil(t, prices["ETH"], "coin ids map back to the requested tickers")
	assert.Equal(t, "3120.4", prices["ETH"].Price.String())
}

func TestGetBatchPrices_UnknownCoinAbsent(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"bitcoin": map[string]any{"usd": 64250.12},
		})
	})

	prices, err := p.GetBatchPrices(context.Background(), []string{"BTC", "NOPECOIN"}, "usd")
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.NotContains(t, prices, "NOPECOIN")
}

func TestGetCurrentPrice_AlwaysEnabledWithoutKey(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.True(t, p.Descriptor().Enabled)
	p.UpdateAPIKey("demo")
	assert.True(t, p.Descriptor().Enabled)
	p.UpdateAPIKey("")
	assert.True(t, p.Descriptor().Enabled, "free tier stays enabled with no key")
}

func TestGetCurrentPrice_KeySentAsHeader(t *testing.T) {
	t.Parallel()

	var sawKey atomic.Bool
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-cg-demo-api-key") == "demo-key" {
			sawKey.Store(true)
		}
		json.NewEncoder(w).Encode(map[string]any{})
	})
	p.UpdateAPIKey("demo-key")
	_, _ = p.GetCurrentPrice(context.Background(), "BTC", "usd")
	assert.True(t, sawKey.Load())
}

func TestAggregateDaily_OHLCInvariant(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	ms := func(h int) json.Number {
		return json.Number(strconv.FormatInt(day.Add(time.Duration(h)*time.Hour).UnixMilli(), 10))
	}
	prices := [][2]json.Number{
		{ms(1), "100.0"},
		{ms(5), "130.0"},
		{ms(9), "90.0"},
		{ms(23), "110.0"},
		// next day
		{ms(25), "111.0"},
	}
	volumes := [][2]json.Number{
		{ms(1), "10"},
		{ms(5), "20"},
	}

	points := aggregateDaily("BTC", prices, volumes)
	require.Len(t, points, 2)

	first := points[0]
	assert.Equal(t, "2024-03-01", first.Date)
	assert.Equal(t, "100", first.Open.String(), "open = first datum of the day")
	assert.Equal(t, "110", first.Close.String(), "close = last datum of the day")
	assert.Equal(t, "130", first.High.String())
	assert.Equal(t, "90", first.Low.String())
	require.NotNil(t, first.Volume)
	assert.Equal(t, int64(30), *first.Volume, "volume = sum over the day")

	for _, pt := range points {
		assert.True(t, pt.Low.LessThanOrEqual(pt.Open) && pt.Open.LessThanOrEqual(pt.High), "low <= open <= high")
		assert.True(t, pt.Low.LessThanOrEqual(pt.Close) && pt.Close.LessThanOrEqual(pt.High), "low <= close <= high")
	}
	assert.Equal(t, "2024-03-02", points[1].Date, "sorted ascending by date")
}

func TestSearchAssets_CapAndClass(t *testing.T) {
	t.Parallel()

	coins := make([]map[string]any, 0, 12)
	for i := 0; i < 12; i++ {
		coins = append(coins, map[string]any{"id": "coin", "symbol": "c" + strconv.Itoa(i), "name": "Coin"})
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"coins": coins})
	})

	results, err := p.SearchAssets(context.Background(), "coin")
	require.NoError(t, err)
	assert.Len(t, results, 10)
	for _, r := range results {
		assert.Equal(t, "crypto", string(r.Class))
	}
}
