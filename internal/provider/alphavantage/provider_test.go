package alphavantage_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/provider/alphavantage"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, key string) *alphavantage.Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := alphavantage.NewAPIClient(key, alphavantage.WithBaseURL(srv.URL))
	return alphavantage.New(alphavantage.Config{APIKey: key, Priority: 1, MinInterval: time.Millisecond}, client, zerolog.Nop())
}

func TestProvider_DisabledWithoutKey(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {}, "")
	assert.False(t, p.Descriptor().Enabled)

	p.UpdateAPIKey("fresh")
	assert.True(t, p.Descriptor().Enabled)

	p.UpdateAPIKey("")
	assert.False(t, p.Descriptor().Enabled)
}

func TestProvider_GetCurrentPrice(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Global Quote": map[string]any{
				"01. symbol": "AAPL",
				"05. price":  "150.2500",
			},
		})
	}, "k")

	price, err := p.GetCurrentPrice(context.Background(), "aapl", "")
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.Equal(t, "AAPL", price.Symbol)
	assert.Equal(t, "150.25", price.Price.String())
	assert.Equal(t, "USD", price.Currency)
	assert.Equal(t, "AlphaVantage", price.Source)
	assert.False(t, price.LastUpdated.IsZero(), "producer must stamp LastUpdated")
}

func TestProvider_HistoricalSortedAscendingAndFiltered(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"Time Series (Daily)": map[string]any{
				"2024-01-05": map[string]any{"1. open": "3", "2. high": "4", "3. low": "2", "4. close": "3.5", "5. volume": "10"},
				"2024-01-03": map[string]any{"1. open": "1", "2. high": "2", "3. low": "0.5", "4. close": "1.5", "5. volume": "20"},
				"2023-12-01": map[string]any{"1. open": "9", "2. high": "9", "3. low": "9", "4. close": "9"},
			},
		})
	}, "k")

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	points, err := p.GetHistoricalPrices(context.Background(), "AAPL", start, end, "USD")
	require.NoError(t, err)
	require.Len(t, points, 2, "out-of-range day is dropped")
	assert.Equal(t, "2024-01-03", points[0].Date)
	assert.Equal(t, "2024-01-05", points[1].Date)
	for _, pt := range points {
		assert.True(t, pt.Low.LessThanOrEqual(pt.Open), "low <= open")
		assert.True(t, pt.Low.LessThanOrEqual(pt.Close), "low <= close")
		assert.True(t, pt.Open.LessThanOrEqual(pt.High), "open <= high")
		assert.True(t, pt.Close.LessThanOrEqual(pt.High), "close <= high")
	}
}

func TestProvider_SearchClassifiesAndCaps(t *testing.T) {
	t.Parallel()

	matches := make([]any, 0, 15)
	for i := 0; i < 15; i++ {
		matches = append(matches, map[string]any{
			"1. symbol": "SYM" + string(rune('A'+i)),
			"2. name":   "Result",
			"3. type":   "ETF",
		})
	}
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"bestMatches": matches})
	}, "k")

	results, err := p.SearchAssets(context.Background(), "sym")
	require.NoError(t, err)
	assert.Len(t, results, 10, "search is capped at 10 results")
	for _, r := range results {
		assert.Equal(t, "etf", string(r.Class))
	}
}

func TestProvider_UpstreamErrorFailsSoft(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}, "k")

	price, err := p.GetCurrentPrice(context.Background(), "AAPL", "USD")
	require.Error(t, err)
	assert.Nil(t, price)
}
