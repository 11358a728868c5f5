// Package coingecko adapts the CoinGecko crypto API. The free tier
// needs no key, so the provider is always enabled; a demo key, when
// present, is sent as a header for the higher quota.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"marketdata/internal/httpx"
	"marketdata/internal/marketdata"
	"marketdata/internal/provider"
	"marketdata/internal/provider/ratelimit"
)

// coinIDs maps common tickers to CoinGecko coin identifiers. Unmapped
// tickers fall back to the lowercased symbol, which works for coins
// whose id equals their ticker.
var coinIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"USDT":  "tether",
	"BNB":   "binancecoin",
	"SOL":   "solana",
	"USDC":  "usd-coin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"AVAX":  "avalanche-2",
	"DOT":   "polkadot",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
	"LTC":   "litecoin",
	"UNI":   "uniswap",
	"ATOM":  "cosmos",
	"XLM":   "stellar",
	"NEAR":  "near",
	"ARB":   "arbitrum",
	"OP":    "optimism",
}

// CoinID resolves a ticker to the provider's coin identifier.
func CoinID(symbol string) string {
	sym := marketdata.NormalizeSymbol(symbol)
	if id, ok := coinIDs[sym]; ok {
		return id
	}
	return strings.ToLower(sym)
}

// Config controls the CoinGecko provider behavior. When
// MaxRequestsPerMinute is set it takes precedence over MinInterval and
// calls are paced by a token bucket with the given burst.
type Config struct {
	Name                 string
	BaseURL              string
	APIKey               string // optional demo key
	Priority             int
	MinInterval          time.Duration
	MaxRequestsPerMinute int
	Burst                int
	QuoteTimeout         time.Duration
	HistoryTimeout       time.Duration
	BatchSize            int
	BatchDelay           time.Duration
}

type Provider struct {
	cfg    Config
	client *httpx.Client
	gate   ratelimit.Limiter
	log    zerolog.Logger

	mu      sync.RWMutex
	apiKey  string
	enabled bool

	// coalesce concurrent lookups of the same coin
	sf singleflight.Group
}

func New(cfg Config, hc *httpx.Client, log zerolog.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "CoinGecko"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 1500 * time.Millisecond
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 8 * time.Second
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 20 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 2 * time.Second
	}
	return &Provider{
		cfg:     cfg,
		client:  hc,
		gate:    ratelimit.FromLimits(cfg.MinInterval, cfg.MaxRequestsPerMinute, cfg.Burst),
		log:     log.With().Str("provider", cfg.Name).Logger(),
		apiKey:  cfg.APIKey,
		enabled: true, // free tier, no key required
	}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) Descriptor() provider.Descriptor {
	p.mu.RLock()
	enabled := p.enabled
	p.mu.RUnlock()
	return provider.Descriptor{
		Name:        p.cfg.Name,
		Priority:    p.cfg.Priority,
		Enabled:     enabled,
		KeyRequired: false,
		MinInterval: p.cfg.MinInterval,
		BatchSize:   p.cfg.BatchSize,
		BatchDelay:  p.cfg.BatchDelay,
	}
}

// UpdateAPIKey swaps the demo key. The provider stays enabled either
// way; the key only raises the quota.
func (p *Provider) UpdateAPIKey(key string) {
	p.mu.Lock()
	p.apiKey = key
	p.mu.Unlock()
}

func (p *Provider) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

func (p *Provider) headers() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": p.apiKey}
}

func (p *Provider) GetCurrentPrice(ctx context.Context, symbol, currency string) (*marketdata.AssetPrice, error) {
	sym := marketdata.NormalizeSymbol(symbol)
	vs := vsCurrency(currency)
	id := CoinID(sym)

	// Coalesce identical in-flight lookups so a burst for BTC costs one
	// upstream call.
	v, err, _ := p.sf.Do(id+":"+vs, func() (any, error) {
		if err := p.gate.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
		defer cancel()
		rows, err := p.fetchSimplePrices(callCtx, []string{id}, vs)
		if err != nil {
			return nil, err
		}
		return rows[id], nil
	})
	if err != nil {
		return nil, err
	}
	row, ok := v.(simplePriceRow)
	if !ok {
		return nil, nil
	}
	return p.rowToPrice(sym, vs, row), nil
}

// GetBatchPrices resolves a whole symbol set with one multi-id
// simple/price call. Unknown coins are simply absent from the result.
func (p *Provider) GetBatchPrices(ctx context.Context, symbols []string, currency string) (map[string]*marketdata.AssetPrice, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	vs := vsCurrency(currency)

	symbolByID := make(map[string]string, len(symbols))
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := marketdata.NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		id := CoinID(sym)
		if _, dup := symbolByID[id]; dup {
			continue
		}
		symbolByID[id] = sym
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	rows, err := p.fetchSimplePrices(callCtx, ids, vs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*marketdata.AssetPrice, len(rows))
	for id, row := range rows {
		sym, ok := symbolByID[id]
		if !ok {
			continue
		}
		if price := p.rowToPrice(sym, vs, row); price != nil {
			out[sym] = price
		}
	}
	return out, nil
}

func (p *Provider) rowToPrice(sym, vs string, row simplePriceRow) *marketdata.AssetPrice {
	if row.price == nil {
		return nil
	}
	price := &marketdata.AssetPrice{
		Symbol:      sym,
		Price:       decimal.NewFromFloat(*row.price),
		Currency:    strings.ToUpper(vs),
		Source:      p.cfg.Name,
		LastUpdated: time.Now().UTC(),
	}
	if row.changePct != nil {
		d := decimal.NewFromFloat(*row.changePct)
		price.ChangePercent24h = &d
		// 24h absolute change derived from price and percent move.
		if *row.changePct != -100 {
			prev := *row.price / (1 + *row.changePct/100)
			abs := decimal.NewFromFloat(*row.price - prev)
			price.Change24h = &abs
		}
	}
	if row.volume != nil {
		vol := int64(*row.volume)
		price.Volume = &vol
	}
	if row.marketCap != nil {
		mc := decimal.NewFromFloat(*row.marketCap)
		price.MarketCap = &mc
	}
	return price
}

type simplePriceRow struct {
	price     *float64
	changePct *float64
	volume    *float64
	marketCap *float64
}

func (p *Provider) fetchSimplePrices(ctx context.Context, ids []string, vs string) (map[string]simplePriceRow, error) {
	q := url.Values{
		"ids":                 []string{strings.Join(ids, ",")},
		"vs_currencies":       []string{vs},
		"include_24hr_change": []string{"true"},
		"include_24hr_vol":    []string{"true"},
		"include_market_cap":  []string{"true"},
	}
	var body map[string]map[string]json.Number
	if err := p.client.GetJSON(ctx, p.cfg.BaseURL+"/simple/price?"+q.Encode(), p.headers(), &body); err != nil {
		return nil, err
	}
	rows := make(map[string]simplePriceRow, len(body))
	for id, coin := range body {
		rows[id] = simplePriceRow{
			price:     numField(coin, vs),
			changePct: numField(coin, vs+"_24h_change"),
			volume:    numField(coin, vs+"_24h_vol"),
			marketCap: numField(coin, vs+"_market_cap"),
		}
	}
	return rows, nil
}

// GetHistoricalPrices queries the market-chart range endpoint, which
// returns intraday resolution, and aggregates it into one OHLC record
// per calendar day.
func (p *Provider) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, currency string) ([]marketdata.HistoricalPricePoint, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.HistoryTimeout)
	defer cancel()

	sym := marketdata.NormalizeSymbol(symbol)
	vs := vsCurrency(currency)
	q := url.Values{
		"vs_currency": []string{vs},
		"from":        []string{fmt.Sprintf("%d", start.Unix())},
		"to":          []string{fmt.Sprintf("%d", end.Unix())},
	}
	var body marketChart
	u := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", p.cfg.BaseURL, CoinID(sym), q.Encode())
	if err := p.client.GetJSON(callCtx, u, p.headers(), &body); err != nil {
		return nil, err
	}
	return aggregateDaily(sym, body.Prices, body.TotalVolumes), nil
}

type marketChart struct {
	Prices       [][2]json.Number `json:"prices"`
	TotalVolumes [][2]json.Number `json:"total_volumes"`
}

// aggregateDaily collapses intraday (epoch-millis, value) pairs into
// daily OHLC points: open = first datum of the day, close = last,
// high/low = extrema, volume = sum. Output is sorted ascending by date.
func aggregateDaily(symbol string, prices, volumes [][2]json.Number) []marketdata.HistoricalPricePoint {
	type dayAgg struct {
		firstTS, lastTS         int64
		open, high, low, close_ float64
		volume                  float64
		hasVolume               bool
	}
	days := make(map[string]*dayAgg)

	for _, pair := range prices {
		ts, err1 := pair[0].Int64()
		val, err2 := pair[1].Float64()
		if err1 != nil || err2 != nil {
			continue
		}
		date := time.UnixMilli(ts).UTC().Format(marketdata.DateFormat)
		agg, ok := days[date]
		if !ok {
			days[date] = &dayAgg{firstTS: ts, lastTS: ts, open: val, high: val, low: val, close_: val}
			continue
		}
		if ts < agg.firstTS {
			agg.firstTS = ts
			agg.open = val
		}
		if ts >= agg.lastTS {
			agg.lastTS = ts
			agg.close_ = val
		}
		if val > agg.high {
			agg.high = val
		}
		if val < agg.low {
			agg.low = val
		}
	}
	for _, pair := range volumes {
		ts, err1 := pair[0].Int64()
		val, err2 := pair[1].Float64()
		if err1 != nil || err2 != nil {
			continue
		}
		date := time.UnixMilli(ts).UTC().Format(marketdata.DateFormat)
		if agg, ok := days[date]; ok {
			agg.volume += val
			agg.hasVolume = true
		}
	}

	out := make([]marketdata.HistoricalPricePoint, 0, len(days))
	for date, agg := range days {
		point := marketdata.HistoricalPricePoint{
			Symbol: symbol,
			Date:   date,
			Open:   decimal.NewFromFloat(agg.open),
			High:   decimal.NewFromFloat(agg.high),
			Low:    decimal.NewFromFloat(agg.low),
			Close:  decimal.NewFromFloat(agg.close_),
		}
		if agg.hasVolume {
			vol := int64(agg.volume)
			point.Volume = &vol
		}
		out = append(out, point)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (p *Provider) SearchAssets(ctx context.Context, query string) ([]marketdata.AssetSearchResult, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	var body struct {
		Coins []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
			Name   string `json:"name"`
		} `json:"coins"`
	}
	u := p.cfg.BaseURL + "/search?query=" + url.QueryEscape(query)
	if err := p.client.GetJSON(callCtx, u, p.headers(), &body); err != nil {
		return nil, err
	}
	out := make([]marketdata.AssetSearchResult, 0, len(body.Coins))
	for _, c := range body.Coins {
		if len(out) == 10 {
			break
		}
		if c.Symbol == "" {
			continue
		}
		out = append(out, marketdata.AssetSearchResult{
			Symbol:   marketdata.NormalizeSymbol(c.Symbol),
			Name:     c.Name,
			Class:    marketdata.ClassCrypto,
			Currency: "USD",
		})
	}
	return out, nil
}

func numField(m map[string]json.Number, key string) *float64 {
	n, ok := m[key]
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	return &f
}

func vsCurrency(currency string) string {
	c := strings.ToLower(strings.TrimSpace(currency))
	if c == "" {
		return "usd"
	}
	return c
}
