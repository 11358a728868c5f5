// Package yahoo adapts the Yahoo Finance quote/chart/search endpoints.
// It is the keyless fallback equities source.
package yahoo

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

	"marketdata/internal/httpx"
	"marketdata/internal/marketdata"
	"marketdata/internal/provider"
	"marketdata/internal/provider/ratelimit"
)

// ConvertSymbol maps the canonical ticker to Yahoo's convention.
// Examples: AAPL.US -> AAPL, 7203.JP -> 7203.T; everything else passes
// through unchanged.
func ConvertSymbol(symbol string) string {
	sym := marketdata.NormalizeSymbol(symbol)
	if strings.HasSuffix(sym, ".US") {
		return strings.TrimSuffix(sym, ".US")
	}
	if strings.HasSuffix(sym, ".JP") {
		return strings.TrimSuffix(sym, ".JP") + ".T"
	}
	return sym
}

// Config controls the Yahoo provider behavior. When
// MaxRequestsPerMinute is set it takes precedence over MinInterval and
// calls are paced by a token bucket with the given burst.
type Config struct {
	Name                 string
	BaseURL              string
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
	enabled bool
}

func New(cfg Config, hc *httpx.Client, log zerolog.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "YahooFinance"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 8 * time.Second
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 20 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = time.Second
	}
	return &Provider{
		cfg:     cfg,
		client:  hc,
		gate:    ratelimit.FromLimits(cfg.MinInterval, cfg.MaxRequestsPerMinute, cfg.Burst),
		log:     log.With().Str("provider", cfg.Name).Logger(),
		enabled: true,
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

// UpdateAPIKey is a no-op: the endpoints used here are keyless.
func (p *Provider) UpdateAPIKey(string) {}

func (p *Provider) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

func (p *Provider) GetCurrentPrice(ctx context.Context, symbol, currency string) (*marketdata.AssetPrice, error) {
	prices, err := p.GetBatchPrices(ctx, []string{symbol}, currency)
	if err != nil {
		return nil, err
	}
	return prices[marketdata.NormalizeSymbol(symbol)], nil
}

// GetBatchPrices resolves a whole symbol set with one comma-joined
// quote call. Symbols the upstream does not know are simply absent
// from the result.
func (p *Provider) GetBatchPrices(ctx context.Context, symbols []string, currency string) (map[string]*marketdata.AssetPrice, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	// The quote endpoint answers in Yahoo's symbol convention; keep the
	// reverse mapping so results come back under canonical tickers.
	canonical := make(map[string]string, len(symbols))
	converted := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := marketdata.NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		ys := ConvertSymbol(sym)
		if _, dup := canonical[ys]; dup {
			continue
		}
		canonical[ys] = sym
		converted = append(converted, ys)
	}
	if len(converted) == 0 {
		return nil, nil
	}

	var body struct {
		QuoteResponse struct {
			Result []map[string]any `json:"result"`
		} `json:"quoteResponse"`
	}
	u := p.cfg.BaseURL + "/v7/finance/quote?symbols=" + url.QueryEscape(strings.Join(converted, ","))
	if err := p.client.GetJSON(callCtx, u, nil, &body); err != nil {
		return nil, err
	}

	out := make(map[string]*marketdata.AssetPrice, len(body.QuoteResponse.Result))
	for _, info := range body.QuoteResponse.Result {
		sym, ok := canonical[getString(info, "symbol", "")]
		if !ok {
			continue
		}
		if price := p.quoteToPrice(sym, currency, info); price != nil {
			out[sym] = price
		}
	}
	return out, nil
}

func (p *Provider) quoteToPrice(sym, currency string, info map[string]any) *marketdata.AssetPrice {
	raw := getFloat64(info, "regularMarketPrice")
	if raw == nil || *raw < 0 {
		return nil
	}
	price := &marketdata.AssetPrice{
		Symbol:      sym,
		Price:       decimal.NewFromFloat(*raw),
		Currency:    getString(info, "currency", strings.ToUpper(currencyOr(currency))),
		Source:      p.cfg.Name,
		LastUpdated: time.Now().UTC(),
	}
	if v := getFloat64(info, "regularMarketChange"); v != nil {
		d := decimal.NewFromFloat(*v)
		price.Change24h = &d
	}
	if v := getFloat64(info, "regularMarketChangePercent"); v != nil {
		d := decimal.NewFromFloat(*v)
		price.ChangePercent24h = &d
	}
	if v := getFloat64(info, "regularMarketVolume"); v != nil {
		vol := int64(*v)
		price.Volume = &vol
	}
	if v := getFloat64(info, "marketCap"); v != nil {
		mc := decimal.NewFromFloat(*v)
		price.MarketCap = &mc
	}
	return price
}

func (p *Provider) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, currency string) ([]marketdata.HistoricalPricePoint, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.HistoryTimeout)
	defer cancel()

	sym := marketdata.NormalizeSymbol(symbol)
	q := url.Values{
		"period1":  []string{fmt.Sprintf("%d", start.Unix())},
		"period2":  []string{fmt.Sprintf("%d", end.Unix())},
		"interval": []string{"1d"},
	}
	var body chartResponse
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", p.cfg.BaseURL, url.PathEscape(ConvertSymbol(sym)), q.Encode())
	if err := p.client.GetJSON(callCtx, u, nil, &body); err != nil {
		return nil, err
	}
	if len(body.Chart.Result) == 0 {
		return nil, nil
	}
	res := body.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, nil
	}
	bars := res.Indicators.Quote[0]

	points := make([]marketdata.HistoricalPricePoint, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		open := at(bars.Open, i)
		high := at(bars.High, i)
		low := at(bars.Low, i)
		cls := at(bars.Close, i)
		if open == nil || high == nil || low == nil || cls == nil {
			continue // market holiday rows come back as nulls
		}
		point := marketdata.HistoricalPricePoint{
			Symbol: sym,
			Date:   time.Unix(ts, 0).UTC().Format(marketdata.DateFormat),
			Open:   decimal.NewFromFloat(*open),
			High:   decimal.NewFromFloat(*high),
			Low:    decimal.NewFromFloat(*low),
			Close:  decimal.NewFromFloat(*cls),
		}
		if v := at(bars.Volume, i); v != nil {
			vol := int64(*v)
			point.Volume = &vol
		}
		points = append(points, point)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (p *Provider) SearchAssets(ctx context.Context, query string) ([]marketdata.AssetSearchResult, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	var body struct {
		Quotes []map[string]any `json:"quotes"`
	}
	u := p.cfg.BaseURL + "/v1/finance/search?q=" + url.QueryEscape(query)
	if err := p.client.GetJSON(callCtx, u, nil, &body); err != nil {
		return nil, err
	}
	out := make([]marketdata.AssetSearchResult, 0, len(body.Quotes))
	for _, q := range body.Quotes {
		if len(out) == 10 {
			break
		}
		sym := getString(q, "symbol", "")
		if sym == "" {
			continue
		}
		name := getString(q, "shortname", "")
		if name == "" {
			name = getString(q, "longname", sym)
		}
		out = append(out, marketdata.AssetSearchResult{
			Symbol:   marketdata.NormalizeSymbol(sym),
			Name:     name,
			Class:    classifyQuoteType(getString(q, "quoteType", "")),
			Exchange: getString(q, "exchange", ""),
		})
	}
	return out, nil
}

func classifyQuoteType(t string) marketdata.AssetClass {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "CRYPTOCURRENCY":
		return marketdata.ClassCrypto
	case "ETF":
		return marketdata.ClassETF
	case "MUTUALFUND":
		return marketdata.ClassFund
	default:
		return marketdata.ClassEquity
	}
}

// Yahoo payloads mix types freely; read every field defensively.

func getFloat64(m map[string]any, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	}
	return nil
}

func getString(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func at(s []*float64, i int) *float64 {
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}

func currencyOr(c string) string {
	if strings.TrimSpace(c) == "" {
		return "USD"
	}
	return c
}
