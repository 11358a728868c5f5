package alphavantage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketdata/internal/marketdata"
	"marketdata/internal/provider"
	"marketdata/internal/provider/ratelimit"
)

// Config controls the Alpha Vantage provider.
type Config struct {
	Name     string
	APIKey   string
	Priority int
	// MinInterval paces upstream calls; the free tier tolerates roughly
	// one call per 12s. Tunable, not an invariant. When
	// MaxRequestsPerMinute is set it takes precedence and calls are
	// paced by a token bucket with the given burst.
	MinInterval          time.Duration
	MaxRequestsPerMinute int
	Burst                int
	QuoteTimeout         time.Duration
	HistoryTimeout       time.Duration
	BatchSize            int
	BatchDelay           time.Duration
}

// Provider is the primary equities source. It requires an API key and
// disables itself when none is configured.
type Provider struct {
	cfg    Config
	client *APIClient
	gate   ratelimit.Limiter
	log    zerolog.Logger

	mu      sync.RWMutex
	enabled bool
}

func New(cfg Config, client *APIClient, log zerolog.Logger) *Provider {
	if cfg.Name == "" {
		cfg.Name = "AlphaVantage"
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 12 * time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 10 * time.Second
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = time.Second
	}
	return &Provider{
		cfg:     cfg,
		client:  client,
		gate:    ratelimit.FromLimits(cfg.MinInterval, cfg.MaxRequestsPerMinute, cfg.Burst),
		log:     log.With().Str("provider", cfg.Name).Logger(),
		enabled: cfg.APIKey != "",
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
		KeyRequired: true,
		MinInterval: p.cfg.MinInterval,
		BatchSize:   p.cfg.BatchSize,
		BatchDelay:  p.cfg.BatchDelay,
	}
}

// UpdateAPIKey rotates the credential; an empty key disables the
// provider since Alpha Vantage has no keyless mode.
func (p *Provider) UpdateAPIKey(key string) {
	p.client.SetKey(key)
	p.mu.Lock()
	p.enabled = key != ""
	p.mu.Unlock()
}

func (p *Provider) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

func (p *Provider) GetCurrentPrice(ctx context.Context, symbol, currency string) (*marketdata.AssetPrice, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	quote, err := p.client.GetGlobalQuote(callCtx, marketdata.NormalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	if quote == nil || quote.Price == nil || *quote.Price < 0 {
		return nil, nil
	}

	price := &marketdata.AssetPrice{
		Symbol:      marketdata.NormalizeSymbol(symbol),
		Price:       decimal.NewFromFloat(*quote.Price),
		Currency:    currencyOrDefault(currency),
		Source:      p.cfg.Name,
		LastUpdated: time.Now().UTC(),
	}
	if quote.Change != nil {
		d := decimal.NewFromFloat(*quote.Change)
		price.Change24h = &d
	}
	if quote.ChangePercent != nil {
		d := decimal.NewFromFloat(*quote.ChangePercent)
		price.ChangePercent24h = &d
	}
	price.Volume = quote.Volume
	return price, nil
}

func (p *Provider) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, currency string) ([]marketdata.HistoricalPricePoint, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.HistoryTimeout)
	defer cancel()

	sym := marketdata.NormalizeSymbol(symbol)
	bars, err := p.client.GetDailySeries(callCtx, sym)
	if err != nil {
		return nil, err
	}

	points := make([]marketdata.HistoricalPricePoint, 0, len(bars))
	for _, b := range bars {
		day, err := time.Parse(marketdata.DateFormat, b.Date)
		if err != nil {
			continue
		}
		if day.Before(start) || day.After(end) {
			continue
		}
		points = append(points, marketdata.HistoricalPricePoint{
			Symbol: sym,
			Date:   b.Date,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: b.Volume,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date < points[j].Date })
	return points, nil
}

func (p *Provider) SearchAssets(ctx context.Context, query string) ([]marketdata.AssetSearchResult, error) {
	if err := p.gate.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.QuoteTimeout)
	defer cancel()

	matches, err := p.client.SearchSymbols(callCtx, query)
	if err != nil {
		return nil, err
	}
	out := make([]marketdata.AssetSearchResult, 0, len(matches))
	for _, m := range matches {
		if len(out) == 10 {
			break
		}
		out = append(out, marketdata.AssetSearchResult{
			Symbol:   marketdata.NormalizeSymbol(m.Symbol),
			Name:     m.Name,
			Class:    classifyType(m.Type),
			Exchange: m.Region,
			Currency: m.Currency,
		})
	}
	return out, nil
}

func classifyType(t string) marketdata.AssetClass {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "etf":
		return marketdata.ClassETF
	case "mutual fund", "fund":
		return marketdata.ClassFund
	default:
		return marketdata.ClassEquity
	}
}

func currencyOrDefault(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "USD"
	}
	return c
}
