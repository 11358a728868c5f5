// Package registry orders providers by priority and applies the
// fallback protocol: first success wins for prices, merged results for
// search, partitioned batches for bulk resolution.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"marketdata/internal/marketdata"
	"marketdata/internal/provider"
)

const (
	errorBufferCap     = 50
	defaultRecentCount = 20
	searchResultCap    = 10
)

// Status is the observability snapshot for one provider.
type Status struct {
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Priority int    `json:"priority"`
}

type Registry struct {
	log zerolog.Logger

	mu        sync.RWMutex
	providers []provider.Provider

	errMu sync.Mutex
	errs  []marketdata.Error
}

func New(log zerolog.Logger, providers ...provider.Provider) *Registry {
	r := &Registry{
		log:       log.With().Str("component", "registry").Logger(),
		providers: providers,
	}
	r.mu.Lock()
	r.resortLocked()
	r.mu.Unlock()
	return r
}

// resortLocked keeps providers ascending by priority. The sort is
// stable so registration order breaks ties.
func (r *Registry) resortLocked() {
	ps := r.providers
	// insertion sort: the list is tiny and already mostly sorted
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].Descriptor().Priority < ps[j-1].Descriptor().Priority; j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

// enabled returns a snapshot of the enabled providers in priority order.
func (r *Registry) enabled() []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Descriptor().Enabled {
			out = append(out, p)
		}
	}
	return out
}

// GetCurrentPrice consults enabled providers in ascending priority
// order and short-circuits on the first non-nil result. Failures are
// recorded and the next provider is tried; nil means every provider was
// exhausted.
func (r *Registry) GetCurrentPrice(ctx context.Context, symbol, currency string) *marketdata.AssetPrice {
	for _, p := range r.enabled() {
		price, err := p.GetCurrentPrice(ctx, symbol, currency)
		if err != nil {
			r.recordError(p.Name(), symbol, err)
			continue
		}
		if price != nil {
			return price
		}
	}
	return nil
}

// GetHistoricalPrices applies the same short-circuit policy; the first
// non-empty series wins.
func (r *Registry) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, currency string) []marketdata.HistoricalPricePoint {
	for _, p := range r.enabled() {
		points, err := p.GetHistoricalPrices(ctx, symbol, start, end, currency)
		if err != nil {
			r.recordError(p.Name(), symbol, err)
			continue
		}
		if len(points) > 0 {
			return points
		}
	}
	return nil
}

type searchIdentity struct {
	symbol string
	class  marketdata.AssetClass
}

// SearchAssets queries every enabled provider, with no short-circuit,
// then merges in priority order, de-duplicating by (symbol, class) with
// first-seen-wins, capped at 10 results. In-flight calls are never
// canceled once the cap is reached.
func (r *Registry) SearchAssets(ctx context.Context, query string) []marketdata.AssetSearchResult {
	providers := r.enabled()
	perProvider := make([][]marketdata.AssetSearchResult, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			results, err := p.SearchAssets(ctx, query)
			if err != nil {
				r.recordError(p.Name(), query, err)
				return
			}
			perProvider[i] = results
		}(i, p)
	}
	wg.Wait()

	seen := make(map[searchIdentity]struct{}, searchResultCap)
	merged := make([]marketdata.AssetSearchResult, 0, searchResultCap)
	for _, results := range perProvider {
		for _, res := range results {
			if len(merged) == searchResultCap {
				return merged
			}
			id := searchIdentity{symbol: res.Symbol, class: res.Class}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, res)
		}
	}
	return merged
}

// GetBatchPrices resolves a symbol set across providers. Each provider
// receives only the still-unresolved symbols, chunked to its batch
// size. A provider implementing BatchQuoter gets one upstream call per
// chunk; otherwise chunk members are fetched concurrently one symbol
// at a time. A provider-specific delay separates consecutive chunks of
// the same provider.
func (r *Registry) GetBatchPrices(ctx context.Context, symbols []string, currency string) map[string]marketdata.AssetPrice {
	remaining := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		sym := marketdata.NormalizeSymbol(s)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		remaining = append(remaining, sym)
	}

	resolved := make(map[string]marketdata.AssetPrice, len(remaining))
	var resolvedMu sync.Mutex

	for _, p := range r.enabled() {
		if len(remaining) == 0 {
			break
		}
		d := p.Descriptor()
		bq, batchCapable := p.(provider.BatchQuoter)
		chunks := chunkStrings(remaining, d.BatchSize)
		for i, chunk := range chunks {
			if batchCapable {
				// One upstream call covers the whole chunk.
				prices, err := bq.GetBatchPrices(ctx, chunk, currency)
				if err != nil {
					r.recordError(p.Name(), strings.Join(chunk, ","), err)
				}
				for sym, price := range prices {
					if price != nil {
						resolved[sym] = *price
					}
				}
			} else {
				g, gctx := errgroup.WithContext(ctx)
				for _, sym := range chunk {
					sym := sym
					g.Go(func() error {
						price, err := p.GetCurrentPrice(gctx, sym, currency)
						if err != nil {
							r.recordError(p.Name(), sym, err)
							return nil // keep the rest of the chunk going
						}
						if price != nil {
							resolvedMu.Lock()
							resolved[sym] = *price
							resolvedMu.Unlock()
						}
						return nil
					})
				}
				_ = g.Wait()
			}

			if i < len(chunks)-1 && d.BatchDelay > 0 {
				select {
				case <-ctx.Done():
					return resolved
				case <-time.After(d.BatchDelay):
				}
			}
		}

		unresolved := remaining[:0]
		for _, sym := range remaining {
			if _, ok := resolved[sym]; !ok {
				unresolved = append(unresolved, sym)
			}
		}
		remaining = unresolved
	}
	return resolved
}

// UpdateProviderConfig toggles a named provider and/or rotates its key,
// then re-sorts. The sort is stable, so this is a no-op unless
// priorities changed elsewhere.
func (r *Registry) UpdateProviderConfig(name string, enabled *bool, apiKey *string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		if p.Name() != name {
			continue
		}
		if apiKey != nil {
			p.UpdateAPIKey(*apiKey)
		}
		if enabled != nil {
			p.SetEnabled(*enabled)
		}
		r.resortLocked()
		r.log.Info().Str("provider", name).Msg("provider config updated")
		return true
	}
	r.log.Warn().Str("provider", name).Msg("config update for unknown provider")
	return false
}

// ProviderStatus reports every registered provider in priority order.
func (r *Registry) ProviderStatus() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.providers))
	for _, p := range r.providers {
		d := p.Descriptor()
		out = append(out, Status{Name: d.Name, Enabled: d.Enabled, Priority: d.Priority})
	}
	return out
}

func (r *Registry) recordError(providerName, symbol string, err error) {
	e := marketdata.Error{
		Provider: providerName,
		Symbol:   symbol,
		Message:  err.Error(),
		At:       time.Now().UTC(),
	}
	r.errMu.Lock()
	r.errs = append(r.errs, e)
	if len(r.errs) > errorBufferCap {
		r.errs = r.errs[len(r.errs)-errorBufferCap:]
	}
	r.errMu.Unlock()
	r.log.Warn().Str("provider", providerName).Str("symbol", symbol).Err(err).Msg("provider call failed")
}

// RecentErrors returns the newest n recorded failures, oldest first.
// n <= 0 uses the default of 20.
func (r *Registry) RecentErrors(n int) []marketdata.Error {
	if n <= 0 {
		n = defaultRecentCount
	}
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if n > len(r.errs) {
		n = len(r.errs)
	}
	out := make([]marketdata.Error, n)
	copy(out, r.errs[len(r.errs)-n:])
	return out
}

func chunkStrings(in []string, size int) [][]string {
	if size <= 0 || len(in) <= size {
		return [][]string{in}
	}
	out := make([][]string, 0, (len(in)+size-1)/size)
	for i := 0; i < len(in); i += size {
		j := i + size
		if j > len(in) {
			j = len(in)
		}
		out = append(out, in[i:j])
	}
	return out
}
