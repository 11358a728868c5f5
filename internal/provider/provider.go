// Package provider defines the contract every upstream market-data
// adapter implements.
package provider

import (
	"context"
	"time"

	"marketdata/internal/marketdata"
)

// Descriptor is the runtime view of a provider's configuration.
// Lower Priority means the provider is tried first.
type Descriptor struct {
	Name        string        `json:"name"`
	Priority    int           `json:"priority"`
	Enabled     bool          `json:"enabled"`
	KeyRequired bool          `json:"key_required"`
	MinInterval time.Duration `json:"min_interval"`
	// Batch tuning used by the registry's batch path.
	BatchSize  int           `json:"batch_size"`
	BatchDelay time.Duration `json:"batch_delay"`
}

// Provider is one upstream price API.
//
// All methods fail soft toward the registry: a network error, non-2xx
// status or malformed payload comes back as an error; an unknown symbol
// comes back as (nil, nil) or an empty slice. Implementations apply
// their rate gate before any network call and never panic.
type Provider interface {
	Name() string
	Descriptor() Descriptor

	GetCurrentPrice(ctx context.Context, symbol, currency string) (*marketdata.AssetPrice, error)
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, currency string) ([]marketdata.HistoricalPricePoint, error)
	SearchAssets(ctx context.Context, query string) ([]marketdata.AssetSearchResult, error)

	// UpdateAPIKey rotates the credential. Providers that require a key
	// also flip Enabled to (key != ""); free-tier providers stay enabled.
	UpdateAPIKey(key string)
	SetEnabled(enabled bool)
}

// BatchQuoter is implemented by providers whose upstream accepts
// multi-symbol quote requests, so one call can resolve a whole chunk.
// Unknown symbols are absent from the result, not errors. The registry
// prefers this path over per-symbol fan-out when available.
type BatchQuoter interface {
	GetBatchPrices(ctx context.Context, symbols []string, currency string) (map[string]*marketdata.AssetPrice, error)
}
