// Package marketdata holds the normalized domain types shared by the
// providers, the registry, the cache and the resolution facade.
package marketdata

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass tags a search result with the kind of instrument it refers to.
type AssetClass string

const (
	ClassEquity AssetClass = "equity"
	ClassCrypto AssetClass = "crypto"
	ClassETF    AssetClass = "etf"
	ClassFund   AssetClass = "fund"
)

// AssetPrice is the normalized current-price shape returned by all providers.
// Price is never negative; LastUpdated is always set by whoever produced the
// value (a provider or the cache), never by the caller.
type AssetPrice struct {
	Symbol           string           `json:"symbol"`
	Price            decimal.Decimal  `json:"price"`
	Currency         string           `json:"currency"`
	Change24h        *decimal.Decimal `json:"change_24h,omitempty"`
	ChangePercent24h *decimal.Decimal `json:"change_percent_24h,omitempty"`
	Volume           *int64           `json:"volume,omitempty"`
	MarketCap        *decimal.Decimal `json:"market_cap,omitempty"`
	Source           string           `json:"source"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// HistoricalPricePoint is one calendar day of OHLC data.
// Provider-sourced points satisfy low <= open,close <= high.
type HistoricalPricePoint struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"` // "2006-01-02"
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume *int64          `json:"volume,omitempty"`
}

// AssetSearchResult is a single hit from an asset search.
// Identity for de-duplication is the (Symbol, Class) pair.
type AssetSearchResult struct {
	Symbol   string     `json:"symbol"`
	Name     string     `json:"name"`
	Class    AssetClass `json:"class"`
	Exchange string     `json:"exchange,omitempty"`
	Currency string     `json:"currency,omitempty"`
}

// Error is a recorded provider failure, kept in the registry's bounded
// buffer for observability. Never persisted.
type Error struct {
	Provider string    `json:"provider"`
	Symbol   string    `json:"symbol"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// NormalizeSymbol canonicalizes a ticker for cache keys and lookups.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// DateFormat is the calendar-day form used by HistoricalPricePoint.Date.
const DateFormat = "2006-01-02"
