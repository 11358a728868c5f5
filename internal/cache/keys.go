package cache

import (
	"strings"

	"marketdata/internal/marketdata"
)

// Key namespaces. The exact formats are an interop requirement: any
// persisted cache written by one deployment must be readable by another.
const (
	prefixPrice      = "price:"
	prefixHistorical = "historical:"
	prefixSearch     = "search:"
)

// DefaultCurrency is omitted from price keys so the common case stays
// short.
const DefaultCurrency = "USD"

// PriceKey builds "price:<SYMBOL>" or "price:<SYMBOL>:<CURRENCY>".
func PriceKey(symbol, currency string) string {
	sym := marketdata.NormalizeSymbol(symbol)
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" || cur == DefaultCurrency {
		return prefixPrice + sym
	}
	return prefixPrice + sym + ":" + cur
}

// HistoricalKey builds "historical:<SYMBOL>:<interval>:<range>".
func HistoricalKey(symbol, interval, dateRange string) string {
	return prefixHistorical + marketdata.NormalizeSymbol(symbol) + ":" + interval + ":" + dateRange
}

// SearchKey builds "search:<query>" with the query lowercased and all
// non-alphanumeric characters stripped.
func SearchKey(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, r := range strings.ToLower(query) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return prefixSearch + b.String()
}

// ownedPrefixes lists the namespaces Clear is allowed to wipe.
func ownedPrefixes() []string {
	return []string{prefixPrice, prefixHistorical, prefixSearch}
}
