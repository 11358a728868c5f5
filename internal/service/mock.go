package service

import (
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/marketdata"
)

// mockSource labels synthetic values so a UI can flag them. Callers
// rely on the exact string.
const mockSource = "Mock Data"

// cryptoBases seeds plausible magnitudes for well-known coins; every
// other symbol gets an equity-range base derived from its hash.
var cryptoBases = map[string]float64{
	"BTC":   43000,
	"ETH":   2600,
	"SOL":   95,
	"XRP":   0.55,
	"ADA":   0.45,
	"DOGE":  0.08,
	"DOT":   6.5,
	"LTC":   70,
	"LINK":  14,
	"MATIC": 0.85,
}

func mockSeed(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}

func mockBase(symbol string, rng *rand.Rand) float64 {
	if base, ok := cryptoBases[symbol]; ok {
		return base
	}
	// Equities and funds land between 20 and 520.
	return 20 + rng.Float64()*500
}

// mockPrice synthesizes a deterministic current price: same symbol,
// same value, always positive.
func mockPrice(symbol, currency string) *marketdata.AssetPrice {
	rng := rand.New(rand.NewSource(mockSeed(symbol)))
	base := mockBase(symbol, rng)

	// Short bounded walk around the base so values look lived-in
	// rather than round.
	price := base
	for i := 0; i < 16; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.02
	}
	if price < base*0.5 {
		price = base * 0.5
	}
	if price > base*1.5 {
		price = base * 1.5
	}

	changePct := (rng.Float64() - 0.5) * 8 // within ±4%
	change := price * changePct / 100
	volume := int64(100_000 + rng.Intn(5_000_000))

	changeDec := decimal.NewFromFloat(change).Round(4)
	changePctDec := decimal.NewFromFloat(changePct).Round(2)
	return &marketdata.AssetPrice{
		Symbol:           symbol,
		Price:            decimal.NewFromFloat(price).Round(4),
		Currency:         currency,
		Change24h:        &changeDec,
		ChangePercent24h: &changePctDec,
		Volume:           &volume,
		Source:           mockSource,
		LastUpdated:      time.Now().UTC(),
	}
}

// mockHistorical synthesizes a daily OHLC walk over [start, end].
// Rows satisfy low <= open,close <= high.
func mockHistorical(symbol string, start, end time.Time) []marketdata.HistoricalPricePoint {
	if end.Before(start) {
		return nil
	}
	rng := rand.New(rand.NewSource(mockSeed(symbol)))
	price := mockBase(symbol, rng)

	var points []marketdata.HistoricalPricePoint
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		open := price
		close := open * (1 + (rng.Float64()-0.5)*0.04)
		high := open
		if close > high {
			high = close
		}
		high *= 1 + rng.Float64()*0.01
		low := open
		if close < low {
			low = close
		}
		low *= 1 - rng.Float64()*0.01
		volume := int64(50_000 + rng.Intn(2_000_000))

		points = append(points, marketdata.HistoricalPricePoint{
			Symbol: symbol,
			Date:   day.Format(marketdata.DateFormat),
			Open:   decimal.NewFromFloat(open).Round(4),
			High:   decimal.NewFromFloat(high).Round(4),
			Low:    decimal.NewFromFloat(low).Round(4),
			Close:  decimal.NewFromFloat(close).Round(4),
			Volume: &volume,
		})
		price = close
	}
	return points
}
