package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// GlobalQuote is the parsed GLOBAL_QUOTE payload.
type GlobalQuote struct {
	Symbol        string
	Price         *float64
	Change        *float64
	ChangePercent *float64
	Volume        *int64
}

// DailyBar is one row of a TIME_SERIES_DAILY payload.
type DailyBar struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume *int64
}

// SymbolMatch is one row of a SYMBOL_SEARCH payload.
type SymbolMatch struct {
	Symbol   string
	Name     string
	Type     string
	Region   string
	Currency string
}

// GetGlobalQuote fetches the current quote for one symbol. A payload
// without a price (unknown symbol, throttle notice) returns (nil, nil).
func (c *APIClient) GetGlobalQuote(ctx context.Context, symbol string) (*GlobalQuote, error) {
	body, err := c.get(ctx, url.Values{
		"function": []string{"GLOBAL_QUOTE"},
		"symbol":   []string{symbol},
	})
	if err != nil {
		return nil, err
	}

	// Alpha Vantage reports throttling inside a 200 response.
	if note := firstString(body, "Note", "Information", "Error Message"); note != "" && body["Global Quote"] == nil {
		return nil, fmt.Errorf("upstream notice: %s", truncate(note, 120))
	}

	quote, ok := body["Global Quote"].(map[string]any)
	if !ok || len(quote) == 0 {
		return nil, nil
	}
	price := parseFloatField(quote, "05. price")
	if price == nil {
		return nil, nil
	}
	return &GlobalQuote{
		Symbol:        stringField(quote, "01. symbol"),
		Price:         price,
		Change:        parseFloatField(quote, "09. change"),
		ChangePercent: parsePercentField(quote, "10. change percent"),
		Volume:        parseIntField(quote, "06. volume"),
	}, nil
}

// GetDailySeries fetches the daily OHLC series, newest first upstream;
// rows are returned unsorted and unfiltered.
func (c *APIClient) GetDailySeries(ctx context.Context, symbol string) ([]DailyBar, error) {
	body, err := c.get(ctx, url.Values{
		"function":   []string{"TIME_SERIES_DAILY"},
		"symbol":     []string{symbol},
		"outputsize": []string{"full"},
	})
	if err != nil {
		return nil, err
	}
	series, ok := body["Time Series (Daily)"].(map[string]any)
	if !ok {
		if note := firstString(body, "Note", "Information", "Error Message"); note != "" {
			return nil, fmt.Errorf("upstream notice: %s", truncate(note, 120))
		}
		return nil, nil
	}

	bars := make([]DailyBar, 0, len(series))
	for date, raw := range series {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		open := parseFloatField(row, "1. open")
		high := parseFloatField(row, "2. high")
		low := parseFloatField(row, "3. low")
		cls := parseFloatField(row, "4. close")
		if open == nil || high == nil || low == nil || cls == nil {
			continue
		}
		bars = append(bars, DailyBar{
			Date:   date,
			Open:   *open,
			High:   *high,
			Low:    *low,
			Close:  *cls,
			Volume: parseIntField(row, "5. volume"),
		})
	}
	return bars, nil
}

// SearchSymbols runs a keyword search.
func (c *APIClient) SearchSymbols(ctx context.Context, keywords string) ([]SymbolMatch, error) {
	body, err := c.get(ctx, url.Values{
		"function": []string{"SYMBOL_SEARCH"},
		"keywords": []string{keywords},
	})
	if err != nil {
		return nil, err
	}
	rawMatches, ok := body["bestMatches"].([]any)
	if !ok {
		return nil, nil
	}
	matches := make([]SymbolMatch, 0, len(rawMatches))
	for _, raw := range rawMatches {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		sym := stringField(row, "1. symbol")
		if sym == "" {
			continue
		}
		matches = append(matches, SymbolMatch{
			Symbol:   sym,
			Name:     stringField(row, "2. name"),
			Type:     stringField(row, "3. type"),
			Region:   stringField(row, "4. region"),
			Currency: stringField(row, "8. currency"),
		})
	}
	return matches, nil
}

func (c *APIClient) get(ctx context.Context, params url.Values) (map[string]any, error) {
	query := c.queryClone()
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	u := fmt.Sprintf("%s/query?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited")
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("unauthorized")
	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, fmt.Errorf("unexpected status code %d: %s", res.StatusCode, string(b))
	}

	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return body, nil
}

// The payload is stringly typed ("05. price": "150.2500"); a missing
// or malformed field reads as nil, not a crash.

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func parseFloatField(m map[string]any, key string) *float64 {
	s := stringField(m, key)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parsePercentField(m map[string]any, key string) *float64 {
	s := strings.TrimSuffix(stringField(m, key), "%")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseIntField(m map[string]any, key string) *int64 {
	s := stringField(m, key)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
