// Package alphavantage adapts the Alpha Vantage equities API.
package alphavantage

import (
	"net/http"
	"net/url"
	"sync"
)

const defaultBaseURL = "https://www.alphavantage.co"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIClient is a low-level client for the Alpha Vantage query API.
type APIClient struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// query contains parameters sent with every request (the api key).
	// Guarded by mu so key rotation is safe against in-flight requests.
	mu    sync.Mutex
	query url.Values
}

// APIClientOption is a configuration option for the client.
type APIClientOption func(*APIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) APIClientOption {
	return func(c *APIClient) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) APIClientOption {
	return func(c *APIClient) {
		c.httpClient = httpClient
	}
}

// NewAPIClient creates a new Alpha Vantage API client.
func NewAPIClient(key string, options ...APIClientOption) *APIClient {
	c := &APIClient{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		query:      url.Values{},
	}
	if key != "" {
		c.query.Set("apikey", key)
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// SetKey swaps the credential used for subsequent requests.
func (c *APIClient) SetKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == "" {
		c.query.Del("apikey")
		return
	}
	c.query.Set("apikey", key)
}

func (c *APIClient) queryClone() url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := make(url.Values, len(c.query))
	for k, vs := range c.query {
		clone[k] = append([]string(nil), vs...)
	}
	return clone
}
