// Package cache is the two-tier TTL key/value store used by the price
// resolution facade. Values are opaque JSON payloads; callers own
// re-hydrating timestamp fields on read.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClearUnsupported is returned by backends that cannot enumerate
// their keys. None of the built-in backends produce it: Memory walks
// its map and Redis SCANs by prefix. It exists for external Cache
// implementations backed by stores without key enumeration, such as a
// shared CDN or a read-through proxy. Callers treat it as a warning,
// not a failure; the facade logs it and reports the clear as done.
var ErrClearUnsupported = errors.New("cache: backend cannot enumerate keys")

// Cache is the single contract all tiers implement.
type Cache interface {
	// Get returns the stored payload and whether the key was present
	// and unexpired. Backend failures surface as errors and are treated
	// as misses by callers.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes all price/historical/search keys. Backends without
	// key enumeration return ErrClearUnsupported.
	Clear(ctx context.Context) error
	HealthCheck(ctx context.Context) Health
}

// Health reports the outcome of a write/read/delete probe.
type Health struct {
	Write  bool `json:"write"`
	Read   bool `json:"read"`
	Delete bool `json:"delete"`
}

func (h Health) OK() bool { return h.Write && h.Read && h.Delete }

// probe verifies a tier with a throwaway key so production keys are
// never touched.
func probe(ctx context.Context, c Cache) Health {
	var h Health
	key := "health:" + uuid.NewString()
	payload := []byte(`"ok"`)

	if err := c.Set(ctx, key, payload, 10*time.Second); err != nil {
		return h
	}
	h.Write = true
	if b, ok, err := c.Get(ctx, key); err == nil && ok && string(b) == string(payload) {
		h.Read = true
	}
	if err := c.Delete(ctx, key); err == nil {
		h.Delete = true
	}
	return h
}
