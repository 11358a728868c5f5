package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// promoteTTL bounds how long a value read from the shared tier lives in
// the fast tier. The shared tier does not report remaining TTL, so the
// promotion is deliberately short-lived.
const promoteTTL = 60 * time.Second

// Tiered puts a fast in-process tier in front of a shared tier.
// Reads fall through and promote; writes go through to both. Shared-tier
// failures are logged and otherwise ignored: the fast tier alone keeps
// the service correct, just less warm across instances.
type Tiered struct {
	fast   Cache
	shared Cache
	log    zerolog.Logger
}

func NewTiered(fast, shared Cache, log zerolog.Logger) *Tiered {
	return &Tiered{fast: fast, shared: shared, log: log.With().Str("component", "tiered-cache").Logger()}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if b, ok, err := t.fast.Get(ctx, key); err == nil && ok {
		return b, true, nil
	}
	b, ok, err := t.shared.Get(ctx, key)
	if err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("shared tier read failed; treating as miss")
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	if err := t.fast.Set(ctx, key, b, promoteTTL); err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("fast tier promotion failed")
	}
	return b, true, nil
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.fast.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := t.shared.Set(ctx, key, value, ttl); err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("shared tier write failed")
	}
	return nil
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	if err := t.fast.Delete(ctx, key); err != nil {
		return err
	}
	if err := t.shared.Delete(ctx, key); err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("shared tier delete failed")
	}
	return nil
}

// Clear clears both tiers. If the shared tier cannot enumerate its keys
// the error is passed up so the caller can log the degraded semantics.
func (t *Tiered) Clear(ctx context.Context) error {
	if err := t.fast.Clear(ctx); err != nil && !errors.Is(err, ErrClearUnsupported) {
		return err
	}
	return t.shared.Clear(ctx)
}

// HealthCheck probes the shared tier: the in-process map cannot
// meaningfully fail, the network hop can.
func (t *Tiered) HealthCheck(ctx context.Context) Health {
	return t.shared.HealthCheck(ctx)
}
