package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// refreshTimeout bounds one full watchlist refresh, including every
// provider's inter-batch delays.
const refreshTimeout = 5 * time.Minute

// RefreshJob re-resolves the configured watchlist on a schedule.
type RefreshJob struct {
	svc *Service
	log zerolog.Logger
}

func NewRefreshJob(svc *Service, log zerolog.Logger) *RefreshJob {
	return &RefreshJob{
		svc: svc,
		log: log.With().Str("component", "refresh").Logger(),
	}
}

func (j *RefreshJob) Name() string { return "price-refresh" }

func (j *RefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	started := time.Now()
	resolved := j.svc.RefreshPrices(ctx, nil)
	j.log.Info().
		Int("resolved", resolved).
		Dur("took", time.Since(started)).
		Msg("Watchlist refresh finished")
	return nil
}
