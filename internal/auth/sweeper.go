package auth

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is used when a Sweeper has no interval set.
const DefaultSweepInterval = time.Hour

// Sweeper periodically drops expired entries from a Registry.
type Sweeper struct {
	Registry Registry
	Interval time.Duration
	Logger   zerolog.Logger

	now func() time.Time
}

// NewSweeper returns a sweeper for registry.
func NewSweeper(registry Registry, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		Registry: registry,
		Interval: interval,
		Logger:   logger.With().Str("component", "sweeper").Logger(),
		now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled. A failed pass is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Logger.Info().Dur("interval", interval).Msg("registry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.Logger.Info().Msg("registry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Error().Err(err).Msg("registry sweep failed")
			}
		}
	}
}

// SweepOnce runs a single pass and returns the number of removed entries.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	start := now()
	removed, err := s.Registry.SweepExpired(ctx, start)
	if err != nil {
		return removed, err
	}
	s.Logger.Debug().
		Int("removed", removed).
		Dur("took", now().Sub(start)).
		Msg("registry sweep complete")
	return removed, nil
}
