package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"stocksync/internal/config"
	"stocksync/internal/market"
	"stocksync/internal/models"
)

// Scheduler is the top-level control loop. Each tick it decides whether a
// refresh cycle is due based on market-close timing, runs the symbol refresh
// at most once per close event, and drains the price backlog incrementally
// across ticks.
type Scheduler struct {
	options func() config.Options
	symbols *SymbolSynchronizer
	prices  *PriceSynchronizer
	logger  zerolog.Logger

	// setRequestDelay pushes the current throttle setting into the history
	// client at each tick boundary. Optional.
	setRequestDelay func(time.Duration)

	httpClient *http.Client
	now        func() time.Time

	// Schedule state, touched only by the Run loop.
	lastClose  time.Time
	nextClose  time.Time
	canSymbols bool
	canPrices  bool
}

// NewScheduler creates a new scheduler. The options func is consulted at
// every tick so configuration changes apply without a restart.
func NewScheduler(options func() config.Options, symbols *SymbolSynchronizer, prices *PriceSynchronizer, setRequestDelay func(time.Duration), logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		options:         options,
		symbols:         symbols,
		prices:          prices,
		setRequestDelay: setRequestDelay,
		logger:          logger.With().Str("component", "scheduler").Logger(),
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		now:             market.Now,
	}
}

// Run executes the scheduler loop until the context is cancelled. Errors
// inside a tick are logged, never raised; a panic ends the loop cleanly.
func (s *Scheduler) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("scheduler loop panicked")
		}
		s.logger.Info().Msg("scheduler stopped")
	}()

	opts := s.options()
	if !sleep(ctx, time.Duration(opts.Sync.StartupDelaySeconds)*time.Second) {
		return
	}

	s.logger.Info().Msg("scheduler started")

	// Start from the most recent close so the first due check fires as soon
	// as the grace period after it has passed.
	freq := s.frequency(opts)
	s.lastClose = market.LastMarketClose(s.now(), freq)
	s.nextClose = s.lastClose

	for ctx.Err() == nil {
		s.tick(ctx)

		opts = s.options()
		delay := time.Duration(opts.Sync.TickDelayMinutes) * time.Minute
		if delay < time.Minute {
			delay = time.Minute
		}
		if !sleep(ctx, delay) {
			return
		}
	}
}

// tick runs one scheduler iteration.
func (s *Scheduler) tick(ctx context.Context) {
	opts := s.options()
	if s.setRequestDelay != nil {
		s.setRequestDelay(time.Duration(opts.Sync.RequestDelayMillis) * time.Millisecond)
	}

	freq := s.frequency(opts)
	now := s.now()
	grace := time.Duration(opts.Sync.GraceMinutes) * time.Minute

	if !now.Before(s.nextClose.Add(grace)) {
		s.lastClose = market.LastMarketClose(now, freq)
		s.nextClose = market.NextMarketClose(s.lastClose, freq)
		s.canSymbols = true
		s.canPrices = true
		s.logger.Info().
			Time("last_close", s.lastClose).
			Time("next_close", s.nextClose).
			Msg("refresh cycle due")
	}

	didWork := false

	if s.canSymbols {
		if err := s.symbols.RefreshSymbols(ctx, s.lastClose); err != nil {
			s.logger.Error().Err(err).Msg("symbol refresh failed")
		}
		s.canSymbols = false
		didWork = true
	}

	if s.canPrices {
		firstDate := models.Date(opts.Sync.FirstYear, time.January, 1)
		done, err := s.prices.Drain(ctx, freq, firstDate, s.lastClose, opts.Sync.BatchSize)
		if err != nil {
			s.logger.Error().Err(err).Msg("price drain failed")
		}
		s.canPrices = !done
		didWork = true
	}

	if didWork && opts.Sync.KeepAliveURL != "" {
		s.keepAlive(ctx, opts.Sync.KeepAliveURL)
	}

	s.logger.Debug().Msg("tick")
}

func (s *Scheduler) frequency(opts config.Options) models.Frequency {
	freq, err := models.ParseFrequency(opts.Sync.Frequency)
	if err != nil {
		s.logger.Warn().Err(err).Msg("falling back to monthly frequency")
		return models.FrequencyMonthly
	}
	return freq
}

// keepAlive pings the configured URL so a shared host keeps the process
// alive. Failures are logged, never raised.
func (s *Scheduler) keepAlive(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("keep-alive request invalid")
		return
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("keep-alive ping failed")
		return
	}
	resp.Body.Close()
	s.logger.Debug().Str("url", url).Msg("keep-alive pinged")
}

// sleep waits for d honoring cancellation. It reports false when the
// context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
