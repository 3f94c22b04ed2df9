package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"stocksync/internal/models"
	"stocksync/internal/provider"
	"stocksync/internal/store"
)

const (
	// maxAuthAttempts bounds history fetch attempts per request when the
	// provider keeps reporting an expired session.
	maxAuthAttempts = 3

	// Not-found symbols are retried between 5 and 34 days later; the jitter
	// spreads re-checks so dead symbols do not all come due at once.
	notFoundRetryMinDays  = 5
	notFoundRetrySpanDays = 30
)

// PriceSynchronizer drains batches of stale symbols: it fetches price
// history per symbol, reconciles it against the persisted bars, and records
// per-symbol freshness. Fetches run strictly one at a time through a single
// worker so the provider's rate limit is honored.
type PriceSynchronizer struct {
	client provider.HistoryClient
	store  store.DataStore
	logger zerolog.Logger

	// terminal lists statuses that mark a symbol not-found instead of
	// being retried.
	terminal map[provider.Status]bool

	pending  atomic.Int64
	retryJit atomic.Int64
	now      func() time.Time
}

// NewPriceSynchronizer creates a new price synchronizer.
func NewPriceSynchronizer(client provider.HistoryClient, st store.DataStore, logger zerolog.Logger) *PriceSynchronizer {
	return &PriceSynchronizer{
		client: client,
		store:  st,
		logger: logger.With().Str("component", "prices").Logger(),
		terminal: map[provider.Status]bool{
			provider.StatusNotFound: true,
		},
		now: time.Now,
	}
}

// priceJob is one fetch-and-reconcile unit of work.
type priceJob struct {
	stock     models.Stock
	frequency models.Frequency
	firstDate time.Time
	lastDate  time.Time
}

// Drain selects up to batchSize symbols whose freshness for the frequency is
// missing or older than cutoff and processes them on a single background
// worker. It reports true when nothing was left to select ("caught up") and
// false otherwise. While a previous batch is still in flight Drain is a
// no-op returning false, so a batch is never enqueued twice.
func (s *PriceSynchronizer) Drain(ctx context.Context, freq models.Frequency, firstDate, cutoff time.Time, batchSize int) (bool, error) {
	if s.pending.Load() > 0 {
		return false, nil
	}

	stocks, err := s.store.SelectStaleStocks(ctx, store.StaleFilter{
		Frequency: freq,
		Cutoff:    cutoff,
		Now:       s.now(),
		Limit:     batchSize,
	})
	if err != nil {
		return false, fmt.Errorf("selecting stale stocks: %w", err)
	}
	if len(stocks) == 0 {
		return true, nil
	}

	jobs := make([]priceJob, 0, len(stocks))
	for _, st := range stocks {
		jobs = append(jobs, priceJob{
			stock:     st,
			frequency: freq,
			firstDate: firstDate,
			lastDate:  s.now(),
		})
	}

	s.pending.Store(int64(len(jobs)))
	s.logger.Info().
		Int("batch", len(jobs)).
		Str("frequency", string(freq)).
		Time("cutoff", cutoff).
		Msg("queuing price updates")

	go func() {
		for _, job := range jobs {
			s.runJob(ctx, job)
			s.pending.Add(-1)
		}
	}()

	return false, nil
}

// Pending returns the number of jobs not yet processed.
func (s *PriceSynchronizer) Pending() int {
	return int(s.pending.Load())
}

// Wait blocks until the current batch has drained or the context ends.
func (s *PriceSynchronizer) Wait(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// runJob updates the persisted prices of one symbol. Failures never
// propagate: one symbol's failure must not abort the batch.
func (s *PriceSynchronizer) runJob(ctx context.Context, job priceJob) {
	logger := s.logger.With().
		Str("symbol", job.stock.Symbol).
		Str("exchange", job.stock.Exchange).
		Str("frequency", string(job.frequency)).
		Time("first_date", job.firstDate).
		Time("last_date", job.lastDate).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("price update panicked")
		}
	}()

	if ctx.Err() != nil {
		return
	}

	result := s.fetchWithAuthRetry(ctx, job)

	switch {
	case result.Status == provider.StatusOK:
		if err := s.reconcile(ctx, job, result.Prices, logger); err != nil {
			logger.Error().Err(err).Msg("price reconciliation failed")
		}

	case s.terminal[result.Status]:
		retryAt := s.now().AddDate(0, 0, s.nextRetryDays())
		if err := s.store.MarkSymbolNotFound(ctx, job.stock.ID, job.frequency, retryAt, s.now()); err != nil {
			logger.Error().Err(err).Msg("failed to mark symbol not found")
			return
		}
		logger.Info().Time("retry_at", retryAt).Msg("symbol not found upstream")

	default:
		// Transient: the symbol stays stale and is retried next cycle.
		logger.Warn().
			Str("status", result.Status.String()).
			Str("detail", result.Detail).
			Msg("price fetch failed")
	}
}

// fetchWithAuthRetry calls the history client, refreshing the session and
// retrying when it reports an expired credential. Attempts are bounded; on
// exhaustion the result is a terminal error outcome.
func (s *PriceSynchronizer) fetchWithAuthRetry(ctx context.Context, job priceJob) provider.HistoryResult {
	var result provider.HistoryResult

	for attempt := 0; attempt < maxAuthAttempts; attempt++ {
		result = s.client.History(ctx, job.stock.Symbol, job.frequency.Interval(), job.firstDate, job.lastDate)
		if result.Status != provider.StatusUnauthorized {
			return result
		}
		if err := s.client.RefreshSession(ctx, job.stock.Symbol); err != nil {
			s.logger.Debug().Str("symbol", job.stock.Symbol).Err(err).Msg("session refresh failed")
		}
	}

	return provider.HistoryResult{
		Status: provider.StatusError,
		Detail: fmt.Sprintf("too many retries: %s", result.Detail),
	}
}

// nextRetryDays returns the 5 to 34 day spread for not-found retries.
func (s *PriceSynchronizer) nextRetryDays() int {
	n := s.retryJit.Add(1)
	return notFoundRetryMinDays + int(n%notFoundRetrySpanDays)
}

// reconcile applies the fetched history to the store as a three-way diff and
// records freshness. A success with zero rows still refreshes the symbol.
func (s *PriceSynchronizer) reconcile(ctx context.Context, job priceJob, prices []provider.Price, logger zerolog.Logger) error {
	fetched := make(map[string]models.StockPrice)
	for _, p := range collapseDates(prices) {
		bar, ok := adjustPrice(job.stock.ID, job.frequency, p)
		if !ok {
			logger.Warn().Time("date", p.Date).Msg("skipping bar with zero close")
			continue
		}
		fetched[bar.Date.Format(models.DateLayout)] = bar
	}

	existing, err := s.store.GetPrices(ctx, job.stock.ID, job.frequency)
	if err != nil {
		return fmt.Errorf("loading prices: %w", err)
	}
	existingByDate := make(map[string]models.StockPrice, len(existing))
	for _, p := range existing {
		existingByDate[p.Date.Format(models.DateLayout)] = p
	}

	inserts, updates, deleteKeys := diffMaps(existingByDate, fetched, models.StockPrice.SameValues)

	deletes := make([]time.Time, 0, len(deleteKeys))
	for _, key := range deleteKeys {
		deletes = append(deletes, existingByDate[key].Date)
	}

	logger.Info().
		Int("inserts", len(inserts)).
		Int("updates", len(updates)).
		Int("deletes", len(deletes)).
		Msg("reconciling prices")

	err = s.store.ApplyPriceChanges(ctx, job.stock.ID, job.frequency, store.PriceChanges{
		Inserts: inserts,
		Updates: updates,
		Deletes: deletes,
	})
	if err != nil {
		return fmt.Errorf("applying price changes: %w", err)
	}

	return s.store.RecordPriceUpdate(ctx, job.stock.ID, job.frequency, s.now())
}

// collapseDates removes duplicate dates from a fetch, keeping the row with
// the highest volume.
func collapseDates(prices []provider.Price) []provider.Price {
	byDate := make(map[string]provider.Price, len(prices))
	for _, p := range prices {
		key := p.Date.Format(models.DateLayout)
		if best, ok := byDate[key]; !ok || p.Volume > best.Volume {
			byDate[key] = p
		}
	}

	out := make([]provider.Price, 0, len(byDate))
	for _, p := range byDate {
		out = append(out, p)
	}
	return out
}

// adjustPrice back-adjusts a raw bar for splits and dividends. The close
// becomes the provider's adjusted close and open, high and low are scaled by
// the same ratio so the bar stays internally consistent.
func adjustPrice(stockID int64, freq models.Frequency, p provider.Price) (models.StockPrice, bool) {
	if p.Close == 0 {
		return models.StockPrice{}, false
	}

	adjust := 1 + (p.AdjClose-p.Close)/p.Close
	return models.StockPrice{
		StockID:   stockID,
		Frequency: freq,
		Date:      p.Date,
		Open:      p.Open * adjust,
		High:      p.High * adjust,
		Low:       p.Low * adjust,
		Close:     p.AdjClose,
		Volume:    p.Volume,
	}, true
}
