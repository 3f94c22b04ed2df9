package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"stocksync/internal/models"
	"stocksync/internal/provider"
	"stocksync/internal/store"
)

// listingCutoffDays excludes symbols whose listing ended more than this many
// days ago.
const listingCutoffDays = 7

// SymbolSynchronizer reconciles the fetched symbol universe into the
// persisted symbol table and the universe mirror.
type SymbolSynchronizer struct {
	universe  provider.UniverseLister
	store     store.DataStore
	logger    zerolog.Logger
	exchanges map[string]bool
	now       func() time.Time
}

// NewSymbolSynchronizer creates a new symbol synchronizer tracking the given
// exchanges.
func NewSymbolSynchronizer(universe provider.UniverseLister, st store.DataStore, exchanges []string, logger zerolog.Logger) *SymbolSynchronizer {
	allowed := make(map[string]bool, len(exchanges))
	for _, e := range exchanges {
		allowed[e] = true
	}

	return &SymbolSynchronizer{
		universe:  universe,
		store:     st,
		logger:    logger.With().Str("component", "symbols").Logger(),
		exchanges: allowed,
		now:       time.Now,
	}
}

// RefreshSymbols fetches the symbol universe and reconciles it into the
// store. It is a no-op when the mirror was already updated after the cutoff,
// so the refresh runs at most once per market close. A failed universe fetch
// is logged and deferred to the next cycle, not raised.
func (s *SymbolSynchronizer) RefreshSymbols(ctx context.Context, cutoff time.Time) error {
	latest, err := s.store.LatestTickerUpdate(ctx)
	if err != nil {
		return fmt.Errorf("checking universe mirror: %w", err)
	}
	if latest.After(cutoff) {
		s.logger.Info().Time("last_update", latest).Msg("skipping symbol refresh, mirror is current")
		return nil
	}

	records, err := s.universe.SupportedTickers(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("universe fetch failed, retrying next cycle")
		return nil
	}

	if err := s.updateStocks(ctx, records); err != nil {
		return err
	}
	return s.updateMirror(ctx, records)
}

type stockKey struct {
	Symbol   string
	Exchange string
}

// updateStocks inserts symbols seen in the universe that are not yet in the
// stock table. Existing rows are never modified here.
func (s *SymbolSynchronizer) updateStocks(ctx context.Context, records []provider.UniverseRecord) error {
	existing, err := s.store.GetStocks(ctx)
	if err != nil {
		return fmt.Errorf("loading stocks: %w", err)
	}

	present := make(map[stockKey]bool, len(existing))
	for _, st := range existing {
		present[stockKey{Symbol: st.Symbol, Exchange: st.Exchange}] = true
	}

	cutoff := s.now().AddDate(0, 0, -listingCutoffDays)

	// Collapse upstream duplicates by key, first occurrence wins.
	candidates := make(map[stockKey]provider.UniverseRecord)
	var order []stockKey
	for _, rec := range records {
		if !s.isCandidate(rec, cutoff) {
			continue
		}
		key := stockKey{
			Symbol:   strings.ToUpper(strings.TrimSpace(rec.Ticker)),
			Exchange: strings.TrimSpace(rec.Exchange),
		}
		if present[key] {
			continue
		}
		if _, ok := candidates[key]; !ok {
			candidates[key] = rec
			order = append(order, key)
		}
	}

	newStocks := make([]models.Stock, 0, len(order))
	for _, key := range order {
		newStocks = append(newStocks, models.Stock{
			Symbol:    key.Symbol,
			Name:      key.Symbol,
			Exchange:  key.Exchange,
			AssetType: candidates[key].AssetType,
		})
	}

	s.logger.Info().Int("count", len(newStocks)).Msg("adding stock symbols")
	return s.store.InsertStocks(ctx, newStocks)
}

// isCandidate applies the universe filters: non-empty all-letter ticker on
// an allowed exchange, with a known listing range whose end is recent.
func (s *SymbolSynchronizer) isCandidate(rec provider.UniverseRecord, cutoff time.Time) bool {
	ticker := strings.TrimSpace(rec.Ticker)
	if ticker == "" {
		return false
	}
	for _, r := range ticker {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	if !s.exchanges[rec.Exchange] {
		return false
	}
	if rec.StartDate == nil || rec.EndDate == nil {
		return false
	}
	return rec.EndDate.After(cutoff)
}

// updateMirror reconciles the full universe mirror with a three-way diff,
// regardless of whether any new stock rows were added.
func (s *SymbolSynchronizer) updateMirror(ctx context.Context, records []provider.UniverseRecord) error {
	existing, err := s.store.GetSupportedTickers(ctx)
	if err != nil {
		return fmt.Errorf("loading universe mirror: %w", err)
	}

	existingByKey := make(map[models.TickerKey]models.SupportedTicker, len(existing))
	for _, t := range existing {
		existingByKey[t.Key()] = t
	}

	now := s.now()

	// Collapse upstream duplicate keys, first occurrence wins.
	fetchedByKey := make(map[models.TickerKey]models.SupportedTicker, len(records))
	for _, rec := range records {
		t := models.SupportedTicker{
			Ticker:        rec.Ticker,
			Exchange:      rec.Exchange,
			AssetType:     rec.AssetType,
			PriceCurrency: rec.PriceCurrency,
			StartDate:     rec.StartDate,
			EndDate:       rec.EndDate,
			DateAdded:     now,
			DateUpdated:   now,
		}
		if _, ok := fetchedByKey[t.Key()]; !ok {
			fetchedByKey[t.Key()] = t
		}
	}

	inserts, updates, deletes := diffMaps(existingByKey, fetchedByKey, models.SupportedTicker.SameValues)

	s.logger.Info().
		Int("inserts", len(inserts)).
		Int("updates", len(updates)).
		Int("deletes", len(deletes)).
		Msg("reconciling universe mirror")

	return s.store.ApplyTickerChanges(ctx, store.TickerChanges{
		Inserts: inserts,
		Updates: updates,
		Deletes: deletes,
	})
}
