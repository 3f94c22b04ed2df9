package engine

import (
	"context"
	"sync"
	"time"

	"stocksync/internal/models"
	"stocksync/internal/provider"
	"stocksync/internal/store"
)

// fakeStore is an in-memory DataStore recording every write for assertions.
type fakeStore struct {
	mu sync.Mutex

	stocks   []models.Stock
	inserted [][]models.Stock

	stale   []models.Stock
	selects int

	prices       map[int64]map[string]models.StockPrice
	priceChanges []store.PriceChanges
	freshness    map[int64]time.Time
	notFound     map[int64]time.Time

	tickers       []models.SupportedTicker
	latest        time.Time
	tickerChanges []store.TickerChanges
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		prices:    make(map[int64]map[string]models.StockPrice),
		freshness: make(map[int64]time.Time),
		notFound:  make(map[int64]time.Time),
	}
}

func (f *fakeStore) GetStocks(ctx context.Context) ([]models.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Stock(nil), f.stocks...), nil
}

func (f *fakeStore) InsertStocks(ctx context.Context, stocks []models.Stock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, stocks)
	f.stocks = append(f.stocks, stocks...)
	return nil
}

func (f *fakeStore) SelectStaleStocks(ctx context.Context, filter store.StaleFilter) ([]models.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selects++
	if filter.Limit < len(f.stale) {
		return append([]models.Stock(nil), f.stale[:filter.Limit]...), nil
	}
	return append([]models.Stock(nil), f.stale...), nil
}

func (f *fakeStore) GetPrices(ctx context.Context, stockID int64, freq models.Frequency) ([]models.StockPrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StockPrice
	for _, p := range f.prices[stockID] {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) ApplyPriceChanges(ctx context.Context, stockID int64, freq models.Frequency, changes store.PriceChanges) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceChanges = append(f.priceChanges, changes)

	bars := f.prices[stockID]
	if bars == nil {
		bars = make(map[string]models.StockPrice)
		f.prices[stockID] = bars
	}
	for _, d := range changes.Deletes {
		delete(bars, d.Format(models.DateLayout))
	}
	for _, p := range changes.Updates {
		bars[p.Date.Format(models.DateLayout)] = p
	}
	for _, p := range changes.Inserts {
		bars[p.Date.Format(models.DateLayout)] = p
	}
	return nil
}

func (f *fakeStore) RecordPriceUpdate(ctx context.Context, stockID int64, freq models.Frequency, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freshness[stockID] = at
	return nil
}

func (f *fakeStore) MarkSymbolNotFound(ctx context.Context, stockID int64, freq models.Frequency, retryAt, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notFound[stockID] = retryAt
	f.freshness[stockID] = at
	return nil
}

func (f *fakeStore) GetSupportedTickers(ctx context.Context) ([]models.SupportedTicker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SupportedTicker(nil), f.tickers...), nil
}

func (f *fakeStore) LatestTickerUpdate(ctx context.Context) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeStore) ApplyTickerChanges(ctx context.Context, changes store.TickerChanges) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickerChanges = append(f.tickerChanges, changes)
	return nil
}

func (f *fakeStore) MonthlyCloses(ctx context.Context, dates []time.Time) ([]store.TrendClose, error) {
	return nil, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeUniverse serves a canned ticker list.
type fakeUniverse struct {
	mu      sync.Mutex
	records []provider.UniverseRecord
	err     error
	calls   int
}

func (f *fakeUniverse) SupportedTickers(ctx context.Context) ([]provider.UniverseRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

// fakeHistory serves scripted history results in order; the last result
// repeats once the script runs out.
type fakeHistory struct {
	mu        sync.Mutex
	results   []provider.HistoryResult
	calls     int
	refreshes int
}

func (f *fakeHistory) History(ctx context.Context, symbol, interval string, first, last time.Time) provider.HistoryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]
}

func (f *fakeHistory) RefreshSession(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeHistory) stats() (calls, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.refreshes
}
