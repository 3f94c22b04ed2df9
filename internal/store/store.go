// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"stocksync/internal/models"
)

// StaleFilter selects stocks whose price data is due for a refresh.
type StaleFilter struct {
	Frequency models.Frequency
	// Cutoff is the freshness threshold: stocks whose freshness record is
	// missing or older than this are stale.
	Cutoff time.Time
	// Now gates not-found retry dates: stocks whose retry date is after
	// this instant are excluded.
	Now time.Time
	// Limit bounds the batch size.
	Limit int
}

// PriceChanges is the result of a three-way diff for one stock and
// frequency, applied in a single transaction.
type PriceChanges struct {
	Inserts []models.StockPrice
	Updates []models.StockPrice
	Deletes []time.Time // dates to remove
}

// TickerChanges is the result of a three-way diff of the universe mirror,
// applied in a single transaction.
type TickerChanges struct {
	Inserts []models.SupportedTicker
	Updates []models.SupportedTicker
	Deletes []models.TickerKey
}

// Empty reports whether the change set writes nothing.
func (c PriceChanges) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// Empty reports whether the change set writes nothing.
func (c TickerChanges) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && len(c.Deletes) == 0
}

// TrendClose is one monthly close sample used by the long-trend report.
// Symbols listed on more than one exchange are averaged per date.
type TrendClose struct {
	Symbol string
	Date   time.Time
	Close  float64
}

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Stocks
	GetStocks(ctx context.Context) ([]models.Stock, error)
	InsertStocks(ctx context.Context, stocks []models.Stock) error
	SelectStaleStocks(ctx context.Context, filter StaleFilter) ([]models.Stock, error)

	// Prices
	GetPrices(ctx context.Context, stockID int64, freq models.Frequency) ([]models.StockPrice, error)
	ApplyPriceChanges(ctx context.Context, stockID int64, freq models.Frequency, changes PriceChanges) error

	// Freshness and symbol lifecycle
	RecordPriceUpdate(ctx context.Context, stockID int64, freq models.Frequency, at time.Time) error
	MarkSymbolNotFound(ctx context.Context, stockID int64, freq models.Frequency, retryAt, at time.Time) error

	// Universe mirror
	GetSupportedTickers(ctx context.Context) ([]models.SupportedTicker, error)
	LatestTickerUpdate(ctx context.Context) (time.Time, error)
	ApplyTickerChanges(ctx context.Context, changes TickerChanges) error

	// Read side
	MonthlyCloses(ctx context.Context, dates []time.Time) ([]TrendClose, error)

	Close() error
}
