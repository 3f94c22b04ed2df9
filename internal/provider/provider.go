// Package provider implements clients for the external market-data sources:
// a symbol-universe feed and a per-symbol price history feed.
package provider

import (
	"context"
	"time"
)

// Status classifies the outcome of a price history request. The caller's
// retry policy branches on it.
type Status int

const (
	// StatusOK means the request succeeded, possibly with zero rows.
	StatusOK Status = iota
	// StatusNotFound means the provider does not know the symbol.
	StatusNotFound
	// StatusUnauthorized means the session credential is missing or expired.
	StatusUnauthorized
	// StatusError covers every other failure.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusUnauthorized:
		return "unauthorized"
	default:
		return "error"
	}
}

// Price is one raw history row. Close is the unadjusted close; AdjClose is
// the provider's split and dividend adjusted close.
type Price struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   int64
}

// HistoryResult is the outcome of a price history request.
type HistoryResult struct {
	Status Status
	Prices []Price
	Detail string
}

// UniverseRecord is one raw row of the provider's supported-symbol universe.
type UniverseRecord struct {
	Ticker        string
	Exchange      string
	AssetType     string
	PriceCurrency string
	StartDate     *time.Time
	EndDate       *time.Time
}

// UniverseLister fetches the full supported-symbol universe.
type UniverseLister interface {
	SupportedTickers(ctx context.Context) ([]UniverseRecord, error)
}

// HistoryClient fetches price history for one symbol. The client holds a
// session credential; when a request reports StatusUnauthorized the caller
// is expected to call RefreshSession and retry.
type HistoryClient interface {
	History(ctx context.Context, symbol, interval string, first, last time.Time) HistoryResult
	RefreshSession(ctx context.Context, symbol string) error
}
