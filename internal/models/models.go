// Package models defines the core data types shared across the application.
package models

import (
	"fmt"
	"time"
)

// Frequency represents the sampling frequency of stock price data.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
)

// ParseFrequency converts a string into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly:
		return Frequency(s), nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// Interval returns the provider interval string for the frequency.
func (f Frequency) Interval() string {
	switch f {
	case FrequencyDaily:
		return "1d"
	case FrequencyWeekly:
		return "1wk"
	case FrequencyMonthly:
		return "1mo"
	case FrequencyQuarterly:
		return "3mo"
	}
	return "1d"
}

// Stock is a persisted stock symbol.
// Unique per (Exchange, Symbol).
type Stock struct {
	ID             int64
	Symbol         string
	Name           string
	Exchange       string
	AssetType      string
	SymbolNotFound bool
	NotFoundRetry  *time.Time // earliest time a not-found symbol is retried
	ToBeDeleted    bool
}

// StockPrice is a persisted price bar, adjusted for splits and dividends.
// Unique per (StockID, Frequency, Date).
type StockPrice struct {
	StockID   int64
	Frequency Frequency
	Date      time.Time // date only, UTC midnight
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// SameValues reports whether the OHLCV fields of two bars are equal.
func (p StockPrice) SameValues(o StockPrice) bool {
	return p.Open == o.Open &&
		p.High == o.High &&
		p.Low == o.Low &&
		p.Close == o.Close &&
		p.Volume == o.Volume
}

// PriceFreshness records the last successful price update for a stock at a
// frequency. Unique per (StockID, Frequency).
type PriceFreshness struct {
	StockID   int64
	Frequency Frequency
	UpdatedAt time.Time
}

// SupportedTicker mirrors one row of the provider's symbol universe.
// Unique per (Ticker, Exchange, StartDate).
type SupportedTicker struct {
	Ticker        string
	Exchange      string
	AssetType     string
	PriceCurrency string
	StartDate     *time.Time
	EndDate       *time.Time
	DateAdded     time.Time
	DateUpdated   time.Time
}

// TickerKey is the identity key of a SupportedTicker row.
type TickerKey struct {
	Ticker    string
	Exchange  string
	StartDate string // date only, empty when unknown
}

// Key returns the identity key of the ticker row.
func (t SupportedTicker) Key() TickerKey {
	k := TickerKey{Ticker: t.Ticker, Exchange: t.Exchange}
	if t.StartDate != nil {
		k.StartDate = t.StartDate.Format(DateLayout)
	}
	return k
}

// SameValues reports whether the non-key fields of two ticker rows are equal.
func (t SupportedTicker) SameValues(o SupportedTicker) bool {
	return t.AssetType == o.AssetType &&
		t.PriceCurrency == o.PriceCurrency &&
		equalDate(t.EndDate, o.EndDate)
}

func equalDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// DateLayout is the canonical date-only format used in the store and by the
// providers.
const DateLayout = "2006-01-02"

// Date builds a date-only time at UTC midnight.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
