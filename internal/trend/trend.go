// Package trend builds the long-trend report: for each symbol, the percent
// change of the monthly close sampled at a fixed month interval, plus a score
// that bit-packs the sign of each sample with the most recent change in the
// highest bit.
package trend

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stocksync/internal/market"
	"stocksync/internal/models"
	"stocksync/internal/store"
)

// Options controls the shape of the report.
type Options struct {
	EndYear         int // last year to report
	EndMonth        time.Month
	FrequencyMonths int // months between samples
	ColumnCount     int // number of change columns
}

// DefaultOptions reports yearly changes over ten years, ending at the month
// before now in exchange time.
func DefaultOptions(now time.Time) Options {
	end := now.In(market.ExchangeLocation).AddDate(0, -1, 0)
	return Options{
		EndYear:         end.Year(),
		EndMonth:        end.Month(),
		FrequencyMonths: 12,
		ColumnCount:     10,
	}
}

// Row is one symbol's trend line. Changes holds the percent change per sample
// date, most recent first; a nil entry means no close was recorded for that
// date. FirstClose is the oldest close in the window.
type Row struct {
	Symbol     string
	Changes    []*float64
	FirstClose float64
	Score      int
}

// Table is the report: sample dates (most recent first) and one row per
// symbol, sorted by score descending.
type Table struct {
	Dates []time.Time
	Rows  []Row
}

// CloseReader is the store subset the report needs.
type CloseReader interface {
	MonthlyCloses(ctx context.Context, dates []time.Time) ([]store.TrendClose, error)
}

// Service builds trend tables from stored monthly prices.
type Service struct {
	reader CloseReader
}

// NewService creates a trend service backed by the given reader.
func NewService(reader CloseReader) *Service {
	return &Service{reader: reader}
}

// List builds the trend table for the given options. Symbols whose oldest
// close in the window is 10 or below are dropped as too thin to rank.
func (s *Service) List(ctx context.Context, opts Options) (Table, error) {
	if opts.ColumnCount < 1 || opts.FrequencyMonths < 1 {
		return Table{}, fmt.Errorf("invalid trend options: columns=%d frequency=%d", opts.ColumnCount, opts.FrequencyMonths)
	}

	end := models.Date(opts.EndYear, opts.EndMonth, 1)

	// One extra sample past the oldest column anchors the first change.
	dates := make([]time.Time, 0, opts.ColumnCount+1)
	for i := 0; i <= opts.ColumnCount; i++ {
		dates = append(dates, end.AddDate(0, -i*opts.FrequencyMonths, 0))
	}

	// Samples arrive ordered by symbol then date ascending, so each symbol's
	// first sample is its oldest close.
	closes, err := s.reader.MonthlyCloses(ctx, dates)
	if err != nil {
		return Table{}, fmt.Errorf("failed to load trend closes: %w", err)
	}

	var (
		rows       []Row
		current    string
		changes    []*float64
		firstClose float64
		lastClose  float64
		valid      bool
	)

	flush := func() {
		if current != "" && valid {
			rows = append(rows, Row{
				Symbol:     current,
				Changes:    changes,
				FirstClose: firstClose,
				Score:      score(changes),
			})
		}
	}

	for _, c := range closes {
		if c.Symbol != current {
			flush()
			current = c.Symbol
			valid = c.Close > 10
			if valid {
				firstClose = c.Close
				changes = make([]*float64, opts.ColumnCount)
			}
		} else if valid {
			idx := monthsBetween(c.Date, end) / opts.FrequencyMonths
			if idx >= 0 && idx < len(changes) {
				pct := (c.Close - lastClose) / c.Close
				changes[idx] = &pct
			}
		}
		lastClose = c.Close
	}
	flush()

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Score > rows[j].Score })

	return Table{Dates: dates[:opts.ColumnCount], Rows: rows}, nil
}

// score packs the sign of each recorded change into an int, most recent
// change in the highest bit. Missing samples contribute no bit.
func score(changes []*float64) int {
	n := 0
	for _, c := range changes {
		if c != nil {
			n <<= 1
			if *c >= 0 {
				n++
			}
		}
	}
	return n
}

// monthsBetween counts whole calendar months from first to last, ignoring
// the day of month.
func monthsBetween(first, last time.Time) int {
	return (last.Year()-first.Year())*12 + int(last.Month()-first.Month())
}
