// Package market computes market-close instants for the exchange time zone.
package market

import (
	"time"

	"stocksync/internal/models"
)

// ExchangeLocation is the time zone of the exchanges being tracked.
var ExchangeLocation *time.Location

func init() {
	var err error
	ExchangeLocation, err = time.LoadLocation("America/New_York")
	if err != nil {
		// Fallback to fixed EST offset
		ExchangeLocation = time.FixedZone("EST", -5*60*60)
	}
}

// closeHour is the wall-clock hour after which a period's data is final.
const closeHour = 20

// Now returns the current time in the exchange time zone.
func Now() time.Time {
	return time.Now().In(ExchangeLocation)
}

// LastMarketClose returns the most recent close instant on or before now for
// the given frequency. The result is in the exchange time zone.
func LastMarketClose(now time.Time, freq models.Frequency) time.Time {
	now = now.In(ExchangeLocation)

	switch freq {
	case models.FrequencyMonthly:
		close := monthClose(now.Year(), now.Month())
		if now.Before(close) {
			close = monthClose(now.Year(), now.Month()-1)
		}
		return close

	case models.FrequencyWeekly:
		// Friday at the close hour.
		close := dayClose(now)
		offset := (int(close.Weekday()) - int(time.Friday) + 7) % 7
		close = close.AddDate(0, 0, -offset)
		if now.Before(close) {
			close = close.AddDate(0, 0, -7)
		}
		return close

	default:
		close := dayClose(now)
		if now.Before(close) {
			close = close.AddDate(0, 0, -1)
		}
		return close
	}
}

// NextMarketClose advances a close instant by one period of the frequency.
func NextMarketClose(last time.Time, freq models.Frequency) time.Time {
	last = last.In(ExchangeLocation)

	switch freq {
	case models.FrequencyMonthly:
		return monthClose(last.Year(), last.Month()+1)
	case models.FrequencyWeekly:
		return last.AddDate(0, 0, 7)
	default:
		return last.AddDate(0, 0, 1)
	}
}

// monthClose is the close instant of the last calendar day of a month.
// time.Date normalizes day 0 of the next month to that last day, which
// handles 28 to 31 day months.
func monthClose(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, closeHour, 0, 0, 0, ExchangeLocation)
}

// dayClose is the close instant on the same calendar day as t.
func dayClose(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), closeHour, 0, 0, 0, ExchangeLocation)
}
