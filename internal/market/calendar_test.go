package market

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"stocksync/internal/models"
)

func et(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, ExchangeLocation)
}

func TestLastMarketCloseMonthly(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "mid month falls back to previous month end",
			now:  et(2024, time.March, 15, 12),
			want: et(2024, time.February, 29, 20),
		},
		{
			name: "before close on last day still previous month",
			now:  et(2024, time.March, 31, 19),
			want: et(2024, time.February, 29, 20),
		},
		{
			name: "at close on last day",
			now:  et(2024, time.March, 31, 20),
			want: et(2024, time.March, 31, 20),
		},
		{
			name: "after close on last day",
			now:  et(2024, time.March, 31, 21),
			want: et(2024, time.March, 31, 20),
		},
		{
			name: "january falls back to december of previous year",
			now:  et(2024, time.January, 10, 9),
			want: et(2023, time.December, 31, 20),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LastMarketClose(tt.now, models.FrequencyMonthly)
			if !got.Equal(tt.want) {
				t.Errorf("LastMarketClose(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestLastMarketCloseWeekly(t *testing.T) {
	// 2024-06-14 is a Friday.
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "monday falls back to previous friday",
			now:  et(2024, time.June, 10, 12),
			want: et(2024, time.June, 7, 20),
		},
		{
			name: "friday before close falls back a week",
			now:  et(2024, time.June, 14, 19),
			want: et(2024, time.June, 7, 20),
		},
		{
			name: "friday after close",
			now:  et(2024, time.June, 14, 21),
			want: et(2024, time.June, 14, 20),
		},
		{
			name: "saturday keeps friday close",
			now:  et(2024, time.June, 15, 10),
			want: et(2024, time.June, 14, 20),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LastMarketClose(tt.now, models.FrequencyWeekly)
			if !got.Equal(tt.want) {
				t.Errorf("LastMarketClose(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestLastMarketCloseDaily(t *testing.T) {
	before := et(2024, time.June, 12, 19)
	if got, want := LastMarketClose(before, models.FrequencyDaily), et(2024, time.June, 11, 20); !got.Equal(want) {
		t.Errorf("LastMarketClose before close = %v, want %v", got, want)
	}

	after := et(2024, time.June, 12, 20)
	if got, want := LastMarketClose(after, models.FrequencyDaily), et(2024, time.June, 12, 20); !got.Equal(want) {
		t.Errorf("LastMarketClose at close = %v, want %v", got, want)
	}
}

func TestNextMarketCloseMonthly(t *testing.T) {
	tests := []struct {
		name string
		last time.Time
		want time.Time
	}{
		{
			name: "february to march",
			last: et(2024, time.February, 29, 20),
			want: et(2024, time.March, 31, 20),
		},
		{
			name: "december rolls to january",
			last: et(2023, time.December, 31, 20),
			want: et(2024, time.January, 31, 20),
		},
		{
			name: "30 day month to 31 day month",
			last: et(2024, time.April, 30, 20),
			want: et(2024, time.May, 31, 20),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextMarketClose(tt.last, models.FrequencyMonthly)
			if !got.Equal(tt.want) {
				t.Errorf("NextMarketClose(%v) = %v, want %v", tt.last, got, tt.want)
			}
		})
	}
}

// Property: for any instant, the last close is never after it, the next close
// is strictly after it, and asking again at the close instant itself returns
// the same close.
func TestProperty_MarketCloseOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	freqGen := gen.OneConstOf(models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly)
	instantGen := gen.Int64Range(
		et(2010, time.January, 1, 0).Unix(),
		et(2030, time.December, 31, 0).Unix(),
	)

	properties.Property("last close is on or before now, next close is after", prop.ForAll(
		func(unix int64, freq models.Frequency) bool {
			now := time.Unix(unix, 0).In(ExchangeLocation)

			last := LastMarketClose(now, freq)
			if now.Before(last) {
				t.Logf("last close %v is after now %v", last, now)
				return false
			}

			next := NextMarketClose(last, freq)
			if !next.After(now) {
				t.Logf("next close %v is not after now %v", next, now)
				return false
			}

			return true
		},
		instantGen,
		freqGen,
	))

	properties.Property("last close is a fixed point", prop.ForAll(
		func(unix int64, freq models.Frequency) bool {
			now := time.Unix(unix, 0).In(ExchangeLocation)
			last := LastMarketClose(now, freq)
			return LastMarketClose(last, freq).Equal(last)
		},
		instantGen,
		freqGen,
	))

	properties.TestingRun(t)
}
