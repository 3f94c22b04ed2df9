package trend

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"stocksync/internal/models"
	"stocksync/internal/store"
)

type fakeReader struct {
	closes []store.TrendClose
	dates  []time.Time
}

func (f *fakeReader) MonthlyCloses(ctx context.Context, dates []time.Time) ([]store.TrendClose, error) {
	f.dates = dates

	// Serve only requested dates, ordered by symbol then date ascending like
	// the store does.
	requested := make(map[string]bool, len(dates))
	for _, d := range dates {
		requested[d.Format(models.DateLayout)] = true
	}
	var out []store.TrendClose
	for _, c := range f.closes {
		if requested[c.Date.Format(models.DateLayout)] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func closesFor(symbol string, byDate map[string]float64) []store.TrendClose {
	var out []store.TrendClose
	for date, close := range byDate {
		d, _ := time.ParseInLocation(models.DateLayout, date, time.UTC)
		out = append(out, store.TrendClose{Symbol: symbol, Date: d, Close: close})
	}
	return out
}

func TestListBuildsWindowAndChanges(t *testing.T) {
	reader := &fakeReader{closes: closesFor("AAA", map[string]float64{
		"2022-06-01": 100, // anchor, oldest
		"2023-06-01": 200,
		"2024-06-01": 150,
	})}

	table, err := NewService(reader).List(context.Background(), Options{
		EndYear:         2024,
		EndMonth:        time.June,
		FrequencyMonths: 12,
		ColumnCount:     2,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	// Three sample dates requested: the two columns plus the anchor.
	if len(reader.dates) != 3 {
		t.Fatalf("requested %d dates, want 3", len(reader.dates))
	}
	if !reader.dates[0].Equal(models.Date(2024, time.June, 1)) || !reader.dates[2].Equal(models.Date(2022, time.June, 1)) {
		t.Errorf("sample dates = %v", reader.dates)
	}

	if len(table.Dates) != 2 {
		t.Fatalf("table has %d header dates, want 2", len(table.Dates))
	}
	if len(table.Rows) != 1 {
		t.Fatalf("table has %d rows, want 1", len(table.Rows))
	}

	row := table.Rows[0]
	if row.Symbol != "AAA" || row.FirstClose != 100 {
		t.Errorf("row = %+v", row)
	}

	// Most recent change first: (150-200)/150, then (200-100)/200.
	if row.Changes[0] == nil || math.Abs(*row.Changes[0]-(150-200)/150.0) > 1e-9 {
		t.Errorf("recent change = %v", row.Changes[0])
	}
	if row.Changes[1] == nil || math.Abs(*row.Changes[1]-(200-100)/200.0) > 1e-9 {
		t.Errorf("older change = %v", row.Changes[1])
	}

	// Down then up packs to 0b01.
	if row.Score != 1 {
		t.Errorf("score = %d, want 1", row.Score)
	}
}

func TestListDropsThinSymbolsAndSortsByScore(t *testing.T) {
	closes := closesFor("UP", map[string]float64{
		"2022-06-01": 50,
		"2023-06-01": 60,
		"2024-06-01": 70,
	})
	closes = append(closes, closesFor("DOWN", map[string]float64{
		"2022-06-01": 90,
		"2023-06-01": 80,
		"2024-06-01": 70,
	})...)
	// Oldest close at or below 10 disqualifies the symbol.
	closes = append(closes, closesFor("PENNY", map[string]float64{
		"2022-06-01": 9,
		"2023-06-01": 90,
		"2024-06-01": 95,
	})...)

	table, err := NewService(&fakeReader{closes: closes}).List(context.Background(), Options{
		EndYear:         2024,
		EndMonth:        time.June,
		FrequencyMonths: 12,
		ColumnCount:     2,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(table.Rows) != 2 {
		t.Fatalf("table has %d rows, want 2 with PENNY dropped: %+v", len(table.Rows), table.Rows)
	}
	if table.Rows[0].Symbol != "UP" || table.Rows[1].Symbol != "DOWN" {
		t.Errorf("rows sorted %s, %s; want UP first", table.Rows[0].Symbol, table.Rows[1].Symbol)
	}
	if table.Rows[0].Score != 3 || table.Rows[1].Score != 0 {
		t.Errorf("scores = %d, %d; want 3 and 0", table.Rows[0].Score, table.Rows[1].Score)
	}
}

func TestListMissingSampleLeavesGap(t *testing.T) {
	table, err := NewService(&fakeReader{closes: closesFor("AAA", map[string]float64{
		"2022-06-01": 100,
		"2024-06-01": 150, // 2023 sample missing
	})}).List(context.Background(), Options{
		EndYear:         2024,
		EndMonth:        time.June,
		FrequencyMonths: 12,
		ColumnCount:     2,
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	row := table.Rows[0]
	if row.Changes[1] != nil {
		t.Errorf("missing sample should leave a nil gap, got %v", *row.Changes[1])
	}
	if row.Changes[0] == nil {
		t.Error("recorded sample should produce a change")
	}
}

func TestListRejectsInvalidOptions(t *testing.T) {
	if _, err := NewService(&fakeReader{}).List(context.Background(), Options{ColumnCount: 0, FrequencyMonths: 12}); err == nil {
		t.Error("zero columns must be rejected")
	}
}
