package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stocksync/internal/market"
	"stocksync/internal/trend"
)

func newTrendCmd(app *App) *cobra.Command {
	var (
		endYear   int
		endMonth  int
		frequency int
		columns   int
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Show the long-trend report",
		Long: `Trend ranks symbols by the sign pattern of their percent change over
sampled monthly closes. The score packs one bit per sample with the most
recent change in the highest bit, so recent winners sort first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}
			output := NewOutput(cmd)

			opts := trend.DefaultOptions(market.Now())
			if endYear > 0 {
				opts.EndYear = endYear
			}
			if endMonth > 0 {
				opts.EndMonth = time.Month(endMonth)
			}
			if frequency > 0 {
				opts.FrequencyMonths = frequency
			}
			if columns > 0 {
				opts.ColumnCount = columns
			}

			svc := trend.NewService(app.Store)
			table, err := svc.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			rows := table.Rows
			if limit > 0 && len(rows) > limit {
				rows = rows[:limit]
			}

			if output.IsJSON() {
				return output.JSON(rows)
			}

			headers := []string{"SYMBOL", "SCORE"}
			for _, d := range table.Dates {
				headers = append(headers, d.Format("2006-01"))
			}
			out := NewTable(output, headers...)
			for _, r := range rows {
				cells := []string{r.Symbol, fmt.Sprintf("%d", r.Score)}
				for _, c := range r.Changes {
					if c == nil {
						cells = append(cells, "-")
					} else {
						cells = append(cells, output.FormatPercent(*c))
					}
				}
				out.AddRow(cells...)
			}
			out.Render()
			output.Dim("%d symbols", len(rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&endYear, "end-year", 0, "last year to report (default: last month)")
	cmd.Flags().IntVar(&endMonth, "end-month", 0, "last month to report, 1-12")
	cmd.Flags().IntVar(&frequency, "frequency", 0, "months between samples (default 12)")
	cmd.Flags().IntVar(&columns, "columns", 0, "number of change columns (default 10)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to display, 0 for all")

	return cmd
}
