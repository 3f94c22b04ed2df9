package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"stocksync/internal/engine"
	"stocksync/internal/market"
	"stocksync/internal/models"
)

func newSymbolsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Symbol universe management",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Refresh the symbol universe from the provider",
		Long: `Refresh downloads the supported ticker list, adds new symbols for the
configured exchanges and reconciles the local mirror. The refresh is
skipped when the mirror is already newer than the last market close.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}
			output := NewOutput(cmd)

			opts := app.Config.Current()
			freq, err := models.ParseFrequency(opts.Sync.Frequency)
			if err != nil {
				return err
			}
			cutoff := market.LastMarketClose(market.Now(), freq)

			symbols := engine.NewSymbolSynchronizer(app.Universe, app.Store, opts.Sync.Exchanges, app.Logger)
			if err := symbols.RefreshSymbols(cmd.Context(), cutoff); err != nil {
				return err
			}

			stocks, err := app.Store.GetStocks(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"stocks": len(stocks)})
			}
			output.Success("✓ Symbol universe refreshed, %d stocks tracked", len(stocks))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked stocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}
			output := NewOutput(cmd)

			stocks, err := app.Store.GetStocks(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(stocks)
			}

			table := NewTable(output, "SYMBOL", "EXCHANGE", "NAME", "STATUS")
			for _, s := range stocks {
				status := "ok"
				if s.SymbolNotFound {
					status = output.Red("not found")
				}
				table.AddRow(s.Symbol, s.Exchange, s.Name, status)
			}
			table.Render()
			output.Dim("%d stocks", len(stocks))
			return nil
		},
	})

	return cmd
}

func newPricesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Price history management",
	}

	drain := &cobra.Command{
		Use:   "drain",
		Short: "Update stale price history until caught up",
		Long: `Drain selects stocks whose price history is older than the last market
close and refreshes them batch by batch until none are stale. Respects
the configured request throttle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}
			output := NewOutput(cmd)

			opts := app.Config.Current()
			freq, err := models.ParseFrequency(opts.Sync.Frequency)
			if err != nil {
				return err
			}
			firstDate := models.Date(opts.Sync.FirstYear, 1, 1)
			cutoff := market.LastMarketClose(market.Now(), freq)

			prices := engine.NewPriceSynchronizer(app.History, app.Store, app.Logger)

			ctx := cmd.Context()
			batches := 0
			for {
				done, err := prices.Drain(ctx, freq, firstDate, cutoff, opts.Sync.BatchSize)
				if err != nil {
					return err
				}
				if done {
					break
				}
				batches++
				if err := prices.Wait(ctx); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{"batches": batches})
			}
			output.Success("✓ Price history up to date (%d batches)", batches)
			return nil
		},
	}
	cmd.AddCommand(drain)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <symbol>",
		Short: "Show stored price history for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}
			output := NewOutput(cmd)

			opts := app.Config.Current()
			freq, err := models.ParseFrequency(opts.Sync.Frequency)
			if err != nil {
				return err
			}

			stock, err := findStock(cmd, app, args[0])
			if err != nil {
				return err
			}

			prices, err := app.Store.GetPrices(cmd.Context(), stock.ID, freq)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(prices)
			}

			table := NewTable(output, "DATE", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME")
			for _, p := range prices {
				table.AddRow(
					p.Date.Format(models.DateLayout),
					fmt.Sprintf("%.2f", p.Open),
					fmt.Sprintf("%.2f", p.High),
					fmt.Sprintf("%.2f", p.Low),
					fmt.Sprintf("%.2f", p.Close),
					fmt.Sprintf("%d", p.Volume),
				)
			}
			table.Render()
			return nil
		},
	})

	return cmd
}

func findStock(cmd *cobra.Command, app *App, symbol string) (models.Stock, error) {
	stocks, err := app.Store.GetStocks(cmd.Context())
	if err != nil {
		return models.Stock{}, err
	}
	for _, s := range stocks {
		if s.Symbol == symbol {
			return s, nil
		}
	}
	return models.Stock{}, fmt.Errorf("unknown symbol %q", symbol)
}
