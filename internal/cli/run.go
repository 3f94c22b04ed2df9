package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stocksync/internal/engine"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the background update scheduler",
		Long: `Run starts the background scheduler. It wakes once a minute, checks
whether a market close has passed, refreshes the symbol universe once per
close and drains stale price history in batches until the database is
caught up. The loop runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store is not available")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app.Config.Watch(app.Logger)

			symbols := engine.NewSymbolSynchronizer(app.Universe, app.Store, app.Config.Current().Sync.Exchanges, app.Logger)
			prices := engine.NewPriceSynchronizer(app.History, app.Store, app.Logger)

			scheduler := engine.NewScheduler(
				app.Config.Current,
				symbols,
				prices,
				func(d time.Duration) { app.History.SetRequestDelay(d) },
				app.Logger,
			)

			app.Logger.Info().Msg("starting scheduler, press Ctrl+C to stop")
			scheduler.Run(ctx)
			return nil
		},
	}
}
