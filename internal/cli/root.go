// Package cli provides the command-line interface for the sync engine.
package cli

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"stocksync/internal/config"
	"stocksync/internal/provider"
	"stocksync/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    store.DataStore
	History  *provider.YahooClient
	Universe *provider.TiingoClient
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	opts := cfg.Current()

	// Initialize SQLite store
	dataStore, err := store.NewSQLiteStore(opts.DB.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", opts.DB.Path).Msg("SQLite store initialized")
	}

	app.History = provider.NewYahooClient(provider.YahooConfig{
		RequestDelay: time.Duration(opts.Sync.RequestDelayMillis) * time.Millisecond,
	}, logger)
	app.Universe = provider.NewTiingoClient(provider.TiingoConfig{}, logger)

	rootCmd := &cobra.Command{
		Use:   "stocksync",
		Short: "Stock market data synchronizer",
		Long: `Stocksync keeps a local database of stock symbols and historical
prices in step with the upstream market data providers.

The symbol universe is mirrored from Tiingo and price history is pulled
from Yahoo Finance after each market close. Run 'stocksync run' to start
the background scheduler, or drive the individual steps by hand with
'stocksync symbols' and 'stocksync prices'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/stocksync)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newSymbolsCmd(app))
	rootCmd.AddCommand(newPricesCmd(app))
	rootCmd.AddCommand(newTrendCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("stocksync v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			opts := app.Config.Current()
			if output.IsJSON() {
				return output.JSON(opts)
			}
			showConfig(output, opts)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Current().Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, opts config.Options) {
	output.Bold("Sync Configuration")
	output.Printf("  Frequency:       %s\n", opts.Sync.Frequency)
	output.Printf("  Exchanges:       %v\n", opts.Sync.Exchanges)
	output.Printf("  First Year:      %d\n", opts.Sync.FirstYear)
	output.Printf("  Batch Size:      %d\n", opts.Sync.BatchSize)
	output.Printf("  Request Delay:   %d ms\n", opts.Sync.RequestDelayMillis)
	output.Printf("  Tick Delay:      %d min\n", opts.Sync.TickDelayMinutes)
	output.Printf("  Grace Period:    %d min\n", opts.Sync.GraceMinutes)
	output.Printf("  Startup Delay:   %d s\n", opts.Sync.StartupDelaySeconds)
	if opts.Sync.KeepAliveURL != "" {
		output.Printf("  Keep-Alive URL:  %s\n", opts.Sync.KeepAliveURL)
	}
	output.Println()

	output.Bold("Database")
	output.Printf("  Path:            %s\n", opts.DB.Path)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", opts.Log.Level)
	output.Printf("  Console:         %v\n", opts.Log.Console)
	output.Printf("  File:            %v\n", opts.Log.File)
	output.Printf("  File Path:       %s\n", opts.Log.FilePath)
}
