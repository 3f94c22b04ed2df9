// Command stocksync keeps a local stock market database in sync with the
// upstream data providers.
package main

import (
	"fmt"
	"os"

	"stocksync/internal/cli"
	"stocksync/internal/config"
	"stocksync/internal/logging"
)

func main() {
	configDir := ""
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			configDir = os.Args[i+1]
		}
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	opts := cfg.Current()
	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:      opts.Log.Level,
		Console:    opts.Log.Console,
		File:       opts.Log.File,
		FilePath:   opts.Log.FilePath,
		MaxSize:    opts.Log.MaxSizeMB,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAgeDays,
	})

	rootCmd := cli.NewRootCmd(cfg, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
