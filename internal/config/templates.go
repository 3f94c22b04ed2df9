package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# stocksync configuration

[sync]
# Minimum delay between price history requests in milliseconds
request_delay_ms = 250
# How often the scheduler wakes up, in minutes (minimum 1)
tick_delay_minutes = 1
# Extra minutes after a market close before a refresh cycle starts
grace_minutes = 30
# Delay before the first tick, in seconds
startup_delay_seconds = 5
# URL pinged after a tick that did work; leave blank to disable
keep_alive_url = ""
# First year of price history to fetch
first_year = 2010
# Maximum number of symbols refreshed per tick
batch_size = 128
# Exchanges whose symbols are tracked
exchanges = ["NASDAQ", "NYSE"]
# Price history frequency: daily, weekly, monthly, quarterly
frequency = "monthly"

[db]
# SQLite database path; defaults to the config directory
# path = "/var/lib/stocksync/stocksync.db"

[log]
# Log level: debug, info, warn, error
level = "info"
# Log to stdout
console = true
# Log to rotating file
file = true
# max_size_mb = 100
# max_backups = 7
# max_age_days = 30
`

func writeTemplate(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.WriteFile(path, []byte(configTemplate), 0644)
}
