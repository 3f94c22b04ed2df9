package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stocksync/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Tracked stock symbols
	CREATE TABLE IF NOT EXISTS stocks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL,
		exchange TEXT NOT NULL,
		asset_type TEXT,
		symbol_not_found INTEGER NOT NULL DEFAULT 0,
		not_found_retry_at DATETIME,
		to_be_deleted INTEGER NOT NULL DEFAULT 0,
		UNIQUE(exchange, symbol)
	);

	-- Adjusted OHLCV bars
	CREATE TABLE IF NOT EXISTS stock_prices (
		stock_id INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		date TEXT NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		PRIMARY KEY (stock_id, frequency, date),
		FOREIGN KEY (stock_id) REFERENCES stocks(id)
	);

	-- Last successful-or-terminal price update per stock and frequency
	CREATE TABLE IF NOT EXISTS price_freshness (
		stock_id INTEGER NOT NULL,
		frequency TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (stock_id, frequency),
		FOREIGN KEY (stock_id) REFERENCES stocks(id)
	);

	-- Mirror of the provider's supported-symbol universe
	CREATE TABLE IF NOT EXISTS supported_tickers (
		ticker TEXT NOT NULL,
		exchange TEXT NOT NULL,
		start_date TEXT NOT NULL DEFAULT '',
		asset_type TEXT,
		price_currency TEXT,
		end_date TEXT,
		date_added DATETIME NOT NULL,
		date_updated DATETIME NOT NULL,
		PRIMARY KEY (ticker, exchange, start_date)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_prices_date ON stock_prices(frequency, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Stocks
// ============================================================================

// GetStocks returns all persisted stocks.
func (s *SQLiteStore) GetStocks(ctx context.Context) ([]models.Stock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, name, exchange, asset_type, symbol_not_found, not_found_retry_at, to_be_deleted
		FROM stocks
		ORDER BY symbol, exchange
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}
	defer rows.Close()

	return scanStocks(rows)
}

// InsertStocks inserts new stock rows in a single transaction.
func (s *SQLiteStore) InsertStocks(ctx context.Context, stocks []models.Stock) error {
	if len(stocks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stocks (symbol, name, exchange, asset_type)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, st := range stocks {
		if _, err := stmt.ExecContext(ctx, st.Symbol, st.Name, st.Exchange, st.AssetType); err != nil {
			return fmt.Errorf("failed to insert stock %s/%s: %w", st.Exchange, st.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SelectStaleStocks returns up to filter.Limit stocks whose freshness record
// for the frequency is missing or older than the cutoff, excluding stocks
// flagged for deletion and not-found stocks whose retry date has not passed.
// Ordered by symbol for deterministic batching.
func (s *SQLiteStore) SelectStaleStocks(ctx context.Context, filter StaleFilter) ([]models.Stock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.symbol, s.name, s.exchange, s.asset_type, s.symbol_not_found, s.not_found_retry_at, s.to_be_deleted
		FROM stocks s
		LEFT JOIN price_freshness f ON f.stock_id = s.id AND f.frequency = ?
		WHERE s.to_be_deleted = 0
		  AND (f.updated_at IS NULL OR f.updated_at < ?)
		  AND (s.not_found_retry_at IS NULL OR s.not_found_retry_at <= ?)
		ORDER BY s.symbol, s.exchange
		LIMIT ?
	`, string(filter.Frequency), filter.Cutoff, filter.Now, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale stocks: %w", err)
	}
	defer rows.Close()

	return scanStocks(rows)
}

func scanStocks(rows *sql.Rows) ([]models.Stock, error) {
	var stocks []models.Stock
	for rows.Next() {
		var st models.Stock
		var assetType sql.NullString
		var retryAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.Symbol, &st.Name, &st.Exchange, &assetType, &st.SymbolNotFound, &retryAt, &st.ToBeDeleted); err != nil {
			return nil, fmt.Errorf("failed to scan stock: %w", err)
		}
		st.AssetType = assetType.String
		if retryAt.Valid {
			t := retryAt.Time
			st.NotFoundRetry = &t
		}
		stocks = append(stocks, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}
	return stocks, nil
}

// ============================================================================
// Prices
// ============================================================================

// GetPrices returns the persisted bars for one stock and frequency.
func (s *SQLiteStore) GetPrices(ctx context.Context, stockID int64, freq models.Frequency) ([]models.StockPrice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stock_id, date, open, high, low, close, volume
		FROM stock_prices
		WHERE stock_id = ? AND frequency = ?
		ORDER BY date ASC
	`, stockID, string(freq))
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var prices []models.StockPrice
	for rows.Next() {
		var p models.StockPrice
		var date string
		if err := rows.Scan(&p.StockID, &date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		p.Frequency = freq
		p.Date, err = time.ParseInLocation(models.DateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad price date %q: %w", date, err)
		}
		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prices: %w", err)
	}
	return prices, nil
}

// ApplyPriceChanges applies a three-way diff for one stock and frequency in
// a single transaction.
func (s *SQLiteStore) ApplyPriceChanges(ctx context.Context, stockID int64, freq models.Frequency, changes PriceChanges) error {
	if changes.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, date := range changes.Deletes {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM stock_prices WHERE stock_id = ? AND frequency = ? AND date = ?
		`, stockID, string(freq), date.Format(models.DateLayout))
		if err != nil {
			return fmt.Errorf("failed to delete price: %w", err)
		}
	}

	for _, p := range changes.Updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE stock_prices SET open = ?, high = ?, low = ?, close = ?, volume = ?
			WHERE stock_id = ? AND frequency = ? AND date = ?
		`, p.Open, p.High, p.Low, p.Close, p.Volume, stockID, string(freq), p.Date.Format(models.DateLayout))
		if err != nil {
			return fmt.Errorf("failed to update price: %w", err)
		}
	}

	if len(changes.Inserts) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stock_prices (stock_id, frequency, date, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range changes.Inserts {
			_, err := stmt.ExecContext(ctx, stockID, string(freq), p.Date.Format(models.DateLayout), p.Open, p.High, p.Low, p.Close, p.Volume)
			if err != nil {
				return fmt.Errorf("failed to insert price: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ============================================================================
// Freshness and symbol lifecycle
// ============================================================================

// RecordPriceUpdate sets the freshness record for a stock and frequency and
// clears any not-found marking, in one transaction.
func (s *SQLiteStore) RecordPriceUpdate(ctx context.Context, stockID int64, freq models.Frequency, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertFreshness(ctx, tx, stockID, freq, at); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE stocks SET symbol_not_found = 0, not_found_retry_at = NULL WHERE id = ?
	`, stockID)
	if err != nil {
		return fmt.Errorf("failed to clear not-found flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkSymbolNotFound flags a stock as missing upstream with a future retry
// date. The freshness record is still set: not-found is a terminal outcome
// for this cycle.
func (s *SQLiteStore) MarkSymbolNotFound(ctx context.Context, stockID int64, freq models.Frequency, retryAt, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE stocks SET symbol_not_found = 1, not_found_retry_at = ? WHERE id = ?
	`, retryAt, stockID)
	if err != nil {
		return fmt.Errorf("failed to mark symbol not found: %w", err)
	}

	if err := upsertFreshness(ctx, tx, stockID, freq, at); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func upsertFreshness(ctx context.Context, tx *sql.Tx, stockID int64, freq models.Frequency, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO price_freshness (stock_id, frequency, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(stock_id, frequency) DO UPDATE SET updated_at = excluded.updated_at
	`, stockID, string(freq), at)
	if err != nil {
		return fmt.Errorf("failed to upsert freshness: %w", err)
	}
	return nil
}

// ============================================================================
// Universe mirror
// ============================================================================

// GetSupportedTickers returns the full universe mirror.
func (s *SQLiteStore) GetSupportedTickers(ctx context.Context) ([]models.SupportedTicker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ticker, exchange, start_date, asset_type, price_currency, end_date, date_added, date_updated
		FROM supported_tickers
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query supported tickers: %w", err)
	}
	defer rows.Close()

	var tickers []models.SupportedTicker
	for rows.Next() {
		var t models.SupportedTicker
		var startDate string
		var assetType, priceCurrency, endDate sql.NullString
		if err := rows.Scan(&t.Ticker, &t.Exchange, &startDate, &assetType, &priceCurrency, &endDate, &t.DateAdded, &t.DateUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan supported ticker: %w", err)
		}
		t.AssetType = assetType.String
		t.PriceCurrency = priceCurrency.String
		if t.StartDate, err = parseDateColumn(startDate); err != nil {
			return nil, err
		}
		if t.EndDate, err = parseDateColumn(endDate.String); err != nil {
			return nil, err
		}
		tickers = append(tickers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating supported tickers: %w", err)
	}
	return tickers, nil
}

// LatestTickerUpdate returns the most recent date_updated of the universe
// mirror, or the zero time when the mirror is empty.
func (s *SQLiteStore) LatestTickerUpdate(ctx context.Context) (time.Time, error) {
	var updated sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(date_updated) FROM supported_tickers
	`).Scan(&updated)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("failed to get latest ticker update: %w", err)
	}
	if !updated.Valid {
		return time.Time{}, nil
	}
	return updated.Time, nil
}

// ApplyTickerChanges applies a three-way diff of the universe mirror in a
// single transaction.
func (s *SQLiteStore) ApplyTickerChanges(ctx context.Context, changes TickerChanges) error {
	if changes.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range changes.Deletes {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM supported_tickers WHERE ticker = ? AND exchange = ? AND start_date = ?
		`, key.Ticker, key.Exchange, key.StartDate)
		if err != nil {
			return fmt.Errorf("failed to delete supported ticker: %w", err)
		}
	}

	for _, t := range changes.Updates {
		key := t.Key()
		_, err := tx.ExecContext(ctx, `
			UPDATE supported_tickers
			SET asset_type = ?, price_currency = ?, end_date = ?, date_updated = ?
			WHERE ticker = ? AND exchange = ? AND start_date = ?
		`, t.AssetType, t.PriceCurrency, formatDateColumn(t.EndDate), t.DateUpdated, key.Ticker, key.Exchange, key.StartDate)
		if err != nil {
			return fmt.Errorf("failed to update supported ticker: %w", err)
		}
	}

	if len(changes.Inserts) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO supported_tickers (ticker, exchange, start_date, asset_type, price_currency, end_date, date_added, date_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, t := range changes.Inserts {
			key := t.Key()
			_, err := stmt.ExecContext(ctx, key.Ticker, key.Exchange, key.StartDate,
				t.AssetType, t.PriceCurrency, formatDateColumn(t.EndDate), t.DateAdded, t.DateUpdated)
			if err != nil {
				return fmt.Errorf("failed to insert supported ticker: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ============================================================================
// Read side
// ============================================================================

// MonthlyCloses returns monthly close samples for the given dates across all
// stocks not marked not-found. A symbol listed on both exchanges yields the
// average close per date.
func (s *SQLiteStore) MonthlyCloses(ctx context.Context, dates []time.Time) ([]TrendClose, error) {
	if len(dates) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(dates))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(dates))
	for _, d := range dates {
		args = append(args, d.Format(models.DateLayout))
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.symbol, p.date, AVG(p.close)
		FROM stocks s
		JOIN stock_prices p ON p.stock_id = s.id
		WHERE s.symbol_not_found = 0
		  AND p.frequency = 'monthly'
		  AND p.date IN (%s)
		GROUP BY s.symbol, p.date
		ORDER BY s.symbol, p.date
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly closes: %w", err)
	}
	defer rows.Close()

	var closes []TrendClose
	for rows.Next() {
		var c TrendClose
		var date string
		if err := rows.Scan(&c.Symbol, &date, &c.Close); err != nil {
			return nil, fmt.Errorf("failed to scan monthly close: %w", err)
		}
		c.Date, err = time.ParseInLocation(models.DateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad close date %q: %w", date, err)
		}
		closes = append(closes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monthly closes: %w", err)
	}
	return closes, nil
}

func parseDateColumn(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(models.DateLayout, s, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("bad date column %q: %w", s, err)
	}
	return &t, nil
}

func formatDateColumn(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(models.DateLayout)
}
