package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"stocksync/internal/models"
)

// TiingoClient fetches the supported-symbol universe, published as a zipped
// CSV file.
type TiingoClient struct {
	httpClient *http.Client
	logger     zerolog.Logger
	url        string
}

// TiingoConfig holds configuration for the universe client.
type TiingoConfig struct {
	// URL overrides the universe endpoint. Used in tests.
	URL string
}

// NewTiingoClient creates a new universe client.
func NewTiingoClient(cfg TiingoConfig, logger zerolog.Logger) *TiingoClient {
	if cfg.URL == "" {
		cfg.URL = "https://apimedia.tiingo.com/docs/tiingo/daily/supported_tickers.zip"
	}
	return &TiingoClient{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     logger.With().Str("component", "tiingo").Logger(),
		url:        cfg.URL,
	}
}

// universeRow is one CSV row of the universe payload. Fields stay strings so
// a malformed value fails per row, not per batch.
type universeRow struct {
	Ticker        string `csv:"ticker"`
	Exchange      string `csv:"exchange"`
	AssetType     string `csv:"assetType"`
	PriceCurrency string `csv:"priceCurrency"`
	StartDate     string `csv:"startDate"`
	EndDate       string `csv:"endDate"`
}

// SupportedTickers downloads and decodes the symbol universe.
func (c *TiingoClient) SupportedTickers(ctx context.Context) ([]UniverseRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building universe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching universe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching universe: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading universe payload: %w", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("opening universe archive: %w", err)
	}

	var records []UniverseRecord
	for _, entry := range archive.File {
		if !strings.HasSuffix(entry.Name, ".csv") {
			continue
		}

		f, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("opening archive entry %s: %w", entry.Name, err)
		}
		entryRecords, err := c.decodeEntry(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding archive entry %s: %w", entry.Name, err)
		}
		records = append(records, entryRecords...)
	}

	c.logger.Info().Int("records", len(records)).Msg("universe fetched")
	return records, nil
}

func (c *TiingoClient) decodeEntry(r io.Reader) ([]UniverseRecord, error) {
	var rows []universeRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, err
	}

	records := make([]UniverseRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			c.logger.Warn().Int("row", i+1).Err(err).Msg("skipping malformed universe row")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r universeRow) toRecord() (UniverseRecord, error) {
	start, err := parseOptionalDate(r.StartDate)
	if err != nil {
		return UniverseRecord{}, fmt.Errorf("bad start date %q", r.StartDate)
	}
	end, err := parseOptionalDate(r.EndDate)
	if err != nil {
		return UniverseRecord{}, fmt.Errorf("bad end date %q", r.EndDate)
	}

	return UniverseRecord{
		Ticker:        r.Ticker,
		Exchange:      r.Exchange,
		AssetType:     r.AssetType,
		PriceCurrency: r.PriceCurrency,
		StartDate:     start,
		EndDate:       end,
	}, nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(models.DateLayout, s, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
