package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stocksync/internal/market"
	"stocksync/internal/models"
	"stocksync/pkg/utils"
)

// crumbPattern extracts the anti-forgery token embedded in the quote page.
var crumbPattern = regexp.MustCompile(`CrumbStore":{"crumb":"(.+?)"}`)

const (
	defaultRequestDelay = 250 * time.Millisecond
	handshakeAttempts   = 5
	handshakeBackoff    = time.Second

	// The quote page for a live symbol is far larger than an error page.
	minHandshakeBodyLen = 5000
)

// YahooClient fetches per-symbol price history. It holds a session
// credential (cookie plus crumb) obtained by a handshake against the quote
// page, and throttles every outbound history request through a rate limiter.
type YahooClient struct {
	httpClient *http.Client
	logger     zerolog.Logger
	limiter    *rate.Limiter

	baseURL      string // history endpoint
	handshakeURL string // quote page used to obtain the session

	mu     sync.RWMutex
	cookie string
	crumb  string
}

// YahooConfig holds configuration for the history client.
type YahooConfig struct {
	// BaseURL overrides the history endpoint. Used in tests.
	BaseURL string
	// HandshakeURL overrides the quote page endpoint. Used in tests.
	HandshakeURL string
	// RequestDelay is the minimum delay between history requests.
	RequestDelay time.Duration
}

// NewYahooClient creates a new history client.
func NewYahooClient(cfg YahooConfig, logger zerolog.Logger) *YahooClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com/v7/finance/download"
	}
	if cfg.HandshakeURL == "" {
		cfg.HandshakeURL = "https://finance.yahoo.com/quote"
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = defaultRequestDelay
	}

	return &YahooClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger.With().Str("component", "yahoo").Logger(),
		limiter:      rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		baseURL:      cfg.BaseURL,
		handshakeURL: cfg.HandshakeURL,
	}
}

// SetRequestDelay updates the minimum delay between history requests.
// Safe to call while requests are in flight.
func (c *YahooClient) SetRequestDelay(d time.Duration) {
	if d <= 0 {
		d = defaultRequestDelay
	}
	c.limiter.SetLimit(rate.Every(d))
}

// historyQuery is the query string of the history endpoint.
type historyQuery struct {
	Period1  int64  `url:"period1"`
	Period2  int64  `url:"period2"`
	Interval string `url:"interval"`
	Events   string `url:"events"`
	AdjClose bool   `url:"includeAdjustedClose"`
	Crumb    string `url:"crumb,omitempty"`
}

// historyRow is one CSV row of the history payload. Fields stay strings so
// a malformed value fails per row, not per batch.
type historyRow struct {
	Date     string `csv:"Date"`
	Open     string `csv:"Open"`
	High     string `csv:"High"`
	Low      string `csv:"Low"`
	Close    string `csv:"Close"`
	AdjClose string `csv:"Adj Close"`
	Volume   string `csv:"Volume"`
}

// History fetches price history for one symbol. Every call waits out the
// request throttle first, including calls that will fail fast. A missing
// session credential reports StatusUnauthorized without a network call;
// refreshing it is the caller's decision.
func (c *YahooClient) History(ctx context.Context, symbol, interval string, first, last time.Time) HistoryResult {
	if err := c.limiter.Wait(ctx); err != nil {
		return HistoryResult{Status: StatusError, Detail: err.Error()}
	}

	c.mu.RLock()
	cookie, crumb := c.cookie, c.crumb
	c.mu.RUnlock()

	if crumb == "" {
		return HistoryResult{Status: StatusUnauthorized, Detail: "no session"}
	}

	q, err := query.Values(historyQuery{
		Period1:  exchangeMidnight(first).Unix(),
		Period2:  exchangeMidnight(last).Unix(),
		Interval: interval,
		Events:   "history",
		AdjClose: true,
		Crumb:    crumb,
	})
	if err != nil {
		return HistoryResult{Status: StatusError, Detail: err.Error()}
	}

	url := fmt.Sprintf("%s/%s?%s", c.baseURL, symbol, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HistoryResult{Status: StatusError, Detail: err.Error()}
	}
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return HistoryResult{Status: StatusError, Detail: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return HistoryResult{Status: StatusUnauthorized, Detail: resp.Status}
	case resp.StatusCode == http.StatusNotFound:
		return HistoryResult{Status: StatusNotFound, Detail: resp.Status}
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn().Str("symbol", symbol).Str("status", resp.Status).Msg("history request failed")
		return HistoryResult{Status: StatusError, Detail: resp.Status}
	}

	prices, err := c.parseHistory(symbol, resp.Body)
	if err != nil {
		return HistoryResult{Status: StatusError, Detail: err.Error()}
	}
	return HistoryResult{Status: StatusOK, Prices: prices}
}

// parseHistory decodes the CSV payload. Malformed rows are dropped and
// logged; the rest of the batch still succeeds.
func (c *YahooClient) parseHistory(symbol string, r io.Reader) ([]Price, error) {
	var rows []historyRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decoding history csv: %w", err)
	}

	prices := make([]Price, 0, len(rows))
	for i, row := range rows {
		p, err := row.toPrice()
		if err != nil {
			c.logger.Warn().
				Str("symbol", symbol).
				Int("row", i+1).
				Err(err).
				Msg("skipping malformed history row")
			continue
		}
		prices = append(prices, p)
	}
	return prices, nil
}

func (r historyRow) toPrice() (Price, error) {
	date, err := time.ParseInLocation(models.DateLayout, r.Date, time.UTC)
	if err != nil {
		return Price{}, fmt.Errorf("bad date %q", r.Date)
	}

	fields := [5]float64{}
	for i, s := range []string{r.Open, r.High, r.Low, r.Close, r.AdjClose} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Price{}, fmt.Errorf("bad value %q", s)
		}
		fields[i] = v
	}

	volume, err := strconv.ParseInt(r.Volume, 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("bad volume %q", r.Volume)
	}

	return Price{
		Date:     date,
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		AdjClose: fields[4],
		Volume:   volume,
	}, nil
}

// RefreshSession obtains a fresh cookie and crumb by fetching the quote page
// for the given symbol. The handshake is retried a few times with a fixed
// backoff; on failure the client is left without a credential and subsequent
// History calls keep reporting StatusUnauthorized.
func (c *YahooClient) RefreshSession(ctx context.Context, symbol string) error {
	var cookie, crumb string

	err := utils.Retry(ctx, utils.FixedRetryConfig(handshakeAttempts, handshakeBackoff), func() error {
		var err error
		cookie, crumb, err = c.handshake(ctx, symbol)
		return err
	})
	if err != nil {
		c.logger.Warn().Str("symbol", symbol).Err(err).Msg("session handshake failed")
		return fmt.Errorf("refreshing session: %w", err)
	}

	c.mu.Lock()
	c.cookie = cookie
	c.crumb = crumb
	c.mu.Unlock()

	c.logger.Debug().Str("symbol", symbol).Msg("session refreshed")
	return nil
}

func (c *YahooClient) handshake(ctx context.Context, symbol string) (cookie, crumb string, err error) {
	url := fmt.Sprintf("%s/%s?p=%s", c.handshakeURL, symbol, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if len(body) < minHandshakeBodyLen {
		return "", "", fmt.Errorf("handshake page too short (%d bytes)", len(body))
	}

	crumb = parseCrumb(string(body))
	if crumb == "" {
		return "", "", fmt.Errorf("no crumb in handshake page")
	}

	cookie = strings.SplitN(resp.Header.Get("Set-Cookie"), ";", 2)[0]
	if cookie == "" {
		return "", "", fmt.Errorf("no session cookie in handshake response")
	}

	return cookie, crumb, nil
}

func parseCrumb(html string) string {
	m := crumbPattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	// The crumb is embedded in a JSON string; unescape the solidus.
	return strings.ReplaceAll(m[1], `\u002F`, "/")
}

// exchangeMidnight interprets a date-only value as midnight in the exchange
// time zone, matching the provider's period boundaries.
func exchangeMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, market.ExchangeLocation)
}
