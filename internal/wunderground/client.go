package wunderground

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

const (
	// DefaultBaseURL is the public Weather Underground site.
	DefaultBaseURL = "https://www.wunderground.com"

	maxPageBytes = 16 << 20
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	// MaxRetries is the number of extra attempts per window after a
	// transport failure or 5xx/429. Zero surfaces the first failure.
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// RequestInterval spaces consecutive requests; zero disables pacing.
	RequestInterval time.Duration
}

// Client fetches Custom History pages for airport stations.
type Client struct {
	baseURL string
	header  http.Header
	conn    *transport
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid retry count %d", cfg.MaxRetries)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	header := make(http.Header)
	if cfg.UserAgent != "" {
		header.Set("User-Agent", cfg.UserAgent)
	}

	return &Client{
		baseURL: base,
		header:  header,
		conn: &transport{
			client:  cfg.HTTPClient,
			limiter: rate.NewLimiter(limit, 1),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        "wunderground",
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     2 * time.Minute,
			}),
			retry: retryPolicy{
				MaxRetries: cfg.MaxRetries,
				Initial:    cfg.Backoff,
				Max:        cfg.MaxBackoff,
			},
		},
	}, nil
}

// HistoryURL builds the Custom History address for a station and window.
// Month and day are not zero-padded.
func (c *Client) HistoryURL(station string, w history.DateWindow) string {
	return fmt.Sprintf("%s/history/airport/%s/%d/%d/%d/CustomHistory.html?dayend=%d&monthend=%d&yearend=%d"+
		"&req_city=&req_state=&req_statename=&reqdb.zip=&reqdb.magic=&reqdb.wmo=",
		c.baseURL, url.PathEscape(strings.ToUpper(station)),
		w.Start.Year, int(w.Start.Month), w.Start.Day,
		w.End.Day, int(w.End.Month), w.End.Year,
	)
}

// Fetch downloads the page for one window.
func (c *Client) Fetch(ctx context.Context, station string, window history.DateWindow) (history.Page, error) {
	resp, err := c.conn.get(ctx, c.HistoryURL(station, window), c.header)
	if err != nil {
		return history.Page{}, &history.FetchError{Station: station, Window: window, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return history.Page{}, &history.FetchError{Station: station, Window: window, Err: fmt.Errorf("read body: %w", err)}
	}

	return history.Page{Station: station, Window: window, Body: body}, nil
}
