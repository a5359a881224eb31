package steamspy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"steamscraper/pkg/config"
	errs "steamscraper/pkg/errors"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/metrics"
	"steamscraper/pkg/models"
	"steamscraper/pkg/ratelimit"
	"steamscraper/pkg/retry"
)

const (
	defaultBaseURL = "https://steamspy.com/api.php"

	// SteamSpy serves this appid as a placeholder record for apps the
	// publisher has hidden. Such records carry no real data.
	hiddenAppID = 999999
)

// Client fetches the SteamSpy catalog: the paged "all" listing and the
// per-app "appdetails" endpoint. The client owns its rate limiting and
// retry policy; one limiter per endpoint class is shared across all
// callers, so concurrent detail fetches stay spaced apart.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageLimit  ratelimit.Limiter
	itemLimit  ratelimit.Limiter
	retryCfg   *retry.Config
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// New creates a SteamSpy client from the scrape configuration.
func New(cfg *config.Config, log logger.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	baseURL := cfg.Source.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Scrape.RequestTimeout},
		baseURL:    baseURL,
		pageLimit:  ratelimit.NewInterval(cfg.Scrape.PageDelay),
		itemLimit:  ratelimit.NewInterval(cfg.Scrape.ItemDelay),
		retryCfg:   newRetryConfig(cfg.Scrape, log, m),
		logger:     log.WithField("client", "steamspy"),
		metrics:    m,
	}
}

func newRetryConfig(cfg config.ScrapeConfig, log logger.Logger, m *metrics.Metrics) *retry.Config {
	base := cfg.ItemDelay
	if base <= 0 {
		base = time.Second
	}
	return &retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    base,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		RetryIf: retry.DefaultRetryIf,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			m.IncRetries()
		},
		Logger: log,
	}
}

// Name identifies the source in output paths and logs.
func (c *Client) Name() string { return "steamspy" }

// FetchPage fetches one listing page. SteamSpy returns a JSON object
// keyed by appid; key order is preserved so the catalog walk is stable.
func (c *Client) FetchPage(ctx context.Context, index int) (*models.CatalogPage, error) {
	ref := strconv.Itoa(index)
	params := url.Values{
		"request": {"all"},
		"page":    {ref},
	}

	return retry.DoWithResult(ctx, func() (*models.CatalogPage, error) {
		if err := c.pageLimit.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.get(ctx, "page", ref, params)
		if err != nil {
			return nil, err
		}

		ids, err := orderedAppIDs(body)
		if err != nil {
			return nil, errs.Malformed("page", ref, err)
		}

		c.logger.DebugWithFields("page fetched", map[string]interface{}{
			"page": index,
			"apps": len(ids),
		})
		return &models.CatalogPage{Index: index, IDs: ids}, nil
	}, c.retryCfg)
}

// FetchDetail fetches one app's full record. Hidden apps are reported
// as (nil, nil) so the engine neither persists nor marks them.
func (c *Client) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	params := url.Values{
		"request": {"appdetails"},
		"appid":   {id},
	}

	return retry.DoWithResult(ctx, func() (*models.Item, error) {
		if err := c.itemLimit.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.get(ctx, "detail", id, params)
		if err != nil {
			return nil, err
		}

		var detail AppDetail
		if err := json.Unmarshal(body, &detail); err != nil {
			return nil, errs.Malformed("detail", id, err)
		}
		if detail.AppID == 0 {
			return nil, errs.Malformed("detail", id, fmt.Errorf("response carries no appid"))
		}
		if detail.AppID == hiddenAppID {
			c.logger.DebugWithFields("hidden app, skipping", map[string]interface{}{
				"appid": id,
			})
			return nil, nil
		}

		return &models.Item{ID: id, Payload: body}, nil
	}, c.retryCfg)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// get performs one GET against the API and returns the response body.
// Network failures and 5xx/429 statuses come back transient, other
// non-200 statuses permanent.
func (c *Client) get(ctx context.Context, op, ref string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errs.Permanent(op, ref, 0, err)
	}

	c.metrics.IncRequest(op)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Transient(op, ref, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errs.FromStatusCode(op, ref, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transient(op, ref, resp.StatusCode, err)
	}
	return body, nil
}

// orderedAppIDs walks the top-level object token by token so the appids
// come back in response order. json.Unmarshal into a map would lose it.
func orderedAppIDs(body []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var ids []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string key, got %v", keyTok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("value for appid %s: %w", key, err)
		}
		ids = append(ids, key)
	}
	return ids, nil
}
