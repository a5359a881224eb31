package rawg

import (
	"context"
	"encoding/json"
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
	defaultBaseURL = "https://api.rawg.io/api"
	pageSize       = 40
)

// listPage is the shape of a /games listing response.
type listPage struct {
	Count   int `json:"count"`
	Results []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

// gameDetail is the subset of a /games/{id} response the client
// inspects before persisting. The full body is stored verbatim.
type gameDetail struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Client fetches the RAWG games catalog. Unlike SteamSpy the API is
// keyed, and listing pages are 1-based; the client maps the engine's
// 0-based page index onto the API's numbering.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	pageLimit  ratelimit.Limiter
	itemLimit  ratelimit.Limiter
	retryCfg   *retry.Config
	logger     logger.Logger
	metrics    *metrics.Metrics
}

// New creates a RAWG client from the scrape configuration.
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
		apiKey:     cfg.Source.RAWGAPIKey,
		pageLimit:  ratelimit.NewInterval(cfg.Scrape.PageDelay),
		itemLimit:  ratelimit.NewInterval(cfg.Scrape.ItemDelay),
		retryCfg:   newRetryConfig(cfg.Scrape, log, m),
		logger:     log.WithField("client", "rawg"),
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
func (c *Client) Name() string { return "rawg" }

// FetchPage fetches one listing page of game identifiers.
func (c *Client) FetchPage(ctx context.Context, index int) (*models.CatalogPage, error) {
	ref := strconv.Itoa(index)
	params := url.Values{
		"key":       {c.apiKey},
		"page":      {strconv.Itoa(index + 1)},
		"page_size": {strconv.Itoa(pageSize)},
	}

	return retry.DoWithResult(ctx, func() (*models.CatalogPage, error) {
		if err := c.pageLimit.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.get(ctx, "page", ref, c.baseURL+"/games", params)
		if err != nil {
			return nil, err
		}

		var page listPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errs.Malformed("page", ref, err)
		}

		ids := make([]string, 0, len(page.Results))
		for _, game := range page.Results {
			ids = append(ids, strconv.Itoa(game.ID))
		}

		c.logger.DebugWithFields("page fetched", map[string]interface{}{
			"page":  index,
			"games": len(ids),
		})
		return &models.CatalogPage{Index: index, IDs: ids}, nil
	}, c.retryCfg)
}

// FetchDetail fetches one game's full record. Records missing an id or
// name are reported as (nil, nil) and skipped.
func (c *Client) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	params := url.Values{
		"key": {c.apiKey},
	}

	return retry.DoWithResult(ctx, func() (*models.Item, error) {
		if err := c.itemLimit.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.get(ctx, "detail", id, c.baseURL+"/games/"+url.PathEscape(id), params)
		if err != nil {
			return nil, err
		}

		var detail gameDetail
		if err := json.Unmarshal(body, &detail); err != nil {
			return nil, errs.Malformed("detail", id, err)
		}
		if detail.ID == 0 || detail.Name == "" {
			c.logger.DebugWithFields("incomplete record, skipping", map[string]interface{}{
				"game": id,
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

func (c *Client) get(ctx context.Context, op, ref, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
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
