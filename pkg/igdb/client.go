package igdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
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
	defaultBaseURL = "https://api.igdb.com/v4"
	authURL        = "https://id.twitch.tv/oauth2/token"

	// IGDB caps pages at 500 records and the request rate at 4/s.
	pageSize    = 500
	minInterval = 250 * time.Millisecond

	// Renew the token an hour before Twitch says it expires.
	tokenSlack = time.Hour

	gameFields = "fields id, name, rating, rating_count, aggregated_rating, " +
		"aggregated_rating_count, first_release_date, genres.name, " +
		"platforms.name, involved_companies.company.name;"
)

// game is the subset of a games record the client inspects before
// persisting. The full record is stored verbatim.
type game struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Client fetches the IGDB games catalog. The API is OAuth2-keyed: a
// client-credentials token is fetched from Twitch, cached until close
// to its expiry, and re-fetched once if a request comes back 401.
//
// Unlike the other sources, IGDB listing pages carry the full game
// records, so FetchDetail is usually served from the records the page
// fetch already brought back and costs no extra request.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	limit        ratelimit.Limiter
	retryCfg     *retry.Config
	logger       logger.Logger
	metrics      *metrics.Metrics

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	records     map[string]json.RawMessage
}

// New creates an IGDB client from the scrape configuration. The page
// delay is floored at the API's 4-requests-per-second contract.
func New(cfg *config.Config, log logger.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	baseURL := cfg.Source.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	interval := cfg.Scrape.PageDelay
	if interval < minInterval {
		interval = minInterval
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Scrape.RequestTimeout},
		baseURL:      baseURL,
		clientID:     cfg.Source.IGDBClientID,
		clientSecret: cfg.Source.IGDBClientSecret,
		limit:        ratelimit.NewInterval(interval),
		retryCfg:     newRetryConfig(cfg.Scrape, log, m),
		logger:       log.WithField("client", "igdb"),
		metrics:      m,
		records:      make(map[string]json.RawMessage),
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
func (c *Client) Name() string { return "igdb" }

// FetchPage fetches one listing page of rated games, highest rating
// count first. The records come back whole and are kept for FetchDetail.
func (c *Client) FetchPage(ctx context.Context, index int) (*models.CatalogPage, error) {
	ref := strconv.Itoa(index)
	query := fmt.Sprintf("%s limit %d; offset %d; where rating_count > 0; sort rating_count desc;",
		gameFields, pageSize, index*pageSize)

	return retry.DoWithResult(ctx, func() (*models.CatalogPage, error) {
		if err := c.limit.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.query(ctx, "page", ref, query)
		if err != nil {
			return nil, err
		}

		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, errs.Malformed("page", ref, err)
		}

		ids := make([]string, 0, len(raws))
		c.mu.Lock()
		for _, raw := range raws {
			var g game
			if err := json.Unmarshal(raw, &g); err != nil {
				c.mu.Unlock()
				return nil, errs.Malformed("page", ref, err)
			}
			if g.ID == 0 {
				continue
			}
			id := strconv.Itoa(g.ID)
			ids = append(ids, id)
			c.records[id] = raw
		}
		c.mu.Unlock()

		c.logger.DebugWithFields("page fetched", map[string]interface{}{
			"page":  index,
			"games": len(ids),
		})
		return &models.CatalogPage{Index: index, IDs: ids}, nil
	}, c.retryCfg)
}

// FetchDetail returns one game's full record. Records brought back by
// the listing are served without another request; anything else falls
// back to a per-id query. Games without a name are skipped.
func (c *Client) FetchDetail(ctx context.Context, id string) (*models.Item, error) {
	c.mu.Lock()
	raw, ok := c.records[id]
	if ok {
		delete(c.records, id)
	}
	c.mu.Unlock()

	if ok {
		return c.itemFrom(id, raw)
	}

	gameID, err := strconv.Atoi(id)
	if err != nil {
		return nil, errs.Permanent("detail", id, 0, fmt.Errorf("not a numeric game id"))
	}
	query := fmt.Sprintf("%s where id = %d;", gameFields, gameID)

	return retry.DoWithResult(ctx, func() (*models.Item, error) {
		if err := c.limit.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.query(ctx, "detail", id, query)
		if err != nil {
			return nil, err
		}

		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, errs.Malformed("detail", id, err)
		}
		if len(raws) == 0 {
			c.logger.DebugWithFields("game gone, skipping", map[string]interface{}{
				"game": id,
			})
			return nil, nil
		}
		return c.itemFrom(id, raws[0])
	}, c.retryCfg)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) itemFrom(id string, raw json.RawMessage) (*models.Item, error) {
	var g game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, errs.Malformed("detail", id, err)
	}
	if g.ID == 0 || g.Name == "" {
		c.logger.DebugWithFields("incomplete record, skipping", map[string]interface{}{
			"game": id,
		})
		return nil, nil
	}
	return &models.Item{ID: id, Payload: raw}, nil
}

// query posts one Apicalypse query to the games endpoint. A 401 means
// Twitch revoked the token early; re-authenticate and try once more.
func (c *Client) query(ctx context.Context, op, ref, apicalypse string) ([]byte, error) {
	body, err := c.post(ctx, op, ref, apicalypse)
	var fe *errs.FetchError
	if errors.As(err, &fe) && fe.Op == op && fe.Code == http.StatusUnauthorized {
		c.invalidateToken()
		return c.post(ctx, op, ref, apicalypse)
	}
	return body, err
}

func (c *Client) post(ctx context.Context, op, ref, apicalypse string) ([]byte, error) {
	token, err := c.getToken(ctx, ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/games", strings.NewReader(apicalypse))
	if err != nil {
		return nil, errs.Permanent(op, ref, 0, err)
	}
	req.Header.Set("Client-ID", c.clientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

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

// getToken returns a cached client-credentials token, fetching a fresh
// one from Twitch when none is held or the held one is near expiry.
func (c *Client) getToken(ctx context.Context, ref string) (string, error) {
	c.mu.Lock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	params := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", errs.Permanent("auth", ref, 0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.Transient("auth", ref, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", errs.FromStatusCode("auth", ref, resp.StatusCode)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return "", errs.Malformed("auth", ref, err)
	}
	if grant.AccessToken == "" {
		return "", errs.Malformed("auth", ref, fmt.Errorf("grant carries no access token"))
	}

	expiry := time.Now().Add(time.Duration(grant.ExpiresIn)*time.Second - tokenSlack)

	c.mu.Lock()
	c.token = grant.AccessToken
	c.tokenExpiry = expiry
	c.mu.Unlock()

	c.logger.DebugWithFields("authenticated", map[string]interface{}{
		"token_ttl": (time.Duration(grant.ExpiresIn) * time.Second).String(),
	})
	return grant.AccessToken, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}
