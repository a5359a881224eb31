package rawg

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steamscraper/pkg/config"
	errs "steamscraper/pkg/errors"
	"steamscraper/pkg/logger"
	"steamscraper/pkg/retry"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Scrape.PageDelay = 0
	cfg.Scrape.ItemDelay = 0
	cfg.Source.Name = "rawg"
	cfg.Source.RAWGAPIKey = "test-key"

	c := New(cfg, logger.NewNop(), nil)
	c.retryCfg.Backoff = &retry.ConstantBackoff{}

	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestFetchPageMapsIndexToOneBasedPage(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponderWithQuery(http.MethodGet, defaultBaseURL+"/games",
		"key=test-key&page=3&page_size=40",
		httpmock.NewStringResponder(200, `{"count": 2, "results": [{"id": 3498, "name": "GTA V"}, {"id": 3328, "name": "The Witcher 3"}]}`))

	page, err := c.FetchPage(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Index)
	assert.Equal(t, []string{"3498", "3328"}, page.IDs)
}

func TestFetchPageEmptyResults(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponderWithQuery(http.MethodGet, defaultBaseURL+"/games",
		"key=test-key&page=1&page_size=40",
		httpmock.NewStringResponder(200, `{"count": 0, "results": []}`))

	page, err := c.FetchPage(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, page.IDs)
}

func TestFetchPageUnauthorizedIsPermanent(t *testing.T) {
	c := newTestClient(t)

	calls := 0
	httpmock.RegisterResponderWithQuery(http.MethodGet, defaultBaseURL+"/games",
		"key=test-key&page=1&page_size=40",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(401, `{"error": "invalid key"}`), nil
		})

	_, err := c.FetchPage(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errs.KindPermanent, errs.KindOf(err))
}

func TestFetchDetailStoresBodyVerbatim(t *testing.T) {
	c := newTestClient(t)

	body := `{"id": 3498, "name": "GTA V", "released": "2013-09-17", "rating": 4.47}`
	httpmock.RegisterResponderWithQuery(http.MethodGet, defaultBaseURL+"/games/3498",
		"key=test-key",
		httpmock.NewStringResponder(200, body))

	item, err := c.FetchDetail(context.Background(), "3498")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "3498", item.ID)
	assert.JSONEq(t, body, string(item.Payload))
}

func TestFetchDetailSkipsIncompleteRecords(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponderWithQuery(http.MethodGet, defaultBaseURL+"/games/42",
		"key=test-key",
		httpmock.NewStringResponder(200, `{"id": 42, "name": ""}`))

	item, err := c.FetchDetail(context.Background(), "42")
	require.NoError(t, err)
	assert.Nil(t, item, "records without a name must be skipped")
}

func TestFetchDetailRetriesServerErrors(t *testing.T) {
	c := newTestClient(t)

	calls := 0
	httpmock.RegisterResponderWithQuery(http.MethodGet, defaultBaseURL+"/games/3498",
		"key=test-key",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(502, "bad gateway"), nil
			}
			return httpmock.NewStringResponse(200, `{"id": 3498, "name": "GTA V"}`), nil
		})

	item, err := c.FetchDetail(context.Background(), "3498")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, 2, calls)
}
