package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client := NewClient(Config{}, &http.Client{Transport: transport}, nil)
	return client, transport
}

func TestFetchPageSendsQuery(t *testing.T) {
	client, transport := newMockedClient(t)

	var got requestBody
	transport.RegisterResponder(http.MethodPost, DefaultEndpoint,
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(200, `{"data":{"items":[{"title":"Молоко 2.5% 900мл","price":32.5}]}}`), nil
		})

	res := client.FetchPage(context.Background(), 234, 2, 24)

	require.True(t, res.OK(), res.Unavailable)
	assert.Equal(t, 200, res.Status)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Молоко 2.5% 900мл", res.Items[0]["title"])

	assert.Equal(t, "EcomCatalogGlobal", got.Query.Collection)
	assert.Equal(t, 234, got.Variables.CategoryID)
	assert.Equal(t, 2, got.Variables.Page)
	assert.Equal(t, 24, got.Variables.PerPage)
}

func TestFetchPageTimeoutIsPerRequest(t *testing.T) {
	transport := httpmock.NewMockTransport()
	httpClient := &http.Client{Transport: transport}
	client := NewClient(Config{Timeout: 5 * time.Second}, httpClient, nil)

	assert.Zero(t, httpClient.Timeout)

	var deadline time.Time
	var hasDeadline bool
	transport.RegisterResponder(http.MethodPost, DefaultEndpoint,
		func(req *http.Request) (*http.Response, error) {
			deadline, hasDeadline = req.Context().Deadline()
			return httpmock.NewStringResponse(200, `{"items":[]}`), nil
		})

	start := time.Now()
	client.FetchPage(context.Background(), 234, 1, 24)

	require.True(t, hasDeadline)
	assert.WithinDuration(t, start.Add(5*time.Second), deadline, time.Second)
	assert.Zero(t, httpClient.Timeout)
}

func TestFetchPageUnavailable(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		status    int
	}{
		{"server error", httpmock.NewStringResponder(503, "busy"), 503},
		{"forbidden", httpmock.NewStringResponder(403, ""), 403},
		{"malformed json", httpmock.NewStringResponder(200, "<html>"), 200},
		{"unknown schema", httpmock.NewStringResponder(200, `{"data":{"catalog":[]}}`), 200},
		{"network error", httpmock.NewErrorResponder(errors.New("connection reset")), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, transport := newMockedClient(t)
			transport.RegisterResponder(http.MethodPost, DefaultEndpoint, tt.responder)

			res := client.FetchPage(context.Background(), 234, 1, 24)

			assert.False(t, res.OK())
			assert.NotEmpty(t, res.Unavailable)
			assert.Empty(t, res.Items)
			assert.Equal(t, tt.status, res.Status)
		})
	}
}

func TestFetchPageWithoutCategory(t *testing.T) {
	client, transport := newMockedClient(t)

	res := client.FetchPage(context.Background(), 0, 1, 24)

	assert.False(t, res.OK())
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestFindItems(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		count int
		ok    bool
	}{
		{"data.items", `{"data":{"items":[{"a":1},{"a":2}]}}`, 2, true},
		{"data.products", `{"data":{"products":[{"a":1}]}}`, 1, true},
		{"items", `{"items":[{"a":1}]}`, 1, true},
		{"products", `{"products":[{"a":1},{"a":2},{"a":3}]}`, 3, true},
		{"first array wins", `{"data":{"items":[],"products":[{"a":1}]}}`, 0, true},
		{"non-array skipped", `{"data":{"items":"none"},"items":[{"a":1}]}`, 1, true},
		{"non-object entries dropped", `{"items":[{"a":1},2,"x"]}`, 1, true},
		{"no array", `{"data":{}}`, 0, false},
		{"top-level array", `[{"a":1}]`, 0, false},
		{"invalid", `{`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, ok := FindItems([]byte(tt.body))
			assert.Equal(t, tt.ok, ok)
			assert.Len(t, items, tt.count)
		})
	}
}

func TestLookup(t *testing.T) {
	item := map[string]any{
		"price":  map[string]any{"value": 12.5},
		"prices": map[string]any{"current": 10.0},
		"title":  "x",
	}

	assert.Equal(t, 12.5, Lookup(item, "price.value"))
	assert.Equal(t, 10.0, Lookup(item, "prices.current"))
	assert.Equal(t, "x", Lookup(item, "title"))
	assert.Nil(t, Lookup(item, "title.value"))
	assert.Nil(t, Lookup(item, "missing"))
}

func TestCategoryIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"https://silpo.ua/category/molochni-produkty-ta-iaitsia-234", 234},
		{"https://silpo.ua/category/molochni-produkty-ta-iaitsia-234/", 234},
		{"https://silpo.ua/category/molochni-produkty-ta-iaitsia-234?page=3", 234},
		{"https://silpo.ua/category/molochni", 0},
		{"", 0},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryIDFromURL(tt.url))
		})
	}
}
