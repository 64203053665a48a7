// Package catalog is the best-effort fallback over the Silpo catalog API.
// FetchPage never returns an error: every failure becomes an Unavailable result.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://api.catalog.ecom.silpo.ua/api/2.0/exec/EcomCatalogGlobal"
	DefaultPerPage  = 24
	collection      = "EcomCatalogGlobal"

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 8 << 20
)

// Source is what the extraction chain needs from the catalog API.
type Source interface {
	FetchPage(ctx context.Context, categoryID, page, perPage int) Result
}

// Result is either a list of raw items or the reason none could be obtained.
type Result struct {
	Items       []map[string]any
	Status      int
	Unavailable string
}

func Items(status int, items []map[string]any) Result {
	return Result{Items: items, Status: status}
}

func Unavailable(status int, reason string) Result {
	return Result{Status: status, Unavailable: reason}
}

func (r Result) OK() bool {
	return r.Unavailable == ""
}

type Config struct {
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	http     *http.Client
	timeout  time.Duration
	endpoint string
	ua       string
	logger   *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http:     httpClient,
		timeout:  cfg.Timeout,
		endpoint: cfg.Endpoint,
		ua:       cfg.UserAgent,
		logger:   logger.With("component", "catalog"),
	}
}

type requestBody struct {
	Query     query     `json:"query"`
	Variables variables `json:"variables"`
}

type query struct {
	Collection string `json:"collection"`
}

type variables struct {
	CategoryID int `json:"categoryId"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
}

func (c *Client) FetchPage(ctx context.Context, categoryID, page, perPage int) Result {
	if categoryID <= 0 {
		return Unavailable(0, "no category id")
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	payload, err := json.Marshal(requestBody{
		Query:     query{Collection: collection},
		Variables: variables{CategoryID: categoryID, Page: page, PerPage: perPage},
	})
	if err != nil {
		return Unavailable(0, fmt.Sprintf("encode request: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Unavailable(0, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Unavailable(0, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Unavailable(resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Unavailable(resp.StatusCode, fmt.Sprintf("read body: %v", err))
	}

	items, ok := FindItems(body)
	if !ok {
		return Unavailable(resp.StatusCode, "no items array in response")
	}

	c.logger.Debug("catalog page fetched",
		"category_id", categoryID,
		"page", page,
		"items", len(items))

	return Items(resp.StatusCode, items)
}

// itemPaths are tried in order; the first path holding an array wins.
var itemPaths = [][]string{
	{"data", "items"},
	{"data", "products"},
	{"items"},
	{"products"},
}

// FindItems locates the items array of a catalog response. Non-object
// entries of the array are skipped.
func FindItems(body []byte) ([]map[string]any, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, false
	}

	for _, path := range itemPaths {
		arr, ok := lookup(doc, path).([]any)
		if !ok {
			continue
		}
		items := make([]map[string]any, 0, len(arr))
		for _, v := range arr {
			if m, ok := v.(map[string]any); ok {
				items = append(items, m)
			}
		}
		return items, true
	}

	return nil, false
}

// Lookup resolves a dotted key such as "prices.current" inside an item.
func Lookup(item map[string]any, dotted string) any {
	return lookup(item, strings.Split(dotted, "."))
}

func lookup(v any, path []string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

var categoryIDRe = regexp.MustCompile(`-(\d+)/?$`)

// CategoryIDFromURL derives the numeric category id from a URL ending in
// "-<digits>", e.g. ".../molochni-produkty-ta-iaitsia-234" gives 234.
func CategoryIDFromURL(categoryURL string) int {
	if i := strings.IndexAny(categoryURL, "?#"); i >= 0 {
		categoryURL = categoryURL[:i]
	}
	m := categoryIDRe.FindStringSubmatch(categoryURL)
	if m == nil {
		return 0
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return id
}
