package scraper

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/silpo-price-scraper/internal/catalog"
	"github.com/maltedev/silpo-price-scraper/internal/metrics"
	"github.com/maltedev/silpo-price-scraper/internal/models"
	"github.com/maltedev/silpo-price-scraper/internal/parser"
)

// Fallback keys tried, in order, for each field of a catalog API item.
var (
	apiTitleKeys    = []string{"title", "name", "productName", "displayName"}
	apiPriceKeys    = []string{"price", "currentPrice", "displayPrice", "prices.current", "price.value"}
	apiOldPriceKeys = []string{"oldPrice", "priceOld", "prices.old"}
	apiDiscountKeys = []string{"discount", "discountPercent", "discountPct"}
	apiBrandKeys    = []string{"brand", "brandName", "brand.name"}
	apiURLKeys      = []string{"url", "link", "productUrl", "slug"}
)

type ChainConfig struct {
	CategoryID int
	PerPage    int
}

// Chain extracts the products of one page: DOM candidates first, the catalog
// API only when the DOM stage accepted nothing.
type Chain struct {
	cfg     ChainConfig
	parser  parser.Engine
	catalog catalog.Source
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewChain(cfg ChainConfig, p parser.Engine, source catalog.Source, m *metrics.Metrics, logger *slog.Logger) *Chain {
	if cfg.PerPage <= 0 {
		cfg.PerPage = catalog.DefaultPerPage
	}
	return &Chain{
		cfg:     cfg,
		parser:  p,
		catalog: source,
		metrics: m,
		logger:  logger.With("component", "extraction_chain"),
		now:     time.Now,
	}
}

// Extract never fails: page-level problems are reported in the outcome.
func (c *Chain) Extract(ctx context.Context, runID string, pageNo int, snap *PageSnapshot) ([]*models.ProductRecord, *models.PageOutcome) {
	outcome := &models.PageOutcome{
		RunID:      runID,
		PageNumber: pageNo,
		URL:        snap.URL,
		HTTPStatus: snap.HTTPStatus,
	}

	if snap.Challenge {
		outcome.Status = models.PageStatusChallenge
		outcome.Error = models.StringPtr(ErrChallenge.Error())
		return nil, outcome
	}

	scrapedAt := c.now().UTC()
	records := c.fromDOM(runID, pageNo, snap, scrapedAt)
	outcome.ItemsSeen = len(snap.Candidates)

	switch {
	case len(records) > 0:
		outcome.Status = models.PageStatusOK
		c.metrics.AddProducts("dom", len(records))
	default:
		items := c.fetchAPI(ctx, runID, pageNo, snap.URL)
		outcome.ItemsSeen += len(items)
		records = c.fromAPI(runID, pageNo, snap.URL, items, scrapedAt)
		if len(records) > 0 {
			outcome.Status = models.PageStatusAPI
			c.metrics.AddProducts("api", len(records))
		} else {
			outcome.Status = models.PageStatusEmpty
		}
	}

	outcome.ItemsParsed = len(records)
	c.metrics.AddItemsSeen(outcome.ItemsSeen)

	c.logger.Info("page parsed",
		"run_id", runID,
		"page", pageNo,
		"url", snap.URL,
		"status", outcome.Status,
		"items_seen", outcome.ItemsSeen,
		"items_parsed", outcome.ItemsParsed)

	if len(records) > 0 {
		s := records[0]
		c.logger.Info("sample product",
			"run_id", runID,
			"page", pageNo,
			"title", s.Title,
			"brand", s.Brand,
			"price_current", s.PriceCurrent,
			"pack_qty", intValue(s.PackQty),
			"pack_unit", s.PackUnit)
	}

	return records, outcome
}

func (c *Chain) fromDOM(runID string, pageNo int, snap *PageSnapshot, scrapedAt time.Time) []*models.ProductRecord {
	var records []*models.ProductRecord
	for _, cand := range snap.Candidates {
		fields, ok := c.parser.Parse(cand.Text)
		if !ok {
			continue
		}
		if rec := newRecord(runID, pageNo, snap.URL, scrapedAt, AbsoluteURL(cand.Href), fields); c.accept(rec) {
			records = append(records, rec)
		}
	}
	return records
}

// fetchAPI maps an unavailable catalog to an empty item list.
func (c *Chain) fetchAPI(ctx context.Context, runID string, pageNo int, pageURL string) []map[string]any {
	if c.catalog == nil {
		return nil
	}

	res := c.catalog.FetchPage(ctx, c.cfg.CategoryID, pageNo, c.cfg.PerPage)
	if !res.OK() {
		c.metrics.IncFallback("unavailable")
		c.logger.Warn("api fallback unavailable",
			"run_id", runID,
			"page", pageNo,
			"url", pageURL,
			"http_status", res.Status,
			"reason", res.Unavailable)
		return nil
	}

	c.metrics.IncFallback("items")
	c.logger.Info("api attempt",
		"run_id", runID,
		"page", pageNo,
		"url", pageURL,
		"http_status", res.Status,
		"items", len(res.Items))
	return res.Items
}

func (c *Chain) fromAPI(runID string, pageNo int, pageURL string, items []map[string]any, scrapedAt time.Time) []*models.ProductRecord {
	var records []*models.ProductRecord
	for _, item := range items {
		fields, ok := c.mapItem(item)
		if !ok {
			continue
		}
		if rec := newRecord(runID, pageNo, pageURL, scrapedAt, itemURL(item), fields); c.accept(rec) {
			records = append(records, rec)
		}
	}
	return records
}

// accept is the last gate before a record leaves the chain.
func (c *Chain) accept(rec *models.ProductRecord) bool {
	problems := rec.Validate()
	if len(problems) == 0 {
		return true
	}
	c.logger.Debug("record rejected",
		"run_id", rec.RunID,
		"page", rec.PageNumber,
		"title", rec.Title,
		"problems", problems)
	return false
}

// mapItem turns one loosely-typed catalog item into parsed fields. Items
// without a title or a finite positive price are rejected.
func (c *Chain) mapItem(item map[string]any) (parser.Fields, bool) {
	title := parser.NormalizeTitle(firstString(item, apiTitleKeys))
	if title == "" {
		return parser.Fields{}, false
	}

	price, ok := firstNumber(item, apiPriceKeys)
	if !ok || price <= 0 {
		return parser.Fields{}, false
	}

	var old *float64
	if v, ok := firstNumber(item, apiOldPriceKeys); ok && v > price {
		old = &v
	}

	discount := ""
	if v, ok := firstNumber(item, apiDiscountKeys); ok && v > 0 && v < 100 {
		discount = strconv.Itoa(int(math.Round(v)))
	} else if old != nil {
		if pct := int(math.Round((*old - price) / *old * 100)); pct > 0 {
			discount = strconv.Itoa(pct)
		}
	}

	fields := c.parser.Describe(title, discount).WithPrices(price, old, discount)
	if brand := firstString(item, apiBrandKeys); brand != "" {
		fields.Brand = brand
	}
	return fields, true
}

func newRecord(runID string, pageNo int, pageURL string, scrapedAt time.Time, productURL *string, f parser.Fields) *models.ProductRecord {
	return &models.ProductRecord{
		RunID:        runID,
		ScrapedAt:    scrapedAt,
		PageNumber:   pageNo,
		PageURL:      pageURL,
		Source:       SiteOrigin,
		ProductURL:   productURL,
		Title:        f.Title,
		Brand:        f.Brand,
		ProductType:  f.ProductType,
		FatPct:       f.FatPct,
		PackQty:      f.PackQty,
		PackUnit:     f.PackUnit,
		PriceCurrent: f.PriceCurrent,
		PriceOld:     f.PriceOld,
		DiscountPct:  f.DiscountPct,
		PricePerUnit: f.PricePerUnit,
		PriceType:    f.PriceType,
	}
}

func itemURL(item map[string]any) *string {
	for _, key := range apiURLKeys {
		s, ok := catalog.Lookup(item, key).(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		if key == "slug" && !strings.Contains(s, "/") {
			s = "/product/" + s
		}
		if u := AbsoluteURL(s); u != nil {
			return u
		}
	}
	return nil
}

func firstString(item map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := catalog.Lookup(item, key).(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstNumber(item map[string]any, keys []string) (float64, bool) {
	for _, key := range keys {
		if v, ok := toFloat(catalog.Lookup(item, key)); ok {
			return v, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(n), ",", ".", 1), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
