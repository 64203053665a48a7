// Package metrics holds the Prometheus collectors shared by the crawl loop,
// the extraction chain and the HTTP API. All methods are safe on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry        *prometheus.Registry
	PagesTotal      *prometheus.CounterVec
	ProductsTotal   *prometheus.CounterVec
	ItemsSeenTotal  prometheus.Counter
	FallbacksTotal  *prometheus.CounterVec
	RunsTotal       *prometheus.CounterVec
	PageDuration    prometheus.Histogram
	LastRunProducts prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silpo_pages_total",
			Help: "Listing pages processed, by outcome status.",
		},
		[]string{"status"},
	)
	products := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silpo_products_total",
			Help: "Product records extracted, by extraction stage.",
		},
		[]string{"stage"},
	)
	itemsSeen := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "silpo_items_seen_total",
			Help: "Raw candidate items seen before parsing.",
		},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silpo_api_fallback_total",
			Help: "Catalog API fallback attempts, by result.",
		},
		[]string{"result"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "silpo_runs_total",
			Help: "Finished runs, by terminal status.",
		},
		[]string{"status"},
	)
	pageDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "silpo_page_duration_seconds",
			Help:    "Time spent fetching and extracting one listing page.",
			Buckets: prometheus.DefBuckets,
		},
	)
	lastRun := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "silpo_last_run_products",
			Help: "Products extracted by the most recently finished run.",
		},
	)

	registry.MustRegister(pages, products, itemsSeen, fallbacks, runs, pageDuration, lastRun)

	return &Metrics{
		Registry:        registry,
		PagesTotal:      pages,
		ProductsTotal:   products,
		ItemsSeenTotal:  itemsSeen,
		FallbacksTotal:  fallbacks,
		RunsTotal:       runs,
		PageDuration:    pageDuration,
		LastRunProducts: lastRun,
	}
}

func (m *Metrics) IncPage(status string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) AddProducts(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsTotal.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) AddItemsSeen(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsSeenTotal.Add(float64(n))
}

func (m *Metrics) IncFallback(result string) {
	if m == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(result).Inc()
}

// ObservePage records the wall time of one page iteration.
func (m *Metrics) ObservePage(d time.Duration) {
	if m == nil {
		return
	}
	m.PageDuration.Observe(d.Seconds())
}

func (m *Metrics) RunFinished(status string, products int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.LastRunProducts.Set(float64(products))
}
