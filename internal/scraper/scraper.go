package scraper

import (
	"context"
	"errors"

	"github.com/maltedev/silpo-price-scraper/internal/models"
)

const (
	// SiteOrigin resolves relative product links and is every record's source.
	SiteOrigin = "https://silpo.ua"

	// DefaultCategoryURL is the dairy and eggs listing.
	DefaultCategoryURL = "https://silpo.ua/category/molochni-produkty-ta-iaitsia-234"
)

// ErrChallenge classifies a page served as an anti-bot interstitial.
var ErrChallenge = errors.New("anti-bot challenge detected")

// Candidate is a product link and its own visible text.
type Candidate struct {
	Href string
	Text string
}

// PageSnapshot is what one navigation produced. When Challenge is set,
// Candidates is always empty and HTML holds the interstitial markup.
type PageSnapshot struct {
	URL         string
	Title       string
	BodySnippet string
	HTTPStatus  *int
	Candidates  []Candidate
	Challenge   bool
	HTML        string
}

// Session is a single browser page owned by one run.
type Session interface {
	Fetch(ctx context.Context, url string) (*PageSnapshot, error)
	Close() error
}

type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// Sink receives a run as it progresses. AppendPage is called once per
// attempted page, in page order.
type Sink interface {
	StartRun(ctx context.Context, run *models.Run) error
	AppendPage(ctx context.Context, page *models.PageOutcome, products []*models.ProductRecord) error
	FinishRun(ctx context.Context, run *models.Run) error
}

// Pacer spaces page requests. ratelimit.AdaptiveRateLimiter implements it.
type Pacer interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}
