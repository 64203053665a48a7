package scraper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/silpo-price-scraper/internal/catalog"
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

const testCategory = "https://silpo.ua/category/molochni-produkty-ta-iaitsia-234"

// fakeSession serves scripted snapshots keyed by page URL.
type fakeSession struct {
	pages   map[string]func(ctx context.Context) (*PageSnapshot, error)
	fetched []string
	closed  bool
}

func (s *fakeSession) Fetch(ctx context.Context, url string) (*PageSnapshot, error) {
	s.fetched = append(s.fetched, url)
	fn, ok := s.pages[url]
	if !ok {
		return &PageSnapshot{URL: url}, nil
	}
	return fn(ctx)
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	session *fakeSession
	err     error
}

func (o *fakeOpener) Open(ctx context.Context) (Session, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type memorySink struct {
	mu        sync.Mutex
	started   *models.Run
	finished  *models.Run
	pages     []*models.PageOutcome
	products  []*models.ProductRecord
	appendErr error
	// finishErr is ctx.Err() as seen by FinishRun.
	finishErr error
}

func (s *memorySink) StartRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.started = &copied
	return nil
}

func (s *memorySink) AppendPage(ctx context.Context, page *models.PageOutcome, products []*models.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.pages = append(s.pages, page)
	s.products = append(s.products, products...)
	return nil
}

func (s *memorySink) FinishRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = run
	s.finishErr = ctx.Err()
	return nil
}

type countingPacer struct {
	waits, successes, errors int
}

func (p *countingPacer) Wait(ctx context.Context) error { p.waits++; return ctx.Err() }
func (p *countingPacer) RecordSuccess()                 { p.successes++ }
func (p *countingPacer) RecordError()                   { p.errors++ }

func page(url string, texts ...string) func(context.Context) (*PageSnapshot, error) {
	return func(context.Context) (*PageSnapshot, error) {
		snap := &PageSnapshot{URL: url}
		for i, text := range texts {
			snap.Candidates = append(snap.Candidates, Candidate{Href: "/product/" + string(rune('a'+i)), Text: text})
		}
		return snap, nil
	}
}

func challengePage(url string) func(context.Context) (*PageSnapshot, error) {
	return func(context.Context) (*PageSnapshot, error) {
		status := 403
		return &PageSnapshot{URL: url, Title: "Just a moment...", HTTPStatus: &status, Challenge: true}, nil
	}
}

func pageURL(t *testing.T, p int) string {
	t.Helper()
	u, err := PageURL(testCategory, p)
	require.NoError(t, err)
	return u
}

func newTestCoordinator(maxPages int, opener SessionOpener, sink Sink, pacer Pacer, source catalog.Source) *Coordinator {
	return NewCoordinator(
		RunConfig{CategoryURL: testCategory, MaxPages: maxPages, PageTimeout: time.Second},
		opener, newTestChain(source), sink, pacer, nil, discardLogger(),
	)
}

func unavailableCatalog() *MockCatalog {
	source := new(MockCatalog)
	source.On("FetchPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(catalog.Unavailable(0, "offline"))
	return source
}

func TestRunAllPagesOK(t *testing.T) {
	session := &fakeSession{pages: map[string]func(context.Context) (*PageSnapshot, error){
		pageURL(t, 1): page(pageURL(t, 1), "Молоко Яготинське 2.5% 900мл -15% 32,50 грн 38,00 грн", "Кефір Галичина 1% 870г 41,90 грн"),
		pageURL(t, 2): page(pageURL(t, 2), "Сметана Ферма 20% 350г 45,00 грн"),
	}}
	sink := &memorySink{}
	pacer := &countingPacer{}

	res, err := newTestCoordinator(3, &fakeOpener{session: session}, sink, pacer, unavailableCatalog()).Run(context.Background(), "run-ok")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusRunning, sink.started.Status)
	assert.Equal(t, models.RunStatusOK, res.Run.Status)
	assert.Equal(t, models.TerminationNormal, res.Run.Termination)
	assert.Equal(t, 3, res.Run.PagesProcessed)
	assert.Equal(t, 3, res.Run.TotalProducts)
	assert.NotNil(t, res.Run.FinishedAt)
	assert.Same(t, res.Run, sink.finished)

	require.Len(t, res.Pages, 3)
	for i, p := range res.Pages {
		assert.Equal(t, i+1, p.PageNumber)
	}
	assert.Equal(t, models.PageStatusOK, res.Pages[0].Status)
	assert.Equal(t, models.PageStatusOK, res.Pages[1].Status)
	assert.Equal(t, models.PageStatusEmpty, res.Pages[2].Status)

	assert.Len(t, sink.products, 3)
	assert.Equal(t, []string{pageURL(t, 1), pageURL(t, 2), pageURL(t, 3)}, session.fetched)
	assert.True(t, session.closed)
	assert.Equal(t, 2, pacer.waits)
	assert.Equal(t, 3, pacer.successes)
}

func TestRunChallengeOnFirstPage(t *testing.T) {
	session := &fakeSession{pages: map[string]func(context.Context) (*PageSnapshot, error){
		pageURL(t, 1): challengePage(pageURL(t, 1)),
	}}
	sink := &memorySink{}
	source := new(MockCatalog)

	res, err := newTestCoordinator(5, &fakeOpener{session: session}, sink, nil, source).Run(context.Background(), "run-challenge")
	require.NoError(t, err)

	require.Len(t, res.Pages, 1)
	assert.Equal(t, models.PageStatusChallenge, res.Pages[0].Status)
	assert.Equal(t, 403, *res.Pages[0].HTTPStatus)
	assert.Empty(t, res.Products)
	assert.Equal(t, models.RunStatusZero, res.Run.Status)
	assert.Equal(t, models.TerminationChallenge, res.Run.Termination)
	assert.Contains(t, res.Run.Note, "page 1")
	assert.Len(t, session.fetched, 1)
	assert.True(t, session.closed)
	source.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunChallengeSavesSnapshot(t *testing.T) {
	const markup = `<html><head><title>Just a moment...</title></head><body><div id="cf-browser-verification"></div></body></html>`

	tests := []struct {
		name     string
		dir      bool
		html     string
		wantFile bool
	}{
		{"snapshot written", true, markup, true},
		{"snapshot dir disabled", false, markup, false},
		{"no markup captured", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := ""
			if tt.dir {
				dir = filepath.Join(t.TempDir(), "snapshots")
			}
			session := &fakeSession{pages: map[string]func(context.Context) (*PageSnapshot, error){
				pageURL(t, 1): page(pageURL(t, 1), "Молоко Яготинське 2.5% 900мл 32,50 грн"),
				pageURL(t, 2): func(context.Context) (*PageSnapshot, error) {
					return &PageSnapshot{URL: pageURL(t, 2), Title: "Just a moment...", Challenge: true, HTML: tt.html}, nil
				},
			}}

			c := NewCoordinator(
				RunConfig{CategoryURL: testCategory, MaxPages: 5, PageTimeout: time.Second, SnapshotDir: dir},
				&fakeOpener{session: session}, newTestChain(unavailableCatalog()), &memorySink{}, nil, nil, discardLogger(),
			)

			res, err := c.Run(context.Background(), "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0")
			require.NoError(t, err)
			assert.Equal(t, models.TerminationChallenge, res.Run.Termination)

			want := filepath.Join(dir, "challenge_0f1e2d3c_2.html")
			if !tt.wantFile {
				assert.NotContains(t, res.Run.Note, "snapshot")
				if dir != "" {
					assert.NoFileExists(t, want)
				}
				return
			}

			data, err := os.ReadFile(want)
			require.NoError(t, err)
			assert.Equal(t, tt.html, string(data))
			assert.Contains(t, res.Run.Note, want)
		})
	}
}

func TestRunChallengeKeepsEarlierProducts(t *testing.T) {
	session := &fakeSession{pages: map[string]func(context.Context) (*PageSnapshot, error){
		pageURL(t, 1): page(pageURL(t, 1), "Молоко Яготинське 2.5% 900мл 32,50 грн"),
		pageURL(t, 2): challengePage(pageURL(t, 2)),
	}}
	sink := &memorySink{}

	res, err := newTestCoordinator(5, &fakeOpener{session: session}, sink, nil, unavailableCatalog()).Run(context.Background(), "run-partial")
	require.NoError(t, err)

	assert.Len(t, res.Pages, 2)
	assert.Len(t, res.Products, 1)
	assert.Equal(t, models.RunStatusOK, res.Run.Status)
	assert.Equal(t, models.TerminationChallenge, res.Run.Termination)
}

func TestRunPageErrorContinues(t *testing.T) {
	session := &fakeSession{pages: map[string]func(context.Context) (*PageSnapshot, error){
		pageURL(t, 1): func(context.Context) (*PageSnapshot, error) { return nil, errors.New("navigation timeout") },
		pageURL(t, 2): page(pageURL(t, 2), "Молоко Яготинське 2.5% 900мл 32,50 грн"),
	}}
	sink := &memorySink{}
	pacer := &countingPacer{}

	res, err := newTestCoordinator(2, &fakeOpener{session: session}, sink, pacer, unavailableCatalog()).Run(context.Background(), "run-err")
	require.NoError(t, err)

	require.Len(t, res.Pages, 2)
	assert.Equal(t, models.PageStatusError, res.Pages[0].Status)
	require.NotNil(t, res.Pages[0].Error)
	assert.Contains(t, *res.Pages[0].Error, "navigation timeout")
	assert.Equal(t, models.PageStatusOK, res.Pages[1].Status)
	assert.Equal(t, models.RunStatusOK, res.Run.Status)
	assert.Equal(t, 1, pacer.errors)
	assert.Equal(t, 1, pacer.successes)
}

func TestRunZeroProducts(t *testing.T) {
	sink := &memorySink{}

	res, err := newTestCoordinator(2, &fakeOpener{session: &fakeSession{}}, sink, nil, unavailableCatalog()).Run(context.Background(), "run-zero")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusZero, res.Run.Status)
	assert.Equal(t, models.TerminationNormal, res.Run.Termination)
	assert.Equal(t, "zero_products_saved", res.Run.Note)
	assert.Len(t, res.Pages, 2)
}

func TestRunSessionStartFailure(t *testing.T) {
	sink := &memorySink{}

	res, err := newTestCoordinator(3, &fakeOpener{err: errors.New("chromium not installed")}, sink, nil, nil).Run(context.Background(), "run-fault")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusError, res.Run.Status)
	assert.Equal(t, models.TerminationFault, res.Run.Termination)
	assert.Contains(t, res.Run.Note, "chromium not installed")
	assert.Empty(t, res.Pages)
	assert.NotNil(t, sink.finished)
}

func TestRunSinkFailureIsFault(t *testing.T) {
	session := &fakeSession{}
	sink := &memorySink{appendErr: errors.New("disk full")}

	res, err := newTestCoordinator(3, &fakeOpener{session: session}, sink, nil, unavailableCatalog()).Run(context.Background(), "run-sink")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusError, res.Run.Status)
	assert.Contains(t, res.Run.Note, "disk full")
	assert.Len(t, session.fetched, 1)
	assert.True(t, session.closed)
}

func TestRunPanicIsRecovered(t *testing.T) {
	session := &fakeSession{pages: map[string]func(context.Context) (*PageSnapshot, error){
		pageURL(t, 1): func(context.Context) (*PageSnapshot, error) { panic("boom") },
	}}
	sink := &memorySink{}

	res, err := newTestCoordinator(2, &fakeOpener{session: session}, sink, nil, nil).Run(context.Background(), "run-panic")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusError, res.Run.Status)
	assert.Contains(t, res.Run.Note, "boom")
	assert.True(t, session.closed)
	assert.NotNil(t, sink.finished)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	session := &fakeSession{pages: map[string]func(context.Context) (*PageSnapshot, error){
		pageURL(t, 1): func(context.Context) (*PageSnapshot, error) {
			cancel()
			return &PageSnapshot{URL: pageURL(t, 1)}, nil
		},
	}}
	sink := &memorySink{}

	res, err := newTestCoordinator(5, &fakeOpener{session: session}, sink, &countingPacer{}, nil).Run(ctx, "run-cancel")
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, res.Run.Status)
	assert.Equal(t, models.TerminationCancelled, res.Run.Termination)
	assert.Len(t, res.Pages, 1)
	assert.True(t, session.closed)

	require.NotNil(t, sink.finished)
	assert.NoError(t, sink.finishErr)
}

func TestRunGeneratesID(t *testing.T) {
	sink := &memorySink{}

	res, err := newTestCoordinator(1, &fakeOpener{session: &fakeSession{}}, sink, nil, nil).Run(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, res.Run.ID, 36)
	assert.Equal(t, res.Run.ID, sink.started.ID)
}
