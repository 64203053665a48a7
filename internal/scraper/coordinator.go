package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/silpo-price-scraper/internal/metrics"
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

// finalizeTimeout bounds FinishRun, which runs even after cancellation.
const finalizeTimeout = 30 * time.Second

// RunConfig is copied into the coordinator once and never changes during a run.
type RunConfig struct {
	CategoryURL string
	MaxPages    int
	PageTimeout time.Duration
	// SnapshotDir receives the HTML of challenge pages. Empty disables it.
	SnapshotDir string
}

type RunResult struct {
	Run      *models.Run
	Pages    []*models.PageOutcome
	Products []*models.ProductRecord
}

// Coordinator drives the page loop of a run. Pages are processed strictly
// one after another through a single browser session.
type Coordinator struct {
	cfg     RunConfig
	opener  SessionOpener
	chain   *Chain
	sink    Sink
	pacer   Pacer
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewCoordinator(cfg RunConfig, opener SessionOpener, chain *Chain, sink Sink, pacer Pacer, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if cfg.CategoryURL == "" {
		cfg.CategoryURL = DefaultCategoryURL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 60 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		opener:  opener,
		chain:   chain,
		sink:    sink,
		pacer:   pacer,
		metrics: m,
		logger:  logger.With("component", "run_coordinator"),
		now:     time.Now,
	}
}

// loopState is the outcome of the page loop before the run status is derived.
type loopState struct {
	termination models.Termination
	status      models.RunStatus // set only for ERROR and FAILED
	note        string
}

// Run executes one crawl. The returned error is non-nil only when the run
// could not be registered with the sink or finalized; every other failure is
// reported through the run's status and note.
func (c *Coordinator) Run(ctx context.Context, runID string) (*RunResult, error) {
	if runID == "" {
		runID = uuid.New().String()
	}

	run := models.NewRun(runID, c.cfg.CategoryURL, c.cfg.MaxPages, c.now().UTC())
	logger := c.logger.With("run_id", runID)

	if err := c.sink.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	logger.Info("run started",
		"category_url", c.cfg.CategoryURL,
		"max_pages", c.cfg.MaxPages)

	result := &RunResult{Run: run}
	state := c.loop(ctx, logger, result)

	status := state.status
	if status == "" {
		status = models.RunStatusZero
		if len(result.Products) > 0 {
			status = models.RunStatusOK
		}
	}
	note := state.note
	if note == "" && status == models.RunStatusZero {
		note = "zero_products_saved"
	}

	run.PagesProcessed = len(result.Pages)
	run.TotalProducts = len(result.Products)
	run.Finalize(status, state.termination, note, c.now().UTC())

	finCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := c.sink.FinishRun(finCtx, run); err != nil {
		logger.Error("failed to finalize run", "error", err)
		return result, fmt.Errorf("failed to finish run: %w", err)
	}

	c.metrics.RunFinished(string(run.Status), run.TotalProducts)
	logger.Info("run finished",
		"status", run.Status,
		"termination", run.Termination,
		"pages", run.PagesProcessed,
		"products", run.TotalProducts,
		"note", run.Note)

	return result, nil
}

func (c *Coordinator) loop(ctx context.Context, logger *slog.Logger, result *RunResult) (state loopState) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("run panicked", "panic", r)
			state = loopState{
				termination: models.TerminationFault,
				status:      models.RunStatusError,
				note:        fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	session, err := c.opener.Open(ctx)
	if err != nil {
		logger.Error("failed to open browser session", "error", err)
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		return loopState{
			termination: models.TerminationFault,
			status:      models.RunStatusError,
			note:        fmt.Sprintf("session start failed: %v", err),
		}
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close browser session", "error", err)
		}
	}()

	runID := result.Run.ID
	for p := 1; p <= c.cfg.MaxPages; p++ {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		if p > 1 && c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return cancelled(ctx)
			}
		}

		url, err := PageURL(c.cfg.CategoryURL, p)
		if err != nil {
			return loopState{
				termination: models.TerminationFault,
				status:      models.RunStatusError,
				note:        err.Error(),
			}
		}

		started := time.Now()
		logger.Info("page fetch", "page", p, "url", url)
		products, outcome, snapshot := c.page(ctx, session, runID, p, url)
		c.metrics.ObservePage(time.Since(started))
		c.metrics.IncPage(string(outcome.Status))

		if err := c.sink.AppendPage(ctx, outcome, products); err != nil {
			logger.Error("failed to persist page", "page", p, "error", err)
			if ctx.Err() != nil {
				return cancelled(ctx)
			}
			return loopState{
				termination: models.TerminationFault,
				status:      models.RunStatusError,
				note:        fmt.Sprintf("persist page %d: %v", p, err),
			}
		}
		result.Pages = append(result.Pages, outcome)
		result.Products = append(result.Products, products...)

		switch outcome.Status {
		case models.PageStatusChallenge:
			logger.Warn("challenge detected", "page", p, "url", url, "snapshot", snapshot)
			note := fmt.Sprintf("challenge detected on page %d", p)
			if snapshot != "" {
				note += ", snapshot " + snapshot
			}
			return loopState{
				termination: models.TerminationChallenge,
				note:        note,
			}
		case models.PageStatusError:
			if ctx.Err() != nil {
				return cancelled(ctx)
			}
			c.recordPace(false)
		default:
			c.recordPace(true)
		}
	}

	return loopState{termination: models.TerminationNormal}
}

// page fetches and extracts one page. Fetch failures become an ERROR outcome.
// The markup of a challenge page is saved and its path returned.
func (c *Coordinator) page(ctx context.Context, session Session, runID string, p int, url string) ([]*models.ProductRecord, *models.PageOutcome, string) {
	pageCtx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	snap, err := session.Fetch(pageCtx, url)
	if err != nil {
		c.logger.Warn("page error",
			"run_id", runID,
			"page", p,
			"url", url,
			"error", err)
		return nil, &models.PageOutcome{
			RunID:      runID,
			PageNumber: p,
			URL:        url,
			Status:     models.PageStatusError,
			Error:      models.StringPtr(models.Truncate(err.Error(), models.MaxNoteLength)),
		}, ""
	}
	if snap.URL == "" {
		snap.URL = url
	}

	products, outcome := c.chain.Extract(pageCtx, runID, p, snap)
	if !snap.Challenge {
		return products, outcome, ""
	}

	snapshot, err := c.saveSnapshot(runID, p, snap.HTML)
	if err != nil {
		c.logger.Warn("failed to save challenge snapshot", "run_id", runID, "page", p, "error", err)
	}
	return products, outcome, snapshot
}

// saveSnapshot writes challenge_<run8>_<page>.html under SnapshotDir.
func (c *Coordinator) saveSnapshot(runID string, p int, content string) (string, error) {
	if c.cfg.SnapshotDir == "" || content == "" {
		return "", nil
	}
	if err := os.MkdirAll(c.cfg.SnapshotDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	prefix := runID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	path := filepath.Join(c.cfg.SnapshotDir, fmt.Sprintf("challenge_%s_%d.html", prefix, p))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

func (c *Coordinator) recordPace(ok bool) {
	if c.pacer == nil {
		return
	}
	if ok {
		c.pacer.RecordSuccess()
	} else {
		c.pacer.RecordError()
	}
}

func cancelled(ctx context.Context) loopState {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = errors.New("cancelled")
	}
	return loopState{
		termination: models.TerminationCancelled,
		status:      models.RunStatusFailed,
		note:        fmt.Sprintf("run cancelled: %v", cause),
	}
}
