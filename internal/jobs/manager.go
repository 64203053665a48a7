package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/silpo-price-scraper/internal/scraper"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Runner executes one run. scraper.Coordinator implements it.
type Runner interface {
	Run(ctx context.Context, runID string) (*scraper.RunResult, error)
}

// Manager allows at most one run at a time across API triggers and the
// interval worker.
type Manager struct {
	ctx    context.Context
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	current string
	wg      sync.WaitGroup
}

// NewManager binds background runs to ctx; cancelling it cancels them.
func NewManager(ctx context.Context, runner Runner, logger *slog.Logger) *Manager {
	return &Manager{
		ctx:    ctx,
		runner: runner,
		logger: logger.With("component", "job_manager"),
	}
}

// Current returns the id of the active run, if any.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != ""
}

func (m *Manager) acquire() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != "" {
		return "", ErrRunInProgress
	}
	m.current = uuid.New().String()
	return m.current, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
}

// RunNow executes a run synchronously.
func (m *Manager) RunNow(ctx context.Context) (*scraper.RunResult, error) {
	runID, err := m.acquire()
	if err != nil {
		return nil, err
	}
	defer m.release()

	return m.runner.Run(ctx, runID)
}

// Trigger starts a run in the background and returns its id.
func (m *Manager) Trigger() (string, error) {
	runID, err := m.acquire()
	if err != nil {
		return "", err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release()

		if _, err := m.runner.Run(m.ctx, runID); err != nil {
			m.logger.Error("background run failed", "run_id", runID, "error", err)
		}
	}()

	m.logger.Info("run triggered", "run_id", runID)
	return runID, nil
}

// Wait blocks until every background run has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// StartWorker runs on every tick of interval until ctx is done. Ticks that
// land on an active run are skipped.
func (m *Manager) StartWorker(ctx context.Context, interval time.Duration) {
	m.logger.Info("job worker started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("job worker stopping")
			return
		case <-ticker.C:
			result, err := m.RunNow(ctx)
			switch {
			case errors.Is(err, ErrRunInProgress):
				m.logger.Info("skipping scheduled run, previous run still active")
			case err != nil:
				m.logger.Error("scheduled run failed", "error", err)
			default:
				m.logger.Info("scheduled run complete",
					"run_id", result.Run.ID,
					"status", result.Run.Status,
					"products", result.Run.TotalProducts)
			}
		}
	}
}
