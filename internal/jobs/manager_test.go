package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/silpo-price-scraper/internal/models"
	"github.com/maltedev/silpo-price-scraper/internal/scraper"
)

type blockingRunner struct {
	release chan struct{}
	started chan string
	calls   atomic.Int32
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		release: make(chan struct{}),
		started: make(chan string, 10),
	}
}

func (r *blockingRunner) Run(ctx context.Context, runID string) (*scraper.RunResult, error) {
	r.calls.Add(1)
	select {
	case r.started <- runID:
	default:
	}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	if r.err != nil {
		return nil, r.err
	}
	run := models.NewRun(runID, "https://silpo.ua/category/x-1", 1, time.Now())
	run.Finalize(models.RunStatusZero, models.TerminationNormal, "", time.Now())
	return &scraper.RunResult{Run: run}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTriggerIsSingleFlight(t *testing.T) {
	runner := newBlockingRunner()
	m := NewManager(context.Background(), runner, testLogger())

	runID, err := m.Trigger()
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	assert.Equal(t, runID, <-runner.started)

	current, ok := m.Current()
	assert.True(t, ok)
	assert.Equal(t, runID, current)

	_, err = m.Trigger()
	assert.ErrorIs(t, err, ErrRunInProgress)

	_, err = m.RunNow(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(runner.release)
	m.Wait()

	_, ok = m.Current()
	assert.False(t, ok)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestRunNowReleasesOnError(t *testing.T) {
	runner := newBlockingRunner()
	runner.err = errors.New("sink unavailable")
	close(runner.release)
	m := NewManager(context.Background(), runner, testLogger())

	_, err := m.RunNow(context.Background())
	assert.EqualError(t, err, "sink unavailable")

	_, ok := m.Current()
	assert.False(t, ok)

	_, err = m.RunNow(context.Background())
	assert.EqualError(t, err, "sink unavailable")
	assert.Equal(t, int32(2), runner.calls.Load())
}

func TestBackgroundRunCancelledWithManager(t *testing.T) {
	runner := newBlockingRunner()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(ctx, runner, testLogger())

	_, err := m.Trigger()
	require.NoError(t, err)
	<-runner.started

	cancel()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("background run did not observe cancellation")
	}
}

func TestStartWorker(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	m := NewManager(context.Background(), runner, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.StartWorker(ctx, 20*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
