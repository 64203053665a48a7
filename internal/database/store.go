package database

import (
	"context"
	"errors"

	"github.com/maltedev/silpo-price-scraper/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

// Reader is the query side shared by both stores.
type Reader interface {
	GetRun(ctx context.Context, id string) (*models.Run, error)
	// LatestRun returns the most recently started run.
	LatestRun(ctx context.Context) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*models.Run, error)
	ListPages(ctx context.Context, runID string) ([]*models.PageOutcome, error)
	ListProducts(ctx context.Context, runID string) ([]*models.ProductRecord, error)
}

// Store persists runs as they progress and serves them back.
type Store interface {
	StartRun(ctx context.Context, run *models.Run) error
	AppendPage(ctx context.Context, page *models.PageOutcome, products []*models.ProductRecord) error
	FinishRun(ctx context.Context, run *models.Run) error
	Reader
	Close() error
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}
