package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maltedev/silpo-price-scraper/internal/models"
)

// sqliteTime is fixed-width so that text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000Z"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	category_url    TEXT NOT NULL,
	max_pages       INTEGER NOT NULL,
	started_at      TEXT NOT NULL,
	finished_at     TEXT,
	status          TEXT NOT NULL,
	termination     TEXT NOT NULL DEFAULT '',
	pages_processed INTEGER NOT NULL DEFAULT 0,
	total_products  INTEGER NOT NULL DEFAULT 0,
	note            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS page_outcomes (
	run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	page_number  INTEGER NOT NULL,
	url          TEXT NOT NULL,
	status       TEXT NOT NULL,
	http_status  INTEGER,
	items_seen   INTEGER NOT NULL,
	items_parsed INTEGER NOT NULL,
	error        TEXT,
	PRIMARY KEY (run_id, page_number)
);

CREATE TABLE IF NOT EXISTS products (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	scraped_at     TEXT NOT NULL,
	page_number    INTEGER NOT NULL,
	page_url       TEXT NOT NULL,
	source         TEXT NOT NULL,
	product_url    TEXT,
	title          TEXT NOT NULL,
	brand          TEXT NOT NULL DEFAULT '',
	product_type   TEXT NOT NULL DEFAULT '',
	fat_pct        TEXT NOT NULL DEFAULT '',
	pack_qty       INTEGER,
	pack_unit      TEXT NOT NULL DEFAULT '',
	price_current  REAL NOT NULL,
	price_old      REAL,
	discount_pct   TEXT NOT NULL DEFAULT '',
	price_per_unit REAL,
	price_type     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_run ON products(run_id, page_number, id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// SQLiteStore is the default single-file store.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StartRun(ctx context.Context, run *models.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, category_url, max_pages, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.CategoryURL, run.MaxPages, formatTime(run.StartedAt), string(run.Status))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendPage(ctx context.Context, page *models.PageOutcome, products []*models.ProductRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO page_outcomes (
			run_id, page_number, url, status, http_status, items_seen, items_parsed, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		page.RunID, page.PageNumber, page.URL, string(page.Status), page.HTTPStatus,
		page.ItemsSeen, page.ItemsParsed, page.Error)
	if err != nil {
		return fmt.Errorf("failed to insert page outcome: %w", err)
	}

	if len(products) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO products (
				run_id, scraped_at, page_number, page_url, source, product_url,
				title, brand, product_type, fat_pct, pack_qty, pack_unit,
				price_current, price_old, discount_pct, price_per_unit, price_type
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare product insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range products {
			if _, err := stmt.ExecContext(ctx,
				p.RunID, formatTime(p.ScrapedAt), p.PageNumber, p.PageURL, p.Source, p.ProductURL,
				p.Title, p.Brand, p.ProductType, p.FatPct, p.PackQty, p.PackUnit,
				p.PriceCurrent, p.PriceOld, p.DiscountPct, p.PricePerUnit, string(p.PriceType),
			); err != nil {
				return fmt.Errorf("failed to insert product: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.Run) error {
	var finished *string
	if run.FinishedAt != nil {
		v := formatTime(*run.FinishedAt)
		finished = &v
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, status = ?, termination = ?, pages_processed = ?, total_products = ?, note = ?
		WHERE id = ?`,
		finished, string(run.Status), string(run.Termination),
		run.PagesProcessed, run.TotalProducts, run.Note, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	return scanSQLiteRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
}

func (s *SQLiteStore) LatestRun(ctx context.Context) (*models.Run, error) {
	return scanSQLiteRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) ListPages(ctx context.Context, runID string) ([]*models.PageOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, page_number, url, status, http_status, items_seen, items_parsed, error
		FROM page_outcomes
		WHERE run_id = ?
		ORDER BY page_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []*models.PageOutcome
	for rows.Next() {
		var (
			p      models.PageOutcome
			status string
		)
		if err := rows.Scan(&p.RunID, &p.PageNumber, &p.URL, &status, &p.HTTPStatus,
			&p.ItemsSeen, &p.ItemsParsed, &p.Error); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		p.Status = models.PageStatus(status)
		pages = append(pages, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return pages, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context, runID string) ([]*models.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, scraped_at, page_number, page_url, source, product_url,
			title, brand, product_type, fat_pct, pack_qty, pack_unit,
			price_current, price_old, discount_pct, price_per_unit, price_type
		FROM products
		WHERE run_id = ?
		ORDER BY page_number, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.ProductRecord
	for rows.Next() {
		var (
			p                    models.ProductRecord
			scrapedAt, priceType string
		)
		if err := rows.Scan(&p.RunID, &scrapedAt, &p.PageNumber, &p.PageURL, &p.Source, &p.ProductURL,
			&p.Title, &p.Brand, &p.ProductType, &p.FatPct, &p.PackQty, &p.PackUnit,
			&p.PriceCurrent, &p.PriceOld, &p.DiscountPct, &p.PricePerUnit, &priceType); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		if p.ScrapedAt, err = parseTime(scrapedAt); err != nil {
			return nil, err
		}
		p.PriceType = models.PriceType(priceType)
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row rowScanner) (*models.Run, error) {
	var (
		run                            models.Run
		startedAt, status, termination string
		finishedAt                     *string
	)
	err := row.Scan(&run.ID, &run.CategoryURL, &run.MaxPages, &startedAt, &finishedAt,
		&status, &termination, &run.PagesProcessed, &run.TotalProducts, &run.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if finishedAt != nil {
		t, err := parseTime(*finishedAt)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	run.Status = models.RunStatus(status)
	run.Termination = models.Termination(termination)
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
