package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maltedev/silpo-price-scraper/internal/models"
)

// DB is the PostgreSQL store.
type DB struct {
	pool   *pgxpool.Pool
	outbox *OutboxRepository
	stream string
}

type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

func New(ctx context.Context, cfg Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLife
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdle

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// EnableOutbox makes FinishRun record a RUN_FINISHED event for stream in
// the same transaction as the run update.
func (db *DB) EnableOutbox(stream string) {
	db.outbox = NewOutboxRepository(db)
	db.stream = stream
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

func (db *DB) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	category_url    TEXT NOT NULL,
	max_pages       INTEGER NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ,
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
	id             BIGSERIAL PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	scraped_at     TIMESTAMPTZ NOT NULL,
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
	price_current  DOUBLE PRECISION NOT NULL,
	price_old      DOUBLE PRECISION,
	discount_pct   TEXT NOT NULL DEFAULT '',
	price_per_unit DOUBLE PRECISION,
	price_type     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_run ON products(run_id, page_number, id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS outbox_event (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	target_stream  TEXT NOT NULL,
	status         TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_event(status, next_retry_at);
`

func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (db *DB) StartRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO runs (id, category_url, max_pages, started_at, status)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := db.pool.Exec(ctx, query,
		run.ID, run.CategoryURL, run.MaxPages, run.StartedAt, string(run.Status),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

var productColumns = []string{
	"run_id", "scraped_at", "page_number", "page_url", "source", "product_url",
	"title", "brand", "product_type", "fat_pct", "pack_qty", "pack_unit",
	"price_current", "price_old", "discount_pct", "price_per_unit", "price_type",
}

func (db *DB) AppendPage(ctx context.Context, page *models.PageOutcome, products []*models.ProductRecord) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO page_outcomes (
				run_id, page_number, url, status, http_status,
				items_seen, items_parsed, error
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

		if _, err := tx.Exec(ctx, query,
			page.RunID, page.PageNumber, page.URL, string(page.Status), page.HTTPStatus,
			page.ItemsSeen, page.ItemsParsed, page.Error,
		); err != nil {
			return fmt.Errorf("failed to insert page outcome: %w", err)
		}

		if len(products) == 0 {
			return nil
		}

		rows := make([][]any, 0, len(products))
		for _, p := range products {
			rows = append(rows, []any{
				p.RunID, p.ScrapedAt, p.PageNumber, p.PageURL, p.Source, p.ProductURL,
				p.Title, p.Brand, p.ProductType, p.FatPct, p.PackQty, p.PackUnit,
				p.PriceCurrent, p.PriceOld, p.DiscountPct, p.PricePerUnit, string(p.PriceType),
			})
		}

		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"products"}, productColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("failed to copy products: %w", err)
		}
		return nil
	})
}

func (db *DB) FinishRun(ctx context.Context, run *models.Run) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE runs
			SET finished_at = $2, status = $3, termination = $4,
				pages_processed = $5, total_products = $6, note = $7
			WHERE id = $1`

		tag, err := tx.Exec(ctx, query,
			run.ID, run.FinishedAt, string(run.Status), string(run.Termination),
			run.PagesProcessed, run.TotalProducts, run.Note,
		)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRunNotFound
		}

		if db.outbox == nil {
			return nil
		}

		event, err := NewRunFinishedEvent(run, db.stream)
		if err != nil {
			return err
		}
		return db.outbox.InsertWithTx(ctx, tx, event)
	})
}

const runColumns = `id, category_url, max_pages, started_at, finished_at, status,
	termination, pages_processed, total_products, note`

func (db *DB) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	return scanPgRun(row)
}

func (db *DB) LatestRun(ctx context.Context) (*models.Run, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`)
	return scanPgRun(row)
}

func (db *DB) ListRuns(ctx context.Context, limit int) ([]*models.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT $1`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanPgRun(rows)
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

func (db *DB) ListPages(ctx context.Context, runID string) ([]*models.PageOutcome, error) {
	query := `
		SELECT run_id, page_number, url, status, http_status, items_seen, items_parsed, error
		FROM page_outcomes
		WHERE run_id = $1
		ORDER BY page_number`

	rows, err := db.pool.Query(ctx, query, runID)
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

func (db *DB) ListProducts(ctx context.Context, runID string) ([]*models.ProductRecord, error) {
	query := `
		SELECT run_id, scraped_at, page_number, page_url, source, product_url,
			title, brand, product_type, fat_pct, pack_qty, pack_unit,
			price_current, price_old, discount_pct, price_per_unit, price_type
		FROM products
		WHERE run_id = $1
		ORDER BY page_number, id`

	rows, err := db.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*models.ProductRecord
	for rows.Next() {
		var (
			p         models.ProductRecord
			priceType string
		)
		if err := rows.Scan(&p.RunID, &p.ScrapedAt, &p.PageNumber, &p.PageURL, &p.Source, &p.ProductURL,
			&p.Title, &p.Brand, &p.ProductType, &p.FatPct, &p.PackQty, &p.PackUnit,
			&p.PriceCurrent, &p.PriceOld, &p.DiscountPct, &p.PricePerUnit, &priceType); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.PriceType = models.PriceType(priceType)
		products = append(products, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return products, nil
}

func scanPgRun(row pgx.Row) (*models.Run, error) {
	var (
		run                 models.Run
		status, termination string
	)
	err := row.Scan(&run.ID, &run.CategoryURL, &run.MaxPages, &run.StartedAt, &run.FinishedAt,
		&status, &termination, &run.PagesProcessed, &run.TotalProducts, &run.Note)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	run.Status = models.RunStatus(status)
	run.Termination = models.Termination(termination)
	return &run, nil
}
