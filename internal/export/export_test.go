package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/maltedev/silpo-price-scraper/internal/database"
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

type fakeReader struct {
	runs     map[string]*models.Run
	latest   string
	products map[string][]*models.ProductRecord
}

func (f *fakeReader) GetRun(_ context.Context, id string) (*models.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, database.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeReader) LatestRun(ctx context.Context) (*models.Run, error) {
	return f.GetRun(ctx, f.latest)
}

func (f *fakeReader) ListRuns(context.Context, int) ([]*models.Run, error) {
	return nil, nil
}

func (f *fakeReader) ListPages(context.Context, string) ([]*models.PageOutcome, error) {
	return nil, nil
}

func (f *fakeReader) ListProducts(_ context.Context, runID string) ([]*models.ProductRecord, error) {
	return f.products[runID], nil
}

func sampleProducts(runID string) []*models.ProductRecord {
	scraped := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	return []*models.ProductRecord{
		{
			RunID: runID, ScrapedAt: scraped, PageNumber: 1,
			PageURL:    "https://silpo.ua/category/molochni-produkty-ta-iaitsia-234",
			Source:     "https://silpo.ua",
			ProductURL: models.StringPtr("https://silpo.ua/product/moloko"),
			Title:      "Молоко Яготинське 2.5% 900мл", Brand: "Яготинське", ProductType: "молоко",
			FatPct: "2.5", PackQty: models.IntPtr(900), PackUnit: models.UnitMillilitres,
			PriceCurrent: 32.5, PriceOld: models.Float64Ptr(38), DiscountPct: "15",
			PricePerUnit: models.Float64Ptr(36.11), PriceType: models.PriceTypeDiscount,
		},
		{
			RunID: runID, ScrapedAt: scraped, PageNumber: 2,
			PageURL:      "https://silpo.ua/category/molochni-produkty-ta-iaitsia-234?page=2",
			Source:       "https://silpo.ua",
			Title:        "Яйця курячі 10шт", ProductType: "яйця",
			PriceCurrent: 54.9, PriceType: models.PriceTypeRegular,
		},
	}
}

func newTestExporter(t *testing.T, reader database.Reader) (*Exporter, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "exports")
	return NewExporter(reader, dir, slog.New(slog.NewTextHandler(io.Discard, nil))), dir
}

func TestRows(t *testing.T) {
	rows := Rows(sampleProducts("run-1"))
	require.Len(t, rows, 2)

	for _, row := range rows {
		assert.Len(t, row, len(Header))
	}

	assert.Equal(t, []string{
		"2024-03-01T10:30:00Z",
		"https://silpo.ua/category/molochni-produkty-ta-iaitsia-234",
		"1", "https://silpo.ua", "Молоко Яготинське 2.5% 900мл", "Яготинське", "молоко",
		"2.5", "900", "мл", "32.5", "38", "15", "36.11", "discount",
		"https://silpo.ua/product/moloko",
	}, rows[0])

	assert.Equal(t, "", rows[1][8])
	assert.Equal(t, "", rows[1][11])
	assert.Equal(t, "", rows[1][15])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, [][]string{{"a,b", `say "hi"`}}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"a,b", `say "hi"`}, records[1])
}

func TestExportRun(t *testing.T) {
	runID := "0f8fad5b-d9cb-469f-a165-70867728950e"
	reader := &fakeReader{
		runs:     map[string]*models.Run{runID: {ID: runID}},
		products: map[string][]*models.ProductRecord{runID: sampleProducts(runID)},
	}
	exporter, dir := newTestExporter(t, reader)

	res, err := exporter.Export(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, filepath.Join(dir, "run_0f8fad5b.csv"), res.CSVPath)
	assert.Equal(t, filepath.Join(dir, "run_0f8fad5b.xlsx"), res.XLSXPath)

	for _, path := range []string{res.CSVPath, res.LatestCSV, res.XLSXPath, res.LatestXLSX} {
		assert.FileExists(t, path)
	}

	f, err := os.Open(res.LatestCSV)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	book, err := excelize.OpenFile(res.XLSXPath)
	require.NoError(t, err)
	defer book.Close()

	sheetRows, err := book.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, sheetRows, 3)
	assert.Equal(t, Header, sheetRows[0])
	assert.Equal(t, "Молоко Яготинське 2.5% 900мл", sheetRows[1][4])
}

func TestExportLatestEmptyRun(t *testing.T) {
	reader := &fakeReader{
		runs:   map[string]*models.Run{"short": {ID: "short"}},
		latest: "short",
	}
	exporter, _ := newTestExporter(t, reader)

	res, err := exporter.Export(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "short", res.RunID)
	assert.Zero(t, res.Rows)

	book, err := excelize.OpenFile(res.LatestXLSX)
	require.NoError(t, err)
	defer book.Close()

	sheetRows, err := book.GetRows(sheetName)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"no_data"}}, sheetRows)
}

func TestExportUnknownRun(t *testing.T) {
	exporter, _ := newTestExporter(t, &fakeReader{runs: map[string]*models.Run{}})

	_, err := exporter.Export(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrRunNotFound)
}
