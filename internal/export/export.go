package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/maltedev/silpo-price-scraper/internal/database"
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

const sheetName = "observations"

// Header is the column set of every export, in order.
var Header = []string{
	"upload_ts", "page_url", "page_number", "source", "product_title", "brand",
	"product_type", "fat_pct", "pack_qty", "pack_unit", "price_current", "price_old",
	"discount_pct", "price_per_l_or_kg_or_piece", "price_type", "product_url",
}

// Result lists the files written for one run.
type Result struct {
	RunID      string
	Rows       int
	CSVPath    string
	XLSXPath   string
	LatestCSV  string
	LatestXLSX string
}

type Exporter struct {
	reader database.Reader
	dir    string
	logger *slog.Logger
}

func NewExporter(reader database.Reader, dir string, logger *slog.Logger) *Exporter {
	return &Exporter{
		reader: reader,
		dir:    dir,
		logger: logger.With("component", "export"),
	}
}

// Export writes run_<id8> and latest files in CSV and XLSX. An empty
// runID selects the most recent run.
func (e *Exporter) Export(ctx context.Context, runID string) (*Result, error) {
	var (
		run *models.Run
		err error
	)
	if runID == "" {
		run, err = e.reader.LatestRun(ctx)
	} else {
		run, err = e.reader.GetRun(ctx, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve run: %w", err)
	}

	products, err := e.reader.ListProducts(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}

	rows := Rows(products)
	prefix := "run_" + shortID(run.ID)
	res := &Result{
		RunID:      run.ID,
		Rows:       len(rows),
		CSVPath:    filepath.Join(e.dir, prefix+".csv"),
		XLSXPath:   filepath.Join(e.dir, prefix+".xlsx"),
		LatestCSV:  filepath.Join(e.dir, "latest.csv"),
		LatestXLSX: filepath.Join(e.dir, "latest.xlsx"),
	}

	for _, path := range []string{res.CSVPath, res.LatestCSV} {
		if err := writeCSVFile(path, rows); err != nil {
			return nil, err
		}
	}
	for _, path := range []string{res.XLSXPath, res.LatestXLSX} {
		if err := WriteXLSX(path, rows); err != nil {
			return nil, err
		}
	}

	e.logger.Info("export done",
		"run_id", run.ID,
		"rows", res.Rows,
		"csv", res.CSVPath,
		"xlsx", res.XLSXPath)

	return res, nil
}

// Rows renders products as string cells aligned with Header.
func Rows(products []*models.ProductRecord) [][]string {
	rows := make([][]string, 0, len(products))
	for _, p := range products {
		rows = append(rows, []string{
			p.ScrapedAt.UTC().Format(time.RFC3339),
			p.PageURL,
			strconv.Itoa(p.PageNumber),
			p.Source,
			p.Title,
			p.Brand,
			p.ProductType,
			p.FatPct,
			intCell(p.PackQty),
			p.PackUnit,
			floatCell(&p.PriceCurrent),
			floatCell(p.PriceOld),
			p.DiscountPct,
			floatCell(p.PricePerUnit),
			string(p.PriceType),
			stringCell(p.ProductURL),
		})
	}
	return rows
}

// WriteCSV writes the header followed by rows.
func WriteCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func writeCSVFile(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteXLSX writes one sheet with a frozen header. A run without rows
// gets a single no_data cell.
func WriteXLSX(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	if len(rows) == 0 {
		if err := f.SetCellValue(sheetName, "A1", "no_data"); err != nil {
			return err
		}
		return saveXLSX(f, path)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	for i, h := range Header {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := float64(max(12, min(60, len(h)+4)))
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return err
		}
	}

	return saveXLSX(f, path)
}

func saveXLSX(f *excelize.File, path string) error {
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func stringCell(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
