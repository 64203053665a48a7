package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/silpo-price-scraper/internal/config"
	"github.com/maltedev/silpo-price-scraper/internal/export"
	"github.com/maltedev/silpo-price-scraper/internal/models"
)

func runCmd() *cobra.Command {
	var (
		categoryURL string
		maxPages    int
		headful     bool
		noAPI       bool
		skipExport  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl the category once and export the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, func(cfg *config.Config) {
				if categoryURL != "" {
					cfg.Scraper.CategoryURL = categoryURL
					cfg.Scraper.CategoryID = 0
				}
				if maxPages > 0 {
					cfg.Scraper.MaxPages = maxPages
				}
				if headful {
					cfg.Browser.Headless = false
				}
				if noAPI {
					cfg.Catalog.Enabled = false
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			return a.runOnce(ctx, !skipExport)
		},
	}

	cmd.Flags().StringVarP(&categoryURL, "url", "u", "", "category URL (overrides config)")
	cmd.Flags().IntVarP(&maxPages, "max-pages", "p", 0, "maximum listing pages (overrides config)")
	cmd.Flags().BoolVar(&headful, "headful", false, "show the browser window")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "disable the catalog API fallback")
	cmd.Flags().BoolVar(&skipExport, "no-export", false, "skip CSV/XLSX export after the run")

	return cmd
}

func (a *app) runOnce(ctx context.Context, exportAfter bool) error {
	result, err := a.coordinator().Run(ctx, "")
	if err != nil {
		return err
	}
	run := result.Run

	fmt.Printf("run %s finished: status=%s termination=%s pages=%d products=%d\n",
		run.ID, run.Status, run.Termination, run.PagesProcessed, run.TotalProducts)
	if run.Note != "" {
		fmt.Printf("note: %s\n", run.Note)
	}

	if exportAfter && run.Status != models.RunStatusFailed {
		res, err := export.NewExporter(a.store, a.cfg.Export.Dir, a.logger).Export(context.WithoutCancel(ctx), run.ID)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("exported %d rows to %s and %s\n", res.Rows, res.CSVPath, res.XLSXPath)
	}

	if run.Status == models.RunStatusError || run.Status == models.RunStatusFailed {
		return fmt.Errorf("run %s ended with status %s", run.ID, run.Status)
	}
	return nil
}
