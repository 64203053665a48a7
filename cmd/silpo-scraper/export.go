package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maltedev/silpo-price-scraper/internal/export"
)

func exportCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write CSV and XLSX files for a stored run",
		Long:  "Write run_<id>.csv/.xlsx and latest.csv/.xlsx for the given run, or for the most recent run when --run is omitted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := export.NewExporter(a.store, a.cfg.Export.Dir, a.logger).Export(cmd.Context(), runID)
			if err != nil {
				return err
			}

			fmt.Printf("run %s: %d rows\n  %s\n  %s\n  %s\n  %s\n",
				res.RunID, res.Rows, res.CSVPath, res.XLSXPath, res.LatestCSV, res.LatestXLSX)
			return nil
		},
	}

	cmd.Flags().StringVarP(&runID, "run", "r", "", "run id (default: latest run)")

	return cmd
}
