package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/snapshot"
)

var (
	exportXLSXPath string
	exportJSON     bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored venues as a spreadsheet or a JSON snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		venues, err := storeRunner(st).Venues(ctx)
		if err != nil {
			return eris.Wrap(err, "export: list venues")
		}

		if exportJSON {
			backup, err := snapshot.NewWriter(cfg.Data.Dir, cfg.Data.Source, cfg.Data.Version).Write(venues, nil)
			if err != nil {
				return eris.Wrap(err, "export: write snapshot")
			}
			zap.L().Info("snapshot exported",
				zap.Int("venues", len(venues)),
				zap.String("path", filepath.Join(cfg.Data.Dir, snapshot.FileName)),
				zap.String("backup", backup),
			)
		}

		path := exportXLSXPath
		if path == "" {
			path = filepath.Join(cfg.Data.Dir, "venues.xlsx")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return eris.Wrap(err, "export: create directory")
		}
		if err := snapshot.ExportXLSX(path, venues); err != nil {
			return eris.Wrap(err, "export: write xlsx")
		}
		zap.L().Info("spreadsheet exported", zap.Int("venues", len(venues)), zap.String("path", path))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportXLSXPath, "xlsx", "", "spreadsheet path (default <data.dir>/venues.xlsx)")
	exportCmd.Flags().BoolVar(&exportJSON, "json", false, "also rewrite the JSON snapshot and a backup copy")
	rootCmd.AddCommand(exportCmd)
}
