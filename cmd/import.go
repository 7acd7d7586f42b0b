package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-fusion/internal/snapshot"
)

var importSnapshotPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load venues from a JSON snapshot into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		snap, err := snapshot.Read(importSnapshotPath)
		if err != nil {
			return eris.Wrap(err, "import: read snapshot")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := storeRunner(st).Import(ctx, snap.Records)
		if err != nil {
			return eris.Wrap(err, "import: upsert venues")
		}

		zap.L().Info("import complete",
			zap.Int64("venues", n),
			zap.String("snapshot", importSnapshotPath),
			zap.Time("snapshot_updated", snap.Metadata.LastUpdated),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSnapshotPath, "file", "", "path to a venues.json snapshot (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
