package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-fusion/internal/config"
	"github.com/sells-group/venue-fusion/internal/model"
)

var runUpdateType string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full or incremental update now",
	Long:  "Runs an update immediately, bypassing the scheduler's freshness check. Full runs are seeded from the public feed; incremental runs revisit stale venues.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		typ, err := parseUpdateType(runUpdateType)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, config.ModeRun)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Scheduler.RunManualUpdate(ctx, typ)
		if rep != nil {
			formatRunReport(os.Stdout, rep)
		}
		if err != nil {
			return eris.Wrap(err, "run update")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runUpdateType, "type", string(model.UpdateIncremental), "update type (full, incremental)")
	rootCmd.AddCommand(runCmd)
}

func parseUpdateType(s string) (model.UpdateType, error) {
	switch t := model.UpdateType(s); t {
	case model.UpdateFull, model.UpdateIncremental:
		return t, nil
	default:
		return "", eris.Errorf("unknown update type %q (want full or incremental)", s)
	}
}

// formatRunReport writes a short summary of rep to w.
func formatRunReport(w io.Writer, rep *model.RunReport) {
	_, _ = fmt.Fprintf(w, "Run %s (%s): %s\n", rep.ID, rep.Type, rep.State)
	_, _ = fmt.Fprintf(w, "  success %d, failed %d, total %d\n", rep.Success, rep.Failed, rep.Total)
	_, _ = fmt.Fprintf(w, "  avg quality %.3f, duration %s\n", rep.AvgQuality, rep.Duration.Round(time.Millisecond))
	for _, e := range rep.ErrorSample {
		_, _ = fmt.Fprintf(w, "  - %s [%s]: %s\n", e.EntityName, e.ErrorType, e.Message)
	}
}
