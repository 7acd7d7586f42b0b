package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/resilience"
	"github.com/sells-group/venue-fusion/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dataset freshness, recent runs and dead-letter depth",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "status: stats")
		}
		fresh, err := st.FreshnessStats(ctx,
			time.Duration(cfg.Scheduler.FreshnessDays)*24*time.Hour,
			time.Duration(cfg.Scheduler.OverdueDays)*24*time.Hour)
		if err != nil {
			return eris.Wrap(err, "status: freshness")
		}
		dlq, err := st.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "status: dlq")
		}
		limit, _ := cmd.Flags().GetInt("runs")
		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "status: runs")
		}

		formatStatus(os.Stdout, stats, fresh, dlq)
		if len(runs) > 0 {
			_, _ = fmt.Fprintln(os.Stdout)
			formatRunsList(os.Stdout, runs)
		}
		return nil
	},
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-letter entries from failed runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{
			ErrorType: resilience.ErrorType(errType),
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			_, _ = fmt.Fprintln(os.Stderr, "No dead-letter entries.")
			return nil
		}
		formatDLQList(os.Stdout, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("runs", 10, "number of recent runs to show")
	dlqCmd.Flags().String("type", "", "filter by error type (rate_limit, timeout, not_found, ...)")
	dlqCmd.Flags().Int("limit", 50, "max number of entries to display")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dlqCmd)
}

// formatStatus writes the venue and freshness figures to out.
func formatStatus(out io.Writer, stats *model.VenueStats, fresh *model.FreshnessStats, dlq int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Venues:\t%d\n", stats.Total)
	_, _ = fmt.Fprintf(w, "Avg quality:\t%.3f\n", stats.AvgQuality)
	_, _ = fmt.Fprintf(w, "Avg confidence:\t%.3f\n", stats.AvgConf)
	if !stats.LastUpdated.IsZero() {
		_, _ = fmt.Fprintf(w, "Last updated:\t%s\n", stats.LastUpdated.UTC().Format("2006-01-02 15:04"))
	}
	if fresh.Total > 0 {
		_, _ = fmt.Fprintf(w, "Fresh:\t%d (%.0f%%)\n", fresh.Fresh, float64(fresh.Fresh)/float64(fresh.Total)*100)
	} else {
		_, _ = fmt.Fprintf(w, "Fresh:\t%d\n", fresh.Fresh)
	}
	_, _ = fmt.Fprintf(w, "Overdue:\t%d\n", fresh.Overdue)
	_, _ = fmt.Fprintf(w, "Dead letters:\t%d\n", dlq)

	sources := make([]string, 0, len(stats.BySource))
	for s := range stats.BySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", s, stats.BySource[s])
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.RunReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATE\tSUCCESS\tFAILED\tTOTAL\tQUALITY\tSTARTED\tDURATION")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.3f\t%s\t%s\n",
			truncateID(r.ID),
			r.Type,
			r.State,
			r.Success,
			r.Failed,
			r.Total,
			r.AvgQuality,
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			r.Duration.Round(time.Second),
		)
	}
	_ = w.Flush()
}

// formatDLQList writes a tabular list of dead-letter entries to out.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENTITY\tTYPE\tSOURCE\tRUN\tFAILED_AT\tERROR")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(e.ID),
			e.Entity.Name,
			e.ErrorType,
			e.Source,
			truncateID(e.RunID),
			e.LastFailedAt.UTC().Format("2006-01-02 15:04"),
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncateID(id string) string {
	return truncate(id, 8)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
