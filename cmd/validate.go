package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-fusion/internal/model"
	"github.com/sells-group/venue-fusion/internal/pipeline"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-score every stored venue and report data quality",
	Long:  "Re-evaluates all persisted venues with the current quality rules, stores changed scores and prints a summary with the lowest-scoring venues.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sum, err := storeRunner(st).Revalidate(ctx, newScorer())
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		formatRevalidateSummary(os.Stdout, sum)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// formatRevalidateSummary writes the summary and the worst venues to out.
func formatRevalidateSummary(out io.Writer, sum *pipeline.RevalidateSummary) {
	_, _ = fmt.Fprintf(out, "Checked %d venues: %d valid, %d invalid, %d updated, avg quality %.3f\n",
		sum.Checked, sum.Valid, sum.Invalid, sum.Updated, sum.AvgQuality)

	if len(sum.Issues) > 0 {
		_, _ = fmt.Fprint(out, "Issues:")
		for _, sev := range []model.Severity{model.SeverityCritical, model.SeverityWarning, model.SeverityInfo} {
			_, _ = fmt.Fprintf(out, " %s=%d", sev, sum.Issues[sev])
		}
		_, _ = fmt.Fprintln(out)
	}

	if len(sum.Worst) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tOVERALL\tRECOMMENDATION")
	for _, v := range sum.Worst {
		rec := "-"
		if len(v.Recommendations) > 0 {
			rec = v.Recommendations[0]
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%.3f\t%s\n", v.ID, v.Name, v.Overall, rec)
	}
	_ = w.Flush()
}
