package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/socratic-tutor/internal/application/query"
	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
)

func newCompareCmd(rt *runtime) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the mean improvement of the two cohorts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rt.bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Queries.CompareCohorts.Handle(cmd.Context(), query.CompareCohortsQuery{})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return writeComparison(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeComparison(w io.Writer, res *query.CompareCohortsResult) error {
	c := res.Comparison
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "COHORT\tSTUDENTS\tELIGIBLE\tPRE\tFINAL\tIMPROVEMENT\t")
	for _, s := range []assessment.CohortSummary{c.A, c.B} {
		if s.InsufficientData {
			fmt.Fprintf(tw, "%s\t%d\t%d\t-\t-\t-\t\n", s.Label, s.Students, s.Eligible)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%.1f%%\t%+.1f pts\t\n",
			s.Label, s.Students, s.Eligible, s.PreMean*100, s.FinalMean*100, s.Improvement*100)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nwinner: %s\n", c.Winner)
	if err := res.Err(); err != nil {
		fmt.Fprintf(w, "note: %v\n", err)
	}
	if res.Analysis != "" {
		fmt.Fprintf(w, "\n%s\n", res.Analysis)
	}
	return nil
}

func newExportCmd(rt *runtime) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the comparison, assessments and ratings to an xlsx report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rt.bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			path := out
			if path == "" {
				path = filepath.Join(rt.cfg.Scheduler.ReportDir,
					fmt.Sprintf("tutor-report-%s.xlsx", time.Now().UTC().Format("20060102-150405")))
			}
			if err := ensureDir(filepath.Dir(path)); err != nil {
				return err
			}
			if err := app.SaveReport(cmd.Context(), path); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", path)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default: a timestamped file in the report dir)")
	return cmd
}
