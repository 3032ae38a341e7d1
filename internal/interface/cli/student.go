package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/socratic-tutor/internal/application/command"
	"github.com/alem-hub/socratic-tutor/internal/application/query"
)

func newStudentCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Register and inspect students",
	}
	cmd.AddCommand(
		newStudentRegisterCmd(rt),
		newStudentShowCmd(rt),
	)
	return cmd
}

func newStudentRegisterCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "register STUDENT_ID COHORT",
		Short: "Register a student in cohort 1 (tutor) or 2 (chat)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Commands.RegisterStudent.Handle(cmd.Context(), command.RegisterStudentCommand{
				StudentID: args[0],
				Cohort:    args[1],
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s in cohort %s (%s)\n",
				res.Profile.ID, res.Profile.Cohort.Label(), res.Profile.Cohort.DisplayName())
			return err
		},
	}
}

func newStudentShowCmd(rt *runtime) *cobra.Command {
	var (
		asJSON bool
		notes  int
	)

	cmd := &cobra.Command{
		Use:   "show STUDENT_ID",
		Short: "Show a student's profile, assessments and recent notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Queries.GetStudent.Handle(cmd.Context(), query.GetStudentQuery{
				StudentID:  args[0],
				NotesLimit: notes,
			})
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return writeStudent(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().IntVar(&notes, "notes", 10, "number of recent progress notes (0 = all)")
	return cmd
}

func writeStudent(w io.Writer, res *query.GetStudentResult) error {
	p := res.Profile
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Student\t%s\n", p.ID)
	fmt.Fprintf(tw, "Cohort\t%s (%s)\n", p.Cohort.Label(), p.Cohort.DisplayName())
	fmt.Fprintf(tw, "Difficulty\t%s\n", p.Difficulty)
	fmt.Fprintf(tw, "Weak areas\t%s\n", listOrDash(p.WeakAreas))
	fmt.Fprintf(tw, "Strong areas\t%s\n", listOrDash(p.StrongAreas))

	tags := make([]string, 0, len(p.Misconceptions))
	for _, m := range p.Misconceptions {
		tags = append(tags, fmt.Sprintf("%s×%d", m.Tag, m.Count))
	}
	fmt.Fprintf(tw, "Misconceptions\t%s\n", listOrDash(tags))

	for _, r := range res.Assessments {
		fmt.Fprintf(tw, "Assessment %s\t%d/%d (%.0f%%) at %s\n",
			r.Kind, r.Correct(), r.Total(), r.Score()*100, r.TakenAt.Format("2006-01-02 15:04"))
	}
	if card := res.Activity; card != nil {
		fmt.Fprintf(tw, "Sessions\t%d started, %d completed, %d abandoned\n",
			card.SessionsStarted, card.SessionsCompleted, card.SessionsAbandoned)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(res.Notes) > 0 {
		fmt.Fprintln(w, "\nProgress notes:")
		for _, n := range res.Notes {
			fmt.Fprintf(w, "  %s  [%s] %s\n", n.At.Format("2006-01-02 15:04"), n.Kind, n.Text)
		}
	}
	return nil
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
