package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/socratic-tutor/internal/application/command"
	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
)

// assessmentFile is the YAML accepted by "assess --file". Either answers
// (graded against the question bank) or inputs (pre-paired) are given.
type assessmentFile struct {
	Kind    string                   `yaml:"kind"`
	Answers map[string]string        `yaml:"answers"`
	Inputs  []assessment.AnswerInput `yaml:"inputs"`
}

func newAssessCmd(rt *runtime) *cobra.Command {
	var (
		kind    string
		answers map[string]string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "assess STUDENT_ID",
		Short: "Record a pre or final assessment for a student",
		Example: "  tutor assess STU001 --kind pre --answer q1=0.5 --answer q2=60\n" +
			"  tutor assess STU001 --file final.yaml",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := command.SubmitAssessmentCommand{StudentID: args[0], Kind: kind, Answers: answers}
			if file != "" {
				doc, err := readAssessmentFile(file)
				if err != nil {
					return err
				}
				if doc.Kind != "" && !cmd.Flags().Changed("kind") {
					req.Kind = doc.Kind
				}
				if len(doc.Answers) > 0 {
					req.Answers = doc.Answers
				}
				req.Inputs = doc.Inputs
			}

			app, err := rt.bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Commands.SubmitAssessment.Handle(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			r := res.Rating
			fmt.Fprintf(out, "%s assessment for %s: %d/%d (%.0f%%), level %s\n",
				res.Record.Kind, res.Record.StudentID, r.CorrectAnswers, r.TotalQuestions, r.Score*100, r.Difficulty)
			fmt.Fprintf(out, "weak areas:   %s\n", listOrDash(r.WeakAreas))
			fmt.Fprintf(out, "strong areas: %s\n", listOrDash(r.StrongAreas))
			if r.Feedback != "" {
				fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(r.Feedback))
			}
			for _, rec := range r.Recommendations {
				fmt.Fprintf(out, "  - %s\n", rec)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "pre", "assessment kind: pre or final")
	cmd.Flags().StringToStringVar(&answers, "answer", nil, "answer to a bank question, QUESTION_ID=ANSWER (repeatable)")
	cmd.Flags().StringVar(&file, "file", "", "YAML file with kind and answers or inputs")
	return cmd
}

func readAssessmentFile(path string) (*assessmentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assessment file: %w", err)
	}
	var doc assessmentFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse assessment file %s: %w", path, err)
	}
	return &doc, nil
}
