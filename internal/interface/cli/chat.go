package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alem-hub/socratic-tutor/internal/application/command"
	"github.com/alem-hub/socratic-tutor/internal/application/query"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
)

const quitCommand = "/quit"

type chatOptions struct {
	problem  string
	concept  string
	expected string
}

func newChatCmd(rt *runtime) *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:   "chat STUDENT_ID",
		Short: "Talk to the tutor (cohort 1) or the assistant (cohort 2) from the terminal",
		Long: "chat reads one utterance per line from stdin. Cohort 1 students work through a problem " +
			"step by step; pass --problem to start one or omit it to resume the open session. " +
			"Cohort 2 students ask free-form questions. Type " + quitCommand + " to leave; a tutoring " +
			"session left this way is abandoned.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.bootstrap(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Queries.GetStudent.Handle(cmd.Context(), query.GetStudentQuery{StudentID: args[0], NotesLimit: 1})
			if err != nil {
				return err
			}

			in := bufio.NewScanner(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			if res.Profile.Cohort == shared.CohortTutor {
				return tutorLoop(cmd.Context(), app, args[0], opts, in, out)
			}
			return questionLoop(cmd.Context(), app, args[0], in, out)
		},
	}
	cmd.Flags().StringVar(&opts.problem, "problem", "", "problem statement for a new tutoring session")
	cmd.Flags().StringVar(&opts.concept, "concept", "", "concept tag (inferred when empty)")
	cmd.Flags().StringVar(&opts.expected, "expected", "", "expected final answer, when known")
	return cmd
}

func tutorLoop(ctx context.Context, app *App, studentID string, opts chatOptions, in *bufio.Scanner, out io.Writer) error {
	var sess *tutoring.Session
	if opts.problem != "" {
		res, err := app.Commands.StartSession.Handle(ctx, command.StartSessionCommand{
			StudentID: studentID,
			Problem:   opts.problem,
			Concept:   opts.concept,
			Expected:  opts.expected,
		})
		if err != nil {
			return err
		}
		sess = res.Session
		fmt.Fprintf(out, "tutor> %s\n", res.Response)
	} else {
		open, err := app.Queries.GetSession.Handle(ctx, query.GetSessionQuery{StudentID: studentID})
		if shared.IsNotFound(err) {
			return errors.New("no open session: pass --problem to start one")
		}
		if err != nil {
			return err
		}
		sess = open
		fmt.Fprintf(out, "resuming %s, step %d of %d\n", sess.Concept, sess.CurrentStep+1, len(sess.Steps))
	}

	for prompt(out); in.Scan(); prompt(out) {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == quitCommand {
			_, err := app.Commands.AbandonSession.Handle(ctx, command.AbandonSessionCommand{
				StudentID: studentID,
				SessionID: sess.ID,
			})
			if err == nil {
				fmt.Fprintln(out, "session abandoned")
			}
			return err
		}

		res, err := app.Commands.TakeTurn.Handle(ctx, command.TakeTurnCommand{
			StudentID: studentID,
			SessionID: sess.ID,
			Utterance: line,
		})
		switch {
		case errors.Is(err, shared.ErrTutorUnavailable):
			fmt.Fprintf(out, "tutor> %s\n", shared.ErrTutorUnavailable.Message)
			continue
		case err != nil:
			return err
		}

		fmt.Fprintf(out, "tutor> %s\n", res.Turn.Response)
		if res.Turn.State == tutoring.StateComplete {
			if s := res.Turn.Summary; s != nil {
				fmt.Fprintf(out, "\ncompleted %d/%d steps in %d turns\n", s.StepsCompleted, s.StepsTotal, s.Turns)
			}
			return nil
		}
	}
	return in.Err()
}

func questionLoop(ctx context.Context, app *App, studentID string, in *bufio.Scanner, out io.Writer) error {
	for prompt(out); in.Scan(); prompt(out) {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == quitCommand {
			return nil
		}
		res, err := app.Commands.AskQuestion.Handle(ctx, command.AskQuestionCommand{
			StudentID: studentID,
			Question:  line,
		})
		if err != nil {
			if shared.IsExternalService(err) {
				fmt.Fprintf(out, "assistant> %s\n", shared.ErrTutorUnavailable.Message)
				continue
			}
			return err
		}
		fmt.Fprintf(out, "assistant> %s\n", res.Answer.Text)
	}
	return in.Err()
}

func prompt(out io.Writer) {
	fmt.Fprint(out, "you> ")
}
