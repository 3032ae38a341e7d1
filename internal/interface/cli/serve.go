package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/socratic-tutor/config"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/scheduler"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/scheduler/jobs"
	tutorhttp "github.com/alem-hub/socratic-tutor/internal/interface/http"
)

func newServeCmd(rt *runtime) *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the scheduler unless disabled)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := rt.bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer app.Close()

			return serve(ctx, app, withScheduler && rt.cfg.Scheduler.Enabled)
		},
	}
	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "run background jobs in this process")
	return cmd
}

func newWorkerCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the background jobs (backups, report export)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := rt.bootstrap(ctx, true)
			if err != nil {
				return err
			}
			defer app.Close()

			return RunWorker(ctx, app)
		},
	}
}

// serve runs the HTTP server and, optionally, the scheduler until ctx ends.
func serve(ctx context.Context, app *App, withScheduler bool) error {
	cfg := app.Config
	httpCfg := tutorhttp.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	httpCfg.APIKeys = cfg.HTTP.APIKeys

	server := tutorhttp.NewServer(httpCfg, tutorhttp.Dependencies{
		RegisterStudent:  app.Commands.RegisterStudent,
		StartSession:     app.Commands.StartSession,
		TakeTurn:         app.Commands.TakeTurn,
		AbandonSession:   app.Commands.AbandonSession,
		SubmitAssessment: app.Commands.SubmitAssessment,
		AskQuestion:      app.Commands.AskQuestion,
		GetStudent:       app.Queries.GetStudent,
		GetSession:       app.Queries.GetSession,
		ListSessions:     app.Queries.ListSessions,
		CompareCohorts:   app.Queries.CompareCohorts,
		BuildReport:      app.Queries.BuildReport,
		ReportWriter:     WriteReport,
		Alerts:           app.Alerts,
		Resources:        app.Catalog,
		HealthChecker:    app.Health,
		Logger:           app.Logger,
		Version:          cfg.App.Version,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if withScheduler {
		g.Go(func() error {
			return RunWorker(gctx, app)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	app.Logger.Info("tutor stopped")
	return err
}

// RunWorker starts the scheduler and blocks until ctx ends.
func RunWorker(ctx context.Context, app *App) error {
	sched, err := NewScheduler(app)
	if err != nil {
		return err
	}
	if len(sched.ListJobs()) == 0 {
		app.Logger.Info("no background jobs enabled")
		<-ctx.Done()
		return nil
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
		return err
	}
	return nil
}

// NewScheduler registers the jobs enabled by feature flags. Backups only
// make sense for the file and sqlite drivers, which keep data on disk.
func NewScheduler(app *App) (*scheduler.Scheduler, error) {
	cfg := app.Config
	sched := scheduler.New(scheduler.Config{
		Logger:         app.Logger,
		Timezone:       cfg.App.Location,
		MaxHistorySize: cfg.Scheduler.MaxHistorySize,
	})
	sched.OnJobError(func(name string, err error) {
		app.Logger.Error("background job failed", slog.String("job", name), slog.Any("error", err))
	})

	onDisk := cfg.Storage.Driver == config.StorageFile || cfg.Storage.Driver == config.StorageSQLite
	if cfg.Features.Enabled(config.FeatureBackups) && onDisk {
		job := jobs.NewBackupJob(jobs.BackupConfig{
			Source: cfg.App.DataDir,
			Dest:   cfg.Scheduler.BackupDir,
			Keep:   cfg.Scheduler.BackupKeep,
			Logger: app.Logger,
		})
		if err := sched.Register(job, cfg.Scheduler.BackupInterval); err != nil {
			return nil, err
		}
	}

	if cfg.Features.Enabled(config.FeatureReportExport) {
		job := jobs.NewExportReportJob(jobs.ReportWriterFunc(app.SaveReport), cfg.Scheduler.ReportDir, app.Logger)
		if err := sched.Register(job, cfg.Scheduler.ReportInterval); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
