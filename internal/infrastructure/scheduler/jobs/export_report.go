package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ReportWriter writes the study report to path.
type ReportWriter interface {
	WriteReport(ctx context.Context, path string) error
}

// ReportWriterFunc adapts a function to ReportWriter.
type ReportWriterFunc func(ctx context.Context, path string) error

// WriteReport implements ReportWriter.
func (f ReportWriterFunc) WriteReport(ctx context.Context, path string) error {
	return f(ctx, path)
}

// ExportReportJob periodically writes the comparison and assessment report
// to a timestamped xlsx file.
type ExportReportJob struct {
	writer ReportWriter
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewExportReportJob creates a report export job writing into dir.
func NewExportReportJob(writer ReportWriter, dir string, logger *slog.Logger) *ExportReportJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportReportJob{writer: writer, dir: dir, logger: logger, now: time.Now}
}

// Name returns the job name.
func (j *ExportReportJob) Name() string {
	return "export_report"
}

// Description returns a human-readable description.
func (j *ExportReportJob) Description() string {
	return "Exports the cohort comparison and assessments to a spreadsheet"
}

// Run writes one report.
func (j *ExportReportJob) Run(ctx context.Context) error {
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(j.dir, "report-"+j.now().UTC().Format(backupLayout)+".xlsx")
	if err := j.writer.WriteReport(ctx, path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	j.logger.Info("report exported", "path", path)
	return nil
}
