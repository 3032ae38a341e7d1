package jobs

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestBackupJob_ArchivesAndSkipsDest(t *testing.T) {
	data := t.TempDir()
	writeFile(t, filepath.Join(data, "students", "STU001.toml"), "id = 'STU001'")
	writeFile(t, filepath.Join(data, "tutor.db"), "sqlite")

	dest := filepath.Join(data, "backups")
	job := NewBackupJob(BackupConfig{Source: data, Dest: dest, Keep: 3, Logger: quiet()})
	job.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	// A second run must not archive the first archive.
	job.now = func() time.Time { return time.Date(2025, 3, 1, 10, 10, 0, 0, time.UTC) }
	require.NoError(t, job.Run(context.Background()))

	zr, err := zip.OpenReader(filepath.Join(dest, "backup-20250301-101000.zip"))
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"students/STU001.toml", "tutor.db"}, names)
}

func TestBackupJob_Prune(t *testing.T) {
	data := t.TempDir()
	writeFile(t, filepath.Join(data, "a.txt"), "a")
	dest := t.TempDir()

	job := NewBackupJob(BackupConfig{Source: data, Dest: dest, Keep: 2, Logger: quiet()})
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * 10 * time.Minute)
		job.now = func() time.Time { return at }
		require.NoError(t, job.Run(context.Background()))
	}
	writeFile(t, filepath.Join(dest, "notes.txt"), "keep me")

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"backup-20250301-102000.zip",
		"backup-20250301-103000.zip",
		"notes.txt",
	}, names)
}

func TestBackupJob_MissingSource(t *testing.T) {
	job := NewBackupJob(BackupConfig{Source: filepath.Join(t.TempDir(), "nope"), Dest: t.TempDir(), Logger: quiet()})
	assert.Error(t, job.Run(context.Background()))
}

func TestExportReportJob(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	var got string
	job := NewExportReportJob(ReportWriterFunc(func(_ context.Context, path string) error {
		got = path
		return os.WriteFile(path, []byte("xlsx"), 0o600)
	}), dir, quiet())
	job.now = func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, filepath.Join(dir, "report-20250301-093000.xlsx"), got)
	assert.FileExists(t, got)

	failing := NewExportReportJob(ReportWriterFunc(func(context.Context, string) error {
		return errors.New("disk full")
	}), dir, quiet())
	assert.ErrorContains(t, failing.Run(context.Background()), "disk full")
}
