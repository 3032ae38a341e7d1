// Package jobs contains the scheduled jobs of the tutor service.
package jobs

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKUP JOB
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBackupInterval is how often the data directory is archived.
const DefaultBackupInterval = 10 * time.Minute

const (
	backupPrefix = "backup-"
	backupLayout = "20060102-150405"
)

// BackupConfig configures BackupJob.
type BackupConfig struct {
	// Source is the data directory to archive.
	Source string

	// Dest receives the archives. It may live inside Source; it is skipped.
	Dest string

	// Keep is how many of the newest archives survive pruning.
	Keep int

	Logger *slog.Logger
}

// BackupJob zips the data directory and prunes old archives.
type BackupJob struct {
	cfg BackupConfig
	now func() time.Time
}

// NewBackupJob creates a backup job.
func NewBackupJob(cfg BackupConfig) *BackupJob {
	if cfg.Keep <= 0 {
		cfg.Keep = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BackupJob{cfg: cfg, now: time.Now}
}

// Name returns the job name.
func (j *BackupJob) Name() string {
	return "backup_data"
}

// Description returns a human-readable description.
func (j *BackupJob) Description() string {
	return "Archives the student data directory and keeps the newest copies"
}

// Run creates one archive and prunes the rest.
func (j *BackupJob) Run(ctx context.Context) error {
	path, files, err := j.archive(ctx)
	if err != nil {
		return err
	}
	removed, err := j.prune()
	if err != nil {
		return err
	}
	j.cfg.Logger.Info("backup written",
		"archive", path,
		"files", files,
		"pruned", removed,
	)
	return nil
}

func (j *BackupJob) archive(ctx context.Context) (string, int, error) {
	if err := os.MkdirAll(j.cfg.Dest, 0o755); err != nil {
		return "", 0, fmt.Errorf("create backup dir: %w", err)
	}

	name := backupPrefix + j.now().UTC().Format(backupLayout) + ".zip"
	final := filepath.Join(j.cfg.Dest, name)
	tmp := final + ".partial"

	out, err := os.Create(tmp)
	if err != nil {
		return "", 0, fmt.Errorf("create archive: %w", err)
	}

	files, err := j.writeZip(ctx, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", 0, fmt.Errorf("finalize archive: %w", err)
	}
	return final, files, nil
}

func (j *BackupJob) writeZip(ctx context.Context, w io.Writer) (int, error) {
	zw := zip.NewWriter(w)
	dest, _ := filepath.Abs(j.cfg.Dest)
	files := 0

	err := filepath.WalkDir(j.cfg.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(path); abs == dest {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(j.cfg.Source, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		zw.Close()
		return 0, fmt.Errorf("walk %s: %w", j.cfg.Source, err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close archive: %w", err)
	}
	return files, nil
}

// prune deletes all but the newest Keep archives. Names sort by time.
func (j *BackupJob) prune() (int, error) {
	entries, err := os.ReadDir(j.cfg.Dest)
	if err != nil {
		return 0, fmt.Errorf("list backups: %w", err)
	}
	var archives []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".zip") {
			archives = append(archives, e.Name())
		}
	}
	if len(archives) <= j.cfg.Keep {
		return 0, nil
	}
	sort.Strings(archives)

	removed := 0
	for _, name := range archives[:len(archives)-j.cfg.Keep] {
		if err := os.Remove(filepath.Join(j.cfg.Dest, name)); err != nil {
			return removed, fmt.Errorf("remove %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}
