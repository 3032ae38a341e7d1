package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, "socratic-tutor", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, StorageFile, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join("data", "students"), cfg.Storage.Dir)
	assert.Equal(t, filepath.Join("data", "backups"), cfg.Scheduler.BackupDir)
	assert.Equal(t, 3, cfg.Tutor.FailureBudget)
	assert.Equal(t, 2*time.Minute, cfg.Tutor.SlotTTL)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.BackupInterval)
	assert.InDelta(t, 1e-9, cfg.Assessment.Epsilon, 1e-15)
	assert.True(t, cfg.Features.Enabled(FeatureBackups))
	assert.False(t, cfg.Features.Enabled(FeatureGentleReveal))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "tutor.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
storage:
  driver: sqlite
tutor:
  failure_budget: 5
features:
  tutor_gentle_reveal: true
`), 0o644))
	t.Setenv("TUTOR_TUTOR_FAILURE_BUDGET", "4")
	t.Setenv("TUTOR_HTTP_API_KEYS", "k1, k2")
	t.Setenv("TUTOR_FEATURES_SCHEDULER_REPORT_EXPORT", "50")

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, 4, cfg.Tutor.FailureBudget)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.APIKeys)
	assert.True(t, cfg.Features.Enabled(FeatureGentleReveal))
	assert.Equal(t, 50, cfg.Features.GetAllFeatures()[FeatureReportExport].RolloutPercent)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TUTOR_GATEWAY_PROVIDER=gemini\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("TUTOR_GATEWAY_PROVIDER") })

	cfg, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Gateway.Provider)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("TUTOR_STORAGE_DRIVER", "postgres")
	t.Setenv("TUTOR_GATEWAY_PROVIDER", "llama")
	t.Setenv("TUTOR_APP_ENV", "production")

	_, err := Load(LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TUTOR_DATABASE_URL")
	assert.Contains(t, err.Error(), "TUTOR_GATEWAY_PROVIDER")
	assert.Contains(t, err.Error(), "API key")
}

func TestFeatureFlags(t *testing.T) {
	ff := LoadFeatureFlags(nil)

	assert.True(t, ff.Enabled(FeatureAssessmentAnalysis))
	assert.False(t, ff.Enabled("no.such.feature"))
	assert.ErrorIs(t, ff.SetRolloutPercent("no.such.feature", 10), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureGentleReveal, 101), ErrInvalidRolloutPercent)

	require.NoError(t, ff.SetRolloutPercent(FeatureGentleReveal, 50))
	ctx := &FeatureContext{StudentID: "STU001", Cohort: "1"}
	first := ff.IsEnabled(FeatureGentleReveal, ctx)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureGentleReveal, ctx), "bucket must be stable")
	}

	ff.SetStudentOverride("STU001", FeatureGentleReveal, !first)
	assert.Equal(t, !first, ff.IsEnabled(FeatureGentleReveal, ctx))
	ff.ClearStudentOverrides("STU001")
	assert.Equal(t, first, ff.IsEnabled(FeatureGentleReveal, ctx))

	require.NoError(t, ff.EnableFeature(FeatureGentleReveal))
	require.NoError(t, ff.SetTargetCohorts(FeatureGentleReveal, "2"))
	assert.False(t, ff.IsEnabled(FeatureGentleReveal, ctx))
	assert.True(t, ff.IsEnabled(FeatureGentleReveal, &FeatureContext{StudentID: "STU002", Cohort: "2"}))
}
