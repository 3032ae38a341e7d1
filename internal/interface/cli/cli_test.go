package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/socratic-tutor/config"
	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/infrastructure/spreadsheet"
	"github.com/alem-hub/socratic-tutor/pkg/logger"
)

const sineProblem = "In a right triangle the side opposite θ is 3 and the hypotenuse is 6. Find sin θ."

// testEnv is a file-backed tutor in a temp dir, so students survive
// between commands the way they do between real invocations.
type testEnv struct {
	dir     string
	cfg     *config.Config
	gateway completion.Gateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "tutor.yaml")
	yaml := "app:\n  data_dir: " + dir + "\n" +
		"storage:\n  driver: file\n" +
		"features:\n  scheduler_backups: false\n  assessment_analysis: false\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o600))

	cfg, err := config.Load(config.LoadOptions{File: file, DotEnv: filepath.Join(dir, ".env")})
	require.NoError(t, err)

	gw := completion.NewScriptedGateway().
		OnText(completion.PurposeClassify, "on_track").
		OnText(completion.PurposeConfidence, "yes").
		OnText(completion.PurposeRespond, "Good. What would you do next?").
		OnText(completion.PurposeAnswer, "sin 30° is 1/2.")
	return &testEnv{dir: dir, cfg: cfg, gateway: gw}
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(Options{
		Version:   "test",
		Config:    e.cfg,
		Gateway:   e.gateway,
		LogOutput: io.Discard,
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, "", args...)
	require.NoError(t, err, out)
	return out
}

func TestStudentCommands(t *testing.T) {
	env := newTestEnv(t)

	out := env.mustRun(t, "student", "register", "STU001", "A")
	assert.Contains(t, out, "registered STU001 in cohort A")

	_, err := env.run(t, "", "student", "register", "STU001", "A")
	assert.Error(t, err, "duplicate registration")

	_, err = env.run(t, "", "student", "register", "STU002", "C")
	assert.Error(t, err)

	out = env.mustRun(t, "student", "show", "STU001")
	assert.Contains(t, out, "Cohort")
	assert.Contains(t, out, "STU001")

	out = env.mustRun(t, "student", "show", "STU001", "--json")
	assert.Contains(t, out, `"Profile"`)

	_, err = env.run(t, "", "student", "show", "STU404")
	assert.Error(t, err)
}

func TestAssessAndCompare(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "student", "register", "STU001", "1")
	env.mustRun(t, "student", "register", "STU002", "2")

	out := env.mustRun(t, "compare")
	assert.Contains(t, out, "winner: insufficient_data")

	out = env.mustRun(t, "assess", "STU001", "--kind", "pre", "--answer", "pre_q1=0.5")
	assert.Contains(t, out, "pre assessment for STU001: 1/5")

	answers := filepath.Join(env.dir, "final.yaml")
	require.NoError(t, os.WriteFile(answers, []byte(
		"kind: final\nanswers:\n  final_q1: \"0.5\"\n  final_q2: \"0.8\"\n  final_q3: \"1\"\n"), 0o600))
	out = env.mustRun(t, "assess", "STU001", "--file", answers)
	assert.Contains(t, out, "final assessment for STU001: 3/5")

	env.mustRun(t, "assess", "STU002", "--answer", "pre_q1=0.5", "--answer", "pre_q2=0.5")
	env.mustRun(t, "assess", "STU002", "--kind", "final", "--answer", "final_q1=0.5", "--answer", "final_q2=0.8")

	out = env.mustRun(t, "compare")
	assert.Contains(t, out, "winner: A")
	assert.NotContains(t, out, "note:")

	out = env.mustRun(t, "compare", "--json")
	assert.Contains(t, out, `"winner": "A"`)

	_, err := env.run(t, "", "assess", "STU001", "--kind", "midterm")
	assert.Error(t, err)

	report := filepath.Join(env.dir, "out", "report.xlsx")
	out = env.mustRun(t, "export", "--out", report)
	assert.Contains(t, out, report)
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(data[:2]))
}

func TestChatCommand(t *testing.T) {
	env := newTestEnv(t)
	env.mustRun(t, "student", "register", "STU001", "1")
	env.mustRun(t, "student", "register", "STU002", "2")

	out, err := env.run(t, "sin is opposite over hypotenuse\n/quit\n",
		"chat", "STU001", "--problem", sineProblem, "--concept", "sine", "--expected", "0.5")
	require.NoError(t, err, out)
	assert.Contains(t, out, "tutor> Good. What would you do next?")
	assert.Contains(t, out, "session abandoned")

	_, err = env.run(t, "", "chat", "STU001")
	assert.Error(t, err, "nothing to resume")

	out, err = env.run(t, "What is sin 30°?\n", "chat", "STU002")
	require.NoError(t, err, out)
	assert.Contains(t, out, "assistant> sin 30° is 1/2.")
}

func TestResourcesCommands(t *testing.T) {
	env := newTestEnv(t)
	catalog := filepath.Join(env.dir, "catalog", "resources.xlsx")

	out := env.mustRun(t, "resources", "init", catalog)
	assert.Contains(t, out, "created")
	out = env.mustRun(t, "resources", "init", catalog)
	assert.Contains(t, out, "already exists")

	installed := filepath.Join(env.dir, "installed.xlsx")
	out = env.mustRun(t, "resources", "import", catalog, "--out", installed)
	assert.Contains(t, out, "catalog written to")

	imported, err := spreadsheet.ImportResources(installed, "")
	require.NoError(t, err)
	assert.NotEmpty(t, imported.Resources)

	out = env.mustRun(t, "resources", "list")
	assert.Contains(t, out, "TOPIC")
	assert.Greater(t, strings.Count(out, "\n"), 1)

	_, err = env.run(t, "", "resources", "import", filepath.Join(env.dir, "missing.xlsx"))
	assert.Error(t, err)
}

func TestScheduler_Jobs(t *testing.T) {
	env := newTestEnv(t)
	app, err := Bootstrap(context.Background(), env.cfg, logger.Discard(), BootstrapOptions{Gateway: env.gateway})
	require.NoError(t, err)
	defer app.Close()

	sched, err := NewScheduler(app)
	require.NoError(t, err)
	assert.Empty(t, sched.ListJobs(), "backups disabled, report export off by default")

	require.NoError(t, env.cfg.Features.EnableFeature(config.FeatureBackups))
	require.NoError(t, env.cfg.Features.EnableFeature(config.FeatureReportExport))
	defer func() {
		_ = env.cfg.Features.DisableFeature(config.FeatureBackups)
		_ = env.cfg.Features.DisableFeature(config.FeatureReportExport)
	}()

	sched, err = NewScheduler(app)
	require.NoError(t, err)
	assert.Len(t, sched.ListJobs(), 2)
}
