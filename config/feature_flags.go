package config

import (
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// FeatureFlags manages feature toggles. A flag can be switched on for a
// percentage of students or for one cohort only, so an experiment can be
// tried on part of a class before it reaches everyone.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // studentID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Students are bucketed by a hash of their ID.
	RolloutPercent int

	// TargetCohorts limits the feature to the listed cohorts. Empty means all.
	TargetCohorts []string
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	StudentID string
	Cohort    string
}

// Predefined feature flag names.
const (
	// === Gateway ===
	FeatureGeminiFallback = "gateway.gemini_fallback" // Put the second provider behind the primary

	// === Storage ===
	FeatureRedisSessions = "storage.redis_sessions" // Sessions, slot locks and chat history in Redis

	// === Scheduler ===
	FeatureBackups      = "scheduler.backups"       // Zip the data directory periodically
	FeatureReportExport = "scheduler.report_export" // Write the xlsx report periodically

	// === Assessment ===
	FeatureAssessmentAnalysis = "assessment.analysis" // Ask the model to rate assessments

	// === Tutor ===
	FeatureGentleReveal = "tutor.gentle_reveal" // Misconceptions may be named gently instead of probed
)

// LoadFeatureFlags loads feature flags from the given viper instance.
// Keys look like "features.gateway_gemini_fallback"; the matching env
// variable is TUTOR_FEATURES_GATEWAY_GEMINI_FALLBACK. A value is either a
// boolean or a rollout percentage.
func LoadFeatureFlags(v *viper.Viper) *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	if v != nil {
		ff.load(v)
	}
	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureGeminiFallback] = &Feature{
		Name:           FeatureGeminiFallback,
		Description:    "Fall back to the second completion provider on transport failures",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureRedisSessions] = &Feature{
		Name:           FeatureRedisSessions,
		Description:    "Keep sessions, slot locks and chat history in Redis",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureBackups] = &Feature{
		Name:           FeatureBackups,
		Description:    "Back up the data directory every interval",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureReportExport] = &Feature{
		Name:           FeatureReportExport,
		Description:    "Export the comparison report to xlsx every interval",
		Enabled:        false,
		RolloutPercent: 0,
	}

	ff.features[FeatureAssessmentAnalysis] = &Feature{
		Name:           FeatureAssessmentAnalysis,
		Description:    "Rate assessments with the completion gateway",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Off by default: the tutor never names a misconception unless asked to.
	ff.features[FeatureGentleReveal] = &Feature{
		Name:           FeatureGentleReveal,
		Description:    "Name detected misconceptions gently",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// load applies values from viper.
func (ff *FeatureFlags) load(v *viper.Viper) {
	for name, feature := range ff.features {
		key := featureKey(name)
		if !v.IsSet(key) {
			continue
		}
		val := strings.TrimSpace(v.GetString(key))

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureKey converts a feature name to its config key.
// "gateway.gemini_fallback" -> "features.gateway_gemini_fallback"
func featureKey(name string) string {
	return "features." + strings.ReplaceAll(name, ".", "_")
}

// IsEnabled checks if a feature is enabled for the given context.
// A nil context asks about the deployment as a whole.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.StudentID != "" {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if len(feature.TargetCohorts) > 0 && ctx != nil && ctx.Cohort != "" {
		match := false
		for _, c := range feature.TargetCohorts {
			if c == ctx.Cohort {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.StudentID != "" {
		return isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// Enabled is IsEnabled without a context.
func (ff *FeatureFlags) Enabled(featureName string) bool {
	return ff.IsEnabled(featureName, nil)
}

// isInRollout uses consistent hashing so students stay in their bucket.
func isInRollout(studentID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(studentID))
	return int(h.Sum32()%100) < percent
}

// SetStudentOverride forces a feature on or off for one student.
func (ff *FeatureFlags) SetStudentOverride(studentID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// SetTargetCohorts limits a feature to the given cohorts.
func (ff *FeatureFlags) SetTargetCohorts(featureName string, cohorts ...string) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.TargetCohorts = append([]string(nil), cohorts...)
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
