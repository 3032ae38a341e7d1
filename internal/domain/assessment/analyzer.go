package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/domain/completion"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE ANALYZER
// Turns a graded record into weak/strong areas and a difficulty estimate.
// The model's opinion is optional; a deterministic rating is always available.
// ══════════════════════════════════════════════════════════════════════════════

// RatingSource records who produced a rating.
type RatingSource string

const (
	SourceModel    RatingSource = "model"
	SourceFallback RatingSource = "fallback"
)

// PerformanceRating is the analysis of one assessment record.
type PerformanceRating struct {
	StudentID       shared.StudentID  `json:"student_id" toml:"student_id"`
	RecordID        string            `json:"record_id" toml:"record_id"`
	Kind            Kind              `json:"kind" toml:"kind"`
	Score           float64           `json:"score" toml:"score"`
	CorrectAnswers  int               `json:"correct_answers" toml:"correct_answers"`
	TotalQuestions  int               `json:"total_questions" toml:"total_questions"`
	WeakAreas       []string          `json:"weak_areas" toml:"weak_areas"`
	StrongAreas     []string          `json:"strong_areas" toml:"strong_areas"`
	Difficulty      shared.Difficulty `json:"difficulty" toml:"difficulty"`
	Feedback        string            `json:"feedback,omitempty" toml:"feedback,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty" toml:"recommendations,omitempty"`
	Source          RatingSource      `json:"source" toml:"source"`
	RatedAt         time.Time         `json:"rated_at" toml:"rated_at"`
}

const analyzerSystemPrompt = `You are an assessment analyzer for a trigonometry course.
Given a student's graded answers, identify weak and strong concept areas,
rate the level the student is working at (Easy, Moderate, Hard, Expert)
and give short encouraging feedback.

Reply with JSON only:
{"weak_areas": ["concept"], "strong_areas": ["concept"], "difficulty_level": "Moderate",
 "detailed_feedback": "text", "recommendations": ["text"]}`

// modelRating is the JSON shape requested from the model.
type modelRating struct {
	WeakAreas       []string `json:"weak_areas"`
	StrongAreas     []string `json:"strong_areas"`
	DifficultyLevel string   `json:"difficulty_level"`
	Feedback        string   `json:"detailed_feedback"`
	Recommendations []string `json:"recommendations"`
}

// Analyzer rates assessment records.
type Analyzer struct {
	gateway completion.Gateway
	now     func() time.Time
}

// NewAnalyzer creates an Analyzer. A nil gateway makes every rating deterministic.
func NewAnalyzer(gateway completion.Gateway) *Analyzer {
	return &Analyzer{gateway: gateway, now: time.Now}
}

// Analyze rates a record. Score and counts always come from the record itself;
// the model may only contribute areas, difficulty and feedback.
func (a *Analyzer) Analyze(ctx context.Context, rec Record, bank *Bank) PerformanceRating {
	base := FallbackRating(rec)
	base.RatedAt = a.now().UTC()

	if a.gateway == nil {
		return base
	}

	var parsed modelRating
	res := a.gateway.Complete(ctx, completion.Request{
		Purpose:     completion.PurposeAnalyze,
		System:      analyzerSystemPrompt,
		Prompt:      analysisPrompt(rec, bank),
		MaxTokens:   800,
		Temperature: 0.2,
	}).Then(func(text string) error {
		return decodeRating(text, &parsed)
	})
	if !res.OK() {
		return base
	}

	rating := base
	rating.Source = SourceModel
	if len(parsed.WeakAreas) > 0 || len(parsed.StrongAreas) > 0 {
		rating.WeakAreas = normalizeAreas(parsed.WeakAreas)
		rating.StrongAreas = normalizeAreas(parsed.StrongAreas)
	}
	if d, err := shared.ParseDifficulty(parsed.DifficultyLevel); err == nil {
		rating.Difficulty = d
	}
	rating.Feedback = strings.TrimSpace(parsed.Feedback)
	rating.Recommendations = parsed.Recommendations
	return rating
}

// FallbackRating derives a rating from the record alone.
func FallbackRating(rec Record) PerformanceRating {
	score := rec.Score()
	return PerformanceRating{
		StudentID:      rec.StudentID,
		RecordID:       rec.ID,
		Kind:           rec.Kind,
		Score:          score,
		CorrectAnswers: rec.Correct(),
		TotalQuestions: rec.Total(),
		WeakAreas:      rec.MissedConcepts(),
		StrongAreas:    rec.MasteredConcepts(),
		Difficulty:     shared.DifficultyForScore(score),
		Feedback:       fmt.Sprintf("%d of %d correct.", rec.Correct(), rec.Total()),
		Source:         SourceFallback,
		RatedAt:        time.Now().UTC(),
	}
}

func analysisPrompt(rec Record, bank *Bank) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Student ID: %s\nAssessment: %s\n\n", rec.StudentID, rec.Kind)
	for i, ans := range rec.Answers {
		status := "INCORRECT"
		if ans.Correct {
			status = "CORRECT"
		}
		fmt.Fprintf(&b, "Question %d (%s)", i+1, ans.QuestionID)
		if bank != nil {
			if q, ok := bank.Question(ans.QuestionID); ok {
				fmt.Fprintf(&b, ": %s\nCorrect answer: %s", q.Prompt, q.Expected)
			}
		}
		fmt.Fprintf(&b, "\nConcept: %s\nStudent answer: %s\nStatus: %s\n\n", ans.Concept, ans.Submitted, status)
	}
	fmt.Fprintf(&b, "Total score: %d/%d (%.1f%%)\n", rec.Correct(), rec.Total(), rec.Score()*100)
	return b.String()
}

// decodeRating extracts the outermost JSON object from text.
func decodeRating(text string, out *modelRating) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in reply")
	}
	return json.Unmarshal([]byte(text[start:end+1]), out)
}

func normalizeAreas(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		c := string(shared.NormalizeConcept(s))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
