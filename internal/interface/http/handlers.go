package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alem-hub/socratic-tutor/internal/application/command"
	"github.com/alem-hub/socratic-tutor/internal/application/query"
	"github.com/alem-hub/socratic-tutor/internal/domain/assessment"
	"github.com/alem-hub/socratic-tutor/internal/domain/resource"
	"github.com/alem-hub/socratic-tutor/internal/domain/shared"
	"github.com/alem-hub/socratic-tutor/internal/domain/student"
	"github.com/alem-hub/socratic-tutor/internal/domain/tutoring"
	"github.com/alem-hub/socratic-tutor/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	version := s.deps.Version
	if version == "" {
		version = "dev"
	}
	respond(w, r, http.StatusOK, map[string]interface{}{
		"name":    "Socratic Tutor API",
		"version": version,
		"endpoints": map[string]string{
			"health":     "/health",
			"students":   "/api/v1/students",
			"comparison": "/api/v1/comparison",
			"report":     "/api/v1/report.xlsx",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			respond(w, r, http.StatusServiceUnavailable, status)
			return
		}
		respond(w, r, http.StatusOK, status)
		return
	}

	respond(w, r, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": s.Uptime().String(),
	})
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			respond(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	respond(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type registerStudentRequest struct {
	StudentID string `json:"student_id"`
	Cohort    string `json:"cohort"`
}

// handleRegisterStudent handles POST /api/v1/students
func (s *Server) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	if s.deps.RegisterStudent == nil {
		notConfigured(w, r, "register")
		return
	}
	var req registerStudentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.RegisterStudent.Handle(r.Context(), command.RegisterStudentCommand{
		StudentID: req.StudentID,
		Cohort:    req.Cohort,
	})
	if err != nil {
		s.writeDomainError(w, r, "register student", err)
		return
	}
	respondMeta(w, r, http.StatusCreated, newStudentDTO(result.Profile), nil)
}

// handleGetStudent handles GET /api/v1/students/{id}
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStudent == nil {
		notConfigured(w, r, "get student")
		return
	}

	result, err := s.deps.GetStudent.Handle(r.Context(), query.GetStudentQuery{
		StudentID:  r.PathValue("id"),
		NotesLimit: queryInt(r, "notes", 20),
	})
	if err != nil {
		s.writeDomainError(w, r, "get student", err)
		return
	}

	dto := newStudentDTO(result.Profile)
	dto.Notes = result.Notes
	dto.Assessments = result.Assessments
	dto.Ratings = result.Ratings
	dto.Activity = result.Activity
	respondMeta(w, r, http.StatusOK, dto, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type startSessionRequest struct {
	Problem  string `json:"problem"`
	Concept  string `json:"concept,omitempty"`
	Expected string `json:"expected,omitempty"`
}

type turnRequest struct {
	Utterance string `json:"utterance"`
}

// handleListSessions handles GET /api/v1/students/{id}/sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListSessions == nil {
		notConfigured(w, r, "list sessions")
		return
	}
	sessions, err := s.deps.ListSessions.Handle(r.Context(), query.ListSessionsQuery{
		StudentID: r.PathValue("id"),
		OnlyOpen:  queryBool(r, "open"),
	})
	if err != nil {
		s.writeDomainError(w, r, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []query.SessionSummary{}
	}
	respondMeta(w, r, http.StatusOK, sessions, &Meta{TotalCount: len(sessions)})
}

// handleStartSession handles POST /api/v1/students/{id}/sessions
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.StartSession == nil {
		notConfigured(w, r, "start session")
		return
	}
	var req startSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.StartSession.Handle(r.Context(), command.StartSessionCommand{
		StudentID: r.PathValue("id"),
		Problem:   req.Problem,
		Concept:   req.Concept,
		Expected:  req.Expected,
	})
	if err != nil {
		s.writeDomainError(w, r, "start session", err)
		return
	}
	respondMeta(w, r, http.StatusCreated, map[string]interface{}{
		"session":  newSessionDTO(result.Session),
		"response": result.Response,
	}, nil)
}

// handleGetSession handles GET /api/v1/students/{id}/sessions/{sid} and
// GET /api/v1/students/{id}/sessions/current
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSession == nil {
		notConfigured(w, r, "get session")
		return
	}
	sess, err := s.deps.GetSession.Handle(r.Context(), query.GetSessionQuery{
		StudentID: r.PathValue("id"),
		SessionID: r.PathValue("sid"),
	})
	if err != nil {
		s.writeDomainError(w, r, "get session", err)
		return
	}
	respondMeta(w, r, http.StatusOK, newSessionDTO(sess), nil)
}

// handleTakeTurn handles POST /api/v1/students/{id}/turns and
// POST /api/v1/students/{id}/sessions/{sid}/turns
func (s *Server) handleTakeTurn(w http.ResponseWriter, r *http.Request) {
	if s.deps.TakeTurn == nil {
		notConfigured(w, r, "turn")
		return
	}
	var req turnRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.TakeTurn.Handle(r.Context(), command.TakeTurnCommand{
		StudentID: r.PathValue("id"),
		SessionID: r.PathValue("sid"),
		Utterance: req.Utterance,
	})
	if err != nil {
		// The turn was recorded even though the tutor could not answer.
		if result != nil && errors.Is(err, shared.ErrTutorUnavailable) {
			s.logRequestError(r, "turn", err)
			w.Header().Set("Retry-After", "30")
			env := newEnvelope(r, http.StatusServiceUnavailable)
			env.Data = newTurnDTO(result)
			env.Error = &ErrorBody{Code: "tutor_unavailable", Message: shared.ErrTutorUnavailable.Message}
			env.write(w, http.StatusServiceUnavailable)
			return
		}
		s.writeDomainError(w, r, "turn", err)
		return
	}
	respondMeta(w, r, http.StatusOK, newTurnDTO(result), nil)
}

// handleAbandonSession handles POST /api/v1/students/{id}/sessions/{sid}/abandon
func (s *Server) handleAbandonSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.AbandonSession == nil {
		notConfigured(w, r, "abandon session")
		return
	}
	result, err := s.deps.AbandonSession.Handle(r.Context(), command.AbandonSessionCommand{
		StudentID: r.PathValue("id"),
		SessionID: r.PathValue("sid"),
	})
	if err != nil {
		s.writeDomainError(w, r, "abandon session", err)
		return
	}
	respondMeta(w, r, http.StatusOK, newSessionDTO(result.Session), nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSESSMENT & QUESTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type submitAssessmentRequest struct {
	Kind    string                   `json:"kind"`
	Answers map[string]string        `json:"answers,omitempty"`
	Inputs  []assessment.AnswerInput `json:"inputs,omitempty"`
	TakenAt time.Time                `json:"taken_at,omitempty"`
}

type askQuestionRequest struct {
	Question string `json:"question"`
}

// handleSubmitAssessment handles POST /api/v1/students/{id}/assessments
func (s *Server) handleSubmitAssessment(w http.ResponseWriter, r *http.Request) {
	if s.deps.SubmitAssessment == nil {
		notConfigured(w, r, "assessment")
		return
	}
	var req submitAssessmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.SubmitAssessment.Handle(r.Context(), command.SubmitAssessmentCommand{
		StudentID: r.PathValue("id"),
		Kind:      req.Kind,
		Answers:   req.Answers,
		Inputs:    req.Inputs,
		TakenAt:   req.TakenAt,
	})
	if err != nil {
		s.writeDomainError(w, r, "submit assessment", err)
		return
	}
	respondMeta(w, r, http.StatusCreated, map[string]interface{}{
		"record": result.Record,
		"rating": result.Rating,
	}, nil)
}

// handleAskQuestion handles POST /api/v1/students/{id}/questions
func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	if s.deps.AskQuestion == nil {
		notConfigured(w, r, "questions")
		return
	}
	var req askQuestionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.deps.AskQuestion.Handle(r.Context(), command.AskQuestionCommand{
		StudentID: r.PathValue("id"),
		Question:  req.Question,
	})
	if err != nil {
		s.writeDomainError(w, r, "ask question", err)
		return
	}
	respondMeta(w, r, http.StatusOK, map[string]interface{}{
		"question": result.Answer.Question,
		"answer":   result.Answer.Text,
		"at":       result.Answer.At,
	}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPARISON & REPORT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCompareCohorts handles GET /api/v1/comparison
// A cohort without eligible students is reported in the body, not as an error.
func (s *Server) handleCompareCohorts(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompareCohorts == nil {
		notConfigured(w, r, "comparison")
		return
	}
	result, err := s.deps.CompareCohorts.Handle(r.Context(), query.CompareCohortsQuery{})
	if err != nil {
		s.writeDomainError(w, r, "compare cohorts", err)
		return
	}
	respondMeta(w, r, http.StatusOK, result, nil)
}

// handleReport handles GET /api/v1/report.xlsx
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.BuildReport == nil || s.deps.ReportWriter == nil {
		notConfigured(w, r, "report")
		return
	}
	data, err := s.deps.BuildReport.Handle(r.Context())
	if err != nil {
		s.writeDomainError(w, r, "build report", err)
		return
	}

	var buf bytes.Buffer
	if err := s.deps.ReportWriter(&buf, data); err != nil {
		s.writeDomainError(w, r, "write report", err)
		return
	}

	name := fmt.Sprintf("tutor-report-%s.xlsx", data.GeneratedAt.UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleAlerts handles GET /api/v1/alerts
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		notConfigured(w, r, "alerts")
		return
	}
	alerts := s.deps.Alerts.Alerts()
	respondMeta(w, r, http.StatusOK, alerts, &Meta{TotalCount: len(alerts)})
}

// handleListResources handles GET /api/v1/resources. ?q= searches titles,
// topics and descriptions; ?topic= matches topics and descriptions only.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		notConfigured(w, r, "resources")
		return
	}
	q, topic := r.URL.Query().Get("q"), r.URL.Query().Get("topic")
	var items []resource.Resource
	switch {
	case q != "":
		items = s.deps.Resources.Search(q)
	case topic != "":
		items = s.deps.Resources.ForTopic(topic)
	default:
		items = s.deps.Resources.All()
	}
	items = nonNil(items)
	respondMeta(w, r, http.StatusOK, items, &Meta{TotalCount: len(items)})
}

// handleLookupResource handles GET /api/v1/resources/lookup?url=
func (s *Server) handleLookupResource(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resources == nil {
		notConfigured(w, r, "resources")
		return
	}
	u := r.URL.Query().Get("url")
	if u == "" {
		respondError(w, r, http.StatusBadRequest, "validation_error", "url is required")
		return
	}
	item, ok := s.deps.Resources.ByURL(u)
	if !ok {
		respondError(w, r, http.StatusNotFound, "not_found", "no resource with url "+u)
		return
	}
	respond(w, r, http.StatusOK, item)
}

// ══════════════════════════════════════════════════════════════════════════════
// DTOs
// ══════════════════════════════════════════════════════════════════════════════

type studentDTO struct {
	ID             string                  `json:"id"`
	Cohort         string                  `json:"cohort"`
	CohortLabel    string                  `json:"cohort_label"`
	WeakAreas      []string                `json:"weak_areas"`
	StrongAreas    []string                `json:"strong_areas"`
	Difficulty     string                  `json:"difficulty"`
	LearningStyle  string                  `json:"learning_style,omitempty"`
	Misconceptions []student.Misconception `json:"misconceptions"`
	CreatedAt      time.Time               `json:"created_at"`

	Notes       []student.ProgressNote         `json:"notes,omitempty"`
	Assessments []assessment.Record            `json:"assessments,omitempty"`
	Ratings     []assessment.PerformanceRating `json:"ratings,omitempty"`
	Activity    interface{}                    `json:"activity,omitempty"`
}

func newStudentDTO(p *student.Profile) *studentDTO {
	return &studentDTO{
		ID:             p.ID.String(),
		Cohort:         p.Cohort.String(),
		CohortLabel:    p.Cohort.Label(),
		WeakAreas:      nonNil(p.WeakAreas),
		StrongAreas:    nonNil(p.StrongAreas),
		Difficulty:     p.Difficulty.String(),
		LearningStyle:  p.LearningStyle,
		Misconceptions: p.Misconceptions,
		CreatedAt:      p.CreatedAt,
	}
}

type misconceptionDTO struct {
	Tag         string `json:"tag"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	FirstTime   bool   `json:"first_time"`
}

type turnDTO struct {
	SessionID     string            `json:"session_id"`
	Response      string            `json:"response"`
	Label         tutoring.Label    `json:"label"`
	Advanced      bool              `json:"advanced"`
	CurrentStep   int               `json:"current_step"`
	StepsTotal    int               `json:"steps_total"`
	State         tutoring.State    `json:"state"`
	Misconception *misconceptionDTO `json:"misconception,omitempty"`
	Tools         []string          `json:"tools,omitempty"`
	Degraded      bool              `json:"degraded,omitempty"`
	Summary       *tutoring.Summary `json:"summary,omitempty"`
}

func newTurnDTO(result *command.TakeTurnResult) *turnDTO {
	dto := &turnDTO{
		Response: result.Turn.Response,
		Label:    result.Turn.Label,
		Advanced: result.Turn.Advanced,
		State:    result.Turn.State,
		Tools:    result.Turn.Tools,
		Degraded: result.Turn.Degraded,
		Summary:  result.Turn.Summary,
	}
	if result.Session != nil {
		dto.SessionID = result.Session.ID
		dto.CurrentStep = result.Session.CurrentStep
		dto.StepsTotal = len(result.Session.Steps)
	}
	if m := result.Turn.Misconception; m != nil {
		dto.Misconception = &misconceptionDTO{
			Tag:         m.Tag,
			Description: m.Description,
			Count:       m.Count,
			FirstTime:   m.FirstTime,
		}
	}
	return dto
}

// sessionDTO is the learner's view of a session. Reasoning entries stay
// out of the transcript, and a step's answer appears only once the step is
// completed.
type sessionDTO struct {
	ID             string               `json:"id"`
	StudentID      string               `json:"student_id"`
	Problem        string               `json:"problem"`
	Concept        string               `json:"concept"`
	State          tutoring.State       `json:"state"`
	Steps          []stepDTO            `json:"steps"`
	CurrentStep    int                  `json:"current_step"`
	Transcript     []tutoring.Utterance `json:"transcript"`
	Tools          []string             `json:"tools,omitempty"`
	Misconceptions []string             `json:"misconceptions,omitempty"`
	Turns          int                  `json:"turns"`
	StartedAt      time.Time            `json:"started_at"`
	EndedAt        time.Time            `json:"ended_at,omitzero"`
}

type stepDTO struct {
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	Answer      string `json:"answer,omitempty"`
}

func newSessionDTO(sess *tutoring.Session) *sessionDTO {
	if sess == nil {
		return nil
	}
	dto := &sessionDTO{
		ID:             sess.ID,
		StudentID:      sess.StudentID.String(),
		Problem:        sess.Problem,
		Concept:        sess.Concept.String(),
		State:          sess.State,
		Steps:          make([]stepDTO, len(sess.Steps)),
		CurrentStep:    sess.CurrentStep,
		Transcript:     nonNil(sess.Visible()),
		Misconceptions: sess.Misconceptions,
		Turns:          sess.Turns,
		StartedAt:      sess.StartedAt,
		EndedAt:        sess.EndedAt,
	}
	for i, step := range sess.Steps {
		dto.Steps[i] = stepDTO{Description: step.Description, Completed: sess.IsCompleted(i)}
		if dto.Steps[i].Completed {
			dto.Steps[i].Answer = step.ExpectedForm
		}
	}
	for _, inv := range sess.Tools {
		dto.Tools = append(dto.Tools, inv.Tool)
	}
	return dto
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, shared.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, shared.ErrStateTransition), errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case shared.IsValidation(err), errors.Is(err, shared.ErrInvalidFormat):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	case shared.IsExternalService(err):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logRequestError(r, op, err)
	}

	message := err.Error()
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	if status == http.StatusInternalServerError {
		message = "Failed to " + op
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	respondError(w, r, status, code, message)
}

func (s *Server) logRequestError(r *http.Request, op string, err error) {
	logger.FromContext(r.Context()).Error("request failed",
		logger.Operation(op),
		slog.String("path", r.URL.Path),
		logger.Err(err),
	)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return false
		}
		respondErrorDetail(w, r, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON", err.Error())
		return false
	}
	return true
}

func notConfigured(w http.ResponseWriter, r *http.Request, what string) {
	respondError(w, r, http.StatusNotImplemented, "not_implemented", what+" is not configured")
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
