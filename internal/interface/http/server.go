// Package http exposes the tutor over a JSON REST API: student registration,
// tutoring sessions, control-cohort questions, assessments and the cohort
// comparison report.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/socratic-tutor/internal/application/command"
	"github.com/alem-hub/socratic-tutor/internal/application/eventhandler"
	"github.com/alem-hub/socratic-tutor/internal/application/query"
	"github.com/alem-hub/socratic-tutor/internal/domain/resource"
	"github.com/alem-hub/socratic-tutor/internal/interface/http/handlers"
	"github.com/alem-hub/socratic-tutor/pkg/logger"
	"github.com/alem-hub/socratic-tutor/pkg/ratelimit"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxHeaderBytes int
	MaxBodyBytes   int64

	EnableCORS     bool
	AllowedOrigins []string // "*" allows any origin

	// RateLimitPerMinute is the per-client budget. Zero turns limiting off.
	RateLimitPerMinute int

	// APIKeys guard the /api/v1 routes. Empty disables auth.
	APIKeyHeader string
	APIKeys      []string
}

// DefaultConfig listens on :8080 with CORS open and 120 requests per
// minute per client.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       1 << 20,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 120,
		APIKeyHeader:       handlers.DefaultAPIKeyHeader,
	}
}

// Address is host:port.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// ReportWriter streams the study report workbook.
type ReportWriter func(w io.Writer, data *query.ReportData) error

// AlertSource lists recent repeated-misconception alerts.
type AlertSource interface {
	Alerts() []eventhandler.MisconceptionAlert
}

// Dependencies are the application handlers the routes call.
// A nil handler makes its routes answer 501.
type Dependencies struct {
	// Write side
	RegisterStudent  *command.RegisterStudentHandler
	StartSession     *command.StartSessionHandler
	TakeTurn         *command.TakeTurnHandler
	AbandonSession   *command.AbandonSessionHandler
	SubmitAssessment *command.SubmitAssessmentHandler
	AskQuestion      *command.AskQuestionHandler

	// Read side
	GetStudent     *query.GetStudentHandler
	GetSession     *query.GetSessionHandler
	ListSessions   *query.ListSessionsHandler
	CompareCohorts *query.CompareCohortsHandler
	BuildReport    *query.BuildReportHandler

	ReportWriter ReportWriter
	Alerts       AlertSource
	Resources    *resource.Catalog

	HealthChecker handlers.HealthChecker
	Logger        *slog.Logger

	// Version is reported by the root endpoint.
	Version string
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the tutor's HTTP front end.
type Server struct {
	config  Config
	deps    Dependencies
	srv     *http.Server
	mux     *http.ServeMux
	logger  *slog.Logger
	auth    *handlers.APIKeyAuth
	clients *clientLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer registers the routes and prepares the listener; call Start to serve.
func NewServer(config Config, deps Dependencies) *Server {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		config: config,
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: log.With(logger.Component("http")),
		auth:   handlers.NewAPIKeyAuth(config.APIKeyHeader, config.APIKeys),
	}
	if config.RateLimitPerMinute > 0 {
		s.clients = newClientLimiter(config.RateLimitPerMinute)
	}

	s.routes()

	s.srv = &http.Server{
		Addr:           config.Address(),
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.middleware(s.mux)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Probes
	// ─────────────────────────────────────────────────────────────────────────
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /live", s.handleLive)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	api := func(pattern string, fn http.HandlerFunc) {
		s.mux.Handle(pattern, s.auth.Wrap(fn))
	}

	api("POST /api/v1/students", s.handleRegisterStudent)
	api("GET /api/v1/students/{id}", s.handleGetStudent)

	api("GET /api/v1/students/{id}/sessions", s.handleListSessions)
	api("POST /api/v1/students/{id}/sessions", s.handleStartSession)
	api("GET /api/v1/students/{id}/sessions/current", s.handleGetSession)
	api("GET /api/v1/students/{id}/sessions/{sid}", s.handleGetSession)
	api("POST /api/v1/students/{id}/turns", s.handleTakeTurn)
	api("POST /api/v1/students/{id}/sessions/{sid}/turns", s.handleTakeTurn)
	api("POST /api/v1/students/{id}/sessions/{sid}/abandon", s.handleAbandonSession)

	api("POST /api/v1/students/{id}/assessments", s.handleSubmitAssessment)
	api("POST /api/v1/students/{id}/questions", s.handleAskQuestion)

	api("GET /api/v1/comparison", s.handleCompareCohorts)
	api("GET /api/v1/report.xlsx", s.handleReport)
	api("GET /api/v1/alerts", s.handleAlerts)

	api("GET /api/v1/resources", s.handleListResources)
	api("GET /api/v1/resources/lookup", s.handleLookupResource)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// middleware wraps h; the first entry is the outermost.
func (s *Server) middleware(h http.Handler) http.Handler {
	chain := []handlers.MiddlewareFunc{
		s.withRequestID,
		s.recoverPanics,
		s.logRequests,
		handlers.SecurityHeadersMiddleware,
	}
	if s.config.EnableCORS {
		chain = append(chain, s.cors)
	}
	if s.clients != nil {
		chain = append(chain, s.limitClients)
	}
	if s.config.MaxBodyBytes > 0 {
		chain = append(chain, handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes))
	}
	return handlers.ChainHandler(h, chain...)
}

// withRequestID reuses the caller's X-Request-ID or mints one, and puts a
// logger carrying it into the request context.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := withRequestID(r.Context(), id)
		ctx = logger.WithContext(ctx, s.logger.With(logger.RequestID(id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		if sw.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.FromContext(r.Context()).Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			logger.Latency(time.Since(start)),
			slog.String("ip", clientIP(r)),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic recovered",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
				slog.String("path", r.URL.Path),
				logger.RequestID(requestIDFrom(r.Context())),
			)
			respondError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+s.auth.Header()+", X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (s *Server) limitClients(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.clients.allow(clientIP(r)) {
			w.Header().Set("Retry-After", s.clients.retryAfter())
			respondError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", slog.String("address", s.config.Address()))

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}
	return nil
}

// Shutdown drains in-flight requests. It may be called more than once and
// before Start, in which case a later Start returns at once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.clients.stop()

	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()

	if wasRunning {
		s.logger.Info("shutting down HTTP server")
	}
	return s.srv.Shutdown(ctx)
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime is zero unless the server is running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.config.Address()
}

// statusWriter remembers the status code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-CLIENT RATE LIMIT
// ══════════════════════════════════════════════════════════════════════════════

// clientLimiter keeps one token bucket per client address. A client gets
// a full minute's budget as burst and refills at the per-minute rate.
// Buckets idle for longer than idleAfter are swept.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	perMin  int

	idleAfter time.Duration
	done      chan struct{}
	once      sync.Once
}

type clientBucket struct {
	limiter  *ratelimit.Limiter
	lastSeen time.Time
}

func newClientLimiter(perMinute int) *clientLimiter {
	cl := &clientLimiter{
		buckets:   make(map[string]*clientBucket),
		perMin:    perMinute,
		idleAfter: 2 * time.Minute,
		done:      make(chan struct{}),
	}
	go cl.sweep()
	return cl
}

func (cl *clientLimiter) allow(client string) bool {
	cl.mu.Lock()
	b, ok := cl.buckets[client]
	if !ok {
		b = &clientBucket{limiter: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: float64(cl.perMin) / 60,
			Burst:             cl.perMin,
		})}
		cl.buckets[client] = b
	}
	b.lastSeen = time.Now()
	cl.mu.Unlock()

	return b.limiter.Allow()
}

// retryAfter is the time for one token to refill, in whole seconds.
func (cl *clientLimiter) retryAfter() string {
	secs := math.Ceil(60 / float64(cl.perMin))
	return strconv.Itoa(int(math.Max(secs, 1)))
}

func (cl *clientLimiter) stop() {
	if cl == nil {
		return
	}
	cl.once.Do(func() { close(cl.done) })
}

func (cl *clientLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case now := <-ticker.C:
			cl.mu.Lock()
			for client, b := range cl.buckets {
				if now.Sub(b.lastSeen) > cl.idleAfter {
					delete(cl.buckets, client)
				}
			}
			cl.mu.Unlock()
		}
	}
}
