package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Envelope wraps every JSON body the API writes.
type Envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Meta      *Meta      `json:"meta,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorBody is the error part of an Envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Meta carries the timestamp and, for lists, the item count.
type Meta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func newEnvelope(r *http.Request, status int) *Envelope {
	env := &Envelope{
		Success: status >= 200 && status < 300,
		Meta:    &Meta{Timestamp: time.Now().UTC(), Version: "v1"},
	}
	if r != nil {
		env.RequestID = requestIDFrom(r.Context())
	}
	return env
}

func (e *Envelope) write(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func respond(w http.ResponseWriter, r *http.Request, status int, data any) {
	respondMeta(w, r, status, data, nil)
}

// respondMeta writes data with extra metadata; only TotalCount is taken
// from meta.
func respondMeta(w http.ResponseWriter, r *http.Request, status int, data any, meta *Meta) {
	env := newEnvelope(r, status)
	env.Data = data
	if meta != nil {
		env.Meta.TotalCount = meta.TotalCount
	}
	env.write(w, status)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondErrorDetail(w, r, status, code, message, "")
}

func respondErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	env := newEnvelope(r, status)
	env.Error = &ErrorBody{Code: code, Message: message, Details: details}
	env.write(w, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type ctxKey int

const requestIDKey ctxKey = iota

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		addr = addr[:i]
	}
	return addr
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
