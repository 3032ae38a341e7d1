package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeDegraded bool

func (f fakeDegraded) Degraded() bool { return bool(f) }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("v0.1.0")
	status := c.Check(context.Background())
	assert.True(t, status.Healthy)

	c.AddCheck("database", NewDatabaseCheck(fakePinger{}))
	c.AddCheck("redis", NewCacheCheck(fakePinger{err: errors.New("connection refused")}))
	c.AddOptionalCheck("tutor", NewDegradedCheck(fakeDegraded(true)))

	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.True(t, status.Checks["tutor"].Optional)
	assert.True(t, status.Checks["database"].Healthy)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	assert.Equal(t, ErrDegraded.Error(), status.Checks["tutor"].Message)
	assert.Equal(t, "Some checks failed: redis, tutor", status.Message)

	c.RemoveCheck("redis")
	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready, "a degraded tutor keeps the service ready")

	c.AddOptionalCheck("tutor", NewDegradedCheck(fakeDegraded(false)))
	assert.True(t, c.Check(context.Background()).Healthy)
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	open := NewAPIKeyAuth("", nil)
	rec := httptest.NewRecorder()
	open.Middleware(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	auth := NewAPIKeyAuth("X-API-Key", []string{"secret"})
	for name, tc := range map[string]struct {
		header, value string
		want          int
	}{
		"missing": {want: http.StatusUnauthorized},
		"wrong":   {header: "X-API-Key", value: "nope", want: http.StatusUnauthorized},
		"header":  {header: "X-API-Key", value: "secret", want: http.StatusNoContent},
		"bearer":  {header: "Authorization", value: "Bearer secret", want: http.StatusNoContent},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			auth.Middleware(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRequestSizeLimit(t *testing.T) {
	h := ChainHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), SecurityHeadersMiddleware, RequestSizeLimitMiddleware(8))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("far too long a body")))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rec.Body.String(), "payload_too_large")
}
