package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dojo-hub/progression-engine/pkg/logger"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAPIKeyAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	auth, err := NewAPIKeyAuth("", []string{string(hash), " "})
	require.NoError(t, err)
	assert.True(t, auth.Enabled())
	h := auth.Middleware(http.HandlerFunc(okHandler))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header key", "X-API-Key", "s3cret", http.StatusOK},
		{"bearer", "Authorization", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	// Verified keys are remembered.
	assert.Len(t, auth.verified, 1)
}

func TestAPIKeyAuth_RejectsBadHash(t *testing.T) {
	_, err := NewAPIKeyAuth("X-API-Key", []string{"plaintext"})
	assert.Error(t, err)
}

func TestAPIKeyAuth_DisabledWithoutHashes(t *testing.T) {
	auth, err := NewAPIKeyAuth("X-API-Key", nil)
	require.NoError(t, err)
	assert.False(t, auth.Enabled())

	rec := httptest.NewRecorder()
	auth.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActorMiddleware(t *testing.T) {
	var seen string
	h := ActorMiddleware("")(RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_actor")

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Actor-ID", "  coach-1 ")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "coach-1", seen)

	assert.Empty(t, ActorFromContext(context.Background()))
}

func TestRecovery(t *testing.T) {
	h := Recovery(logger.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestRequestLogger_InjectsLogger(t *testing.T) {
	var got *logger.Logger
	h := RequestLogger(logger.Nop(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logger.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotNil(t, got)
}

func TestRequestSizeLimit(t *testing.T) {
	h := RequestSizeLimitMiddleware(8)(http.HandlerFunc(okHandler))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompositeHealthChecker(t *testing.T) {
	hc := NewCompositeHealthChecker("1.0.0")
	hc.SetTimeout(50 * time.Millisecond)

	status := hc.Check(context.Background())
	assert.True(t, status.Healthy)

	hc.AddCheck("postgres", func(context.Context) error { return nil })
	hc.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	hc.AddCheck("directory", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status = hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "Some checks failed: directory, redis", status.Message)

	hc.RemoveCheck("redis")
	hc.RemoveCheck("directory")
	assert.True(t, hc.Check(context.Background()).Healthy)
}

func TestCompositeHealthChecker_OptionalCheckDegrades(t *testing.T) {
	hc := NewCompositeHealthChecker("1.0.0")
	hc.AddCheck("postgres", func(context.Context) error { return nil })
	hc.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.False(t, status.Checks["redis"].Critical)
	assert.Equal(t, "Degraded: redis", status.Message)
}
