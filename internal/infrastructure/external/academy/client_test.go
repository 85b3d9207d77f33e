package academy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

func testClient(url string) *Client {
	cfg := DefaultClientConfig(url)
	cfg.APIKey = "secret"
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.BreakerThreshold = 2
	cfg.BreakerTimeout = time.Hour
	return NewClient(cfg)
}

func TestClient_Profile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/practitioners/p-1":
			_ = json.NewEncoder(w).Encode(profileDTO{ID: "p-1", AcademyID: "a-1", DateOfBirth: "2010-06-01", Active: true})
		case "/practitioners/p-nodob":
			_ = json.NewEncoder(w).Encode(profileDTO{ID: "p-nodob", AcademyID: "a-1", Active: false})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	ctx := context.Background()

	p, err := c.Profile(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", p.AcademyID)
	assert.True(t, p.Active)
	assert.Equal(t, time.Date(2010, 6, 1, 0, 0, 0, 0, time.UTC), p.DateOfBirth)

	p, err = c.Profile(ctx, "p-nodob")
	require.NoError(t, err)
	assert.True(t, p.DateOfBirth.IsZero())
	assert.False(t, p.Active)

	_, err = c.Profile(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrPractitionerNotFound)

	// Not-found answers do not trip the breaker.
	_, err = c.Profile(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrPractitionerNotFound)
	_, err = c.Profile(ctx, "p-1")
	assert.NoError(t, err)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(permissionDTO{Allowed: true})
	}))
	defer srv.Close()

	ok, err := testClient(srv.URL).CanGrantPromotion(context.Background(), "coach-1", "p-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).CanGrantPromotion(context.Background(), "coach-1", "p-1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_BreakerOpensOnOutage(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for i := 0; i < 2; i++ {
		_, err := c.Profile(context.Background(), "p-1")
		require.Error(t, err)
	}
	before := atomic.LoadInt32(&calls)

	_, err := c.Profile(context.Background(), "p-1")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, before, atomic.LoadInt32(&calls), "open breaker must not call the directory")
}

func TestStaticAuthorizer(t *testing.T) {
	ctx := context.Background()

	a := NewStaticAuthorizer([]string{"coach-1", ""})
	ok, _ := a.CanGrantPromotion(ctx, "coach-1", "p-1")
	assert.True(t, ok)
	ok, _ = a.CanGrantPromotion(ctx, "student-9", "p-1")
	assert.False(t, ok)
	ok, _ = a.CanGrantPromotion(ctx, "", "p-1")
	assert.False(t, ok)

	all := NewStaticAuthorizer([]string{"*"})
	ok, _ = all.CanGrantPromotion(ctx, "anyone", "p-1")
	assert.True(t, ok)
}

func TestClient_HealthCheck(t *testing.T) {
	healthy := int32(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || atomic.LoadInt32(&healthy) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	assert.NoError(t, c.HealthCheck(context.Background()))

	atomic.StoreInt32(&healthy, 0)
	assert.Error(t, c.HealthCheck(context.Background()))

	for i := 0; i < 2; i++ {
		_, _ = c.Profile(context.Background(), "p-1")
	}
	atomic.StoreInt32(&healthy, 1)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), shared.ErrServiceUnavailable)
}
