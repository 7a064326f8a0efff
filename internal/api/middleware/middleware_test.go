package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRequireParticipant(t *testing.T) {
	id := uuid.New()
	var seen uuid.UUID
	h := RequireParticipant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetParticipantFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "not-a-uuid", http.StatusUnauthorized},
		{"nil", uuid.Nil.String(), http.StatusUnauthorized},
		{"valid", id.String(), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/messages", nil)
			if tt.header != "" {
				req.Header.Set(ParticipantHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, id, seen)
	assert.Equal(t, uuid.Nil, GetParticipantFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}

func TestValidateRequest(t *testing.T) {
	h := ValidateRequest(okHandler)
	tests := []struct {
		name   string
		method string
		target string
		ct     string
		body   string
		status int
	}{
		{"json post", http.MethodPost, "/messages", "application/json", `{}`, http.StatusNoContent},
		{"form post", http.MethodPost, "/messages", "text/plain", `hi`, http.StatusUnsupportedMediaType},
		{"empty put", http.MethodPut, "/participants/x", "", "", http.StatusNoContent},
		{"traversal", http.MethodGet, "/channels/..%2f", "", "", http.StatusBadRequest},
		{"script query", http.MethodGet, "/channels?next=javascript:alert(1)", "", "", http.StatusBadRequest},
		{"plain get", http.MethodGet, "/channels", "", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.ct != "" {
				req.Header.Set("Content-Type", tt.ct)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	h := MaxBodySize(8)(okHandler)
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"content":"too long"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"request body too large"}`, rec.Body.String())
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
}

func newMemoryLimiter(cfg RateLimiterConfig) *RateLimiter {
	return NewRateLimiter(NewMemoryCounter(time.Minute), NewMemoryBlocker(), zerolog.Nop(), cfg)
}

func TestFindLimit(t *testing.T) {
	rl := newMemoryLimiter(RateLimiterConfig{})

	tests := []struct {
		method, path string
		want         string
	}{
		{http.MethodPost, "/admin/catalog/reload", "POST /admin/"},
		{http.MethodPut, "/participants/abc", "PUT /participants/"},
		{http.MethodPost, "/messages", "POST /messages"},
		{http.MethodGet, "/channels/global", "GET /channels"},
		{http.MethodGet, "/health", ""},
	}
	for _, tt := range tests {
		limit := rl.findLimit(httptest.NewRequest(tt.method, tt.path, nil))
		if tt.want == "" {
			assert.Nil(t, limit, tt.path)
			continue
		}
		require.NotNil(t, limit, tt.path)
		assert.Equal(t, tt.want, limit.Pattern)
	}
}

func TestWhitelist(t *testing.T) {
	rl := newMemoryLimiter(RateLimiterConfig{
		Whitelist: []string{"10.0.0.0/8", "192.168.1.5", "bad/cidr"},
	})
	assert.True(t, rl.isWhitelisted("10.20.30.40"))
	assert.True(t, rl.isWhitelisted("192.168.1.5"))
	assert.False(t, rl.isWhitelisted("192.168.1.6"))
	assert.False(t, rl.isWhitelisted("nonsense"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := newMemoryLimiter(RateLimiterConfig{
		Limits: []RateLimit{{"POST /messages", 2, time.Minute, participantOrIPKey}},
	})
	h := rl.Middleware(okHandler)

	send := func(participant string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/messages", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set(ParticipantHeader, participant)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send("p-1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusNoContent, send("p-1").Code)

	rec = send("p-1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("p-2").Code, "keys are per participant")

	unlimited := httptest.NewRecorder()
	h.ServeHTTP(unlimited, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, unlimited.Code)
}

func TestRateLimiterAutoBlock(t *testing.T) {
	rl := newMemoryLimiter(RateLimiterConfig{
		AutoBlockEnabled: true,
		Limits:           []RateLimit{{"GET /channels", 1, time.Minute, ipKey}},
	})
	h := rl.Middleware(okHandler)

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/channels", nil)
		req.RemoteAddr = "198.51.100.7:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, get())
	for i := 0; i < violationThreshold; i++ {
		require.Equal(t, http.StatusTooManyRequests, get())
	}
	assert.Equal(t, http.StatusForbidden, get())

	rl.blocker.Unblock(context.Background(), "198.51.100.7")
	assert.Equal(t, http.StatusTooManyRequests, get())
}

func TestRateLimiterWhitelistBypasses(t *testing.T) {
	rl := newMemoryLimiter(RateLimiterConfig{
		Whitelist: []string{"127.0.0.1"},
		Limits:    []RateLimit{{"GET /channels", 1, time.Minute, ipKey}},
	})
	h := rl.Middleware(okHandler)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/channels", nil)
		req.RemoteAddr = "127.0.0.1:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestMemoryBlockerExpiry(t *testing.T) {
	b := NewMemoryBlocker()
	now := time.Now()
	b.now = func() time.Time { return now }

	b.Block(context.Background(), "192.0.2.1", time.Minute, "test")
	assert.True(t, b.IsBlocked(context.Background(), "192.0.2.1"))

	now = now.Add(2 * time.Minute)
	assert.False(t, b.IsBlocked(context.Background(), "192.0.2.1"))
}

func TestRealIPAndKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/messages", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", RealIP(req))
	assert.Equal(t, "httplimit:ip:203.0.113.9", participantOrIPKey(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	assert.Equal(t, "198.51.100.1", RealIP(req))

	req.Header.Set(ParticipantHeader, "p-1")
	assert.Equal(t, "httplimit:participant:p-1", participantOrIPKey(req))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/channels/{name}", normalizePath("/channels/area"))
	assert.Equal(t, "/participants/{id}", normalizePath("/participants/123"))
	assert.Equal(t, "/channels", normalizePath("/channels"))
}
