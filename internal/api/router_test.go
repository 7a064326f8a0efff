package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatmesh/internal/api/middleware"
	"github.com/eldtechnologies/chatmesh/internal/catalog"
	"github.com/eldtechnologies/chatmesh/internal/dispatch"
	"github.com/eldtechnologies/chatmesh/internal/handlers"
	"github.com/eldtechnologies/chatmesh/internal/models"
	"github.com/eldtechnologies/chatmesh/internal/presence"
	"github.com/eldtechnologies/chatmesh/internal/ratelimit"
	"github.com/eldtechnologies/chatmesh/internal/routing"
	"github.com/eldtechnologies/chatmesh/internal/validation"
)

type recordingDeliverer struct {
	mu         sync.Mutex
	recipients map[uuid.UUID][]models.Envelope
}

func (d *recordingDeliverer) Deliver(_ context.Context, env models.Envelope, recipients []uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range recipients {
		d.recipients[id] = append(d.recipients[id], env)
	}
	return nil
}

type testServer struct {
	t         *testing.T
	router    http.Handler
	registry  *presence.Registry
	deliverer *recordingDeliverer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	cat, err := catalog.NewStatic(logger, catalog.Defaults()...)
	require.NoError(t, err)

	reg := presence.NewRegistry()
	deliverer := &recordingDeliverer{recipients: make(map[uuid.UUID][]models.Envelope)}
	disp := dispatch.New(
		validation.NewPolicy(cat, ratelimit.NewMemory(), logger),
		routing.NewRouter(cat, reg, logger),
		reg, deliverer, logger,
	)
	h := handlers.NewHandler(cat, disp, reg, nil, logger)

	return &testServer{
		t:         t,
		router:    NewRouter(Options{Logger: logger, Handler: h}),
		registry:  reg,
		deliverer: deliverer,
	}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 6, resp.Channels)
	assert.Equal(t, "not configured", resp.Checks["redis"].Message)
}

func TestChannels(t *testing.T) {
	s := newTestServer(t)

	var list handlers.ChannelListResponse
	rec := s.do(http.MethodGet, "/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, 5, list.Total, "system is unlisted")

	rec = s.do(http.MethodGet, "/channels?all=true", "")
	decode(t, rec, &list)
	assert.Equal(t, 6, list.Total)

	rec = s.do(http.MethodGet, "/channels/Proximity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"proximity_range":50`)
	assert.Contains(t, rec.Body.String(), `"id":"proximity"`)

	rec = s.do(http.MethodGet, "/channels/trade", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParticipantLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New()
	path := "/participants/" + id.String()

	rec := s.do(http.MethodPut, path, `{"display_name":"  Ava ","position":{"x":1,"y":2,"z":3},"area_id":7}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPut, path, `{"display_name":"Ava","area_id":8}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var p handlers.ParticipantResponse
	rec = s.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &p)
	assert.Equal(t, "Ava", p.DisplayName)
	assert.Equal(t, int64(8), p.AreaID)

	var roster handlers.RosterResponse
	decode(t, s.do(http.MethodGet, "/participants", ""), &roster)
	assert.Equal(t, []string{id.String()}, roster.Participants)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/participants/nope", `{"display_name":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, path, `{"display_name":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, path, `{"display_name":"x","area_id":-1}`).Code)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, path, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, path, "").Code)
}

func TestPostMessage(t *testing.T) {
	s := newTestServer(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	for id, area := range map[uuid.UUID]int64{a: 7, b: 7, c: 3} {
		require.NoError(t, s.registry.Upsert(presence.Participant{ID: id, DisplayName: "p-" + id.String()[:4], AreaID: area}))
	}

	rec := s.do(http.MethodPost, "/messages", `{"channel":"area","content":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/messages", `{"channel":"area","content":"hi"}`, middleware.ParticipantHeader, a.String())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.PostMessageResponse
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Recipients)
	assert.Equal(t, "area", resp.Channel)
	assert.Len(t, s.deliverer.recipients[b], 1)
	assert.Empty(t, s.deliverer.recipients[c])
	assert.Equal(t, a, s.deliverer.recipients[b][0].SenderID)
}

func TestPostMessageErrors(t *testing.T) {
	s := newTestServer(t)
	a := uuid.New()
	require.NoError(t, s.registry.Upsert(presence.Participant{ID: a, DisplayName: "Ava", AreaID: 7}))
	hdr := []string{middleware.ParticipantHeader, a.String()}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad json", `{"channel":`, http.StatusBadRequest},
		{"unknown channel", `{"channel":"trade","content":"hi"}`, http.StatusBadRequest},
		{"bad priority", `{"channel":"global","content":"hi","priority":"urgent"}`, http.StatusBadRequest},
		{"empty content", `{"channel":"global","content":"  "}`, http.StatusUnprocessableEntity},
		{"too long", `{"channel":"proximity","content":"` + strings.Repeat("a", 201) + `"}`, http.StatusUnprocessableEntity},
		{"area without area", `{"channel":"area","content":"hi","area_id":0}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/messages", tt.body, hdr...)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestPostMessageRateLimited(t *testing.T) {
	s := newTestServer(t)
	a := uuid.New()
	require.NoError(t, s.registry.Upsert(presence.Participant{ID: a, DisplayName: "Ava"}))

	rec := s.do(http.MethodPost, "/messages", `{"channel":"global","content":"one"}`, middleware.ParticipantHeader, a.String())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/messages", `{"channel":"global","content":"two"}`, middleware.ParticipantHeader, a.String())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestReloadAndStats(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/admin/catalog/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var reload handlers.ReloadResponse
	decode(t, rec, &reload)
	assert.Equal(t, 6, reload.Channels)

	var stats handlers.StatsResponse
	decode(t, s.do(http.MethodGet, "/stats", ""), &stats)
	assert.Len(t, stats.Channels, 6)
	assert.Equal(t, 0, stats.Participants)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/channels", "")
	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatmesh_http_requests_total")
}
