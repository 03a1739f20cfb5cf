package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sfulink/internal/core/domain"
	"sfulink/internal/infrastructure/middleware"
	"sfulink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSessions struct {
	mu         sync.Mutex
	snapshot   []domain.SessionSnapshot
	desired    domain.DesiredUpdate
	updates    []domain.DesiredUpdate
	stopped    []domain.StreamID
	stopErr    error
	notRunning bool
}

func (f *fakeSessions) Snapshot(context.Context) ([]domain.SessionSnapshot, error) {
	if f.notRunning {
		return nil, domain.ErrManagerNotRunning
	}
	return f.snapshot, nil
}

func (f *fakeSessions) Desired(context.Context) (domain.DesiredUpdate, error) {
	return f.desired, nil
}

func (f *fakeSessions) UpdateDesired(u domain.DesiredUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeSessions) Stop(_ context.Context, id domain.StreamID) error {
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

type fakeHistory []domain.Notification

func (h fakeHistory) Recent(limit int) []domain.Notification {
	if limit > 0 && limit < len(h) {
		return h[:limit]
	}
	return h
}

type fakeStatus struct{}

func (fakeStatus) Status() domain.ConnectionStatus {
	return domain.ConnectionStatus{Level: domain.LevelWarning, LastRTT: 600 * time.Millisecond}
}

type fakePublisher struct {
	published []domain.DesiredUpdate
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, u domain.DesiredUpdate) error {
	p.published = append(p.published, u)
	return p.err
}

type handlerHarness struct {
	router    *gin.Engine
	sessions  *fakeSessions
	publisher *fakePublisher
	channel   domain.ChannelState
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &handlerHarness{
		sessions:  &fakeSessions{},
		publisher: &fakePublisher{},
		channel:   domain.ChannelOpen,
	}
	health := monitoring.NewHealthChecker()
	health.AddChannelCheck(func() domain.ChannelState { return h.channel }, time.Minute)

	history := fakeHistory{
		{StreamID: "cam-2", Kind: "transport", Code: 2001},
		{StreamID: "cam-1", Kind: "timeout"},
	}

	h.router = gin.New()
	h.router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewSessionHandler(h.sessions, history, fakeStatus{}, health, h.publisher).SetupRoutes(h.router)
	return h
}

func (h *handlerHarness) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.router.ServeHTTP(w, req)
	return w
}

func TestSessionHandler_Probes(t *testing.T) {
	h := newHandlerHarness(t)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ready", "").Code)

	h.channel = domain.ChannelConnecting
	w := h.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "signaling channel not open")
}

func TestSessionHandler_ListSessions(t *testing.T) {
	h := newHandlerHarness(t)
	h.sessions.snapshot = []domain.SessionSnapshot{
		{StreamID: "cam-1", Role: domain.RoleSubscriber, State: domain.StateFlowing},
	}

	w := h.do(http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []map[string]any `json:"sessions"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "FLOWING", body.Sessions[0]["state"])

	h.sessions.notRunning = true
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/v1/sessions", "").Code)
}

func TestSessionHandler_ReplaceDesired(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(http.MethodPut, "/api/v1/streams",
		`{"streams":[{"stream_id":"cam-1","role":"share"},{"stream_id":"cam-2","role":"subscriber","is_floor":true}],"page_changed":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, h.sessions.updates, 1)
	update := h.sessions.updates[0]
	assert.True(t, update.PageChanged)
	assert.Equal(t, domain.RolePublisher, update.Streams[0].Role)
	assert.Equal(t, domain.StreamID("cam-2"), update.Floor())
	assert.Equal(t, h.sessions.updates, h.publisher.published)
}

func TestSessionHandler_ReplaceDesiredRejectsInvalid(t *testing.T) {
	h := newHandlerHarness(t)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/api/v1/streams", `{"streams":`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/api/v1/streams",
		`{"streams":[{"stream_id":"cam-1","role":"moderator"}]}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/api/v1/streams",
		`{"streams":[{"stream_id":"a","role":"publisher"},{"stream_id":"a","role":"publisher"}]}`).Code)
	assert.Empty(t, h.sessions.updates)
}

func TestSessionHandler_ReplaceDesiredPublishFailure(t *testing.T) {
	h := newHandlerHarness(t)
	h.publisher.err = errors.New("redis down")

	w := h.do(http.MethodPut, "/api/v1/streams", `{"streams":[{"stream_id":"cam-1","role":"subscriber"}]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, h.sessions.updates, 1, "the local manager is updated before publishing")
}

func TestSessionHandler_StopStream(t *testing.T) {
	h := newHandlerHarness(t)

	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/v1/streams/cam-1", "").Code)
	assert.Equal(t, []domain.StreamID{"cam-1"}, h.sessions.stopped)

	h.sessions.stopErr = domain.ErrSessionNotFound
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodDelete, "/api/v1/streams/cam-9", "").Code)
}

func TestSessionHandler_Notifications(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(http.MethodGet, "/api/v1/notifications?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Notifications []domain.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, domain.StreamID("cam-2"), body.Notifications[0].StreamID)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/notifications?limit=x", "").Code)
}

func TestSessionHandler_ConnectionStatus(t *testing.T) {
	h := newHandlerHarness(t)

	w := h.do(http.MethodGet, "/api/v1/connection-status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"level":"warning"`)
}
