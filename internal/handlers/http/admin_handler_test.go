package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"dualgate/internal/core/domain"
	"dualgate/internal/core/services"
	"dualgate/internal/infrastructure/middleware"
	"dualgate/internal/infrastructure/monitoring"
	"dualgate/internal/infrastructure/queue"
	"dualgate/internal/infrastructure/repositories/memory"
)

type relaySwitch struct {
	allowed atomic.Bool
}

func (s *relaySwitch) SetRealtimeAllowed(allowed bool) { s.allowed.Store(allowed) }
func (s *relaySwitch) RealtimeAllowed() bool           { return s.allowed.Load() }

type adminFixture struct {
	router      *gin.Engine
	registry    *memory.ConnectionRegistry
	history     *memory.HistoryRegistry
	connections *services.ConnectionService
	sink        *queue.PriorityQueues
	relay       *relaySwitch
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	f := &adminFixture{
		registry: memory.NewConnectionRegistry(),
		history:  memory.NewHistoryRegistry(),
		sink:     queue.NewPriorityQueues(8),
		relay:    &relaySwitch{},
	}
	f.connections = services.NewConnectionService(
		f.registry,
		f.history,
		services.LifecycleFanout{},
		memory.NoopPresenceRegistry{},
		monitoring.NopMetrics{},
		logger,
	)

	handler := NewAdminHandler(f.registry, f.history, f.connections, f.connections, f.sink, f.relay)
	f.router = gin.New()
	f.router.Use(middleware.ErrorHandlerMiddleware(logger))
	handler.SetupRoutes(f.router.Group("/api/v1"))
	return f
}

func (f *adminFixture) connect(t *testing.T, sourceID string) *domain.Connection {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	id := f.connections.Begin(ctx)
	conn := domain.NewConnection(id, domain.PlainTransport{Conn: server}, time.Now())
	conn.SetSourceID(sourceID)
	require.NoError(t, f.connections.Register(ctx, conn))
	return conn
}

func (f *adminFixture) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, path, nil)
	}
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAdminHandler_ListConnections(t *testing.T) {
	f := newAdminFixture(t)
	f.connect(t, "alice")
	f.connect(t, "bob")

	w := f.do(http.MethodGet, "/api/v1/connections", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, float64(2), body["plain"])
	assert.Equal(t, float64(0), body["tls"])

	w = f.do(http.MethodGet, "/api/v1/connections?source_id=bob", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	require.Equal(t, float64(1), body["count"])
	conns := body["connections"].([]interface{})
	assert.Equal(t, "bob", conns[0].(map[string]interface{})["source_id"])
}

func TestAdminHandler_GetConnection(t *testing.T) {
	f := newAdminFixture(t)
	conn := f.connect(t, "alice")

	w := f.do(http.MethodGet, "/api/v1/connections/"+idString(conn.ID), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["active"])

	w = f.do(http.MethodGet, "/api/v1/connections/9999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])

	w = f.do(http.MethodGet, "/api/v1/connections/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
}

func TestAdminHandler_DisconnectMovesToHistory(t *testing.T) {
	f := newAdminFixture(t)
	conn := f.connect(t, "alice")
	path := "/api/v1/connections/" + idString(conn.ID)

	w := f.do(http.MethodDelete, path, "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, f.registry.Len())

	entry, ok := f.history.Get(conn.ID)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonAdmin, entry.Reason)

	w = f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, string(domain.ReasonAdmin), body["reason"])

	w = f.do(http.MethodDelete, path, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decode(t, w)["error"])

	w = f.do(http.MethodGet, "/api/v1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])
}

func TestAdminHandler_QueueStats(t *testing.T) {
	f := newAdminFixture(t)
	require.True(t, f.sink.TryEnqueue(domain.InboundMessage{Packet: domain.Packet{Priority: domain.PriorityHigh}}))

	w := f.do(http.MethodGet, "/api/v1/queues", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(8), body["capacity"])
	depths := body["depths"].(map[string]interface{})
	assert.Equal(t, float64(1), depths["high"])
	assert.Equal(t, float64(0), depths["low"])
}

func TestAdminHandler_SetRelay(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do(http.MethodPut, "/api/v1/relay", `{"allowed": true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.relay.RealtimeAllowed())
	assert.Equal(t, true, decode(t, w)["realtime_allowed"])

	w = f.do(http.MethodPut, "/api/v1/relay", `{"allowed": false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.relay.RealtimeAllowed())

	w = f.do(http.MethodPut, "/api/v1/relay", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func idString(id domain.ConnectionID) string {
	return strconv.FormatUint(uint64(id), 10)
}
