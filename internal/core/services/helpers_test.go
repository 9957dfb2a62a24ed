package services

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"dualgate/internal/core/domain"
	"dualgate/internal/infrastructure/monitoring"
	"dualgate/internal/infrastructure/queue"
	"dualgate/internal/infrastructure/repositories/memory"
)

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) Create(ctx context.Context, id domain.ConnectionID) {
	m.Called(ctx, id)
}

func (m *MockLifecycle) Connecting(ctx context.Context, id domain.ConnectionID) {
	m.Called(ctx, id)
}

func (m *MockLifecycle) ConnectComplete(ctx context.Context, id domain.ConnectionID) {
	m.Called(ctx, id)
}

func (m *MockLifecycle) Disconnecting(ctx context.Context, id domain.ConnectionID) {
	m.Called(ctx, id)
}

func (m *MockLifecycle) DisconnectComplete(ctx context.Context, id domain.ConnectionID) {
	m.Called(ctx, id)
}

func (m *MockLifecycle) Error(ctx context.Context, id domain.ConnectionID, err error) {
	m.Called(ctx, id, err)
}

type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) Register(ctx context.Context, info domain.ConnectionInfo) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

func (m *MockPresence) Unregister(ctx context.Context, info domain.ConnectionInfo) error {
	args := m.Called(ctx, info)
	return args.Error(0)
}

func (m *MockPresence) Refresh(ctx context.Context, infos []domain.ConnectionInfo) error {
	args := m.Called(ctx, infos)
	return args.Error(0)
}

func (m *MockPresence) Lookup(ctx context.Context, sourceID string) (string, bool, error) {
	args := m.Called(ctx, sourceID)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPresence) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, target *domain.Connection, pkt domain.Packet) error {
	args := m.Called(ctx, target, pkt)
	return args.Error(0)
}

// recordingMetrics counts the calls the services tests assert on.
type recordingMetrics struct {
	monitoring.NopMetrics

	mu           sync.Mutex
	enqueued     [domain.PriorityCount]int
	dropped      [domain.PriorityCount]int
	backpressure [domain.PriorityCount]int
	closed       map[domain.DisconnectReason]int
	notices      map[string]int
	relays       int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		closed:  make(map[domain.DisconnectReason]int),
		notices: make(map[string]int),
	}
}

func (m *recordingMetrics) MessageEnqueued(p domain.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued[p]++
}

func (m *recordingMetrics) MessageDropped(p domain.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[p]++
}

func (m *recordingMetrics) BackpressureEngaged(p domain.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backpressure[p]++
}

func (m *recordingMetrics) ConnectionClosed(_ domain.TransportKind, reason domain.DisconnectReason, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[reason]++
}

func (m *recordingMetrics) NoticeSent(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices[outcome]++
}

func (m *recordingMetrics) RelayFinished(uint64, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relays++
}

func (m *recordingMetrics) droppedCount(p domain.Priority) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[p]
}

func (m *recordingMetrics) closedCount(reason domain.DisconnectReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed[reason]
}

func (m *recordingMetrics) backpressureCount(p domain.Priority) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backpressure[p]
}

// harness wires the services to in-memory registries and queues.
type harness struct {
	logger      *zap.SugaredLogger
	registry    *memory.ConnectionRegistry
	history     *memory.HistoryRegistry
	queues      *queue.PriorityQueues
	metrics     *recordingMetrics
	connections *ConnectionService
}

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	h := &harness{
		logger:   logger,
		registry: memory.NewConnectionRegistry(),
		history:  memory.NewHistoryRegistry(),
		queues:   queue.NewPriorityQueues(capacity),
		metrics:  newRecordingMetrics(),
	}
	h.connections = NewConnectionService(
		h.registry,
		h.history,
		NewLoggingLifecycle(logger),
		memory.NoopPresenceRegistry{},
		h.metrics,
		logger,
	)
	return h
}

// connect registers a plain connection backed by net.Pipe and returns it with
// the peer's end of the pipe.
func (h *harness) connect(t *testing.T, sourceID string) (*domain.Connection, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	id := h.connections.Begin(context.Background())
	conn := domain.NewConnection(id, domain.PlainTransport{Conn: server}, time.Now())
	conn.SetSourceID(sourceID)
	require.NoError(t, h.connections.Register(context.Background(), conn))
	return conn, client
}

func message(conn *domain.Connection, p domain.Priority, info domain.InfoType, target, data string) domain.InboundMessage {
	return domain.InboundMessage{
		Packet: domain.Packet{
			Priority: p,
			InfoType: info,
			SourceID: conn.SourceID(),
			TargetID: target,
			Data:     []byte(data),
		},
		Conn:       conn,
		ReceivedAt: time.Now(),
	}
}
