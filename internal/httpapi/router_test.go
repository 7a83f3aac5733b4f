package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/marketsim/internal/chat"
	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/persistence"
	"github.com/aristath/marketsim/internal/simulation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ snaps map[string]domain.SimulationSnapshot }

func newMemStore() *memStore { return &memStore{snaps: make(map[string]domain.SimulationSnapshot)} }

func (m *memStore) Save(_ context.Context, id string, snap domain.SimulationSnapshot) error {
	m.snaps[id] = snap
	return nil
}
func (m *memStore) Load(_ context.Context, id string) (domain.SimulationSnapshot, error) {
	snap, ok := m.snaps[id]
	if !ok {
		return domain.SimulationSnapshot{}, notFound{}
	}
	return snap, nil
}
func (m *memStore) Close() error { return nil }

type notFound struct{}

func (notFound) Error() string { return "not found" }

var _ persistence.Adapter = (*memStore)(nil)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mgr := simulation.New(newMemStore(), simulation.StartDateConfig{Mode: domain.ModeSimulated, SimulatedStartDate: time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)}, domain.ChatState{Enabled: true, MaxMessagesPerAgent: 3, MaxMessagesPerUser: 3, MaxMessageLength: 200}, zerolog.Nop())
	mgr.Register("chatty", domain.SimulationType{ID: "chatty", DisplayName: "Chatty", Enabled: true, ChatEnabled: true, TraderConfigs: []domain.TraderConfig{{ID: "agent-1", Name: "Ada"}}})
	mgr.Register("disabled", domain.SimulationType{ID: "disabled", DisplayName: "Disabled", Enabled: false, TraderConfigs: []domain.TraderConfig{{ID: "agent-1", Name: "Ada"}}})
	require.NoError(t, mgr.InitializeAll(context.Background(), domain.MarketData{"AAPL": {Symbol: "AAPL", Price: 100}}, false))

	coord := chat.New(chat.Config{Mode: domain.ModeSimulated, MaxMessagesPerAgent: 3, MaxMessagesPerUser: 3, MaxMessageLength: 200})

	return New(Config{Manager: mgr, Sched: nil, Chat: coord, Timer: nil, Log: zerolog.Nop(), DevMode: true})
}

func TestHandleListTypes_ReturnsEveryRegisteredType(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/simulations/types", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Types []simulationTypeDTO `json:"types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Types, 2)
}

func TestHandleState_UnknownSimulationReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/simulations/ghost/state", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleState_DisabledSimulationReturns403(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/simulations/disabled/state", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleState_EnabledSimulationReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/simulations/chatty/state", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePostChatMessage_SucceedsForEnabledChat(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(chatMessageRequest{Username: "Jane", AgentID: "agent-1", Content: "hello there"})
	req := httptest.NewRequest(http.MethodPost, "/api/simulations/chatty/chat/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePostChatMessage_UnknownAgentIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(chatMessageRequest{Username: "Jane", AgentID: "ghost-agent", Content: "hello there"})
	req := httptest.NewRequest(http.MethodPost, "/api/simulations/chatty/chat/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSchedulerStatus_ReportsNotRunningWithoutScheduler(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/simulations/scheduler/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["isRunning"])
}

func TestHandleResetOne_UnknownSimulationReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/simulations/ghost/reset", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
