package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/go-chi/chi/v5"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case marketsimerr.Is(err, marketsimerr.KindNotFound):
		status = http.StatusNotFound
	case marketsimerr.Is(err, marketsimerr.KindForbidden):
		status = http.StatusForbidden
	case marketsimerr.Is(err, marketsimerr.KindInvalidArgument):
		status = http.StatusBadRequest
	case marketsimerr.Is(err, marketsimerr.KindConflict):
		status = http.StatusConflict
	case marketsimerr.Is(err, marketsimerr.KindTimeout):
		status = http.StatusGatewayTimeout
	case marketsimerr.Is(err, marketsimerr.KindUpstreamUnavailable):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"ok": false, "error": err.Error()})
}

// writeOK merges the stable {ok, message?} envelope into extra, which
// carries whatever data the endpoint returns on top of it.
func writeOK(w http.ResponseWriter, status int, message string, extra map[string]any) {
	body := map[string]any{"ok": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// simulationTypeDTO is one entry of GET /api/simulations/types.
type simulationTypeDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	ChatEnabled    bool   `json:"chatEnabled"`
	ShowModelNames bool   `json:"showModelNames"`
	AgentCount     int    `json:"agentCount"`
	Enabled        bool   `json:"enabled"`
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	instances := s.manager.All()
	out := make([]simulationTypeDTO, 0, len(instances))
	for _, inst := range instances {
		st := inst.SimulationType()
		out = append(out, simulationTypeDTO{
			ID:             st.ID,
			Name:           st.DisplayName,
			Description:    st.Description,
			ChatEnabled:    st.ChatEnabled,
			ShowModelNames: st.ShowModelNames,
			AgentCount:     len(st.TraderConfigs),
			Enabled:        st.Enabled,
		})
	}
	writeOK(w, http.StatusOK, "", map[string]any{"types": out})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.manager.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := inst.StateOrErr(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeOK(w, http.StatusOK, "", map[string]any{
		"simulation":     snap,
		"simulationType": inst.SimulationType(),
	})
}

// handleStart is idempotent: the scheduler no-ops if already running.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, marketsimerr.New(marketsimerr.KindInternal, "scheduler not configured", nil))
		return
	}
	if err := s.sched.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "scheduler started", nil)
}

// handleStop is idempotent: Scheduler.Stop no-ops if already stopped.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.sched != nil {
		s.sched.Stop()
	}
	writeOK(w, http.StatusOK, "scheduler stopped", nil)
}

func (s *Server) handleResetOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.ResetSimulation(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "simulation reset", nil)
}

func (s *Server) handleResetAll(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.ResetAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "all simulations reset", nil)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	running := s.sched != nil && s.sched.IsRunning()
	writeOK(w, http.StatusOK, "", map[string]any{
		"isRunning": running,
		"timestamp": nowISO(),
	})
}

func (s *Server) handleTimer(w http.ResponseWriter, r *http.Request) {
	if s.timerSvc == nil {
		writeError(w, marketsimerr.New(marketsimerr.KindInternal, "timer not configured", nil))
		return
	}
	status, err := s.timerSvc.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "", map[string]any{
		"countdownSeconds":         status.CountdownSeconds,
		"nextTradeWindowTimestamp": status.NextTradeWindowTimestamp,
		"nextTradeWindowISO":       status.NextTradeWindowISO,
	})
}

type chatMessageRequest struct {
	Username string `json:"username"`
	AgentID  string `json:"agentId"`
	Content  string `json:"content"`
}

func (s *Server) handlePostChatMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.manager.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	snap := inst.Snapshot()
	if !snap.Chat.Enabled {
		writeError(w, marketsimerr.New(marketsimerr.KindForbidden, "chat disabled for simulation "+id, nil))
		return
	}

	var req chatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, marketsimerr.New(marketsimerr.KindInvalidArgument, "malformed request body", err))
		return
	}

	targetName := ""
	for _, agent := range snap.Agents {
		if agent.ID == req.AgentID {
			targetName = agent.DisplayName
			break
		}
	}
	if req.AgentID != "" && targetName == "" {
		writeError(w, marketsimerr.New(marketsimerr.KindInvalidArgument, "unknown agent id: "+req.AgentID, nil))
		return
	}

	secondsUntilNext := 999.0 // no safety buffer pressure if the timer isn't wired
	if s.timerSvc != nil {
		if status, err := s.timerSvc.Status(r.Context()); err == nil {
			secondsUntilNext = status.CountdownSeconds
		}
	}
	msg, err := s.chat.Submit(req.Username, req.AgentID, targetName, req.Content, snap.Day, snap.IntradayHour, secondsUntilNext, snap.Chat.Messages)
	if err != nil {
		writeError(w, marketsimerr.New(marketsimerr.KindInvalidArgument, err.Error(), err))
		return
	}

	inst.Mutate(func(current domain.SimulationSnapshot) domain.SimulationSnapshot {
		current.Chat.Messages = append(current.Chat.Messages, msg)
		return current
	})

	updated := inst.Snapshot()
	writeOK(w, http.StatusOK, "", map[string]any{
		"chat":    updated.Chat,
		"message": msg,
	})
}
