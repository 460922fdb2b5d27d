package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/debugbridge/internal/protocol"
	"github.com/mattjoyce/debugbridge/internal/state"
)

// maxCommandBytes bounds POST /command bodies.
const maxCommandBytes = 1 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to read session status", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ClientAttached: s.slot.Attached(),
		ProcessRunning: st.ProcessRunning,
		DebugClient:    st.DebugClient,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to read session status", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}

	resp := StatusResponse{Status: st}
	if c := s.slot.Current(); c != nil {
		resp.ClientAttached = true
		resp.ClientID = c.ID()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := protocol.DecodeCommand(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid command: "+err.Error())
		return
	}

	handled, err := s.session.Handle(r.Context(), cmd)
	if err != nil {
		s.logger.Error("command submission failed", "command", cmd.Name(), "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "session unavailable")
		return
	}
	if !handled {
		respondJSON(w, http.StatusNotFound, CommandResponse{Command: cmd.Name(), Handled: false})
		return
	}
	respondJSON(w, http.StatusAccepted, CommandResponse{Command: cmd.Name(), Handled: true})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	run, err := s.runs.Get(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to read run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read run")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
