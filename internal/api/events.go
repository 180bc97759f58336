package api

import (
	"encoding/json"
	"net/http"
)

type emitEventRequest struct {
	Topic         string                 `json:"topic"`
	Data          map[string]interface{} `json:"data"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

func (s *Server) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Topic == "" {
		s.writeError(w, badRequest("topic is required"))
		return
	}

	ev, err := s.engine.Emit(req.Topic, req.Data, req.CorrelationID, "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ev)
}
