package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// handleWebhook turns an inbound webhook POST into an ingress event on
// topic "webhook.<source>", letting external systems drive rule firings
// without the caller ever constructing an /events payload itself.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, badRequest("invalid webhook payload: "+err.Error()))
		return
	}

	ev, err := s.engine.Emit("webhook."+source, payload, "", "")
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ev)
}
