package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
)

func (s *Server) handleQueryFacts(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	s.writeJSON(w, http.StatusOK, s.facts.Query(pattern))
}

func (s *Server) handleGetFact(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	f, ok := s.facts.GetFull(key)
	if !ok {
		s.writeError(w, apperr.NewNotFoundError("fact", key))
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

type setFactRequest struct {
	Value  interface{} `json:"value"`
	Source string      `json:"source,omitempty"`
}

func (s *Server) handleSetFact(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var req setFactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	f, err := s.facts.Set(key, req.Value, req.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !s.facts.Delete(key) {
		s.writeError(w, apperr.NewNotFoundError("fact", key))
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
