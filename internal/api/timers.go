package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
)

func (s *Server) handleListTimers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.timers.GetAll())
}

func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	t, ok := s.timers.GetTimer(name)
	if !ok {
		s.writeError(w, apperr.NewNotFoundError("timer", name))
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTimer(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.timers.CancelTimer(name) {
		s.writeError(w, apperr.NewNotFoundError("timer", name))
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}
