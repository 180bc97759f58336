package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/rule"
	"github.com/hamicek/noex-rules-sub007/internal/ruleio"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := rule.Filter{
		Group:        q.Get("group"),
		Tag:          q.Get("tag"),
		EnabledOnly:  q.Get("enabled") == "true",
		DisabledOnly: q.Get("enabled") == "false",
	}
	s.writeJSON(w, http.StatusOK, s.registry.List(filter))
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, badRequest("failed to read request body"))
		return
	}

	rl, err := ruleio.DecodeJSON(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	created, err := s.registry.Register(rl, rule.RegisterOptions{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rl, ok := s.registry.Get(id)
	if !ok {
		s.writeError(w, apperr.NewNotFoundError("rule", id))
		return
	}
	s.writeJSON(w, http.StatusOK, rl)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.registry.Unregister(id) {
		s.writeError(w, apperr.NewNotFoundError("rule", id))
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Enable(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Disable(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}
