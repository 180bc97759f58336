package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/storage/postgres"
)

const auditKeyPrefix = "audit:"

// handleListAudit lists every persisted audit entry key (spec.md §6
// /audit/*), returned with the auditKeyPrefix stripped.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if err := postgres.RequireConfigured(s.storage); err != nil {
		s.writeError(w, err)
		return
	}

	keys, err := s.storage.ListKeys(r.Context(), auditKeyPrefix)
	if err != nil {
		s.writeError(w, err)
		return
	}
	trimmed := make([]string, len(keys))
	for i, k := range keys {
		trimmed[i] = strings.TrimPrefix(k, auditKeyPrefix)
	}
	s.writeJSON(w, http.StatusOK, trimmed)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	if err := postgres.RequireConfigured(s.storage); err != nil {
		s.writeError(w, err)
		return
	}

	key := mux.Vars(r)["key"]
	entry, err := s.storage.Load(r.Context(), auditKeyPrefix+key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entry == nil {
		s.writeError(w, apperr.NewNotFoundError("audit", key))
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}
