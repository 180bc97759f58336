// Package api implements the HTTP surface spec.md §6 names: /events,
// /facts, /rules, /timers, /debug/*, /metrics, /audit/*, /webhooks/*. It
// sits outside the core the way the teacher's internal/handlers sits
// outside internal/engine, and is grounded on http_handlers.go's
// mux.Router-with-subrouters layout and writeJSON/writeError helpers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hamicek/noex-rules-sub007/internal/apperr"
	"github.com/hamicek/noex-rules-sub007/internal/config"
	"github.com/hamicek/noex-rules-sub007/internal/event"
	"github.com/hamicek/noex-rules-sub007/internal/fact"
	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/hamicek/noex-rules-sub007/internal/notify"
	"github.com/hamicek/noex-rules-sub007/internal/rule"
	"github.com/hamicek/noex-rules-sub007/internal/storage/postgres"
	"github.com/hamicek/noex-rules-sub007/internal/timer"
	"github.com/hamicek/noex-rules-sub007/internal/trace"
)

// Engine is the subset of *engine.Engine the HTTP surface drives: emitting
// root events and setting facts directly (bypassing a rule firing).
type Engine interface {
	Emit(topic string, data map[string]interface{}, correlationID, causationID string) (*model.Event, error)
	SetFact(key string, value interface{}, source, correlationID string) (*model.Fact, error)
}

// Server bundles every collaborator the HTTP surface dispatches to.
// Storage, notify, and escalation are optional (spec.md §6: 503 when a
// subsystem is not configured); everything else is mandatory core state.
type Server struct {
	logger             *slog.Logger
	cfg                *config.Config
	engine             Engine
	facts              *fact.Store
	events             *event.Store
	timers             *timer.Manager
	tracer             *trace.Collector
	registry           *rule.Registry
	storage            *postgres.Adapter
	notifier           *notify.Manager
	escalate           *notify.Handler
	registryPrometheus prometheus.Gatherer
	apiKeys            *APIKeyStore
}

// Deps wires every optional and mandatory collaborator into a Server.
type Deps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Engine     Engine
	Facts      *fact.Store
	Events     *event.Store
	Timers     *timer.Manager
	Tracer     *trace.Collector
	Registry   *rule.Registry
	Storage    *postgres.Adapter
	Notifier   *notify.Manager
	Escalation *notify.Handler
	Gatherer   prometheus.Gatherer
	APIKeys    *APIKeyStore
}

// New constructs a Server. Storage/Notifier/Escalation/APIKeys may be nil.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		logger: logger, cfg: d.Config, engine: d.Engine,
		facts: d.Facts, events: d.Events, timers: d.Timers, tracer: d.Tracer,
		registry: d.Registry, storage: d.Storage, notifier: d.Notifier,
		escalate: d.Escalation, registryPrometheus: gatherer, apiKeys: d.APIKeys,
	}
}

// Router builds the full mux.Router, applying auth middleware to every
// route except /metrics and /debug/trace (SSE clients rarely carry bearer
// tokens; access to it is expected to be network-restricted instead).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.Handle("/metrics", promhttp.HandlerFor(s.registryPrometheus, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)

	protected.HandleFunc("/events", s.handleEmitEvent).Methods(http.MethodPost)

	protected.HandleFunc("/facts", s.handleQueryFacts).Methods(http.MethodGet)
	protected.HandleFunc("/facts/{key:.+}", s.handleGetFact).Methods(http.MethodGet)
	protected.HandleFunc("/facts/{key:.+}", s.handleSetFact).Methods(http.MethodPut)
	protected.HandleFunc("/facts/{key:.+}", s.handleDeleteFact).Methods(http.MethodDelete)

	protected.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	protected.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	protected.HandleFunc("/rules/{id}", s.handleGetRule).Methods(http.MethodGet)
	protected.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)
	protected.HandleFunc("/rules/{id}/enable", s.handleEnableRule).Methods(http.MethodPost)
	protected.HandleFunc("/rules/{id}/disable", s.handleDisableRule).Methods(http.MethodPost)

	protected.HandleFunc("/timers", s.handleListTimers).Methods(http.MethodGet)
	protected.HandleFunc("/timers/{name}", s.handleGetTimer).Methods(http.MethodGet)
	protected.HandleFunc("/timers/{name}", s.handleCancelTimer).Methods(http.MethodDelete)

	r.HandleFunc("/debug/trace", s.handleTraceSSE).Methods(http.MethodGet)
	protected.HandleFunc("/debug/stream", s.handleTraceWebsocket).Methods(http.MethodGet)

	protected.HandleFunc("/audit/{key:.+}", s.handleGetAudit).Methods(http.MethodGet)
	protected.HandleFunc("/audit", s.handleListAudit).Methods(http.MethodGet)

	protected.HandleFunc("/webhooks/{source}", s.handleWebhook).Methods(http.MethodPost)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.IsValidation(err):
		status = http.StatusBadRequest
	case apperr.IsNotFound(err):
		status = http.StatusNotFound
	case apperr.IsConflict(err):
		status = http.StatusConflict
	case apperr.IsServiceUnavailable(err):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{
		"error":     err.Error(),
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
