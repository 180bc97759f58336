package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hamicek/noex-rules-sub007/internal/model"
)

// handleTraceSSE streams every recorded trace entry as
// "event: trace\ndata: <json TraceEntry>\n\n" (spec.md §6). Filters named
// in the query string are applied here, server-side, per spec's fan-out
// contract; the core only provides the raw subscribe capability.
func (s *Server) handleTraceSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, badRequest("streaming unsupported"))
		return
	}

	ruleFilter := r.URL.Query().Get("ruleId")
	correlationFilter := r.URL.Query().Get("correlationId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	entries := make(chan model.TraceEntry, 64)
	unsubscribe := s.tracer.Subscribe(func(entry model.TraceEntry) {
		select {
		case entries <- entry:
		default:
		}
	})
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-entries:
			if ruleFilter != "" && entry.RuleID != ruleFilter {
				continue
			}
			if correlationFilter != "" && entry.CorrelationID != correlationFilter {
				continue
			}
			data, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: trace\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var debugUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleTraceWebsocket pushes trace entries over a websocket connection,
// an alternative to the SSE stream for browser debug consoles that want a
// bidirectional channel (future: client-sent filter updates).
func (s *Server) handleTraceWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := debugUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("debug websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Trace.Record fans out synchronously from whichever worker goroutine
	// produced the entry, so concurrent calls here are expected;
	// gorilla/websocket forbids concurrent writes to one connection, so
	// entries are funneled through a single writer goroutine instead of
	// calling conn.WriteJSON directly from the subscriber callback.
	entries := make(chan model.TraceEntry, 256)
	unsubscribe := s.tracer.Subscribe(func(entry model.TraceEntry) {
		select {
		case entries <- entry:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case entry := <-entries:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		}
	}
}
