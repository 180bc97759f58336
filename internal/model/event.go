// Package model holds the engine's data model: the tagged-union Rule
// definition (Trigger/Condition/Action/Source) plus Event, Fact, Timer and
// TraceEntry, shared by every component package so there is exactly one
// definition of the wire shapes described in the data model.
package model

import "time"

// Event is the immutable envelope produced by emit() and consumed by the
// pipeline. Never mutated after creation.
type Event struct {
	ID            string                 `json:"id"`
	Topic         string                 `json:"topic"`
	Data          map[string]interface{} `json:"data"`
	Timestamp     time.Time              `json:"timestamp"`
	Source        string                 `json:"source,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	CausationID   string                 `json:"causationId,omitempty"`
}

// Fact is a keyed, versioned value in the Fact Store.
type Fact struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Version   int64       `json:"version"`
	Source    string      `json:"source,omitempty"`
}

// FactChange describes a committed write or delete, consumed by the engine
// to schedule fact-triggered rules.
type FactChange struct {
	Key      string
	Fact     *Fact // nil on delete
	Deleted  bool
	Previous *Fact // nil if the key had no prior value
}
