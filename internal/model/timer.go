package model

import "time"

// Timer is a named, at-most-one-pending-delivery scheduled wake.
type Timer struct {
	Name          string     `json:"name"`
	CreatedAt     time.Time  `json:"createdAt"`
	FireAt        time.Time  `json:"fireAt"`
	Duration      *Duration  `json:"duration,omitempty"`
	Cron          string     `json:"cron,omitempty"`
	Repeat        bool       `json:"repeat,omitempty"`
	Count         int        `json:"count"`
	MaxCount      int        `json:"maxCount,omitempty"`
	OnExpire      *EventSpec `json:"onExpire"`
	CorrelationID string     `json:"correlationId,omitempty"`
}

// TraceEntryType enumerates the observable moments the Trace Collector
// records.
type TraceEntryType string

const (
	TraceRuleTriggered      TraceEntryType = "rule_triggered"
	TraceRuleExecuted       TraceEntryType = "rule_executed"
	TraceRuleSkipped        TraceEntryType = "rule_skipped"
	TraceRuleFailed         TraceEntryType = "rule_failed"
	TraceConditionEvaluated TraceEntryType = "condition_evaluated"
	TraceActionCompleted    TraceEntryType = "action_completed"
	TraceActionFailed       TraceEntryType = "action_failed"
	TraceEventEmitted       TraceEntryType = "event_emitted"
	TraceFactChanged        TraceEntryType = "fact_changed"
	TraceTimerSet           TraceEntryType = "timer_set"
	TraceTimerExpired       TraceEntryType = "timer_expired"
	TraceTimerCancelled     TraceEntryType = "timer_cancelled"
	TraceChainDepthExceeded TraceEntryType = "chain_depth_exceeded"
	TraceHotReloadStarted   TraceEntryType = "hot_reload_started"
	TraceHotReloadCompleted TraceEntryType = "hot_reload_completed"
	TraceHotReloadFailed    TraceEntryType = "hot_reload_failed"
)

// TraceEntry is a structured record of one observable moment in the
// pipeline, written to the ring buffer and fanned out to subscribers.
type TraceEntry struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Type          TraceEntryType         `json:"type"`
	RuleID        string                 `json:"ruleId,omitempty"`
	RuleName      string                 `json:"ruleName,omitempty"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	DurationMs    *float64               `json:"durationMs,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}
