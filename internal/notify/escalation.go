package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EscalationLevel is one rung of an escalation policy: after DelayAfter has
// elapsed since the policy was triggered with no acknowledgement, notify
// every channel/recipient pair at this level.
//
// Grounded on the teacher's EscalationRule (Level, DelayMinutes,
// NotificationChannels, Recipients), generalized from minutes to a
// time.Duration and from a fixed alert row to the channel/args shape
// notify.Manager.Call already speaks.
type EscalationLevel struct {
	DelayAfter time.Duration
	Channel    string
	Recipients []string
}

// EscalationPolicy is a named, ordered list of EscalationLevels.
type EscalationPolicy struct {
	Name   string
	Levels []EscalationLevel
}

// Handler runs escalation policies as call_service-reachable actions
// (service "escalation", method = policy name) and cancels a policy's
// remaining levels on acknowledgement.
type Handler struct {
	logger   *slog.Logger
	notifier *Manager
	policies map[string]EscalationPolicy

	mu     sync.Mutex
	active map[string]chan struct{} // correlationId -> cancel channel
}

// NewHandler constructs an escalation Handler delivering through notifier.
func NewHandler(logger *slog.Logger, notifier *Manager, policies []EscalationPolicy) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]EscalationPolicy, len(policies))
	for _, p := range policies {
		byName[p.Name] = p
	}
	return &Handler{
		logger:   logger,
		notifier: notifier,
		policies: byName,
		active:   make(map[string]chan struct{}),
	}
}

// Call implements action.Service: method names the policy, args must carry
// "correlationId" (to key cancellation) and "message"/"subject"/"priority"
// forwarded to each level's notification.
func (h *Handler) Call(ctx context.Context, method string, args map[string]interface{}) error {
	policy, ok := h.policies[method]
	if !ok {
		return fmt.Errorf("unknown escalation policy %q", method)
	}
	correlationID, _ := args["correlationId"].(string)
	if correlationID == "" {
		return fmt.Errorf("escalation requires a correlationId argument")
	}

	cancel := make(chan struct{})
	h.mu.Lock()
	h.active[correlationID] = cancel
	h.mu.Unlock()

	go h.run(ctx, policy, correlationID, args, cancel)
	return nil
}

// Acknowledge cancels any levels of a running escalation not yet fired for
// correlationID.
func (h *Handler) Acknowledge(correlationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cancel, ok := h.active[correlationID]; ok {
		close(cancel)
		delete(h.active, correlationID)
	}
}

func (h *Handler) run(ctx context.Context, policy EscalationPolicy, correlationID string, args map[string]interface{}, cancel chan struct{}) {
	defer func() {
		h.mu.Lock()
		delete(h.active, correlationID)
		h.mu.Unlock()
	}()

	elapsed := time.Duration(0)
	for _, level := range policy.Levels {
		wait := level.DelayAfter - elapsed
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-cancel:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
		elapsed = level.DelayAfter

		for _, recipient := range level.Recipients {
			levelArgs := map[string]interface{}{
				"recipient": recipient,
				"subject":   args["subject"],
				"message":   args["message"],
				"priority":  args["priority"],
			}
			if err := h.notifier.Call(ctx, level.Channel, levelArgs); err != nil {
				h.logger.Error("escalation level delivery failed",
					"policy", policy.Name, "recipient", recipient, "error", err)
			}
		}
	}
}
