package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamicek/noex-rules-sub007/internal/config"
)

func TestManager_CallUnsupportedChannel(t *testing.T) {
	m, err := New(config.NotificationsConfig{RetryMax: 3}, nil)
	require.NoError(t, err)

	err = m.Call(context.Background(), "carrier-pigeon", map[string]interface{}{})
	require.Error(t, err)
}

func TestManager_RateLimitExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := New(config.NotificationsConfig{
		RetryMax: 3,
		Webhook:  config.WebhookConfig{RateLimitRPS: 1},
	}, nil)
	require.NoError(t, err)

	err = m.Call(context.Background(), "webhook", map[string]interface{}{"url": srv.URL})
	assert.NoError(t, err)

	err = m.Call(context.Background(), "webhook", map[string]interface{}{"url": srv.URL})
	assert.Error(t, err)
}

func TestRenderEmail(t *testing.T) {
	m, err := New(config.NotificationsConfig{RetryMax: 1}, nil)
	require.NoError(t, err)

	text, html, err := renderEmail(m, map[string]interface{}{
		"subject": "Order flagged", "message": "total exceeded threshold", "priority": "high",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "Order flagged")
	assert.Contains(t, html, "total exceeded threshold")
}

func TestRetryDelay_FirstAttemptWithinJitterBounds(t *testing.T) {
	d0 := retryDelay(0)
	assert.GreaterOrEqual(t, d0, time.Second)
	assert.Less(t, d0, 2*time.Second)
}

func TestEscalationHandler_AcknowledgeCancelsRemainingLevels(t *testing.T) {
	m, err := New(config.NotificationsConfig{RetryMax: 1}, nil)
	require.NoError(t, err)

	policy := EscalationPolicy{
		Name: "sev1",
		Levels: []EscalationLevel{
			{DelayAfter: 0, Channel: "webhook", Recipients: []string{"oncall"}},
			{DelayAfter: time.Hour, Channel: "webhook", Recipients: []string{"manager"}},
		},
	}
	h := NewHandler(nil, m, []EscalationPolicy{policy})

	err = h.Call(context.Background(), "sev1", map[string]interface{}{
		"correlationId": "c1", "subject": "s", "message": "m", "priority": "high",
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	h.Acknowledge("c1")

	h.mu.Lock()
	_, stillActive := h.active["c1"]
	h.mu.Unlock()
	assert.False(t, stillActive)
}
