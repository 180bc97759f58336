package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_SetAndFire(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	m := New(nil, func(tm *model.Timer) {
		mu.Lock()
		fired = append(fired, tm.Name)
		mu.Unlock()
	}, 0)
	m.Start()
	defer m.Stop()

	_, err := m.SetTimer(model.TimerConfig{
		Name:     "t",
		Duration: &model.Duration{Duration: 20 * time.Millisecond},
		OnExpire: &model.EventSpec{Topic: "e"},
	}, "")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestManager_ReplaceCancelsPrior(t *testing.T) {
	var mu sync.Mutex
	var count int
	m := New(nil, func(tm *model.Timer) {
		mu.Lock()
		count++
		mu.Unlock()
	}, 0)
	m.Start()
	defer m.Stop()

	_, err := m.SetTimer(model.TimerConfig{
		Name:     "t",
		Duration: &model.Duration{Duration: 30 * time.Millisecond},
		OnExpire: &model.EventSpec{Topic: "e"},
	}, "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = m.SetTimer(model.TimerConfig{
		Name:     "t",
		Duration: &model.Duration{Duration: 30 * time.Millisecond},
		OnExpire: &model.EventSpec{Topic: "e"},
	}, "")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestManager_Cancel(t *testing.T) {
	m := New(nil, func(tm *model.Timer) {}, 0)
	m.Start()
	defer m.Stop()

	_, err := m.SetTimer(model.TimerConfig{
		Name:     "t",
		Duration: &model.Duration{Duration: time.Minute},
		OnExpire: &model.EventSpec{Topic: "e"},
	}, "")
	require.NoError(t, err)

	assert.True(t, m.CancelTimer("t"))
	assert.False(t, m.CancelTimer("t"))

	_, ok := m.GetTimer("t")
	assert.False(t, ok)
}

func TestManager_RequiresDurationOrCron(t *testing.T) {
	m := New(nil, func(tm *model.Timer) {}, 0)
	_, err := m.SetTimer(model.TimerConfig{
		Name:     "t",
		OnExpire: &model.EventSpec{Topic: "e"},
	}, "")
	assert.Error(t, err)
}
