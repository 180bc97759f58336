package fact

import (
	"testing"

	"github.com/hamicek/noex-rules-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetAndGet(t *testing.T) {
	s := New(nil)

	f, err := s.Set("customer:42:tier", "gold", "test")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Version)

	v, ok := s.Get("customer:42:tier")
	require.True(t, ok)
	assert.Equal(t, "gold", v)

	f2, err := s.Set("customer:42:tier", "platinum", "test")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f2.Version)
}

func TestStore_SetEmptyKey(t *testing.T) {
	s := New(nil)
	_, err := s.Set("", "x", "test")
	assert.Error(t, err)
}

func TestStore_Delete(t *testing.T) {
	s := New(nil)
	_, err := s.Set("k", "v", "")
	require.NoError(t, err)

	assert.True(t, s.Delete("k"))
	_, ok := s.GetFull("k")
	assert.False(t, ok)

	assert.False(t, s.Delete("k"))
}

func TestStore_QueryPattern(t *testing.T) {
	s := New(nil)
	_, _ = s.Set("customer:1:tier", "gold", "")
	_, _ = s.Set("customer:2:tier", "silver", "")
	_, _ = s.Set("order:1:total", 100, "")

	res := s.Query("customer:*:tier")
	assert.Len(t, res, 2)

	res = s.Query("**")
	assert.Len(t, res, 3)
}

func TestStore_SubscribeFiresAfterCommit(t *testing.T) {
	s := New(nil)
	var gotKey string
	var gotValue interface{}
	unsub := s.Subscribe("customer:*:tier", func(change model.FactChange) {
		gotKey = change.Key
		if change.Fact != nil {
			gotValue = change.Fact.Value
		}
	})
	defer unsub()

	_, err := s.Set("customer:42:tier", "gold", "")
	require.NoError(t, err)

	assert.Equal(t, "customer:42:tier", gotKey)
	assert.Equal(t, "gold", gotValue)
}

// Writing a fact's current value again still notifies subscribers and
// still bumps the version: Set never compares against the previous value.
func TestStore_SetEqualValueStillNotifies(t *testing.T) {
	s := New(nil)
	_, err := s.Set("customer:42:tier", "gold", "")
	require.NoError(t, err)

	notifications := 0
	unsub := s.Subscribe("customer:*:tier", func(change model.FactChange) {
		notifications++
	})
	defer unsub()

	f2, err := s.Set("customer:42:tier", "gold", "")
	require.NoError(t, err)

	assert.Equal(t, 1, notifications)
	assert.Equal(t, int64(2), f2.Version)
}

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"customer:*:tier", "customer:42:tier", true},
		{"customer:*:tier", "customer:42:43:tier", false},
		{"customer:**", "customer:42:tier", true},
		{"customer:**", "customer", false},
		{"*", "customer", true},
		{"*", "customer:42", false},
		{"order.*.total", "order.1.total", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MatchPattern(c.pattern, c.key), "%s vs %s", c.pattern, c.key)
	}
}
