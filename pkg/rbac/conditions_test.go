package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(weekday time.Weekday, hour int) EvalContext {
	// 2026-03-01 is a Sunday
	day := 1 + int(weekday)
	return EvalContext{Now: time.Date(2026, 3, day, hour, 30, 0, 0, time.UTC)}
}

func TestTimeWindowCondition(t *testing.T) {
	t.Run("plain daytime window", func(t *testing.T) {
		c := &TimeWindowCondition{StartHour: 9, EndHour: 17}
		assert.True(t, c.Evaluate(at(time.Monday, 9)))
		assert.True(t, c.Evaluate(at(time.Monday, 16)))
		assert.False(t, c.Evaluate(at(time.Monday, 17))) // end hour exclusive
		assert.False(t, c.Evaluate(at(time.Monday, 3)))
	})

	t.Run("window wrapping midnight", func(t *testing.T) {
		c := &TimeWindowCondition{StartHour: 22, EndHour: 6}
		assert.True(t, c.Evaluate(at(time.Monday, 23)))
		assert.True(t, c.Evaluate(at(time.Tuesday, 2)))
		assert.False(t, c.Evaluate(at(time.Monday, 12)))
	})

	t.Run("day restriction", func(t *testing.T) {
		c := &TimeWindowCondition{
			StartHour: 0, EndHour: 24,
			Days: []time.Weekday{time.Saturday, time.Sunday},
		}
		assert.True(t, c.Evaluate(at(time.Saturday, 12)))
		assert.False(t, c.Evaluate(at(time.Wednesday, 12)))
	})
}

func TestLocationCondition(t *testing.T) {
	c := &LocationCondition{AllowedLocations: []string{"office", "vpn"}}
	assert.True(t, c.Evaluate(EvalContext{Location: "office"}))
	assert.False(t, c.Evaluate(EvalContext{Location: "cafe"}))
	// An unset location never matches
	assert.False(t, c.Evaluate(EvalContext{}))
}

func TestConditionStorageRoundTrip(t *testing.T) {
	t.Run("time window", func(t *testing.T) {
		in := &TimeWindowCondition{StartHour: 9, EndHour: 17, Days: []time.Weekday{time.Monday}}
		data, err := MarshalCondition(in)
		require.NoError(t, err)

		out, err := UnmarshalCondition(data)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("location", func(t *testing.T) {
		in := &LocationCondition{AllowedLocations: []string{"vpn"}}
		data, err := MarshalCondition(in)
		require.NoError(t, err)

		out, err := UnmarshalCondition(data)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("nil condition stores as nothing", func(t *testing.T) {
		data, err := MarshalCondition(nil)
		require.NoError(t, err)
		assert.Nil(t, data)

		out, err := UnmarshalCondition(nil)
		require.NoError(t, err)
		assert.Nil(t, out)
	})

	t.Run("unknown variant tag is rejected", func(t *testing.T) {
		_, err := UnmarshalCondition([]byte(`{"type":"moon_phase","spec":{}}`))
		assert.Error(t, err)
	})
}
