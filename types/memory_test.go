package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestVector_ValueAndScan(t *testing.T) {
	v := Vector{0.1, -0.2, 0.3}
	raw, err := v.Value()
	require.NoError(t, err)

	var back Vector
	require.NoError(t, back.Scan(raw))
	assert.Equal(t, v, back)
}

func TestVector_EmptyStoresNull(t *testing.T) {
	raw, err := Vector(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, raw)

	var back Vector
	require.NoError(t, back.Scan(nil))
	assert.Empty(t, back)
}

func TestStringSet_Contains(t *testing.T) {
	s := StringSet{"alpha", "beta"}
	assert.True(t, s.Contains("alpha"))
	assert.False(t, s.Contains("gamma"))
	assert.True(t, s.ContainsAll([]string{"alpha", "beta"}))
	assert.False(t, s.ContainsAll([]string{"alpha", "gamma"}))
	assert.True(t, s.ContainsAll(nil))
}

func TestMemory_Expired(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	m := &Memory{}
	assert.False(t, m.Expired(now))

	past := now.Add(-time.Minute)
	m.ExpiresAt = &past
	assert.True(t, m.Expired(now))

	future := now.Add(time.Minute)
	m.ExpiresAt = &future
	assert.False(t, m.Expired(now))
}

func TestClamp01_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.Float64Range(-100, 100).Draw(rt, "v")
		got := Clamp01(v)
		if got < 0 || got > 1 {
			rt.Fatalf("Clamp01(%v) = %v outside [0, 1]", v, got)
		}
		if v >= 0 && v <= 1 && got != v {
			rt.Fatalf("Clamp01(%v) changed an in-range value to %v", v, got)
		}
	})
}

func TestClampMood_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.Float64Range(-100, 100).Draw(rt, "v")
		got := ClampMood(v)
		if got < -1 || got > 1 {
			rt.Fatalf("ClampMood(%v) = %v outside [-1, 1]", v, got)
		}
	})
}
