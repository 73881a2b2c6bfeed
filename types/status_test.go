package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusSnapshotKeepsOrder(t *testing.T) {
	s := NewStatusSnapshot("echo")
	s.Set("b", 1)
	s.Set("a", 2)
	s.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, s.Keys())
	v, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestStatusSnapshotSetDefault(t *testing.T) {
	s := NewStatusSnapshot("echo")
	s.Set(StatusKeyIsRunning, false)
	s.SetDefault(StatusKeyIsRunning, true)
	s.SetDefault(StatusKeyPID, 42)

	assert.False(t, s.IsRunning())
	assert.Equal(t, []string{StatusKeyIsRunning, StatusKeyPID}, s.Keys())
}

func TestStatusSnapshotIsRunning(t *testing.T) {
	var nilSnap *StatusSnapshot
	assert.False(t, nilSnap.IsRunning())

	s := NewStatusSnapshot("echo")
	assert.False(t, s.IsRunning())
	s.Set(StatusKeyIsRunning, true)
	assert.True(t, s.IsRunning())
	s.Set(StatusKeyIsRunning, "yes")
	assert.False(t, s.IsRunning())
}

func TestStatusSnapshotFloat(t *testing.T) {
	s := NewStatusSnapshot("echo")
	s.Set("i", 7)
	s.Set("i64", int64(8))
	s.Set("u64", uint64(9))
	s.Set("f", 1.5)
	s.Set("n", json.Number("10"))
	s.Set("s", "nope")

	cases := map[string]float64{"i": 7, "i64": 8, "u64": 9, "f": 1.5, "n": 10}
	for key, want := range cases {
		got, ok := s.Float(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
	_, ok := s.Float("s")
	assert.False(t, ok)
	_, ok = s.Float("missing")
	assert.False(t, ok)
}

func TestStatusSnapshotFromJSON(t *testing.T) {
	raw := `{"name":"echo","collected_at":"2024-01-02T03:04:05Z","fields":[{"key":"is_running","value":true},{"key":"memory_usage","value":1048576}]}`
	var s StatusSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &s))

	assert.True(t, s.IsRunning())
	mem, ok := s.Float(StatusKeyMemoryUsage)
	require.True(t, ok)
	assert.Equal(t, float64(1<<20), mem)
}

func TestStatusSnapshotClone(t *testing.T) {
	s := NewStatusSnapshot("echo")
	s.Set("a", 1)
	c := s.Clone()
	c.Set("a", 2)
	c.Set("b", 3)

	v, _ := s.Get("a")
	assert.Equal(t, 1, v)
	assert.Len(t, s.Fields, 1)
}
