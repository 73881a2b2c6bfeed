package types

import (
	"encoding/json"
	"time"
)

// Well-known status keys.
const (
	StatusKeyIsRunning   = "is_running"
	StatusKeyMemoryUsage = "memory_usage" // bytes
	StatusKeyGoroutines  = "goroutines"
	StatusKeyPID         = "pid"
	StatusKeyInstanceID  = "instance_id"
)

// StatusField is one named value of a StatusSnapshot.
type StatusField struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// StatusSnapshot is a point-in-time status report of an app slot.
// Fields keep insertion order so the snapshot renders the same way it was built.
type StatusSnapshot struct {
	Name        string        `json:"name"`
	CollectedAt time.Time     `json:"collected_at"`
	Fields      []StatusField `json:"fields"`
}

// NewStatusSnapshot returns an empty snapshot stamped with the current time.
func NewStatusSnapshot(name string) *StatusSnapshot {
	return &StatusSnapshot{Name: name, CollectedAt: time.Now()}
}

// Set replaces the value of key, appending it if absent.
func (s *StatusSnapshot) Set(key string, value any) {
	for i := range s.Fields {
		if s.Fields[i].Key == key {
			s.Fields[i].Value = value
			return
		}
	}
	s.Fields = append(s.Fields, StatusField{Key: key, Value: value})
}

// SetDefault sets key only if it is not present yet.
func (s *StatusSnapshot) SetDefault(key string, value any) {
	if _, ok := s.Get(key); !ok {
		s.Fields = append(s.Fields, StatusField{Key: key, Value: value})
	}
}

// Get returns the value of key.
func (s *StatusSnapshot) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	for _, f := range s.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns field keys in order.
func (s *StatusSnapshot) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		keys = append(keys, f.Key)
	}
	return keys
}

// Float returns a numeric field as float64.
// Values decoded from JSON arrive as float64 or json.Number; in-process values may be any integer type.
func (s *StatusSnapshot) Float(key string) (float64, bool) {
	v, ok := s.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// IsRunning reports the is_running flag. A missing flag means not running.
func (s *StatusSnapshot) IsRunning() bool {
	v, ok := s.Get(StatusKeyIsRunning)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Clone returns a deep copy of the field list.
func (s *StatusSnapshot) Clone() *StatusSnapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = append([]StatusField(nil), s.Fields...)
	return &c
}
