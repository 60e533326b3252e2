package feature

import (
	"strings"

	"github.com/paulmach/orb"
)

// Snapshot is the state of one feature as read from the authoritative store.
// Snapshots are read fresh for every run and never cached across runs.
type Snapshot struct {
	Ref        Ref            `json:"ref"`
	Attributes map[string]any `json:"attributes"`
	Geometry   orb.Geometry   `json:"-"`
}

// Clone returns a copy whose attribute map can be modified independently.
func (s Snapshot) Clone() Snapshot {
	attrs := make(map[string]any, len(s.Attributes))
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	return Snapshot{Ref: s.Ref, Attributes: attrs, Geometry: s.Geometry}
}

// Value returns the attribute for field, matching the name exactly first and
// case-insensitively second.
func (s Snapshot) Value(field string) (any, bool) {
	if v, ok := s.Attributes[field]; ok {
		return v, true
	}
	for k, v := range s.Attributes {
		if strings.EqualFold(k, field) {
			return v, true
		}
	}
	return nil, false
}

// HasValue reports whether field carries an assessed value: present, not nil
// and not a blank string.
func (s Snapshot) HasValue(field string) bool {
	v, ok := s.Value(field)
	if !ok || v == nil {
		return false
	}
	if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
		return false
	}
	return true
}

// Set writes the attribute, reusing the existing key when it only differs in case.
func (s *Snapshot) Set(field string, value any) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]any)
	}
	if _, ok := s.Attributes[field]; !ok {
		for k := range s.Attributes {
			if strings.EqualFold(k, field) {
				field = k
				break
			}
		}
	}
	s.Attributes[field] = value
}
