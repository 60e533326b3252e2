// Package memory provides an in-process feature store. It is used for tests,
// demos and the "memory" store driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/geo"
	"github.com/c360/featuresync/store"
)

var _ store.Store = (*Store)(nil)

// Stats counts calls per operation.
type Stats struct {
	QueryByRefs         int64
	QueryByIntersection int64
	ApplyUpdates        int64
	Fields              int64
}

type layer struct {
	fields   []feature.Field
	features map[int64]*feature.Snapshot
	nextOID  int64
}

// Store keeps layers and features in memory.
type Store struct {
	mu     sync.RWMutex
	layers map[string]*layer

	queryByRefs  atomic.Int64
	intersection atomic.Int64
	applyUpdates atomic.Int64
	fields       atomic.Int64

	// FailWrites makes ApplyUpdates fail as a whole when set.
	FailWrites error
	// FailReads makes both queries fail as a whole when set.
	FailReads error
}

// New creates an empty store.
func New() *Store {
	return &Store{layers: make(map[string]*layer)}
}

func key(name string) string { return strings.ToLower(name) }

// CreateLayer registers a layer with its fields. Creating an existing layer
// replaces its fields and keeps its features.
func (s *Store) CreateLayer(name string, fields []feature.Field) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.layers[key(name)]; ok {
		l.fields = fields
		return
	}
	s.layers[key(name)] = &layer{fields: fields, features: make(map[int64]*feature.Snapshot), nextOID: 1}
}

// Add inserts a feature and returns its assigned ref.
func (s *Store) Add(layerName string, attrs map[string]any, geom orb.Geometry) (feature.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.layers[key(layerName)]
	if !ok {
		return feature.Ref{}, fmt.Errorf("%s: %w", layerName, store.ErrLayerNotFound)
	}
	if err := feature.ValidateAttributes(l.fields, attrs); err != nil {
		return feature.Ref{}, errors.WrapInvalid(err, "memory", "Add", "validate attributes")
	}

	ref := feature.Ref{ObjectID: l.nextOID, GlobalID: uuid.NewString()}
	l.nextOID++

	snap := feature.Snapshot{Ref: ref, Attributes: attrs, Geometry: geom}.Clone()
	l.features[ref.ObjectID] = &snap
	return ref, nil
}

// Delete removes a feature. Object ids are never reused.
func (s *Store) Delete(layerName string, oid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.layers[key(layerName)]; ok {
		delete(l.features, oid)
	}
}

// Get returns a copy of one feature.
func (s *Store) Get(layerName string, oid int64) (feature.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layers[key(layerName)]
	if !ok {
		return feature.Snapshot{}, false
	}
	f, ok := l.features[oid]
	if !ok {
		return feature.Snapshot{}, false
	}
	return f.Clone(), true
}

// Stats returns the call counters.
func (s *Store) Stats() Stats {
	return Stats{
		QueryByRefs:         s.queryByRefs.Load(),
		QueryByIntersection: s.intersection.Load(),
		ApplyUpdates:        s.applyUpdates.Load(),
		Fields:              s.fields.Load(),
	}
}

// Fields implements store.Metadata.
func (s *Store) Fields(_ context.Context, layerName string) ([]feature.Field, error) {
	s.fields.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layers[key(layerName)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", layerName, store.ErrLayerNotFound)
	}
	out := make([]feature.Field, len(l.fields))
	copy(out, l.fields)
	return out, nil
}

// QueryByRefs implements store.Reader.
func (s *Store) QueryByRefs(_ context.Context, layerName string, refs []feature.Ref, opts store.QueryOptions) ([]feature.Snapshot, error) {
	s.queryByRefs.Add(1)
	if s.FailReads != nil {
		return nil, errors.Transport(s.FailReads, "memory", "QueryByRefs", "query")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layers[key(layerName)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", layerName, store.ErrLayerNotFound)
	}

	var out []feature.Snapshot
	for _, f := range l.sorted() {
		for _, r := range refs {
			if f.Ref.Matches(r) || (r.HasGlobalID() && f.Ref.GlobalID == r.GlobalID) {
				out = append(out, project(*f, opts))
				break
			}
		}
	}
	return out, nil
}

// QueryByIntersection implements store.Reader.
func (s *Store) QueryByIntersection(_ context.Context, layerName string, geom orb.Geometry, opts store.QueryOptions) ([]feature.Snapshot, error) {
	s.intersection.Add(1)
	if s.FailReads != nil {
		return nil, errors.Transport(s.FailReads, "memory", "QueryByIntersection", "query")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layers[key(layerName)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", layerName, store.ErrLayerNotFound)
	}

	var out []feature.Snapshot
	for _, f := range l.sorted() {
		if geo.Intersects(f.Geometry, geom) {
			out = append(out, project(*f, opts))
		}
	}
	return out, nil
}

// ApplyUpdates implements store.Writer. Each update is validated against the
// layer's fields; rejected updates carry their own error.
func (s *Store) ApplyUpdates(_ context.Context, layerName string, updates []feature.Snapshot) ([]feature.WriteResult, error) {
	s.applyUpdates.Add(1)
	if s.FailWrites != nil {
		return nil, errors.Transport(s.FailWrites, "memory", "ApplyUpdates", "apply")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.layers[key(layerName)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", layerName, store.ErrLayerNotFound)
	}

	results := make([]feature.WriteResult, 0, len(updates))
	for _, u := range updates {
		res := feature.WriteResult{Ref: u.Ref}

		f, found := l.find(u.Ref)
		switch {
		case !found:
			res.Err = fmt.Errorf("feature %s does not exist", u.Ref)
		default:
			if err := feature.ValidateAttributes(l.fields, u.Attributes); err != nil {
				res.Err = err
				break
			}
			for k, v := range u.Attributes {
				f.Set(k, v)
			}
			if u.Geometry != nil {
				f.Geometry = u.Geometry
			}
			res.Ref = f.Ref
		}
		results = append(results, res)
	}
	return results, nil
}

func (l *layer) find(ref feature.Ref) (*feature.Snapshot, bool) {
	if ref.HasObjectID() {
		f, ok := l.features[ref.ObjectID]
		return f, ok
	}
	for _, f := range l.features {
		if ref.HasGlobalID() && f.Ref.GlobalID == ref.GlobalID {
			return f, true
		}
	}
	return nil, false
}

func (l *layer) sorted() []*feature.Snapshot {
	out := make([]*feature.Snapshot, 0, len(l.features))
	for _, f := range l.features {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ObjectID < out[j].Ref.ObjectID })
	return out
}

func project(f feature.Snapshot, opts store.QueryOptions) feature.Snapshot {
	c := f.Clone()
	c.Attributes = store.Project(c.Attributes, opts.OutFields)
	if !opts.ReturnGeometry {
		c.Geometry = nil
	}
	return c
}
