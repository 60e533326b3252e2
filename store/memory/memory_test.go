package memory

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
)

func seeded(t *testing.T) (*Store, feature.Ref, feature.Ref) {
	t.Helper()
	s := New()
	s.CreateLayer("zones", []feature.Field{
		{Name: "status", Domain: &feature.Domain{CodedValues: []feature.CodedValue{{Code: 1, Name: "Ja"}}}},
		{Name: "naam"},
	})
	square := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	far := orb.Polygon{{{20, 20}, {30, 20}, {30, 30}, {20, 30}, {20, 20}}}

	a, err := s.Add("zones", map[string]any{"naam": "a"}, square)
	require.NoError(t, err)
	b, err := s.Add("zones", map[string]any{"naam": "b"}, far)
	require.NoError(t, err)
	return s, a, b
}

func TestQueryByRefs_ObjectOrGlobalID(t *testing.T) {
	s, a, b := seeded(t)
	ctx := context.Background()

	got, err := s.QueryByRefs(ctx, "ZONES", []feature.Ref{feature.ObjectRef(a.ObjectID), {GlobalID: b.GlobalID}}, store.AllFields(true))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].Ref)
	assert.Equal(t, b, got[1].Ref)
	assert.NotNil(t, got[0].Geometry)

	got, err = s.QueryByRefs(ctx, "zones", []feature.Ref{feature.ObjectRef(99)}, store.AllFields(false))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueryByIntersection(t *testing.T) {
	s, a, _ := seeded(t)

	got, err := s.QueryByIntersection(context.Background(), "zones", orb.Point{10, 5}, store.QueryOptions{OutFields: []string{"naam"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a, got[0].Ref)
	assert.Nil(t, got[0].Geometry)
	assert.Equal(t, map[string]any{"naam": "a"}, got[0].Attributes)
}

func TestApplyUpdates_PerUpdateOutcomes(t *testing.T) {
	s, a, b := seeded(t)

	results, err := s.ApplyUpdates(context.Background(), "zones", []feature.Snapshot{
		{Ref: a, Attributes: map[string]any{"status": 1}},
		{Ref: b, Attributes: map[string]any{"status": 7}},
		{Ref: feature.ObjectRef(99), Attributes: map[string]any{"status": 1}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Error(t, results[2].Err)

	got, ok := s.Get("zones", a.ObjectID)
	require.True(t, ok)
	assert.Equal(t, 1, got.Attributes["status"])
	assert.Equal(t, int64(1), s.Stats().ApplyUpdates)
}

func TestFailures(t *testing.T) {
	s, a, _ := seeded(t)
	ctx := context.Background()

	s.FailWrites = stderrors.New("service down")
	_, err := s.ApplyUpdates(ctx, "zones", []feature.Snapshot{{Ref: a}})
	assert.ErrorIs(t, err, errors.ErrTransport)

	s.FailReads = stderrors.New("service down")
	_, err = s.QueryByRefs(ctx, "zones", []feature.Ref{a}, store.AllFields(true))
	assert.ErrorIs(t, err, errors.ErrTransport)

	_, err = s.Fields(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
