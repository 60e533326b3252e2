package spatialjoin

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store/memory"
)

func zones(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	s.CreateLayer("zoekgebieden", []feature.Field{{Name: "naam"}})
	for i, p := range []orb.Polygon{
		{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}},
		{{{10, 0}, {20, 0}, {20, 10}, {10, 10}, {10, 0}}},
		{{{50, 50}, {60, 50}, {60, 60}, {50, 60}, {50, 50}}},
	} {
		_, err := s.Add("zoekgebieden", map[string]any{"naam": string(rune('a' + i))}, p)
		require.NoError(t, err)
	}
	return s
}

func TestFindTargets(t *testing.T) {
	e := New(zones(t), "zoekgebieden")
	ctx := context.Background()

	tests := []struct {
		name string
		geom orb.Geometry
		want []string
	}{
		{"inside one", orb.Point{5, 5}, []string{"a"}},
		{"on shared edge", orb.Point{10, 5}, []string{"a", "b"}},
		{"outside", orb.Point{30, 30}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.FindTargets(ctx, tt.geom)
			require.NoError(t, err)

			var names []string
			for _, s := range got {
				names = append(names, s.Attributes["naam"].(string))
				assert.Nil(t, s.Geometry)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestFindTargets_NoGeometry(t *testing.T) {
	_, err := New(zones(t), "zoekgebieden").FindTargets(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoGeometry)
}

func TestFindTargets_Transport(t *testing.T) {
	s := zones(t)
	s.FailReads = stderrors.New("connection reset")

	_, err := New(s, "zoekgebieden").FindTargets(context.Background(), orb.Point{5, 5})
	assert.ErrorIs(t, err, errors.ErrTransport)
}
