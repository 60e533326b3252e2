package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func TestIntersects(t *testing.T) {
	area := square(0, 0, 10, 10)
	withHole := orb.Polygon{
		area[0],
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	}

	tests := []struct {
		name     string
		a, b     orb.Geometry
		expected bool
	}{
		{"point inside polygon", orb.Point{5, 5}, area, true},
		{"point outside polygon", orb.Point{15, 5}, area, false},
		{"point on polygon edge", orb.Point{10, 5}, area, true},
		{"point on polygon vertex", orb.Point{0, 0}, area, true},
		{"point in hole", orb.Point{5, 5}, withHole, false},
		{"polygon inside polygon", square(2, 2, 3, 3), area, true},
		{"polygon containing polygon", area, square(2, 2, 3, 3), true},
		{"overlapping polygons", square(5, 5, 15, 15), area, true},
		{"touching polygons", square(10, 0, 20, 10), area, true},
		{"disjoint polygons", square(11, 11, 12, 12), area, false},
		{"bounds overlap but shapes disjoint",
			orb.Polygon{{{0, 20}, {20, 0}, {20, 20}, {0, 20}}},
			orb.Polygon{{{0, 0}, {9, 0}, {0, 9}, {0, 0}}}, false},
		{"polygon inside hole", square(4.5, 4.5, 5.5, 5.5), withHole, false},
		{"line crossing polygon", orb.LineString{{-5, 5}, {15, 5}}, area, true},
		{"line inside polygon", orb.LineString{{1, 1}, {2, 2}}, area, true},
		{"equal points", orb.Point{1, 1}, orb.Point{1, 1}, true},
		{"different points", orb.Point{1, 1}, orb.Point{1, 2}, false},
		{"multipoint with one inside", orb.MultiPoint{{20, 20}, {5, 5}}, area, true},
		{"multipolygon", orb.Point{25, 25}, orb.MultiPolygon{area, square(20, 20, 30, 30)}, true},
		{"bound", orb.Point{1, 1}, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}}, true},
		{"collection", orb.Point{5, 5}, orb.Collection{orb.Point{100, 100}, area}, true},
		{"nil geometry", nil, area, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Intersects(tt.a, tt.b))
		})
	}
}

func TestIntersects_Symmetric(t *testing.T) {
	area := square(0, 0, 10, 10)
	for _, g := range []orb.Geometry{orb.Point{5, 5}, orb.Point{10, 10}, square(9, 9, 12, 12), orb.LineString{{-1, -1}, {0, 0}}} {
		assert.Equal(t, Intersects(g, area), Intersects(area, g))
	}
}
