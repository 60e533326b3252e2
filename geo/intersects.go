// Package geo provides the planar intersection predicate used by the stores
// that evaluate spatial joins in process.
package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type segment [2]orb.Point

type parts struct {
	points   []orb.Point
	segments []segment
	polygons []orb.Polygon
}

// Intersects reports whether a and b share at least one point. Touching
// boundaries count as intersecting.
func Intersects(a, b orb.Geometry) bool {
	if a == nil || b == nil {
		return false
	}
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}

	pa, pb := decompose(a), decompose(b)

	for _, sa := range pa.segments {
		for _, sb := range pb.segments {
			if segmentsIntersect(sa, sb) {
				return true
			}
		}
	}

	return touches(pa, pb) || touches(pb, pa)
}

// touches checks the vertices of a against the areas, edges and points of b.
func touches(a, b parts) bool {
	for _, p := range a.points {
		for _, poly := range b.polygons {
			if planar.PolygonContains(poly, p) {
				return true
			}
		}
		for _, s := range b.segments {
			if onSegment(s, p) {
				return true
			}
		}
		for _, q := range b.points {
			if p.Equal(q) {
				return true
			}
		}
	}
	return false
}

func decompose(g orb.Geometry) parts {
	var out parts
	collect(g, &out)
	return out
}

func collect(g orb.Geometry, out *parts) {
	switch v := g.(type) {
	case orb.Point:
		out.points = append(out.points, v)
	case orb.MultiPoint:
		out.points = append(out.points, v...)
	case orb.LineString:
		addPath(out, v)
	case orb.MultiLineString:
		for _, ls := range v {
			addPath(out, ls)
		}
	case orb.Ring:
		addPath(out, orb.LineString(v))
		out.polygons = append(out.polygons, orb.Polygon{v})
	case orb.Polygon:
		for _, r := range v {
			addPath(out, orb.LineString(r))
		}
		out.polygons = append(out.polygons, v)
	case orb.MultiPolygon:
		for _, p := range v {
			collect(p, out)
		}
	case orb.Bound:
		collect(v.ToPolygon(), out)
	case orb.Collection:
		for _, c := range v {
			collect(c, out)
		}
	}
}

func addPath(out *parts, ls orb.LineString) {
	out.points = append(out.points, ls...)
	for i := 1; i < len(ls); i++ {
		out.segments = append(out.segments, segment{ls[i-1], ls[i]})
	}
}

func orientation(p, q, r orb.Point) int {
	v := (q[1]-p[1])*(r[0]-q[0]) - (q[0]-p[0])*(r[1]-q[1])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return 2
	}
	return 0
}

func within(s segment, p orb.Point) bool {
	return p[0] <= max(s[0][0], s[1][0]) && p[0] >= min(s[0][0], s[1][0]) &&
		p[1] <= max(s[0][1], s[1][1]) && p[1] >= min(s[0][1], s[1][1])
}

func onSegment(s segment, p orb.Point) bool {
	return orientation(s[0], s[1], p) == 0 && within(s, p)
}

func segmentsIntersect(a, b segment) bool {
	o1 := orientation(a[0], a[1], b[0])
	o2 := orientation(a[0], a[1], b[1])
	o3 := orientation(b[0], b[1], a[0])
	o4 := orientation(b[0], b[1], a[1])

	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && within(a, b[0])) ||
		(o2 == 0 && within(a, b[1])) ||
		(o3 == 0 && within(b, a[0])) ||
		(o4 == 0 && within(b, a[1]))
}
