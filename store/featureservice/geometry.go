package featureservice

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

type spatialReference struct {
	WKID       *int `json:"wkid,omitempty"`
	LatestWKID *int `json:"latestWkid,omitempty"`
}

func (sr *spatialReference) wkid() int {
	switch {
	case sr == nil:
		return 0
	case sr.LatestWKID != nil:
		return *sr.LatestWKID
	case sr.WKID != nil:
		return *sr.WKID
	}
	return 0
}

// esriGeometry is the union of the Esri JSON geometry shapes.
type esriGeometry struct {
	X      *float64      `json:"x,omitempty"`
	Y      *float64      `json:"y,omitempty"`
	Points [][]float64   `json:"points,omitempty"`
	Paths  [][][]float64 `json:"paths,omitempty"`
	Rings  [][][]float64 `json:"rings,omitempty"`
	XMin   *float64      `json:"xmin,omitempty"`
	YMin   *float64      `json:"ymin,omitempty"`
	XMax   *float64      `json:"xmax,omitempty"`
	YMax   *float64      `json:"ymax,omitempty"`

	SpatialReference *spatialReference `json:"spatialReference,omitempty"`
}

func toPoint(c []float64) (orb.Point, error) {
	if len(c) < 2 {
		return orb.Point{}, fmt.Errorf("coordinate has %d ordinates", len(c))
	}
	return orb.Point{c[0], c[1]}, nil
}

func toPoints(cs [][]float64) ([]orb.Point, error) {
	out := make([]orb.Point, 0, len(cs))
	for _, c := range cs {
		p, err := toPoint(c)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// toOrb converts a decoded Esri geometry. Rings are grouped into polygons
// by orientation: a clockwise ring starts a polygon, counter-clockwise
// rings are holes of the polygon before them.
func (g *esriGeometry) toOrb() (orb.Geometry, error) {
	switch {
	case g == nil:
		return nil, nil
	case g.X != nil && g.Y != nil:
		return orb.Point{*g.X, *g.Y}, nil
	case g.Points != nil:
		pts, err := toPoints(g.Points)
		if err != nil {
			return nil, err
		}
		return orb.MultiPoint(pts), nil
	case g.Paths != nil:
		var mls orb.MultiLineString
		for _, path := range g.Paths {
			pts, err := toPoints(path)
			if err != nil {
				return nil, err
			}
			mls = append(mls, orb.LineString(pts))
		}
		if len(mls) == 1 {
			return mls[0], nil
		}
		return mls, nil
	case g.Rings != nil:
		var mp orb.MultiPolygon
		for _, r := range g.Rings {
			pts, err := toPoints(r)
			if err != nil {
				return nil, err
			}
			ring := orb.Ring(pts)
			if ring.Orientation() == orb.CW || len(mp) == 0 {
				mp = append(mp, orb.Polygon{ring})
				continue
			}
			mp[len(mp)-1] = append(mp[len(mp)-1], ring)
		}
		if len(mp) == 1 {
			return mp[0], nil
		}
		return mp, nil
	case g.XMin != nil && g.YMin != nil && g.XMax != nil && g.YMax != nil:
		return orb.Bound{Min: orb.Point{*g.XMin, *g.YMin}, Max: orb.Point{*g.XMax, *g.YMax}}, nil
	}
	return nil, nil
}

func coords(ps []orb.Point) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}

// fromOrb encodes g as Esri JSON and returns the matching geometryType.
func fromOrb(g orb.Geometry, wkid int) (string, string, error) {
	var (
		eg  esriGeometry
		typ string
	)

	switch v := g.(type) {
	case orb.Point:
		x, y := v[0], v[1]
		eg.X, eg.Y, typ = &x, &y, "esriGeometryPoint"
	case orb.MultiPoint:
		eg.Points, typ = coords(v), "esriGeometryMultipoint"
	case orb.LineString:
		eg.Paths, typ = [][][]float64{coords(v)}, "esriGeometryPolyline"
	case orb.MultiLineString:
		for _, ls := range v {
			eg.Paths = append(eg.Paths, coords(ls))
		}
		typ = "esriGeometryPolyline"
	case orb.Ring:
		eg.Rings, typ = [][][]float64{coords(v)}, "esriGeometryPolygon"
	case orb.Polygon:
		eg.Rings, typ = polygonRings(v), "esriGeometryPolygon"
	case orb.MultiPolygon:
		for _, p := range v {
			eg.Rings = append(eg.Rings, polygonRings(p)...)
		}
		typ = "esriGeometryPolygon"
	case orb.Bound:
		eg.XMin, eg.YMin, eg.XMax, eg.YMax = &v.Min[0], &v.Min[1], &v.Max[0], &v.Max[1]
		typ = "esriGeometryEnvelope"
	default:
		return "", "", fmt.Errorf("unsupported geometry %T", g)
	}

	if wkid > 0 {
		eg.SpatialReference = &spatialReference{WKID: &wkid}
	}
	data, err := json.Marshal(eg)
	if err != nil {
		return "", "", err
	}
	return string(data), typ, nil
}

// polygonRings orients the exterior clockwise and holes counter-clockwise.
func polygonRings(p orb.Polygon) [][][]float64 {
	out := make([][][]float64, 0, len(p))
	for i, r := range p {
		want := orb.CCW
		if i == 0 {
			want = orb.CW
		}
		if r.Orientation() != want {
			r = reversed(r)
		}
		out = append(out, coords(r))
	}
	return out
}

func reversed(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}
