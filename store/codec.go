package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/c360/featuresync/feature"
)

// EncodeGeometry renders g as a GeoJSON geometry. Bounds and bare rings are
// written as polygons. A nil geometry encodes to nil.
func EncodeGeometry(g orb.Geometry) ([]byte, error) {
	switch v := g.(type) {
	case nil:
		return nil, nil
	case orb.Bound:
		g = v.ToPolygon()
	case orb.Ring:
		g = orb.Polygon{v}
	}
	return geojson.NewGeometry(g).MarshalJSON()
}

// DecodeGeometry parses a GeoJSON geometry. Empty input decodes to nil.
func DecodeGeometry(data []byte) (orb.Geometry, error) {
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return nil, nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}

// EncodeAttributes validates attrs against fields and renders them as a JSON
// object keyed by the declared field names.
func EncodeAttributes(fields []feature.Field, attrs map[string]any) ([]byte, error) {
	if err := feature.ValidateAttributes(fields, attrs); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		f, _ := feature.FindField(fields, k)
		out[f.Name] = v
	}
	return json.Marshal(out)
}

// DecodeAttributes parses a JSON attribute object, keeping integers as int64.
func DecodeAttributes(data []byte) (map[string]any, error) {
	attrs := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return attrs, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&attrs); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if attrs == nil {
		attrs = map[string]any{}
	}
	return feature.NormalizeAttributes(attrs), nil
}

// DecodeDomain parses a JSON coded-value domain. Empty input decodes to nil.
func DecodeDomain(data []byte) (*feature.Domain, error) {
	if len(bytes.TrimSpace(data)) == 0 || string(data) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d feature.Domain
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode domain: %w", err)
	}
	for i := range d.CodedValues {
		d.CodedValues[i].Code = feature.NormalizeNumber(d.CodedValues[i].Code)
	}
	return &d, nil
}
