package testutil

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store/memory"
)

// Layer and field names of the fixture dataset.
const (
	LaadpaalLayer   = "laadpalen"
	ZoekgebiedLayer = "zoekgebieden"
	AcceptedField   = "laadpaal_geaccepteerd"
)

// LaadpaalDomain codes "Ja" as 1 and "Nee" as 0.
func LaadpaalDomain() *feature.Domain {
	return &feature.Domain{
		Name: "JaNee",
		CodedValues: []feature.CodedValue{
			{Code: int64(1), Name: "Ja"},
			{Code: int64(0), Name: "Nee"},
		},
	}
}

// ZoekgebiedDomain uses different codes for the same names: "Ja" is 2.
func ZoekgebiedDomain() *feature.Domain {
	return &feature.Domain{
		Name: "ZoekgebiedStatus",
		CodedValues: []feature.CodedValue{
			{Code: int64(1), Name: "Nee"},
			{Code: int64(2), Name: "Ja"},
			{Code: int64(3), Name: "Onbekend"},
		},
	}
}

// LaadpaalFields returns the point layer schema.
func LaadpaalFields() []feature.Field {
	return []feature.Field{
		{Name: "objectid", Type: "esriFieldTypeOID"},
		{Name: "globalid", Type: "esriFieldTypeGlobalID"},
		{Name: "naam", Type: "esriFieldTypeString"},
		{Name: AcceptedField, Alias: "Laadpaal geaccepteerd", Type: "esriFieldTypeSmallInteger", Domain: LaadpaalDomain()},
	}
}

// ZoekgebiedFields returns the polygon layer schema. The propagated field
// is spelled in upper case to exercise case-insensitive lookup.
func ZoekgebiedFields() []feature.Field {
	return []feature.Field{
		{Name: "objectid", Type: "esriFieldTypeOID"},
		{Name: "globalid", Type: "esriFieldTypeGlobalID"},
		{Name: "gebied", Type: "esriFieldTypeString"},
		{Name: "LAADPAAL_GEACCEPTEERD", Type: "esriFieldTypeSmallInteger", Domain: ZoekgebiedDomain()},
	}
}

// Square returns an axis-aligned square polygon with its lower-left corner
// at (x, y).
func Square(x, y, size float64) orb.Polygon {
	return orb.Polygon{orb.Ring{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}
}

// Dataset is a memory store seeded with both fixture layers.
type Dataset struct {
	Store *memory.Store
}

// NewDataset creates both layers without features.
func NewDataset() *Dataset {
	s := memory.New()
	s.CreateLayer(LaadpaalLayer, LaadpaalFields())
	s.CreateLayer(ZoekgebiedLayer, ZoekgebiedFields())
	return &Dataset{Store: s}
}

// AddLaadpaal inserts a point with the given accepted code, nil for none.
func (d *Dataset) AddLaadpaal(t testing.TB, at orb.Point, accepted any) feature.Ref {
	t.Helper()
	ref, err := d.Store.Add(LaadpaalLayer, map[string]any{AcceptedField: accepted}, at)
	if err != nil {
		t.Fatalf("add laadpaal: %v", err)
	}
	return ref
}

// AddZoekgebied inserts a polygon with an empty propagated field.
func (d *Dataset) AddZoekgebied(t testing.TB, name string, area orb.Polygon) feature.Ref {
	t.Helper()
	ref, err := d.Store.Add(ZoekgebiedLayer, map[string]any{"gebied": name, "LAADPAAL_GEACCEPTEERD": nil}, area)
	if err != nil {
		t.Fatalf("add zoekgebied: %v", err)
	}
	return ref
}

// Accepted returns the propagated field of a polygon.
func (d *Dataset) Accepted(t testing.TB, ref feature.Ref) any {
	t.Helper()
	snap, ok := d.Store.Get(ZoekgebiedLayer, ref.ObjectID)
	if !ok {
		t.Fatalf("zoekgebied %d not found", ref.ObjectID)
	}
	v, _ := snap.Value("laadpaal_geaccepteerd")
	return v
}

// AddedEvent builds an edit event reporting refs as added to layer.
func AddedEvent(source, layer string, refs ...feature.Ref) feature.EditEvent {
	outcomes := make([]feature.Outcome, len(refs))
	for i, ref := range refs {
		outcomes[i] = Outcome(ref)
	}
	return feature.EditEvent{
		Source: source,
		Layers: []feature.LayerEdits{{Layer: layer, Added: outcomes}},
	}
}

// UpdatedEvent builds an edit event reporting refs as updated in layer.
func UpdatedEvent(source, layer string, refs ...feature.Ref) feature.EditEvent {
	outcomes := make([]feature.Outcome, len(refs))
	for i, ref := range refs {
		outcomes[i] = Outcome(ref)
	}
	return feature.EditEvent{
		Source: source,
		Layers: []feature.LayerEdits{{Layer: layer, Updated: outcomes}},
	}
}

// Outcome reports a successful edit of ref.
func Outcome(ref feature.Ref) feature.Outcome {
	ok := true
	out := feature.Outcome{GlobalID: ref.GlobalID, Success: &ok}
	if ref.ObjectID != 0 {
		oid := ref.ObjectID
		out.ObjectID = &oid
	}
	return out
}
