package translator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/featuresync/feature"
)

func laadpaalField() *feature.Field {
	return &feature.Field{
		Name: "geaccepteerd",
		Domain: &feature.Domain{CodedValues: []feature.CodedValue{
			{Code: 1, Name: "Ja"},
			{Code: 0, Name: "Nee"},
			{Code: 9, Name: "Onbekend"},
		}},
	}
}

func zoekgebiedField() *feature.Field {
	return &feature.Field{
		Name: "laadpaal_geaccepteerd",
		Domain: &feature.Domain{CodedValues: []feature.CodedValue{
			{Code: 1, Name: "nee"},
			{Code: 2, Name: "JA"},
		}},
	}
}

func TestTranslate(t *testing.T) {
	src, dst := laadpaalField(), zoekgebiedField()
	plain := &feature.Field{Name: "laadpaal_geaccepteerd"}

	tests := []struct {
		name   string
		value  any
		source *feature.Field
		target *feature.Field
		want   any
	}{
		{"code through name", 1, src, dst, 2},
		{"code decoded as float", 1.0, src, dst, 2},
		{"other code", 0, src, dst, 1},
		{"name instead of code", "ja", src, dst, 2},
		{"no target entry", 9, src, dst, 9},
		{"unknown value", 42, src, dst, 42},
		{"nil value", nil, src, dst, nil},
		{"source without domain", 1, plain, dst, 1},
		{"target without domain", 1, src, plain, 1},
		{"nil fields", "x", nil, nil, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Translate(tt.value, tt.source, tt.target))
		})
	}
}

func TestTranslate_SameFieldIsIdentity(t *testing.T) {
	// A domain whose names are not unique would otherwise map a code onto the
	// first entry of the same name.
	f := &feature.Field{
		Name: "status",
		Domain: &feature.Domain{CodedValues: []feature.CodedValue{
			{Code: 1, Name: "Ja"},
			{Code: 2, Name: "ja"},
		}},
	}
	for _, v := range []any{1, 2, 3, "Ja", nil} {
		assert.Equal(t, v, Translate(v, f, f))
	}

	// a copy is a different field: the name lookup applies and the first
	// entry named "ja" wins
	copied := *f
	assert.Equal(t, 1, Translate(2, f, &copied))
}

func TestTranslate_SharedDomainAcceptsNames(t *testing.T) {
	domain := func() *feature.Domain {
		return &feature.Domain{CodedValues: []feature.CodedValue{
			{Code: int64(1), Name: "Ja"},
			{Code: int64(0), Name: "Nee"},
		}}
	}
	src := &feature.Field{Name: "laadpaal_geaccepteerd", Domain: domain()}
	dst := &feature.Field{Name: "laadpaal_geaccepteerd", Domain: domain()}

	assert.Equal(t, int64(1), Translate("ja", src, dst))
	assert.Equal(t, int64(0), Translate("NEE", src, dst))
	assert.Equal(t, int64(1), Translate(int64(1), src, dst))
	assert.Equal(t, "misschien", Translate("misschien", src, dst))
}

func TestTranslate_FirstMatchWins(t *testing.T) {
	src := &feature.Field{Name: "a", Domain: &feature.Domain{CodedValues: []feature.CodedValue{
		{Code: 1, Name: "Ja"},
		{Code: 1, Name: "Nee"},
	}}}
	dst := &feature.Field{Name: "b", Domain: &feature.Domain{CodedValues: []feature.CodedValue{
		{Code: "Y", Name: "ja"},
		{Code: "J", Name: "JA"},
		{Code: "N", Name: "nee"},
	}}}

	assert.Equal(t, "Y", Translate(1, src, dst))
}
