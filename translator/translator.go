// Package translator maps attribute values between the coded-value domains of
// two fields.
//
// A value is translated through the human-readable name of its coded value:
// the source entry is found by code (or, failing that, by name), and the
// target entry with the same name supplies the result. Whenever a step cannot
// be completed the value passes through unchanged.
package translator

import (
	"fmt"

	"github.com/c360/featuresync/feature"
)

// Translate converts value from the domain of source to the domain of target.
// It never fails; unknown values and fields without coded-value domains pass
// through untouched. When several entries match, the first wins.
func Translate(value any, source, target *feature.Field) any {
	if !source.HasCodedDomain() || !target.HasCodedDomain() {
		return value
	}
	if source == target {
		return value
	}

	entry, ok := source.Domain.ByCode(value)
	if !ok {
		entry, ok = source.Domain.ByName(nameOf(value))
	}
	if !ok {
		return value
	}

	if match, ok := target.Domain.ByName(entry.Name); ok {
		return match.Code
	}
	return value
}

func nameOf(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
