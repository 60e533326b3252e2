package feature

import (
	"fmt"
	"strings"
)

// CodedValue is one entry of a coded-value domain.
type CodedValue struct {
	Code any    `json:"code"`
	Name string `json:"name"`
}

// Domain restricts a field to a closed set of coded values.
type Domain struct {
	Name        string       `json:"name,omitempty"`
	CodedValues []CodedValue `json:"codedValues"`
}

// ByCode returns the first entry whose code equals value.
func (d *Domain) ByCode(value any) (CodedValue, bool) {
	if d == nil {
		return CodedValue{}, false
	}
	for _, cv := range d.CodedValues {
		if ValuesEqual(cv.Code, value) {
			return cv, true
		}
	}
	return CodedValue{}, false
}

// ByName returns the first entry whose name matches case-insensitively.
func (d *Domain) ByName(name string) (CodedValue, bool) {
	if d == nil {
		return CodedValue{}, false
	}
	for _, cv := range d.CodedValues {
		if strings.EqualFold(cv.Name, name) {
			return cv, true
		}
	}
	return CodedValue{}, false
}

// Field describes one attribute column of a layer.
type Field struct {
	Name   string  `json:"name"`
	Alias  string  `json:"alias,omitempty"`
	Type   string  `json:"type,omitempty"`
	Domain *Domain `json:"domain,omitempty"`
}

// HasCodedDomain reports whether the field is restricted by coded values.
func (f *Field) HasCodedDomain() bool {
	return f != nil && f.Domain != nil && len(f.Domain.CodedValues) > 0
}

// FindField looks a field up by name, case-insensitively.
func FindField(fields []Field, name string) (*Field, bool) {
	for i := range fields {
		if strings.EqualFold(fields[i].Name, name) {
			return &fields[i], true
		}
	}
	return nil, false
}

// ValidateValue rejects values outside the field's coded-value domain. Nil is
// always accepted.
func ValidateValue(f *Field, value any) error {
	if value == nil || !f.HasCodedDomain() {
		return nil
	}
	if _, ok := f.Domain.ByCode(value); ok {
		return nil
	}
	return fmt.Errorf("value %v is not in the domain of field %s", value, f.Name)
}

// ValidateAttributes checks every attribute against the layer fields. Unknown
// fields and out-of-domain values are rejected.
func ValidateAttributes(fields []Field, attrs map[string]any) error {
	for name, value := range attrs {
		f, ok := FindField(fields, name)
		if !ok {
			return fmt.Errorf("unknown field %s", name)
		}
		if err := ValidateValue(f, value); err != nil {
			return err
		}
	}
	return nil
}
