// Package store defines the feature-store contract consumed by the propagation
// pipeline and the protective write wrapper placed over target layers.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
)

// ErrLayerNotFound is returned by Metadata.Fields for unknown layers.
var ErrLayerNotFound = fmt.Errorf("layer %w", errors.ErrNotFound)

// QueryOptions controls the shape of query results.
type QueryOptions struct {
	// OutFields limits the returned attributes. Empty means all fields.
	OutFields []string
	// ReturnGeometry includes feature geometry in the result.
	ReturnGeometry bool
}

// AllFields requests every attribute, optionally with geometry.
func AllFields(geometry bool) QueryOptions {
	return QueryOptions{ReturnGeometry: geometry}
}

// Reader reads features from a layer.
type Reader interface {
	// QueryByRefs fetches every feature matching one of refs, by object id or
	// global id, in a single call.
	QueryByRefs(ctx context.Context, layer string, refs []feature.Ref, opts QueryOptions) ([]feature.Snapshot, error)
	// QueryByIntersection fetches every feature whose geometry intersects geom.
	QueryByIntersection(ctx context.Context, layer string, geom orb.Geometry, opts QueryOptions) ([]feature.Snapshot, error)
}

// Writer writes attribute updates to a layer. The returned slice carries one
// result per update; the error is reserved for a failed call.
type Writer interface {
	ApplyUpdates(ctx context.Context, layer string, updates []feature.Snapshot) ([]feature.WriteResult, error)
}

// Metadata exposes layer field descriptions.
type Metadata interface {
	Fields(ctx context.Context, layer string) ([]feature.Field, error)
}

// Store is the full feature-store contract.
type Store interface {
	Reader
	Writer
	Metadata
}

// WriteFunc is a captured write capability.
type WriteFunc func(ctx context.Context, layer string, updates []feature.Snapshot) ([]feature.WriteResult, error)

// Capture returns the write capability of w as it is now.
func Capture(w Writer) WriteFunc {
	return w.ApplyUpdates
}

// Project restricts attributes to fields. Empty fields returns attrs as-is.
func Project(attrs map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return attrs
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f == "*" {
			return attrs
		}
		for k, v := range attrs {
			if strings.EqualFold(k, f) {
				out[k] = v
			}
		}
	}
	return out
}
