// Package spatialjoin finds the target features a source geometry intersects.
package spatialjoin

import (
	"context"

	"github.com/paulmach/orb"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
)

// ErrNoGeometry is returned for a source feature without geometry.
var ErrNoGeometry = errors.New("source feature has no geometry")

// Engine queries one target layer.
type Engine struct {
	reader    store.Reader
	layer     string
	outFields []string
}

// New creates an Engine over the target layer. outFields limits the returned
// attributes; empty means all.
func New(reader store.Reader, layer string, outFields ...string) *Engine {
	return &Engine{reader: reader, layer: layer, outFields: outFields}
}

// FindTargets returns the attributes of every target whose geometry touches or
// overlaps geom. No match yields nil and no error.
func (e *Engine) FindTargets(ctx context.Context, geom orb.Geometry) ([]feature.Snapshot, error) {
	if geom == nil {
		return nil, ErrNoGeometry
	}

	targets, err := e.reader.QueryByIntersection(ctx, e.layer, geom, store.QueryOptions{OutFields: e.outFields})
	if err != nil {
		return nil, errors.Transport(err, "Engine", "FindTargets", "query target features")
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets, nil
}
