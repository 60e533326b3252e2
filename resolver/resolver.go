// Package resolver fetches the authoritative state of the features named by a
// ChangeSet.
package resolver

import (
	"context"
	"log/slog"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
)

// Resolver reads source features in one batched query.
type Resolver struct {
	reader store.Reader
	layer  string
	field  string
	logger *slog.Logger
}

// New creates a Resolver for layer. Features whose field carries no value are
// dropped from the result.
func New(reader store.Reader, layer, field string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{reader: reader, layer: layer, field: field, logger: logger}
}

// Resolve returns fresh snapshots, attributes and geometry included, for every
// ref in cs that still exists and carries an assessed value. Refs without an
// object id are matched on their global id. An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, cs feature.ChangeSet) ([]feature.Snapshot, error) {
	if cs.IsEmpty() {
		return nil, nil
	}

	snaps, err := r.reader.QueryByRefs(ctx, r.layer, cs.Refs(), store.AllFields(true))
	if err != nil {
		return nil, errors.Transport(err, "Resolver", "Resolve", "query source features")
	}

	out := snaps[:0]
	for _, s := range snaps {
		if !s.HasValue(r.field) {
			r.logger.Debug("source feature not assessed yet", "ref", s.Ref.String(), "field", r.field)
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		r.logger.Debug("change set resolved to no features", "refs", cs.Len())
		return nil, nil
	}
	return out, nil
}
