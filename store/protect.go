package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
)

// Protected wraps a Store and rejects writes to guarded layers. Reads and
// writes to other layers pass through.
type Protected struct {
	Store
	layers []string
}

// Protect guards writes to layers on s.
func Protect(s Store, layers ...string) *Protected {
	if p, ok := s.(*Protected); ok {
		return &Protected{Store: p.Store, layers: append(append([]string{}, p.layers...), layers...)}
	}
	return &Protected{Store: s, layers: layers}
}

// Guards reports whether writes to layer are rejected.
func (p *Protected) Guards(layer string) bool {
	for _, l := range p.layers {
		if strings.EqualFold(l, layer) {
			return true
		}
	}
	return false
}

// ApplyUpdates rejects writes to guarded layers.
func (p *Protected) ApplyUpdates(ctx context.Context, layer string, updates []feature.Snapshot) ([]feature.WriteResult, error) {
	if p.Guards(layer) {
		return nil, fmt.Errorf("apply %d updates to %s: %w", len(updates), layer, errors.ErrReadOnly)
	}
	return p.Store.ApplyUpdates(ctx, layer, updates)
}
