// Package normalizer turns raw edit notifications into the deduplicated
// ChangeSet consumed by one propagation run.
package normalizer

import (
	"strings"

	"github.com/c360/featuresync/feature"
)

// Normalizer selects the refs of one source layer out of edit events.
type Normalizer struct {
	layer string
}

// New creates a Normalizer for the designated source layer.
func New(layer string) Normalizer {
	return Normalizer{layer: layer}
}

// Layer returns the source layer name.
func (n Normalizer) Layer() string { return n.layer }

// Normalize returns the union of added and updated refs on the source layer
// across all events. Deleted features, outcomes flagged as failed and outcomes
// without any id are skipped. The result is empty for a no-op edit.
func (n Normalizer) Normalize(events ...feature.EditEvent) feature.ChangeSet {
	var cs feature.ChangeSet
	for _, ev := range events {
		for _, edits := range ev.Layers {
			if !strings.EqualFold(edits.Layer, n.layer) {
				continue
			}
			for _, group := range [][]feature.Outcome{edits.Added, edits.Updated} {
				for _, o := range group {
					if o.Failed() {
						continue
					}
					cs.Add(o.Ref())
				}
			}
		}
	}
	return cs
}
