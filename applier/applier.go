// Package applier writes a translated source value onto target features and
// aggregates the outcome of a run.
package applier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
	"github.com/c360/featuresync/translator"
)

// PartialWriteError reports a batch write in which some updates were rejected.
// Only the first rejection message is kept.
type PartialWriteError struct {
	Updated int
	Failed  int
	Ref     feature.Ref
	Message string
}

// Error implements error.
func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%d of %d updates rejected: %s", e.Failed, e.Updated+e.Failed, e.Message)
}

// Unwrap makes the error match errors.ErrPartialWrite.
func (e *PartialWriteError) Unwrap() error { return errors.ErrPartialWrite }

// Applier stages and writes the updates for one source feature at a time.
type Applier struct {
	write       store.WriteFunc
	layer       string
	sourceField *feature.Field
	targetField *feature.Field
	logger      *slog.Logger
}

// New creates an Applier that writes to layer through write.
func New(write store.WriteFunc, layer string, sourceField, targetField *feature.Field, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		write:       write,
		layer:       layer,
		sourceField: sourceField,
		targetField: targetField,
		logger:      logger,
	}
}

// Apply sets the target field of every target to the translated value of the
// source field and submits all updates in a single write call. It returns the
// number of accepted updates. A rejected call yields a transport error; rejected
// updates yield a *PartialWriteError carrying the first message.
func (a *Applier) Apply(ctx context.Context, src feature.Snapshot, targets []feature.Snapshot) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}

	value, _ := src.Value(a.sourceField.Name)
	translated := translator.Translate(value, a.sourceField, a.targetField)

	updates := make([]feature.Snapshot, 0, len(targets))
	for _, t := range targets {
		u := t.Clone()
		u.Geometry = nil
		u.Set(a.targetField.Name, translated)
		updates = append(updates, u)
	}

	results, err := a.write(ctx, a.layer, updates)
	if err != nil {
		return 0, errors.Transport(err, "Applier", "Apply", "write target updates")
	}

	var (
		updated int
		partial *PartialWriteError
	)
	for i, u := range updates {
		var resErr error
		if i < len(results) {
			resErr = results[i].Err
		} else {
			resErr = errors.New("no result reported")
		}

		if resErr == nil {
			updated++
			continue
		}
		if partial == nil {
			partial = &PartialWriteError{Ref: u.Ref, Message: resErr.Error()}
		} else {
			a.logger.Warn("target update rejected",
				"source", src.Ref.String(), "target", u.Ref.String(), "error", resErr)
		}
		partial.Failed++
	}

	if partial != nil {
		partial.Updated = updated
		return updated, partial
	}
	return updated, nil
}
