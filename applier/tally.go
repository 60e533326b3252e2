package applier

import (
	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
)

// ErrNothingUpdated is reported when targets matched but no update landed and
// no other error explains why.
var ErrNothingUpdated = errors.New("targets matched but nothing was updated")

// Tally aggregates per-source outcomes across one ChangeSet.
type Tally struct {
	sources    int
	updated    int
	hadTargets bool
	err        error
}

// Add records the outcome for one source feature. Only the first error is kept.
func (t *Tally) Add(targets, updated int, err error) {
	t.sources++
	t.updated += updated
	if targets > 0 {
		t.hadTargets = true
	}
	t.Fail(err)
}

// Fail records err unless an earlier error was already recorded.
func (t *Tally) Fail(err error) {
	if err != nil && t.err == nil {
		t.err = err
	}
}

// Err returns the first recorded error.
func (t *Tally) Err() error { return t.err }

// Result returns the aggregate for the run.
func (t *Tally) Result() feature.Result {
	res := feature.Result{
		Sources:    t.sources,
		Updated:    t.updated,
		HadTargets: t.hadTargets,
		Err:        t.err,
	}
	if res.Err == nil && res.HadTargets && res.Updated == 0 {
		res.Err = ErrNothingUpdated
	}
	return res
}
