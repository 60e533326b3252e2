package propagation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/featuresync/applier"
	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/notify"
	"github.com/c360/featuresync/resolver"
	"github.com/c360/featuresync/spatialjoin"
)

// Pipeline runs one ChangeSet through resolution, spatial join and apply.
type Pipeline struct {
	resolver *resolver.Resolver
	join     *spatialjoin.Engine
	applier  *applier.Applier
	notifier notify.Sink
	target   Layer
	logger   *slog.Logger
	metrics  *Metrics
}

// Run propagates the source value of every feature in cs to the targets it
// intersects. Source features are handled one after another; a transport
// failure ends the run, a partial write does not.
func (p *Pipeline) Run(ctx context.Context, cs feature.ChangeSet) feature.Result {
	start := time.Now()
	logger := p.logger.With("run_id", uuid.NewString())
	logger.Debug("propagation run started", "refs", cs.Len())

	var tally applier.Tally
	defer func() {
		res := tally.Result()
		p.metrics.recordRun(cs.Len(), outcome(res), res.Updated, time.Since(start))
		logger.Info("propagation run finished",
			"refs", cs.Len(), "sources", res.Sources, "updated", res.Updated,
			"had_targets", res.HadTargets, "error", res.Err, "took", time.Since(start))
	}()

	sources, err := p.resolver.Resolve(ctx, cs)
	if err != nil {
		p.metrics.recordFailure("transport")
		tally.Fail(err)
		return tally.Result()
	}

	for _, src := range sources {
		targets, err := p.join.FindTargets(ctx, src.Geometry)
		if errors.Is(err, spatialjoin.ErrNoGeometry) {
			logger.Warn("source feature skipped", "ref", src.Ref.String(), "error", err)
			tally.Add(0, 0, nil)
			continue
		}
		if err != nil {
			p.metrics.recordFailure("transport")
			tally.Fail(err)
			break
		}

		updated, err := p.applier.Apply(ctx, src, targets)
		tally.Add(len(targets), updated, err)
		if err == nil {
			continue
		}
		if errors.Is(err, errors.ErrPartialWrite) {
			p.metrics.recordFailure("partial")
			logger.Warn("target updates rejected", "ref", src.Ref.String(), "error", err)
			continue
		}
		p.metrics.recordFailure("transport")
		break
	}

	return tally.Result()
}

// Report emits the single notice for a run. A run whose refs resolved to no
// features is silent.
func (p *Pipeline) Report(res feature.Result) {
	n, ok := p.notice(res)
	if !ok {
		return
	}
	p.notifier.Notify(n)
}

func (p *Pipeline) notice(res feature.Result) (notify.Notice, bool) {
	title := p.target.title()
	switch {
	case res.Err != nil:
		var pe *applier.PartialWriteError
		if errors.As(res.Err, &pe) {
			if res.Updated > 0 {
				return notify.New(notify.Error, fmt.Sprintf("%d %s updated, %d failed: %s", res.Updated, title, pe.Failed, pe.Message)), true
			}
			return notify.New(notify.Error, fmt.Sprintf("Updating %s failed: %s", title, pe.Message)), true
		}
		if errors.Is(res.Err, applier.ErrNothingUpdated) {
			return notify.New(notify.Error, fmt.Sprintf("No %s could be updated", title)), true
		}
		return notify.New(notify.Error, fmt.Sprintf("Propagation to %s failed", title)), true
	case res.Sources == 0:
		return notify.Notice{}, false
	case !res.HadTargets:
		return notify.New(notify.Info, fmt.Sprintf("No overlapping %s found", title)), true
	default:
		return notify.New(notify.Success, fmt.Sprintf("%d %s updated", res.Updated, title)), true
	}
}

func outcome(res feature.Result) string {
	switch {
	case res.Err != nil:
		return outcomeFailed
	case res.Sources == 0:
		return outcomeEmpty
	case !res.HadTargets:
		return outcomeNoTargets
	default:
		return outcomeUpdated
	}
}
