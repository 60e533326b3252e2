// Package errors provides standardized error handling for featuresync.
//
// # Overview
//
// Errors fall into three handling classes: Transient (temporary, retryable),
// Invalid (bad input, non-retryable) and Fatal (stop processing). On top of the
// classes the package names the outcomes a propagation run can produce:
//
//   - ErrNotFound: a configured layer or field does not exist. Fatal to setup,
//     surfaced once, propagation never starts.
//   - ErrEmptyResolution: the changed refs no longer resolve to live features. No-op.
//   - ErrNoTargets: no source feature intersects a target. Informational.
//   - ErrPartialWrite: a batch write was partly rejected. Counted, first message surfaced.
//   - ErrTransport: a read or write call itself failed. Caught at the run boundary.
//   - ErrReadOnly: a write hit a layer guarded by the protective wrapper.
//
// # Wrapping
//
// Errors are wrapped with component and method context:
//
//	return errors.Wrap(err, "Resolver", "Resolve", "query source features")
//	// Resolver.Resolve: query source features failed: <cause>
//
// Backends mark failed calls with Transport so that callers can match both the
// taxonomy and the underlying cause:
//
//	if err != nil {
//	    return nil, errors.Transport(err, "featureservice", "QueryByRefs", "post query")
//	}
//
//	if errors.Is(err, errors.ErrTransport) { ... }
package errors
