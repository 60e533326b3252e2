package feature

// WriteResult is the outcome of one staged update.
type WriteResult struct {
	Ref Ref
	Err error
}

// Result summarises one propagation run.
type Result struct {
	// Sources is the number of resolved source features.
	Sources int
	// Updated is the number of target updates the store accepted.
	Updated int
	// HadTargets reports whether any source feature intersected a target.
	HadTargets bool
	// Err is the first error of the run, if any.
	Err error
}
