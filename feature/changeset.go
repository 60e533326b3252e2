package feature

// ChangeSet is the set of source refs handled by one propagation run. It keeps
// insertion order so that runs process features in edit order.
type ChangeSet struct {
	refs []Ref
}

// NewChangeSet builds a ChangeSet from refs, collapsing duplicates.
func NewChangeSet(refs ...Ref) ChangeSet {
	var cs ChangeSet
	for _, r := range refs {
		cs.Add(r)
	}
	return cs
}

// Add inserts ref unless a ref sharing either id is already present. When the
// new ref carries an id the existing entry lacks, the entry is completed, and
// any later entry the completed one now matches is folded into it.
func (cs *ChangeSet) Add(ref Ref) bool {
	if ref.IsZero() {
		return false
	}
	at := -1
	for i, existing := range cs.refs {
		if existing.Matches(ref) {
			at = i
			break
		}
	}
	if at < 0 {
		cs.refs = append(cs.refs, ref)
		return true
	}

	entry := complete(cs.refs[at], ref)
	for merged := true; merged; {
		merged = false
		kept := cs.refs[:at+1]
		for _, other := range cs.refs[at+1:] {
			if other.Matches(entry) {
				entry = complete(entry, other)
				merged = true
				continue
			}
			kept = append(kept, other)
		}
		cs.refs = kept
	}
	cs.refs[at] = entry
	return false
}

// complete fills the ids r lacks from other.
func complete(r, other Ref) Ref {
	if !r.HasObjectID() && other.HasObjectID() {
		r.ObjectID = other.ObjectID
	}
	if !r.HasGlobalID() && other.HasGlobalID() {
		r.GlobalID = other.GlobalID
	}
	return r
}

// Refs returns the refs in insertion order.
func (cs ChangeSet) Refs() []Ref {
	out := make([]Ref, len(cs.refs))
	copy(out, cs.refs)
	return out
}

// Len returns the number of refs.
func (cs ChangeSet) Len() int { return len(cs.refs) }

// IsEmpty reports whether there is nothing to propagate.
func (cs ChangeSet) IsEmpty() bool { return len(cs.refs) == 0 }

// Contains reports whether a ref sharing an id with ref is present.
func (cs ChangeSet) Contains(ref Ref) bool {
	for _, existing := range cs.refs {
		if existing.Matches(ref) {
			return true
		}
	}
	return false
}

// ObjectIDs returns the known object ids.
func (cs ChangeSet) ObjectIDs() []int64 {
	var ids []int64
	for _, r := range cs.refs {
		if r.HasObjectID() {
			ids = append(ids, r.ObjectID)
		}
	}
	return ids
}

// GlobalIDs returns global ids of refs whose object id is unknown.
func (cs ChangeSet) GlobalIDs() []string {
	var ids []string
	for _, r := range cs.refs {
		if !r.HasObjectID() && r.HasGlobalID() {
			ids = append(ids, r.GlobalID)
		}
	}
	return ids
}
