package feature

// Outcome is one add or update result reported by an edit source. Either id may
// be missing, e.g. right after a create whose id has not round-tripped yet.
type Outcome struct {
	ObjectID *int64 `json:"objectId,omitempty"`
	GlobalID string `json:"globalId,omitempty"`
	Success  *bool  `json:"success,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the source flagged the edit as unsuccessful.
func (o Outcome) Failed() bool {
	return o.Error != "" || (o.Success != nil && !*o.Success)
}

// Ref returns the reference the outcome resolves to, possibly zero.
func (o Outcome) Ref() Ref {
	var r Ref
	if o.ObjectID != nil && *o.ObjectID > 0 {
		r.ObjectID = *o.ObjectID
	}
	r.GlobalID = NormalizeGlobalID(o.GlobalID)
	return r
}

// LayerEdits holds the outcomes of one write on one layer.
type LayerEdits struct {
	Layer   string    `json:"layer"`
	Added   []Outcome `json:"added,omitempty"`
	Updated []Outcome `json:"updated,omitempty"`
	Deleted []Outcome `json:"deleted,omitempty"`
}

// EditEvent is one notification from an edit source.
type EditEvent struct {
	Source string       `json:"source"`
	Layers []LayerEdits `json:"layers"`
}
