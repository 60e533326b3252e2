package normalizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/source"
)

func oid(n int64) *int64 { return &n }

func TestNormalize_Dedup(t *testing.T) {
	n := New("Laadpalen")
	ev := feature.EditEvent{Layers: []feature.LayerEdits{{
		Layer:   "laadpalen",
		Added:   []feature.Outcome{{ObjectID: oid(1)}, {ObjectID: oid(2)}},
		Updated: []feature.Outcome{{ObjectID: oid(2)}, {ObjectID: oid(1)}, {ObjectID: oid(3)}},
	}}}

	cs := n.Normalize(ev, ev)
	assert.Equal(t, []int64{1, 2, 3}, cs.ObjectIDs())
	assert.Equal(t, 3, cs.Len())
}

func TestNormalize_Filters(t *testing.T) {
	no := false
	n := New("laadpalen")
	ev := feature.EditEvent{Layers: []feature.LayerEdits{
		{Layer: "zoekgebieden", Updated: []feature.Outcome{{ObjectID: oid(10)}}},
		{
			Layer:   "laadpalen",
			Added:   []feature.Outcome{{}, {ObjectID: oid(4), Success: &no}},
			Updated: []feature.Outcome{{ObjectID: oid(5), Error: "rejected"}},
			Deleted: []feature.Outcome{{ObjectID: oid(6)}},
		},
	}}

	assert.True(t, n.Normalize(ev).IsEmpty())
	assert.True(t, n.Normalize().IsEmpty())
}

func TestNormalize_GlobalIDFallback(t *testing.T) {
	gid := "{1B5F3E2A-8C4D-4E6F-9A0B-1C2D3E4F5A6B}"
	n := New("laadpalen")
	cs := n.Normalize(
		feature.EditEvent{Layers: []feature.LayerEdits{{Layer: "laadpalen", Added: []feature.Outcome{{GlobalID: gid}}}}},
		feature.EditEvent{Layers: []feature.LayerEdits{{Layer: "laadpalen", Added: []feature.Outcome{{ObjectID: oid(8), GlobalID: gid}}}}},
	)

	require.Equal(t, 1, cs.Len())
	assert.Equal(t, feature.Ref{ObjectID: 8, GlobalID: "1b5f3e2a-8c4d-4e6f-9a0b-1c2d3e4f5a6b"}, cs.Refs()[0])
}

type recorder struct {
	mu   sync.Mutex
	sets []feature.ChangeSet
}

func (r *recorder) flush(cs feature.ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, cs)
}

func (r *recorder) get() []feature.ChangeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feature.ChangeSet(nil), r.sets...)
}

func edit(layer string, ids ...int64) feature.EditEvent {
	var outs []feature.Outcome
	for _, id := range ids {
		outs = append(outs, feature.Outcome{ObjectID: oid(id)})
	}
	return feature.EditEvent{Layers: []feature.LayerEdits{{Layer: layer, Updated: outs}}}
}

func TestFanIn_TwoSourcesOneLogicalEdit(t *testing.T) {
	layerEvents := source.NewEmitter("layer")
	editorEvents := source.NewEmitter("editor")
	rec := &recorder{}

	var seen []string
	f := NewFanIn(New("laadpalen"), rec.flush, WithWindow(time.Hour), WithEventHook(func(s string) { seen = append(seen, s) }))
	require.NoError(t, f.Start(context.Background(), layerEvents, editorEvents))

	layerEvents.Emit(edit("laadpalen", 7))
	editorEvents.Emit(edit("laadpalen", 7))
	assert.Empty(t, rec.get())

	f.Flush()
	sets := rec.get()
	require.Len(t, sets, 1)
	assert.Equal(t, []feature.Ref{feature.ObjectRef(7)}, sets[0].Refs())
	assert.Equal(t, []string{"layer", "editor"}, seen)

	require.NoError(t, f.Stop())
	assert.Equal(t, 0, layerEvents.Subscribers())
	assert.Equal(t, 0, editorEvents.Subscribers())
}

func TestFanIn_WindowTick(t *testing.T) {
	src := source.NewEmitter("layer")
	rec := &recorder{}
	f := NewFanIn(New("laadpalen"), rec.flush, WithWindow(10*time.Millisecond))
	require.NoError(t, f.Start(context.Background(), src))
	defer f.Stop()

	src.Emit(edit("laadpalen", 1))
	src.Emit(edit("laadpalen", 2, 1))

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, rec.get()[0].ObjectIDs())
}

func TestFanIn_ZeroWindowAndEmptyBatches(t *testing.T) {
	src := source.NewEmitter("layer")
	rec := &recorder{}
	f := NewFanIn(New("laadpalen"), rec.flush, WithWindow(0))
	require.NoError(t, f.Start(context.Background(), src))

	src.Emit(edit("zoekgebieden", 1))
	src.Emit(edit("laadpalen", 2))
	src.Emit(edit("laadpalen", 2))
	assert.Len(t, rec.get(), 2)

	require.NoError(t, f.Stop())
	src.Emit(edit("laadpalen", 3))
	assert.Len(t, rec.get(), 2)
}

func TestFanIn_StartTwice(t *testing.T) {
	f := NewFanIn(New("laadpalen"), func(feature.ChangeSet) {})
	require.NoError(t, f.Start(context.Background()))
	assert.Error(t, f.Start(context.Background()))
}
