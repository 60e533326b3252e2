package applier

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
)

var (
	sourceField = &feature.Field{Name: "laadpaal_geaccepteerd", Domain: &feature.Domain{CodedValues: []feature.CodedValue{
		{Code: 1, Name: "Ja"}, {Code: 0, Name: "Nee"},
	}}}
	targetField = &feature.Field{Name: "laadpaal_geaccepteerd", Domain: &feature.Domain{CodedValues: []feature.CodedValue{
		{Code: 1, Name: "Nee"}, {Code: 2, Name: "Ja"},
	}}}
)

type fakeWriter struct {
	calls   [][]feature.Snapshot
	reject  map[int64]string
	callErr error
}

func (w *fakeWriter) write(_ context.Context, _ string, updates []feature.Snapshot) ([]feature.WriteResult, error) {
	w.calls = append(w.calls, updates)
	if w.callErr != nil {
		return nil, w.callErr
	}
	out := make([]feature.WriteResult, len(updates))
	for i, u := range updates {
		out[i].Ref = u.Ref
		if msg, ok := w.reject[u.Ref.ObjectID]; ok {
			out[i].Err = stderrors.New(msg)
		}
	}
	return out, nil
}

func targets(n int) []feature.Snapshot {
	out := make([]feature.Snapshot, n)
	for i := range out {
		out[i] = feature.Snapshot{
			Ref:        feature.ObjectRef(int64(i + 1)),
			Attributes: map[string]any{"naam": fmt.Sprintf("zone %d", i+1), "laadpaal_geaccepteerd": 1},
		}
	}
	return out
}

func source(value any) feature.Snapshot {
	return feature.Snapshot{Ref: feature.ObjectRef(100), Attributes: map[string]any{"laadpaal_geaccepteerd": value}}
}

func TestApply_TranslatesIntoSingleWrite(t *testing.T) {
	w := &fakeWriter{}
	a := New(w.write, "zoekgebieden", sourceField, targetField, nil)
	in := targets(3)

	n, err := a.Apply(context.Background(), source(1), in)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, w.calls, 1)
	for _, u := range w.calls[0] {
		assert.Equal(t, 2, u.Attributes["laadpaal_geaccepteerd"])
		assert.NotEmpty(t, u.Attributes["naam"])
	}
	assert.Equal(t, 1, in[0].Attributes["laadpaal_geaccepteerd"], "targets must not be modified in place")
}

func TestApply_PartialFailure(t *testing.T) {
	w := &fakeWriter{reject: map[int64]string{2: "domain violation", 4: "permission denied"}}
	a := New(w.write, "zoekgebieden", sourceField, targetField, nil)

	n, err := a.Apply(context.Background(), source(1), targets(5))
	assert.Equal(t, 3, n)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPartialWrite)

	var pe *PartialWriteError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "domain violation", pe.Message)
	assert.Equal(t, 2, pe.Failed)
	assert.Equal(t, 3, pe.Updated)
	assert.Equal(t, feature.ObjectRef(2), pe.Ref)
	assert.Contains(t, err.Error(), "domain violation")
}

func TestApply_MissingResultsCountAsFailures(t *testing.T) {
	write := func(context.Context, string, []feature.Snapshot) ([]feature.WriteResult, error) {
		return []feature.WriteResult{{}}, nil
	}
	n, err := New(write, "zoekgebieden", sourceField, targetField, nil).Apply(context.Background(), source(1), targets(2))
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, errors.ErrPartialWrite)
}

func TestApply_TransportFailure(t *testing.T) {
	w := &fakeWriter{callErr: stderrors.New("token expired")}
	n, err := New(w.write, "zoekgebieden", sourceField, targetField, nil).Apply(context.Background(), source(1), targets(2))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.NotErrorIs(t, err, errors.ErrPartialWrite)
}

func TestApply_NoTargetsNoWrite(t *testing.T) {
	w := &fakeWriter{}
	n, err := New(w.write, "zoekgebieden", sourceField, targetField, nil).Apply(context.Background(), source(1), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.calls)
}

func TestTally(t *testing.T) {
	first := stderrors.New("first")

	tests := []struct {
		name    string
		add     func(*Tally)
		want    feature.Result
		wantErr error
	}{
		{
			name: "no targets",
			add:  func(t *Tally) { t.Add(0, 0, nil); t.Add(0, 0, nil) },
			want: feature.Result{Sources: 2},
		},
		{
			name: "sum",
			add:  func(t *Tally) { t.Add(2, 2, nil); t.Add(0, 0, nil); t.Add(3, 1, first) },
			want: feature.Result{Sources: 3, Updated: 3, HadTargets: true, Err: first},
		},
		{
			name:    "never silent zero",
			add:     func(t *Tally) { t.Add(2, 0, nil) },
			want:    feature.Result{Sources: 1, HadTargets: true},
			wantErr: ErrNothingUpdated,
		},
		{
			name: "first error wins",
			add:  func(t *Tally) { t.Add(1, 0, first); t.Fail(stderrors.New("second")) },
			want: feature.Result{Sources: 1, HadTargets: true, Err: first},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tally Tally
			tt.add(&tally)
			got := tally.Result()
			if tt.wantErr != nil {
				assert.ErrorIs(t, got.Err, tt.wantErr)
				got.Err = nil
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
