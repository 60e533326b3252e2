package propagation

import (
	"context"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
	fixtures "github.com/c360/featuresync/testutil"
)

func TestSession_InstallOncePerSourceLayer(t *testing.T) {
	h := defaultHarness(t)

	first := h.install(t)
	second := h.install(t)

	assert.Same(t, first, second)
	assert.Equal(t, 1, h.emitter.Subscribers())
	assert.Equal(t, 1, h.sess.Installations())

	got, ok := h.sess.Installation("LAADPALEN")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestSession_ConcurrentInstall(t *testing.T) {
	h := defaultHarness(t)

	var wg sync.WaitGroup
	installs := make([]*Installation, 8)
	for i := range installs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := h.orch.Install(context.Background(), h.sess)
			assert.NoError(t, err)
			installs[i] = inst
		}()
	}
	wg.Wait()

	for _, inst := range installs {
		assert.Same(t, installs[0], inst)
	}
	assert.Equal(t, 1, h.emitter.Subscribers())
}

func TestSession_CloseUninstalls(t *testing.T) {
	h := defaultHarness(t)
	h.data.AddZoekgebied(t, "centrum", fixtures.Square(0, 0, 10))
	paal := h.data.AddLaadpaal(t, orb.Point{5, 5}, int64(1))

	inst := h.install(t)
	require.NoError(t, h.sess.Close())

	assert.True(t, h.sess.Closed())
	assert.Zero(t, h.sess.Installations())
	assert.Zero(t, h.emitter.Subscribers())
	require.NoError(t, inst.Wait(context.Background()))

	// events after sign-out reach nobody
	h.emitter.Emit(fixtures.UpdatedEvent("", fixtures.LaadpaalLayer, paal))
	assert.Zero(t, h.data.Store.Stats().QueryByRefs)

	_, err := h.orch.Install(context.Background(), h.sess)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, h.sess.Close())
}

func TestSession_CloseDuringInstallUninstalls(t *testing.T) {
	h := defaultHarness(t)
	ctx := context.Background()

	var built *Installation
	inst, created, err := h.sess.install(fixtures.LaadpaalLayer, func() (*Installation, error) {
		i, err := h.orch.build(ctx, h.sess)
		built = i
		require.NoError(t, h.sess.Close())
		return i, err
	})

	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Nil(t, inst)
	assert.False(t, created)
	require.NotNil(t, built)
	require.NoError(t, built.Wait(ctx))
	assert.Zero(t, h.emitter.Subscribers())
	assert.Zero(t, h.sess.Installations())
}

func TestSession_ReinstallAfterUninstall(t *testing.T) {
	h := defaultHarness(t)

	first := h.install(t)
	require.NoError(t, first.Uninstall())
	assert.Zero(t, h.sess.Installations())

	second := h.install(t)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, h.emitter.Subscribers())
}

func TestSession_NewSessionAfterSignOut(t *testing.T) {
	h := defaultHarness(t)
	h.install(t)
	require.NoError(t, h.sess.Close())

	next := NewSession(h.data.Store)
	defer next.Close()
	assert.NotEqual(t, h.sess.ID(), next.ID())

	_, err := h.orch.Install(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, 1, h.emitter.Subscribers())
}

func TestSession_ProtectWrites(t *testing.T) {
	data := fixtures.NewDataset()
	sess := NewSession(data.Store)
	defer sess.Close()

	target := data.AddZoekgebied(t, "centrum", fixtures.Square(0, 0, 10))
	update := []feature.Snapshot{{Ref: target, Attributes: map[string]any{"gebied": "x"}}}

	sess.ProtectWrites(fixtures.ZoekgebiedLayer)
	sess.ProtectWrites(fixtures.LaadpaalLayer)

	p, ok := sess.Store().(*store.Protected)
	require.True(t, ok)
	assert.True(t, p.Guards(fixtures.ZoekgebiedLayer))
	assert.True(t, p.Guards(fixtures.LaadpaalLayer))

	_, err := sess.Store().ApplyUpdates(context.Background(), fixtures.ZoekgebiedLayer, update)
	assert.ErrorIs(t, err, errors.ErrReadOnly)

	results, err := sess.Raw().ApplyUpdates(context.Background(), fixtures.ZoekgebiedLayer, update)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
}
