package postgis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
)

var statusDomain = &feature.Domain{Name: "Status", CodedValues: []feature.CodedValue{
	{Code: int64(1), Name: "Nee"},
	{Code: int64(2), Name: "Ja"},
	{Code: int64(3), Name: "Onbekend"},
}}

// newTestStore starts a PostGIS container and opens a store on it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostGIS container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgis/postgis:16-3.4-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "featuresync",
				"POSTGRES_PASSWORD": "featuresync",
				"POSTGRES_DB":       "featuresync",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://featuresync:featuresync@%s:%s/featuresync?sslmode=disable", host, port.Port())
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreateLayer(ctx, "Zoekgebieden", []feature.Field{
		{Name: "gebied", Type: "esriFieldTypeString"},
		{Name: "LAADPAAL_GEACCEPTEERD", Type: "esriFieldTypeSmallInteger", Domain: statusDomain},
	}))
	return s
}

func square(x, y, size float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y}}}
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestWithoutIDs(t *testing.T) {
	got := withoutIDs(map[string]any{"OBJECTID": 1, "GlobalID": "x", "gebied": "Noord"})
	assert.Equal(t, map[string]any{"gebied": "Noord"}, got)
}

func TestStore_Integration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("fields", func(t *testing.T) {
		fields, err := s.Fields(ctx, "zoekgebieden")
		require.NoError(t, err)
		require.Len(t, fields, 2)
		assert.Equal(t, "gebied", fields[0].Name)
		assert.Equal(t, statusDomain, fields[1].Domain)

		_, err = s.Fields(ctx, "laadpalen")
		assert.ErrorIs(t, err, store.ErrLayerNotFound)
	})

	noord, err := s.Add(ctx, "zoekgebieden", map[string]any{"gebied": "Noord"}, square(0, 0, 10))
	require.NoError(t, err)
	zuid, err := s.Add(ctx, "zoekgebieden", map[string]any{"gebied": "Zuid"}, square(20, 0, 10))
	require.NoError(t, err)
	require.NotEqual(t, noord.ObjectID, zuid.ObjectID)

	t.Run("query by refs", func(t *testing.T) {
		got, err := s.QueryByRefs(ctx, "zoekgebieden",
			[]feature.Ref{feature.ObjectRef(noord.ObjectID), feature.GlobalRef(zuid.GlobalID)}, store.AllFields(true))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, noord, got[0].Ref)
		assert.Equal(t, square(0, 0, 10), got[0].Geometry)
		v, _ := got[1].Value("gebied")
		assert.Equal(t, "Zuid", v)
	})

	t.Run("intersection", func(t *testing.T) {
		got, err := s.QueryByIntersection(ctx, "zoekgebieden", orb.Point{5, 5},
			store.QueryOptions{OutFields: []string{"laadpaal_geaccepteerd"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, noord.ObjectID, got[0].Ref.ObjectID)
		assert.Nil(t, got[0].Geometry)

		// touching edges intersect
		got, err = s.QueryByIntersection(ctx, "zoekgebieden", orb.Point{10, 5}, store.QueryOptions{})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("apply updates", func(t *testing.T) {
		results, err := s.ApplyUpdates(ctx, "zoekgebieden", []feature.Snapshot{
			{Ref: noord, Attributes: map[string]any{"OBJECTID": noord.ObjectID, "laadpaal_geaccepteerd": int64(2)}},
			{Ref: zuid, Attributes: map[string]any{"LAADPAAL_GEACCEPTEERD": int64(9)}},
			{Ref: feature.ObjectRef(99999), Attributes: map[string]any{"LAADPAAL_GEACCEPTEERD": int64(1)}},
		})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
		assert.Error(t, results[2].Err)

		got, err := s.QueryByRefs(ctx, "zoekgebieden", []feature.Ref{noord}, store.AllFields(false))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, map[string]any{"gebied": "Noord", "LAADPAAL_GEACCEPTEERD": int64(2)}, got[0].Attributes)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "zoekgebieden", zuid.ObjectID))
		got, err := s.QueryByRefs(ctx, "zoekgebieden", []feature.Ref{zuid}, store.AllFields(false))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
