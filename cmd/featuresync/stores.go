package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c360/featuresync/config"
	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
	"github.com/c360/featuresync/store/featureservice"
	"github.com/c360/featuresync/store/memory"
	"github.com/c360/featuresync/store/postgis"
	"github.com/c360/featuresync/store/sqlite"
)

// openStore opens the configured backend. The returned close function is
// never nil.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func() error, error) {
	sc := cfg.Store
	noop := func() error { return nil }
	logger = logger.With("driver", sc.Driver)

	switch strings.ToLower(sc.Driver) {
	case config.DriverMemory:
		st := memory.New()
		for _, l := range []config.LayerConfig{cfg.Layers.Source, cfg.Layers.Target} {
			st.CreateLayer(l.Name, layerSchema(l))
		}
		logger.Warn("Using the in-memory store; features are lost on exit")
		return st, noop, nil

	case config.DriverFeatureService:
		opts := []featureservice.Option{
			featureservice.WithHTTPClient(&http.Client{Timeout: sc.Timeout}),
			featureservice.WithRateLimit(sc.RateLimit, sc.Burst),
			featureservice.WithLogger(logger),
		}
		if sc.Token != "" {
			opts = append(opts, featureservice.WithToken(sc.Token))
		}
		st, err := featureservice.New(sc.URL, opts...)
		if err != nil {
			return nil, noop, err
		}
		return st, noop, nil

	case config.DriverPostGIS:
		st, err := postgis.Open(ctx, sc.DSN, postgis.WithSRID(sc.SRID), postgis.WithLogger(logger))
		if err != nil {
			return nil, noop, err
		}
		return st, st.Close, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, sc.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, noop, err
		}
		for _, l := range []config.LayerConfig{cfg.Layers.Source, cfg.Layers.Target} {
			if err := ensureLayer(ctx, st, l); err != nil {
				if cerr := st.Close(); cerr != nil {
					logger.Warn("Store did not close cleanly", "error", cerr)
				}
				return nil, noop, err
			}
		}
		return st, st.Close, nil
	}

	return nil, noop, errors.WrapInvalid(fmt.Errorf("unknown store driver %q: %w", sc.Driver, errors.ErrInvalidConfig),
		"main", "openStore", "select driver")
}

// layerSchema is the minimal schema created for layers the local stores do
// not know yet.
func layerSchema(l config.LayerConfig) []feature.Field {
	return []feature.Field{
		{Name: "objectid", Type: "esriFieldTypeOID"},
		{Name: "globalid", Type: "esriFieldTypeGlobalID"},
		{Name: l.Field, Type: "esriFieldTypeSmallInteger"},
	}
}

func ensureLayer(ctx context.Context, st *sqlite.Store, l config.LayerConfig) error {
	_, err := st.Fields(ctx, l.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrLayerNotFound) {
		return err
	}
	return st.CreateLayer(ctx, l.Name, layerSchema(l))
}
