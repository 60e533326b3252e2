// Package postgis provides a feature store on PostgreSQL with the PostGIS
// extension. Features of every layer share one table; attributes are kept
// in JSONB and geometry in a PostGIS column in the configured SRID. Field
// metadata, including coded-value domains, lives in featuresync_fields.
package postgis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/paulmach/orb"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
)

var _ store.Store = (*Store)(nil)

const (
	driverName = "pgx"
	// DefaultSRID is Amersfoort / RD New.
	DefaultSRID = 28992
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`CREATE TABLE IF NOT EXISTS featuresync_layers (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS featuresync_fields (
		layer    TEXT NOT NULL REFERENCES featuresync_layers(name) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name     TEXT NOT NULL,
		alias    TEXT NOT NULL DEFAULT '',
		type     TEXT NOT NULL DEFAULT '',
		domain   JSONB,
		PRIMARY KEY (layer, name)
	)`,
	`CREATE TABLE IF NOT EXISTS featuresync_features (
		objectid   BIGSERIAL PRIMARY KEY,
		layer      TEXT NOT NULL REFERENCES featuresync_layers(name) ON DELETE CASCADE,
		globalid   TEXT NOT NULL UNIQUE,
		attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
		geom       geometry
	)`,
	`CREATE INDEX IF NOT EXISTS featuresync_features_layer_idx ON featuresync_features (layer)`,
	`CREATE INDEX IF NOT EXISTS featuresync_features_geom_idx ON featuresync_features USING GIST (geom)`,
}

// Store is a PostGIS-backed feature store.
type Store struct {
	db     *sql.DB
	srid   int
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSRID sets the spatial reference of stored and queried geometry.
func WithSRID(srid int) Option {
	return func(s *Store) {
		if srid > 0 {
			s.srid = srid
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to dsn, checks the connection and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "postgis", "Open", "read dsn")
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, errors.WrapFatal(err, "postgis", "Open", "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "postgis", "Open", "ping database")
	}

	s := &Store{db: db, srid: DefaultSRID, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "postgis")

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying database for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapFatal(err, "postgis", "migrate", "apply schema")
		}
	}
	s.logger.Debug("schema applied", "srid", s.srid)
	return nil
}

func key(name string) string { return strings.ToLower(name) }

// CreateLayer registers a layer or replaces the fields of an existing one.
func (s *Store) CreateLayer(ctx context.Context, name string, fields []feature.Field) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Transport(err, "postgis", "CreateLayer", "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO featuresync_layers (name) VALUES ($1) ON CONFLICT DO NOTHING`, key(name)); err != nil {
		return errors.Transport(err, "postgis", "CreateLayer", "insert layer")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM featuresync_fields WHERE layer = $1`, key(name)); err != nil {
		return errors.Transport(err, "postgis", "CreateLayer", "clear fields")
	}
	for i, f := range fields {
		domain, err := encodeDomain(f.Domain)
		if err != nil {
			return errors.WrapInvalid(err, "postgis", "CreateLayer", "encode domain")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO featuresync_fields (layer, position, name, alias, type, domain) VALUES ($1, $2, $3, $4, $5, $6)`,
			key(name), i, f.Name, f.Alias, f.Type, domain); err != nil {
			return errors.Transport(err, "postgis", "CreateLayer", "insert field")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Transport(err, "postgis", "CreateLayer", "commit")
	}
	return nil
}

// Add inserts a feature and returns its assigned ref.
func (s *Store) Add(ctx context.Context, layer string, attrs map[string]any, geom orb.Geometry) (feature.Ref, error) {
	fields, err := s.Fields(ctx, layer)
	if err != nil {
		return feature.Ref{}, err
	}
	data, err := store.EncodeAttributes(fields, attrs)
	if err != nil {
		return feature.Ref{}, errors.WrapInvalid(err, "postgis", "Add", "validate attributes")
	}
	g, err := store.EncodeGeometry(geom)
	if err != nil {
		return feature.Ref{}, errors.WrapInvalid(err, "postgis", "Add", "encode geometry")
	}

	ref := feature.Ref{GlobalID: uuid.NewString()}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO featuresync_features (layer, globalid, attributes, geom)
		 VALUES ($1, $2, $3::jsonb, CASE WHEN $4::text IS NULL THEN NULL ELSE ST_SetSRID(ST_GeomFromGeoJSON($4::text), $5) END)
		 RETURNING objectid`,
		key(layer), ref.GlobalID, string(data), nullString(g), s.srid,
	).Scan(&ref.ObjectID)
	if err != nil {
		return feature.Ref{}, errors.Transport(err, "postgis", "Add", "insert feature")
	}
	return ref, nil
}

// Delete removes a feature.
func (s *Store) Delete(ctx context.Context, layer string, oid int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM featuresync_features WHERE layer = $1 AND objectid = $2`, key(layer), oid); err != nil {
		return errors.Transport(err, "postgis", "Delete", "delete feature")
	}
	return nil
}

// Fields implements store.Metadata.
func (s *Store) Fields(ctx context.Context, layer string) ([]feature.Field, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM featuresync_layers WHERE name = $1)`, key(layer)).Scan(&exists); err != nil {
		return nil, errors.Transport(err, "postgis", "Fields", "lookup layer")
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", layer, store.ErrLayerNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, alias, type, domain FROM featuresync_fields WHERE layer = $1 ORDER BY position`, key(layer))
	if err != nil {
		return nil, errors.Transport(err, "postgis", "Fields", "select fields")
	}
	defer func() { _ = rows.Close() }()

	var fields []feature.Field
	for rows.Next() {
		var (
			f      feature.Field
			domain []byte
		)
		if err := rows.Scan(&f.Name, &f.Alias, &f.Type, &domain); err != nil {
			return nil, errors.Transport(err, "postgis", "Fields", "scan field")
		}
		if f.Domain, err = store.DecodeDomain(domain); err != nil {
			return nil, errors.WrapInvalid(err, "postgis", "Fields", "decode domain")
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Transport(err, "postgis", "Fields", "read fields")
	}
	return fields, nil
}

// QueryByRefs implements store.Reader.
func (s *Store) QueryByRefs(ctx context.Context, layer string, refs []feature.Ref, opts store.QueryOptions) ([]feature.Snapshot, error) {
	cs := feature.NewChangeSet(refs...)
	if cs.IsEmpty() {
		return nil, nil
	}
	if _, err := s.Fields(ctx, layer); err != nil {
		return nil, err
	}

	oids := cs.ObjectIDs()
	gids := cs.GlobalIDs()
	if oids == nil {
		oids = []int64{}
	}
	if gids == nil {
		gids = []string{}
	}

	return s.query(ctx, "QueryByRefs", opts,
		`WHERE layer = $1 AND (objectid = ANY($2::bigint[]) OR globalid = ANY($3::text[]))`,
		key(layer), oids, gids)
}

// QueryByIntersection implements store.Reader.
func (s *Store) QueryByIntersection(ctx context.Context, layer string, geom orb.Geometry, opts store.QueryOptions) ([]feature.Snapshot, error) {
	if _, err := s.Fields(ctx, layer); err != nil {
		return nil, err
	}
	g, err := store.EncodeGeometry(geom)
	if err != nil {
		return nil, errors.WrapInvalid(err, "postgis", "QueryByIntersection", "encode geometry")
	}
	if g == nil {
		return nil, nil
	}

	return s.query(ctx, "QueryByIntersection", opts,
		`WHERE layer = $1 AND geom IS NOT NULL AND ST_Intersects(geom, ST_SetSRID(ST_GeomFromGeoJSON($2::text), $3))`,
		key(layer), string(g), s.srid)
}

func (s *Store) query(ctx context.Context, op string, opts store.QueryOptions, where string, args ...any) ([]feature.Snapshot, error) {
	geomExpr := "NULL"
	if opts.ReturnGeometry {
		geomExpr = "ST_AsGeoJSON(geom)"
	}
	q := fmt.Sprintf(`SELECT objectid, globalid, attributes, %s FROM featuresync_features %s ORDER BY objectid`, geomExpr, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Transport(err, "postgis", op, "query")
	}
	defer func() { _ = rows.Close() }()

	var out []feature.Snapshot
	for rows.Next() {
		var (
			snap  feature.Snapshot
			attrs []byte
			geom  sql.NullString
		)
		if err := rows.Scan(&snap.Ref.ObjectID, &snap.Ref.GlobalID, &attrs, &geom); err != nil {
			return nil, errors.Transport(err, "postgis", op, "scan feature")
		}
		decoded, err := store.DecodeAttributes(attrs)
		if err != nil {
			return nil, errors.Transport(err, "postgis", op, "decode attributes")
		}
		snap.Attributes = store.Project(decoded, opts.OutFields)
		if geom.Valid {
			if snap.Geometry, err = store.DecodeGeometry([]byte(geom.String)); err != nil {
				return nil, errors.Transport(err, "postgis", op, "decode geometry")
			}
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Transport(err, "postgis", op, "read features")
	}
	return out, nil
}

// ApplyUpdates implements store.Writer. Each update is its own statement;
// attributes are merged into the stored JSONB and geometry is left alone.
func (s *Store) ApplyUpdates(ctx context.Context, layer string, updates []feature.Snapshot) ([]feature.WriteResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	fields, err := s.Fields(ctx, layer)
	if err != nil {
		return nil, err
	}

	results := make([]feature.WriteResult, 0, len(updates))
	for _, u := range updates {
		res := feature.WriteResult{Ref: u.Ref}

		data, err := store.EncodeAttributes(fields, withoutIDs(u.Attributes))
		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}

		var affected int64
		if u.Ref.HasObjectID() {
			affected, err = s.update(ctx, `objectid = $3`, key(layer), string(data), u.Ref.ObjectID)
		} else {
			affected, err = s.update(ctx, `globalid = $3`, key(layer), string(data), u.Ref.GlobalID)
		}
		if err != nil {
			return nil, errors.Transport(err, "postgis", "ApplyUpdates", "update feature")
		}
		if affected == 0 {
			res.Err = fmt.Errorf("feature %s does not exist", u.Ref)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Store) update(ctx context.Context, match string, args ...any) (int64, error) {
	r, err := s.db.ExecContext(ctx,
		`UPDATE featuresync_features SET attributes = attributes || $2::jsonb WHERE layer = $1 AND `+match, args...)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}

// withoutIDs drops id attributes a reader may have echoed back.
func withoutIDs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch strings.ToLower(k) {
		case "objectid", "globalid":
			continue
		}
		out[k] = v
	}
	return out
}

func encodeDomain(d *feature.Domain) (any, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
