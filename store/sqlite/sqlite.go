// Package sqlite provides a feature store on an embedded SQLite database.
// Geometry is kept as GeoJSON next to its bounding box; intersection
// queries prefilter on the box in SQL and test the exact geometry in Go.
//
// The default DSN is an in-memory database that lives as long as the Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/geo"
	"github.com/c360/featuresync/store"
)

var _ store.Store = (*Store)(nil)

// MemoryDSN is the default, session-scoped database.
const MemoryDSN = ":memory:"

var schema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS layers (
		name TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS fields (
		layer    TEXT NOT NULL REFERENCES layers(name) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name     TEXT NOT NULL,
		alias    TEXT NOT NULL DEFAULT '',
		type     TEXT NOT NULL DEFAULT '',
		domain   TEXT,
		PRIMARY KEY (layer, name)
	)`,
	`CREATE TABLE IF NOT EXISTS features (
		objectid   INTEGER PRIMARY KEY AUTOINCREMENT,
		layer      TEXT NOT NULL REFERENCES layers(name) ON DELETE CASCADE,
		globalid   TEXT NOT NULL UNIQUE,
		attributes TEXT NOT NULL DEFAULT '{}',
		geometry   TEXT,
		minx REAL, miny REAL, maxx REAL, maxy REAL
	)`,
	`CREATE INDEX IF NOT EXISTS features_layer_idx ON features (layer)`,
	`CREATE INDEX IF NOT EXISTS features_bbox_idx ON features (layer, minx, maxx, miny, maxy)`,
}

// Store is a SQLite-backed feature store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open opens the database at dsn, MemoryDSN when empty, and applies the
// schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	if dsn != MemoryDSN && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, errors.WrapFatal(err, "sqlite", "Open", "create directory")
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "sqlite", "Open", "open database")
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sqlite")

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.WrapFatal(err, "sqlite", "Open", "apply schema")
		}
	}
	s.logger.Debug("database opened", "dsn", dsn)
	return s, nil
}

// Close closes the database. An in-memory database is discarded.
func (s *Store) Close() error { return s.db.Close() }

func key(name string) string { return strings.ToLower(name) }

// CreateLayer registers a layer or replaces the fields of an existing one.
func (s *Store) CreateLayer(ctx context.Context, name string, fields []feature.Field) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Transport(err, "sqlite", "CreateLayer", "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO layers (name) VALUES (?)`, key(name)); err != nil {
		return errors.Transport(err, "sqlite", "CreateLayer", "insert layer")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fields WHERE layer = ?`, key(name)); err != nil {
		return errors.Transport(err, "sqlite", "CreateLayer", "clear fields")
	}
	for i, f := range fields {
		var domain any
		if f.Domain != nil {
			data, err := json.Marshal(f.Domain)
			if err != nil {
				return errors.WrapInvalid(err, "sqlite", "CreateLayer", "encode domain")
			}
			domain = string(data)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fields (layer, position, name, alias, type, domain) VALUES (?, ?, ?, ?, ?, ?)`,
			key(name), i, f.Name, f.Alias, f.Type, domain); err != nil {
			return errors.Transport(err, "sqlite", "CreateLayer", "insert field")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Transport(err, "sqlite", "CreateLayer", "commit")
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
		return feature.Ref{}, errors.WrapInvalid(err, "sqlite", "Add", "validate attributes")
	}
	g, err := store.EncodeGeometry(geom)
	if err != nil {
		return feature.Ref{}, errors.WrapInvalid(err, "sqlite", "Add", "encode geometry")
	}

	var gval, minx, miny, maxx, maxy any
	if g != nil {
		b := geom.Bound()
		gval, minx, miny, maxx, maxy = string(g), b.Min[0], b.Min[1], b.Max[0], b.Max[1]
	}

	ref := feature.Ref{GlobalID: uuid.NewString()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO features (layer, globalid, attributes, geometry, minx, miny, maxx, maxy) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key(layer), ref.GlobalID, string(data), gval, minx, miny, maxx, maxy)
	if err != nil {
		return feature.Ref{}, errors.Transport(err, "sqlite", "Add", "insert feature")
	}
	if ref.ObjectID, err = res.LastInsertId(); err != nil {
		return feature.Ref{}, errors.Transport(err, "sqlite", "Add", "read object id")
	}
	return ref, nil
}

// Delete removes a feature. Object ids are never reused.
func (s *Store) Delete(ctx context.Context, layer string, oid int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM features WHERE layer = ? AND objectid = ?`, key(layer), oid); err != nil {
		return errors.Transport(err, "sqlite", "Delete", "delete feature")
	}
	return nil
}

// Fields implements store.Metadata.
func (s *Store) Fields(ctx context.Context, layer string) ([]feature.Field, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM layers WHERE name = ?`, key(layer)).Scan(&n); err != nil {
		return nil, errors.Transport(err, "sqlite", "Fields", "lookup layer")
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", layer, store.ErrLayerNotFound)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, alias, type, domain FROM fields WHERE layer = ? ORDER BY position`, key(layer))
	if err != nil {
		return nil, errors.Transport(err, "sqlite", "Fields", "select fields")
	}
	defer func() { _ = rows.Close() }()

	var fields []feature.Field
	for rows.Next() {
		var (
			f      feature.Field
			domain sql.NullString
		)
		if err := rows.Scan(&f.Name, &f.Alias, &f.Type, &domain); err != nil {
			return nil, errors.Transport(err, "sqlite", "Fields", "scan field")
		}
		if domain.Valid {
			if f.Domain, err = store.DecodeDomain([]byte(domain.String)); err != nil {
				return nil, errors.WrapInvalid(err, "sqlite", "Fields", "decode domain")
			}
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Transport(err, "sqlite", "Fields", "read fields")
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

	args := []any{key(layer)}
	var clauses []string
	if oids := cs.ObjectIDs(); len(oids) > 0 {
		clauses = append(clauses, "objectid IN ("+placeholders(len(oids))+")")
		for _, id := range oids {
			args = append(args, id)
		}
	}
	if gids := cs.GlobalIDs(); len(gids) > 0 {
		clauses = append(clauses, "globalid IN ("+placeholders(len(gids))+")")
		for _, id := range gids {
			args = append(args, id)
		}
	}

	return s.query(ctx, "QueryByRefs", opts, nil,
		"WHERE layer = ? AND ("+strings.Join(clauses, " OR ")+")", args...)
}

// QueryByIntersection implements store.Reader.
func (s *Store) QueryByIntersection(ctx context.Context, layer string, geom orb.Geometry, opts store.QueryOptions) ([]feature.Snapshot, error) {
	if _, err := s.Fields(ctx, layer); err != nil {
		return nil, err
	}
	if geom == nil {
		return nil, nil
	}

	b := geom.Bound()
	return s.query(ctx, "QueryByIntersection", opts, geom,
		`WHERE layer = ? AND geometry IS NOT NULL AND maxx >= ? AND minx <= ? AND maxy >= ? AND miny <= ?`,
		key(layer), b.Min[0], b.Max[0], b.Min[1], b.Max[1])
}

// query runs a feature select. When filter is set, rows whose geometry does
// not intersect it are dropped.
func (s *Store) query(ctx context.Context, op string, opts store.QueryOptions, filter orb.Geometry, where string, args ...any) ([]feature.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT objectid, globalid, attributes, geometry FROM features `+where+` ORDER BY objectid`, args...)
	if err != nil {
		return nil, errors.Transport(err, "sqlite", op, "query")
	}
	defer func() { _ = rows.Close() }()

	var out []feature.Snapshot
	for rows.Next() {
		var (
			snap  feature.Snapshot
			attrs string
			geom  sql.NullString
		)
		if err := rows.Scan(&snap.Ref.ObjectID, &snap.Ref.GlobalID, &attrs, &geom); err != nil {
			return nil, errors.Transport(err, "sqlite", op, "scan feature")
		}

		if geom.Valid && (filter != nil || opts.ReturnGeometry) {
			g, err := store.DecodeGeometry([]byte(geom.String))
			if err != nil {
				return nil, errors.Transport(err, "sqlite", op, "decode geometry")
			}
			if filter != nil && !geo.Intersects(g, filter) {
				continue
			}
			if opts.ReturnGeometry {
				snap.Geometry = g
			}
		}

		decoded, err := store.DecodeAttributes([]byte(attrs))
		if err != nil {
			return nil, errors.Transport(err, "sqlite", op, "decode attributes")
		}
		snap.Attributes = store.Project(decoded, opts.OutFields)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Transport(err, "sqlite", op, "read features")
	}
	return out, nil
}

// ApplyUpdates implements store.Writer. Attributes are merged into the
// stored ones in one transaction; geometry is left alone.
func (s *Store) ApplyUpdates(ctx context.Context, layer string, updates []feature.Snapshot) ([]feature.WriteResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	fields, err := s.Fields(ctx, layer)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Transport(err, "sqlite", "ApplyUpdates", "begin")
	}
	defer func() { _ = tx.Rollback() }()

	results := make([]feature.WriteResult, 0, len(updates))
	for _, u := range updates {
		res := feature.WriteResult{Ref: u.Ref}
		if err := s.update(ctx, tx, fields, layer, u); err != nil {
			if !errors.Is(err, errors.ErrTransport) {
				res.Err = err
				results = append(results, res)
				continue
			}
			return nil, err
		}
		results = append(results, res)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Transport(err, "sqlite", "ApplyUpdates", "commit")
	}
	return results, nil
}

// update merges one update. Only errors matching ErrTransport fail the call.
func (s *Store) update(ctx context.Context, tx *sql.Tx, fields []feature.Field, layer string, u feature.Snapshot) error {
	attrs := withoutIDs(u.Attributes)
	if err := feature.ValidateAttributes(fields, attrs); err != nil {
		return err
	}

	match, id := "objectid = ?", any(u.Ref.ObjectID)
	if !u.Ref.HasObjectID() {
		match, id = "globalid = ?", u.Ref.GlobalID
	}

	var (
		oid int64
		raw string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT objectid, attributes FROM features WHERE layer = ? AND `+match, key(layer), id).Scan(&oid, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("feature %s does not exist", u.Ref)
	}
	if err != nil {
		return errors.Transport(err, "sqlite", "ApplyUpdates", "select feature")
	}

	current, err := store.DecodeAttributes([]byte(raw))
	if err != nil {
		return errors.Transport(err, "sqlite", "ApplyUpdates", "decode attributes")
	}
	for k, v := range attrs {
		f, _ := feature.FindField(fields, k)
		current[f.Name] = v
	}
	data, err := json.Marshal(current)
	if err != nil {
		return errors.WrapInvalid(err, "sqlite", "ApplyUpdates", "encode attributes")
	}

	if _, err := tx.ExecContext(ctx, `UPDATE features SET attributes = ? WHERE objectid = ?`, string(data), oid); err != nil {
		return errors.Transport(err, "sqlite", "ApplyUpdates", "update feature")
	}
	return nil
}

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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
