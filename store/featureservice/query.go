package featureservice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
)

// maxPages bounds paging through exceededTransferLimit responses.
const maxPages = 100

type queryResponse struct {
	ObjectIDFieldName     string `json:"objectIdFieldName"`
	GlobalIDFieldName     string `json:"globalIdFieldName"`
	ExceededTransferLimit bool   `json:"exceededTransferLimit"`
	Features              []struct {
		Attributes map[string]any `json:"attributes"`
		Geometry   *esriGeometry  `json:"geometry"`
	} `json:"features"`
}

// QueryByRefs implements store.Reader. Object ids and global ids go into a
// single where clause.
func (c *Client) QueryByRefs(ctx context.Context, layer string, refs []feature.Ref, opts store.QueryOptions) ([]feature.Snapshot, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	info, err := c.layer(ctx, layer)
	if err != nil {
		return nil, err
	}

	where := refsWhere(info, feature.NewChangeSet(refs...))
	if where == "" {
		return nil, nil
	}
	form := url.Values{}
	form.Set("where", where)
	return c.query(ctx, info, form, opts)
}

// QueryByIntersection implements store.Reader.
func (c *Client) QueryByIntersection(ctx context.Context, layer string, geom orb.Geometry, opts store.QueryOptions) ([]feature.Snapshot, error) {
	info, err := c.layer(ctx, layer)
	if err != nil {
		return nil, err
	}

	encoded, geomType, err := fromOrb(geom, info.WKID)
	if err != nil {
		return nil, errors.WrapInvalid(err, "featureservice", "QueryByIntersection", "encode geometry")
	}

	form := url.Values{}
	form.Set("where", "1=1")
	form.Set("geometry", encoded)
	form.Set("geometryType", geomType)
	form.Set("spatialRel", "esriSpatialRelIntersects")
	if info.WKID > 0 {
		form.Set("inSR", strconv.Itoa(info.WKID))
	}
	return c.query(ctx, info, form, opts)
}

func refsWhere(info *layerInfo, cs feature.ChangeSet) string {
	var clauses []string
	if ids := cs.ObjectIDs(); len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", info.ObjectIDField, strings.Join(parts, ",")))
	}
	if gids := cs.GlobalIDs(); len(gids) > 0 && info.GlobalIDField != "" {
		parts := make([]string, len(gids))
		for i, gid := range gids {
			parts[i] = "'" + strings.ReplaceAll(feature.BracedGlobalID(gid), "'", "''") + "'"
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", info.GlobalIDField, strings.Join(parts, ",")))
	}
	return strings.Join(clauses, " OR ")
}

func (c *Client) query(ctx context.Context, info *layerInfo, form url.Values, opts store.QueryOptions) ([]feature.Snapshot, error) {
	form.Set("outFields", outFields(info, opts.OutFields))
	form.Set("returnGeometry", strconv.FormatBool(opts.ReturnGeometry))
	form.Set("orderByFields", info.ObjectIDField)
	if opts.ReturnGeometry && info.WKID > 0 {
		form.Set("outSR", strconv.Itoa(info.WKID))
	}

	path := fmt.Sprintf("/%d/query", info.ID)
	var out []feature.Snapshot

	for page := 0; page < maxPages; page++ {
		if page > 0 {
			form.Set("resultOffset", strconv.Itoa(len(out)))
		}

		var resp queryResponse
		if err := c.call(ctx, http.MethodPost, path, form, &resp); err != nil {
			return nil, err
		}

		for _, f := range resp.Features {
			snap, err := toSnapshot(info, f.Attributes, f.Geometry)
			if err != nil {
				return nil, errors.Transport(
					errors.WrapInvalid(err, "featureservice", "query", "decode feature"),
					"featureservice", "query", path)
			}
			if !opts.ReturnGeometry {
				snap.Geometry = nil
			}
			out = append(out, snap)
		}

		if !resp.ExceededTransferLimit || len(resp.Features) == 0 {
			return out, nil
		}
	}

	c.logger.Warn("query truncated", "layer", info.Name, "features", len(out))
	return out, nil
}

// outFields always includes the id fields so results can be addressed.
func outFields(info *layerInfo, fields []string) string {
	if len(fields) == 0 {
		return "*"
	}
	want := append([]string{info.ObjectIDField}, fields...)
	if info.GlobalIDField != "" {
		want = append(want, info.GlobalIDField)
	}
	seen := make(map[string]bool, len(want))
	out := want[:0]
	for _, f := range want {
		if !seen[strings.ToLower(f)] {
			seen[strings.ToLower(f)] = true
			out = append(out, f)
		}
	}
	return strings.Join(out, ",")
}

func toSnapshot(info *layerInfo, attrs map[string]any, geom *esriGeometry) (feature.Snapshot, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	snap := feature.Snapshot{Attributes: feature.NormalizeAttributes(attrs)}

	oid, _ := snap.Value(info.ObjectIDField)
	switch v := oid.(type) {
	case int64:
		snap.Ref.ObjectID = v
	case float64:
		snap.Ref.ObjectID = int64(v)
	default:
		return snap, errNoObjectID
	}
	if info.GlobalIDField != "" {
		if gid, ok := snap.Value(info.GlobalIDField); ok {
			if s, ok := gid.(string); ok {
				snap.Ref.GlobalID = feature.NormalizeGlobalID(s)
			}
		}
	}

	g, err := geom.toOrb()
	if err != nil {
		return snap, err
	}
	snap.Geometry = g
	return snap, nil
}
