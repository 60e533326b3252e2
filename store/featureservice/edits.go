package featureservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
)

type editResult struct {
	ObjectID *int64 `json:"objectId"`
	GlobalID string `json:"globalId"`
	Success  bool   `json:"success"`
	Error    *struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

type applyEditsResponse struct {
	UpdateResults []editResult `json:"updateResults"`
}

type editFeature struct {
	Attributes map[string]any `json:"attributes"`
}

// ApplyUpdates implements store.Writer. Updates are sent in one applyEdits
// call with rollbackOnFailure=false so that each update succeeds or fails
// on its own. Geometry is never written.
func (c *Client) ApplyUpdates(ctx context.Context, layer string, updates []feature.Snapshot) ([]feature.WriteResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	info, err := c.layer(ctx, layer)
	if err != nil {
		return nil, err
	}

	useGlobalIDs := false
	for _, u := range updates {
		if !u.Ref.HasObjectID() {
			useGlobalIDs = true
			break
		}
	}
	if useGlobalIDs && info.GlobalIDField == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("layer %s has no global id field: %w", info.Name, errNoObjectID),
			"featureservice", "ApplyUpdates", "address updates")
	}

	edits := make([]editFeature, 0, len(updates))
	for _, u := range updates {
		edits = append(edits, editFeature{Attributes: editAttributes(info, u, useGlobalIDs)})
	}
	payload, err := json.Marshal(edits)
	if err != nil {
		return nil, errors.WrapInvalid(err, "featureservice", "ApplyUpdates", "encode updates")
	}

	form := url.Values{}
	form.Set("updates", string(payload))
	form.Set("rollbackOnFailure", "false")
	if useGlobalIDs {
		form.Set("useGlobalIds", "true")
	}

	var resp applyEditsResponse
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/%d/applyEdits", info.ID), form, &resp); err != nil {
		return nil, err
	}
	return matchResults(updates, resp.UpdateResults), nil
}

// editAttributes copies the update's attributes and addresses the feature
// through the layer's id field. The other id field is dropped since it is
// not editable.
func editAttributes(info *layerInfo, u feature.Snapshot, useGlobalIDs bool) map[string]any {
	attrs := make(map[string]any, len(u.Attributes)+1)
	for k, v := range u.Attributes {
		if strings.EqualFold(k, info.ObjectIDField) || strings.EqualFold(k, info.GlobalIDField) {
			continue
		}
		attrs[k] = v
	}
	if useGlobalIDs {
		attrs[info.GlobalIDField] = feature.BracedGlobalID(u.Ref.GlobalID)
	} else {
		attrs[info.ObjectIDField] = u.Ref.ObjectID
	}
	return attrs
}

// matchResults pairs update results with updates by id, falling back to
// position. Updates the service did not report on are failures.
func matchResults(updates []feature.Snapshot, results []editResult) []feature.WriteResult {
	byKey := make(map[string]editResult, len(results))
	for _, r := range results {
		if r.ObjectID != nil {
			byKey["oid:"+strconv.FormatInt(*r.ObjectID, 10)] = r
		}
		if gid := feature.NormalizeGlobalID(r.GlobalID); gid != "" {
			byKey["gid:"+gid] = r
		}
	}

	out := make([]feature.WriteResult, len(updates))
	for i, u := range updates {
		out[i].Ref = u.Ref

		r, ok := byKey[u.Ref.Key()]
		if !ok && u.Ref.HasGlobalID() {
			r, ok = byKey["gid:"+u.Ref.GlobalID]
		}
		if !ok && i < len(results) && len(byKey) == 0 {
			r, ok = results[i], true
		}

		switch {
		case !ok:
			out[i].Err = fmt.Errorf("no result reported for %s", u.Ref)
		case !r.Success:
			out[i].Err = resultError(r)
		}
	}
	return out
}

func resultError(r editResult) error {
	if r.Error == nil {
		return errors.New("update rejected")
	}
	if r.Error.Description == "" {
		return fmt.Errorf("update rejected with code %d", r.Error.Code)
	}
	return errors.New(r.Error.Description)
}
