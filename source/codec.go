package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
)

// layerEditsSchema describes the payload of a layer-level "edits"
// notification: one layer, applyEdits-style result lists.
const layerEditsSchema = `{
  "type": "object",
  "required": ["layer", "edits"],
  "properties": {
    "layer": {"type": "string", "minLength": 1},
    "edits": {"$ref": "#/definitions/results"}
  },
  "definitions": {
    "outcome": {
      "type": "object",
      "properties": {
        "objectId": {"type": ["integer", "null"]},
        "globalId": {"type": ["string", "null"]},
        "success": {"type": ["boolean", "null"]}
      }
    },
    "results": {
      "type": "object",
      "properties": {
        "addFeatureResults": {"type": "array", "items": {"$ref": "#/definitions/outcome"}},
        "updateFeatureResults": {"type": "array", "items": {"$ref": "#/definitions/outcome"}},
        "deleteFeatureResults": {"type": "array", "items": {"$ref": "#/definitions/outcome"}}
      }
    }
  }
}`

// editorEditsSchema describes the payload of an editing-workflow "edits"
// notification: a list of per-layer entries carrying "results" or "result".
const editorEditsSchema = `{
  "type": "object",
  "required": ["edits"],
  "properties": {
    "edits": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["layer"],
        "properties": {
          "layer": {"type": "string", "minLength": 1},
          "results": {"$ref": "#/definitions/results"},
          "result": {"$ref": "#/definitions/results"}
        }
      }
    }
  },
  "definitions": {
    "outcome": {
      "type": "object",
      "properties": {
        "objectId": {"type": ["integer", "null"]},
        "globalId": {"type": ["string", "null"]},
        "success": {"type": ["boolean", "null"]}
      }
    },
    "results": {
      "type": "object",
      "properties": {
        "addFeatureResults": {"type": "array", "items": {"$ref": "#/definitions/outcome"}},
        "updateFeatureResults": {"type": "array", "items": {"$ref": "#/definitions/outcome"}},
        "deleteFeatureResults": {"type": "array", "items": {"$ref": "#/definitions/outcome"}}
      }
    }
  }
}`

var (
	layerSchema  = gojsonschema.NewStringLoader(layerEditsSchema)
	editorSchema = gojsonschema.NewStringLoader(editorEditsSchema)
)

type wireOutcome struct {
	ObjectID *int64          `json:"objectId,omitempty"`
	GlobalID *string         `json:"globalId,omitempty"`
	Success  *bool           `json:"success,omitempty"`
	Error    json.RawMessage `json:"error,omitempty"`
}

type wireResults struct {
	Add    []wireOutcome `json:"addFeatureResults,omitempty"`
	Update []wireOutcome `json:"updateFeatureResults,omitempty"`
	Delete []wireOutcome `json:"deleteFeatureResults,omitempty"`
}

type wireLayerEdits struct {
	Layer string      `json:"layer"`
	Edits wireResults `json:"edits"`
}

type wireEditorEntry struct {
	Layer   string       `json:"layer"`
	Results *wireResults `json:"results,omitempty"`
	Result  *wireResults `json:"result,omitempty"`
}

type wireEditorEdits struct {
	Edits []wireEditorEntry `json:"edits"`
}

// Decode parses an edit notification payload. Both the layer-level shape
// {"layer", "edits": {...}} and the editor-level shape {"edits": [...]} are
// accepted. The payload is validated before decoding.
func Decode(sourceName string, data []byte) (feature.EditEvent, error) {
	var probe struct {
		Edits json.RawMessage `json:"edits"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return feature.EditEvent{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "source", "Decode", "parse payload")
	}

	editorShape := len(bytes.TrimSpace(probe.Edits)) > 0 && bytes.TrimSpace(probe.Edits)[0] == '['
	schema := layerSchema
	if editorShape {
		schema = editorSchema
	}
	if err := validate(schema, data); err != nil {
		return feature.EditEvent{}, err
	}

	event := feature.EditEvent{Source: sourceName}
	if editorShape {
		var w wireEditorEdits
		if err := json.Unmarshal(data, &w); err != nil {
			return feature.EditEvent{}, errors.WrapInvalid(err, "source", "Decode", "decode editor edits")
		}
		for _, entry := range w.Edits {
			res := entry.Results
			if res == nil {
				res = entry.Result
			}
			if res == nil {
				res = &wireResults{}
			}
			event.Layers = append(event.Layers, res.layerEdits(entry.Layer))
		}
		return event, nil
	}

	var w wireLayerEdits
	if err := json.Unmarshal(data, &w); err != nil {
		return feature.EditEvent{}, errors.WrapInvalid(err, "source", "Decode", "decode layer edits")
	}
	event.Layers = []feature.LayerEdits{w.Edits.layerEdits(w.Layer)}
	return event, nil
}

// Encode renders a single-layer event in the layer-level shape. Events with
// several layers use the editor-level shape.
func Encode(event feature.EditEvent) ([]byte, error) {
	if len(event.Layers) == 1 {
		l := event.Layers[0]
		return json.Marshal(wireLayerEdits{Layer: l.Layer, Edits: toWire(l)})
	}
	w := wireEditorEdits{Edits: make([]wireEditorEntry, 0, len(event.Layers))}
	for _, l := range event.Layers {
		res := toWire(l)
		w.Edits = append(w.Edits, wireEditorEntry{Layer: l.Layer, Results: &res})
	}
	return json.Marshal(w)
}

func validate(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "source", "Decode", "validate payload")
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidData, strings.Join(msgs, "; ")), "source", "Decode", "validate payload")
}

func (r wireResults) layerEdits(layer string) feature.LayerEdits {
	return feature.LayerEdits{
		Layer:   layer,
		Added:   outcomes(r.Add),
		Updated: outcomes(r.Update),
		Deleted: outcomes(r.Delete),
	}
}

func outcomes(in []wireOutcome) []feature.Outcome {
	if len(in) == 0 {
		return nil
	}
	out := make([]feature.Outcome, 0, len(in))
	for _, w := range in {
		o := feature.Outcome{ObjectID: w.ObjectID, Success: w.Success, Error: errorMessage(w.Error)}
		if w.GlobalID != nil {
			o.GlobalID = *w.GlobalID
		}
		out = append(out, o)
	}
	return out
}

// errorMessage accepts null, a plain string, or an object with a message or
// description.
func errorMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Description != "" {
			return obj.Description
		}
	}
	return string(raw)
}

func toWire(l feature.LayerEdits) wireResults {
	return wireResults{Add: fromOutcomes(l.Added), Update: fromOutcomes(l.Updated), Delete: fromOutcomes(l.Deleted)}
}

func fromOutcomes(in []feature.Outcome) []wireOutcome {
	out := make([]wireOutcome, 0, len(in))
	for _, o := range in {
		w := wireOutcome{ObjectID: o.ObjectID, Success: o.Success}
		if o.GlobalID != "" {
			gid := o.GlobalID
			w.GlobalID = &gid
		}
		if o.Error != "" {
			msg, _ := json.Marshal(o.Error)
			w.Error = msg
		}
		out = append(out, w)
	}
	return out
}
