package featureservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/c360/featuresync/errors"
	"github.com/c360/featuresync/feature"
	"github.com/c360/featuresync/store"
)

type layerInfo struct {
	ID            int
	Name          string
	ObjectIDField string
	GlobalIDField string
	GeometryType  string
	WKID          int
	Fields        []feature.Field
}

type serviceDescription struct {
	Layers []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"layers"`
	Tables []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"tables"`
}

type layerDescription struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	ObjectIDField string      `json:"objectIdField"`
	GlobalIDField string      `json:"globalIdField"`
	GeometryType  string      `json:"geometryType"`
	Fields        []esriField `json:"fields"`
	Extent        *struct {
		SpatialReference *spatialReference `json:"spatialReference"`
	} `json:"extent"`
}

type esriField struct {
	Name   string      `json:"name"`
	Alias  string      `json:"alias"`
	Type   string      `json:"type"`
	Domain *esriDomain `json:"domain"`
}

type esriDomain struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	CodedValues []struct {
		Name string `json:"name"`
		Code any    `json:"code"`
	} `json:"codedValues"`
}

func (f esriField) toField() feature.Field {
	out := feature.Field{Name: f.Name, Alias: f.Alias, Type: f.Type}
	if f.Domain != nil && f.Domain.Type == "codedValue" {
		d := &feature.Domain{Name: f.Domain.Name}
		for _, cv := range f.Domain.CodedValues {
			d.CodedValues = append(d.CodedValues, feature.CodedValue{Code: feature.NormalizeNumber(cv.Code), Name: cv.Name})
		}
		out.Domain = d
	}
	return out
}

// Fields implements store.Metadata.
func (c *Client) Fields(ctx context.Context, layer string) ([]feature.Field, error) {
	info, err := c.layer(ctx, layer)
	if err != nil {
		return nil, err
	}
	out := make([]feature.Field, len(info.Fields))
	copy(out, info.Fields)
	return out, nil
}

// layer returns the cached description of a layer, loading it on first use.
func (c *Client) layer(ctx context.Context, name string) (*layerInfo, error) {
	id, err := c.layerID(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	info, ok := c.layers[id]
	c.mu.Unlock()
	if ok {
		return info, nil
	}

	var desc layerDescription
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/%d", id), nil, &desc); err != nil {
		return nil, err
	}

	info = &layerInfo{
		ID:            id,
		Name:          desc.Name,
		ObjectIDField: desc.ObjectIDField,
		GlobalIDField: desc.GlobalIDField,
		GeometryType:  desc.GeometryType,
	}
	if desc.Extent != nil && desc.Extent.SpatialReference != nil {
		info.WKID = desc.Extent.SpatialReference.wkid()
	}
	for _, f := range desc.Fields {
		info.Fields = append(info.Fields, f.toField())
		switch f.Type {
		case "esriFieldTypeOID":
			if info.ObjectIDField == "" {
				info.ObjectIDField = f.Name
			}
		case "esriFieldTypeGlobalID":
			if info.GlobalIDField == "" {
				info.GlobalIDField = f.Name
			}
		}
	}
	if info.ObjectIDField == "" {
		info.ObjectIDField = "OBJECTID"
	}

	c.mu.Lock()
	c.layers[id] = info
	c.mu.Unlock()
	return info, nil
}

func (c *Client) layerID(ctx context.Context, name string) (int, error) {
	key := strings.ToLower(name)

	c.mu.Lock()
	id, ok := c.ids[key]
	resolved := c.resolved
	c.mu.Unlock()
	if ok {
		return id, nil
	}
	if resolved {
		return 0, fmt.Errorf("%s: %w", name, store.ErrLayerNotFound)
	}

	var desc serviceDescription
	if err := c.call(ctx, http.MethodGet, "", nil, &desc); err != nil {
		return 0, err
	}

	type entry struct {
		id   int
		name string
	}
	var all []entry
	for _, l := range desc.Layers {
		all = append(all, entry{l.ID, l.Name})
	}
	for _, t := range desc.Tables {
		all = append(all, entry{t.ID, t.Name})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = true

	for _, e := range all {
		if _, taken := c.ids[strings.ToLower(e.name)]; !taken {
			c.ids[strings.ToLower(e.name)] = e.id
		}
	}
	if id, ok := c.ids[key]; ok {
		return id, nil
	}
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.name), key) {
			c.ids[key] = e.id
			return e.id, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", name, store.ErrLayerNotFound)
}

func decode(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

var errNoObjectID = errors.New("feature has no object id")
