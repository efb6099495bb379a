// Package loader imports the two input datasets into PostGIS: the Overture
// GeoJSON extract (in-process) and the model network shapefile (ogr2ogr).
package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// ColumnType is the PostgreSQL type inferred for a feature property.
type ColumnType string

// Inferred column types.
const (
	TypeText    ColumnType = "text"
	TypeBigint  ColumnType = "bigint"
	TypeDouble  ColumnType = "double precision"
	TypeBoolean ColumnType = "boolean"
	TypeJSONB   ColumnType = "jsonb"
)

// GeometryColumn is the name of the geometry column in created tables.
const GeometryColumn = "geometry"

// Column is one property column.
type Column struct {
	// Name is the column name; Property is the source key.
	Name     string
	Property string
	Type     ColumnType
}

// Feature is one decoded GeoJSON feature. Geometry is nil for a null
// geometry.
type Feature struct {
	ID         string
	Geometry   geom.T
	Properties map[string]any
}

// Dataset is a parsed feature collection with its inferred columns.
type Dataset struct {
	Columns  []Column
	Features []*Feature
}

// rawFeature defers geometry decoding and accepts numeric or string ids,
// both of which GDAL may write.
type rawFeature struct {
	ID         json.RawMessage `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// ReadGeoJSON loads a whole FeatureCollection file into memory.
func ReadGeoJSON(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var fc struct {
		Type     string        `json:"type"`
		Features []*rawFeature `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse %s as GeoJSON: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("failed to parse %s: expected a FeatureCollection, got %q", path, fc.Type)
	}

	features := make([]*Feature, 0, len(fc.Features))
	for i, rf := range fc.Features {
		f := &Feature{ID: rawID(rf.ID), Properties: rf.Properties}
		if len(rf.Geometry) > 0 && string(rf.Geometry) != "null" {
			if err := geojson.Unmarshal(rf.Geometry, &f.Geometry); err != nil {
				return nil, fmt.Errorf("failed to decode geometry of feature %d in %s: %w", i, path, err)
			}
		}
		features = append(features, f)
	}

	return &Dataset{
		Columns:  InferColumns(features),
		Features: features,
	}, nil
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// InferColumns derives one column per property key, sorted by key. A key
// whose values disagree on type becomes text; a key that is always null is
// text as well.
func InferColumns(features []*Feature) []Column {
	types := map[string]ColumnType{}
	for _, f := range features {
		for k, v := range f.Properties {
			t, ok := valueType(v)
			if !ok {
				if _, seen := types[k]; !seen {
					types[k] = ""
				}
				continue
			}
			prev, seen := types[k]
			switch {
			case !seen || prev == "":
				types[k] = t
			case prev == t:
			case prev == TypeBigint && t == TypeDouble, prev == TypeDouble && t == TypeBigint:
				types[k] = TypeDouble
			default:
				types[k] = TypeText
			}
		}
	}

	keys := make([]string, 0, len(types))
	for k := range types {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cols := make([]Column, 0, len(keys))
	for _, k := range keys {
		t := types[k]
		if t == "" {
			t = TypeText
		}
		name := k
		if name == GeometryColumn {
			name = GeometryColumn + "_property"
		}
		cols = append(cols, Column{Name: name, Property: k, Type: t})
	}
	return cols
}

func valueType(v any) (ColumnType, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return TypeText, true
	case bool:
		return TypeBoolean, true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return TypeBigint, true
		}
		return TypeDouble, true
	case map[string]any, []any:
		return TypeJSONB, true
	default:
		return TypeText, true
	}
}

// columnValue converts a decoded JSON value into a driver argument for a
// column of type t.
func columnValue(v any, t ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeBigint:
		return int64(v.(float64)), nil
	case TypeDouble:
		return v.(float64), nil
	case TypeBoolean:
		return v.(bool), nil
	case TypeJSONB:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}

	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

// geometryValue encodes a feature geometry as hex EWKB, or nil.
func geometryValue(f *Feature) (any, error) {
	if f.Geometry == nil {
		return nil, nil
	}
	s, err := ewkbhex.Encode(f.Geometry, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry of feature %q: %w", f.ID, err)
	}
	return s, nil
}
