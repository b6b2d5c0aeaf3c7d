package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"

	"github.com/cascadegeo/featureserv/internal/config"
)

// CSV flattens a FeatureCollection document into rows of id, point
// coordinates, and properties.
type CSV struct{}

func NewCSV() *CSV { return &CSV{} }

func (f *CSV) MimeType() string { return "text/csv" }

func (f *CSV) Write(doc map[string]any, _ config.ProviderDef) ([]byte, error) {
	features, _ := doc["features"].([]any)
	maps := make([]map[string]any, 0, len(features))
	for _, raw := range features {
		if m, ok := raw.(map[string]any); ok {
			maps = append(maps, m)
		}
	}
	if ms, ok := doc["features"].([]map[string]any); ok {
		maps = ms
	}

	// column set: id, x, y, then the union of property names
	propCols := map[string]struct{}{}
	for _, ft := range maps {
		if props, ok := ft["properties"].(map[string]any); ok {
			for k := range props {
				propCols[k] = struct{}{}
			}
		}
	}
	cols := make([]string, 0, len(propCols))
	for k := range propCols {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	header := append([]string{"id", "x", "y"}, cols...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}

	for _, ft := range maps {
		row := make([]string, 0, len(header))
		row = append(row, cellString(ft["id"]))

		x, y := pointCoords(ft["geometry"])
		row = append(row, x, y)

		props, _ := ft["properties"].(map[string]any)
		for _, col := range cols {
			row = append(row, cellString(props[col]))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush: %w", err)
	}
	return buf.Bytes(), nil
}

func pointCoords(geom any) (string, string) {
	g, ok := geom.(map[string]any)
	if !ok || g["type"] != "Point" {
		return "", ""
	}
	coords, ok := g["coordinates"].([]any)
	if !ok || len(coords) < 2 {
		return "", ""
	}
	return cellString(coords[0]), cellString(coords[1])
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
