// Package memory implements an in-process feature provider backed by a
// GeoJSON file. Features are bucketed into H3 cells so bbox queries only
// touch candidate cells instead of scanning the whole set.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	h3 "github.com/uber/h3-go/v4"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/provider"
)

const defaultCellRes = 7

// maxCoverCells caps the per-feature cell index. Features whose bounds
// cover more cells go on the oversized list and are scanned on every
// bbox query instead.
const maxCoverCells = 256

type Provider struct {
	features  []map[string]any
	byID      map[string]int
	cells     map[h3.Cell][]int
	oversized []int
	fields    map[string]string
	idField   string
	timeField string
	res       int
}

// New loads the GeoJSON document named by the provider descriptor and
// builds the id and cell indexes.
func New(def config.ProviderDef) (provider.Provider, error) {
	raw, err := os.ReadFile(def.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", provider.ErrConnection, def.Data, err)
	}

	var doc struct {
		Type     string           `json:"type"`
		Features []map[string]any `json:"features"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", provider.ErrConnection, def.Data, err)
	}
	if doc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: %s is not a FeatureCollection", provider.ErrConnection, def.Data)
	}

	p := &Provider{
		features:  doc.Features,
		byID:      make(map[string]int, len(doc.Features)),
		cells:     make(map[h3.Cell][]int),
		fields:    make(map[string]string),
		idField:   def.IDField,
		timeField: optString(def.Options, "time_field"),
		res:       optInt(def.Options, "h3_res", defaultCellRes),
	}
	if p.idField == "" {
		p.idField = "id"
	}
	if p.res < 0 || p.res > 15 {
		return nil, fmt.Errorf("%w: h3_res %d out of range 0..15", provider.ErrConnection, p.res)
	}

	for i, f := range doc.Features {
		if id := p.featureID(f); id != "" {
			p.byID[id] = i
		}
		for name, v := range properties(f) {
			if _, seen := p.fields[name]; !seen {
				p.fields[name] = typeTag(v)
			}
		}
		cells, ok := coverCells(f["geometry"], p.res)
		if !ok {
			continue
		}
		if len(cells) == 0 || len(cells) > maxCoverCells {
			p.oversized = append(p.oversized, i)
			continue
		}
		for _, c := range cells {
			p.cells[c] = append(p.cells[c], i)
		}
	}
	return p, nil
}

func (p *Provider) Fields() map[string]string { return p.fields }

func (p *Provider) Query(_ context.Context, q provider.Query) (*provider.ResultPage, error) {
	idxs, err := p.candidates(q.BBox)
	if err != nil {
		return nil, err
	}

	var matched []int
	for _, i := range idxs {
		f := p.features[i]
		if len(q.BBox) == 4 && !bboxContains(q.BBox, f["geometry"]) {
			continue
		}
		if !p.matchProperties(f, q.Properties) {
			continue
		}
		if !p.matchDatetime(f, q.Datetime) {
			continue
		}
		matched = append(matched, i)
	}

	p.sortMatches(matched, q.SortBy)

	total := len(matched)
	page := &provider.ResultPage{NumberMatched: &total, Features: []map[string]any{}}
	if q.ResultType == provider.ResultTypeHits {
		return page, nil
	}

	start := q.StartIndex
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	for _, i := range matched[start:end] {
		page.Features = append(page.Features, copyFeature(p.features[i]))
	}
	page.NumberReturned = len(page.Features)
	return page, nil
}

func (p *Provider) Get(_ context.Context, identifier string) (map[string]any, error) {
	i, ok := p.byID[identifier]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return copyFeature(p.features[i]), nil
}

// candidates returns feature indices to test, narrowed by the cell index
// when a bbox is present. Each covering cell is expanded by one ring since
// polyfill keys on cell centroids and would miss boundary features.
func (p *Provider) candidates(bbox []float64) ([]int, error) {
	if len(bbox) != 4 {
		all := make([]int, len(p.features))
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	loop := h3.GeoLoop{
		{Lat: bbox[1], Lng: bbox[0]},
		{Lat: bbox[1], Lng: bbox[2]},
		{Lat: bbox[3], Lng: bbox[2]},
		{Lat: bbox[3], Lng: bbox[0]},
	}
	cover, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, p.res)
	if err != nil {
		return nil, fmt.Errorf("%w: polyfill: %v", provider.ErrQuery, err)
	}
	if len(cover) == 0 {
		// bbox smaller than one cell; seed from its center
		center, err := h3.LatLngToCell(h3.LatLng{
			Lat: (bbox[1] + bbox[3]) / 2,
			Lng: (bbox[0] + bbox[2]) / 2,
		}, p.res)
		if err != nil {
			return nil, fmt.Errorf("%w: cell lookup: %v", provider.ErrQuery, err)
		}
		cover = []h3.Cell{center}
	}

	seen := make(map[h3.Cell]struct{}, len(cover)*7)
	var idxs []int
	for _, c := range cover {
		ring, err := h3.GridDisk(c, 1)
		if err != nil {
			return nil, fmt.Errorf("%w: grid disk: %v", provider.ErrQuery, err)
		}
		for _, rc := range ring {
			if _, ok := seen[rc]; ok {
				continue
			}
			seen[rc] = struct{}{}
			idxs = append(idxs, p.cells[rc]...)
		}
	}
	idxs = append(idxs, p.oversized...)
	sort.Ints(idxs)
	return dedupe(idxs), nil
}

// dedupe removes adjacent duplicates from a sorted slice. A feature
// indexed under several covering cells may be pulled in more than once.
func dedupe(idxs []int) []int {
	out := idxs[:0]
	for i, v := range idxs {
		if i == 0 || v != idxs[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func (p *Provider) matchProperties(f map[string]any, filters []provider.PropertyFilter) bool {
	if len(filters) == 0 {
		return true
	}
	props := properties(f)
	for _, pf := range filters {
		v, ok := props[pf.Name]
		if !ok || stringify(v) != pf.Value {
			return false
		}
	}
	return true
}

func (p *Provider) matchDatetime(f map[string]any, tf provider.TimeFilter) bool {
	if tf.IsZero() || p.timeField == "" {
		return true
	}
	v, ok := properties(f)[p.timeField]
	if !ok {
		return false
	}
	t, err := config.ParseTime(stringify(v))
	if err != nil {
		return false
	}
	return tf.Contains(t)
}

func (p *Provider) sortMatches(idxs []int, sortBy []provider.SortCriterion) {
	if len(sortBy) == 0 {
		return
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		pa := properties(p.features[idxs[a]])
		pb := properties(p.features[idxs[b]])
		for _, s := range sortBy {
			c := compareValues(pa[s.Property], pb[s.Property])
			if c == 0 {
				continue
			}
			if s.Order == provider.SortDescending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func (p *Provider) featureID(f map[string]any) string {
	if v, ok := f["id"]; ok {
		return stringify(v)
	}
	if v, ok := properties(f)[p.idField]; ok {
		return stringify(v)
	}
	return ""
}

func properties(f map[string]any) map[string]any {
	if m, ok := f["properties"].(map[string]any); ok {
		return m
	}
	return nil
}

// copyFeature deep-copies a stored feature so callers can mutate the
// result (the JSON-LD transform rewrites ids in place).
func copyFeature(f map[string]any) map[string]any {
	raw, err := json.Marshal(f)
	if err != nil {
		return f
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return f
	}
	return out
}

func compareValues(a, b any) int {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func stringify(v any) string {
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

func typeTag(v any) string {
	switch v.(type) {
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "string"
	}
}

// coverCells returns every cell covering the feature's coordinate bounds.
// Features smaller than one cell get their center cell. An empty result
// with ok=true means the cover could not be computed and the feature must
// be scanned on every bbox query.
func coverCells(geom any, res int) ([]h3.Cell, bool) {
	g, ok := geom.(map[string]any)
	if !ok {
		return nil, false
	}
	minx, miny, maxx, maxy, found := coordBounds(g["coordinates"])
	if !found {
		return nil, false
	}

	loop := h3.GeoLoop{
		{Lat: miny, Lng: minx},
		{Lat: miny, Lng: maxx},
		{Lat: maxy, Lng: maxx},
		{Lat: maxy, Lng: minx},
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
	if err != nil {
		return nil, true
	}
	if len(cells) == 0 {
		center, cerr := h3.LatLngToCell(h3.LatLng{
			Lat: (miny + maxy) / 2,
			Lng: (minx + maxx) / 2,
		}, res)
		if cerr != nil {
			return nil, true
		}
		return []h3.Cell{center}, true
	}
	return cells, true
}

// bboxContains tests the query bbox against the feature's coordinate bounds.
func bboxContains(bbox []float64, geom any) bool {
	g, ok := geom.(map[string]any)
	if !ok {
		return false
	}
	minx, miny, maxx, maxy, found := coordBounds(g["coordinates"])
	if !found {
		return false
	}
	return maxx >= bbox[0] && minx <= bbox[2] && maxy >= bbox[1] && miny <= bbox[3]
}

// coordBounds walks an arbitrarily nested GeoJSON coordinates array and
// returns the bounds of every position found.
func coordBounds(coords any) (minx, miny, maxx, maxy float64, found bool) {
	minx, miny = 180, 90
	maxx, maxy = -180, -90
	var walk func(v any)
	walk = func(v any) {
		arr, ok := v.([]any)
		if !ok || len(arr) == 0 {
			return
		}
		if x, ok := arr[0].(float64); ok && len(arr) >= 2 {
			if y, ok := arr[1].(float64); ok {
				if x < minx {
					minx = x
				}
				if x > maxx {
					maxx = x
				}
				if y < miny {
					miny = y
				}
				if y > maxy {
					maxy = y
				}
				found = true
				return
			}
		}
		for _, e := range arr {
			walk(e)
		}
	}
	walk(coords)
	return
}

func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
