package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/provider"
)

const obsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "371",
     "geometry": {"type": "Point", "coordinates": [18.07, 59.33]},
     "properties": {"name": "stockholm", "elevation": 28, "datetime": "2020-03-01T00:00:00Z"}},
    {"type": "Feature", "id": "372",
     "geometry": {"type": "Point", "coordinates": [11.97, 57.71]},
     "properties": {"name": "gothenburg", "elevation": 12, "datetime": "2020-06-01T00:00:00Z"}},
    {"type": "Feature", "id": "373",
     "geometry": {"type": "Point", "coordinates": [-0.13, 51.51]},
     "properties": {"name": "london", "elevation": 11, "datetime": "2021-01-15T00:00:00Z"}}
  ]
}`

func newProvider(t *testing.T) provider.Provider {
	t.Helper()
	path := filepath.Join(t.TempDir(), "obs.geojson")
	if err := os.WriteFile(path, []byte(obsGeoJSON), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	p, err := New(config.ProviderDef{
		Name:    "memory",
		Data:    path,
		IDField: "id",
		Options: map[string]any{"time_field": "datetime"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_MissingFile(t *testing.T) {
	_, err := New(config.ProviderDef{Name: "memory", Data: "/no/such/file.geojson"})
	if !errors.Is(err, provider.ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}
}

func TestFields_Inferred(t *testing.T) {
	p := newProvider(t)
	fields := p.Fields()
	if fields["name"] != "string" {
		t.Errorf("name type = %q, want string", fields["name"])
	}
	if fields["elevation"] != "number" {
		t.Errorf("elevation type = %q, want number", fields["elevation"])
	}
}

func TestQuery_All(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		Limit: 10, ResultType: provider.ResultTypeResults,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 3 {
		t.Errorf("NumberReturned = %d, want 3", page.NumberReturned)
	}
	if page.NumberMatched == nil || *page.NumberMatched != 3 {
		t.Errorf("NumberMatched = %v, want 3", page.NumberMatched)
	}
}

func TestQuery_BBoxNarrowsToSweden(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		BBox:       []float64{10, 55, 20, 62},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 2 {
		t.Fatalf("NumberReturned = %d, want 2 (swedish stations)", page.NumberReturned)
	}
	for _, f := range page.Features {
		name := f["properties"].(map[string]any)["name"].(string)
		if name == "london" {
			t.Error("london should be outside the bbox")
		}
	}
}

const regionsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "big",
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]},
     "properties": {"name": "region"}},
    {"type": "Feature", "id": "town",
     "geometry": {"type": "Polygon", "coordinates": [[[5,5],[5.1,5],[5.1,5.1],[5,5.1],[5,5]]]},
     "properties": {"name": "town"}}
  ]
}`

func newRegionProvider(t *testing.T) provider.Provider {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regions.geojson")
	if err := os.WriteFile(path, []byte(regionsGeoJSON), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	p, err := New(config.ProviderDef{Name: "memory", Data: path, IDField: "id"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestQuery_BBoxFindsLargePolygonAtCorner(t *testing.T) {
	p := newRegionProvider(t)

	// a small bbox at the polygon's corner, far from its centroid
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		BBox:       []float64{-0.05, -0.05, 0.05, 0.05},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 1 {
		t.Fatalf("NumberReturned = %d, want 1 (large polygon intersects bbox)", page.NumberReturned)
	}
	if page.Features[0]["id"] != "big" {
		t.Errorf("id = %v, want big", page.Features[0]["id"])
	}
}

func TestQuery_BBoxMultiCellFeatureCountedOnce(t *testing.T) {
	p := newRegionProvider(t)

	// the town polygon spans several index cells; a bbox covering all of
	// it must still match it exactly once
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		BBox:       []float64{4, 4, 6, 6},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberMatched == nil || *page.NumberMatched != 2 {
		t.Fatalf("NumberMatched = %v, want 2", page.NumberMatched)
	}
	ids := map[any]int{}
	for _, f := range page.Features {
		ids[f["id"]]++
	}
	if ids["town"] != 1 || ids["big"] != 1 {
		t.Fatalf("feature counts = %v, want each exactly once", ids)
	}
}

func TestQuery_PropertyFilter(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		Properties: []provider.PropertyFilter{{Name: "name", Value: "london"}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 1 {
		t.Fatalf("NumberReturned = %d, want 1", page.NumberReturned)
	}
	if page.Features[0]["id"] != "373" {
		t.Errorf("id = %v, want 373", page.Features[0]["id"])
	}
}

func TestQuery_SortDescending(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		SortBy:     []provider.SortCriterion{{Property: "elevation", Order: provider.SortDescending}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var got []float64
	for _, f := range page.Features {
		got = append(got, f["properties"].(map[string]any)["elevation"].(float64))
	}
	for i := 1; i < len(got); i++ {
		if got[i] > got[i-1] {
			t.Fatalf("elevations not descending: %v", got)
		}
	}
}

func TestQuery_Paging(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		StartIndex: 2, Limit: 2, ResultType: provider.ResultTypeResults,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 1 {
		t.Errorf("NumberReturned = %d, want 1", page.NumberReturned)
	}
	if page.NumberMatched == nil || *page.NumberMatched != 3 {
		t.Errorf("NumberMatched = %v, want 3", page.NumberMatched)
	}
}

func TestQuery_Hits(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		Limit: 10, ResultType: provider.ResultTypeHits,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(page.Features) != 0 {
		t.Errorf("hits should return no features, got %d", len(page.Features))
	}
	if page.NumberMatched == nil || *page.NumberMatched != 3 {
		t.Errorf("NumberMatched = %v, want 3", page.NumberMatched)
	}
}

func TestQuery_DatetimeRange(t *testing.T) {
	p := newProvider(t)
	begin := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		Datetime:   provider.TimeFilter{Raw: "2021-01-01/..", Begin: &begin},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 1 {
		t.Fatalf("NumberReturned = %d, want 1 (only 2021 observation)", page.NumberReturned)
	}
}

func TestGet(t *testing.T) {
	p := newProvider(t)
	f, err := p.Get(context.Background(), "372")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f["id"] != "372" {
		t.Errorf("id = %v, want 372", f["id"])
	}

	// mutating the returned feature must not affect the stored copy
	f["id"] = "mutated"
	again, err := p.Get(context.Background(), "372")
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if again["id"] != "372" {
		t.Error("stored feature was mutated through a returned copy")
	}

	if _, err := p.Get(context.Background(), "9999"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
