package sqlitep

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/provider"
)

func newFixtureDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stations.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE stations (
			id INTEGER PRIMARY KEY,
			name TEXT,
			elevation REAL,
			lon REAL,
			lat REAL,
			observed TEXT,
			geometry TEXT
		)`,
		// observed values mix layouts: fractional seconds, a zone
		// offset, and plain UTC
		`INSERT INTO stations VALUES
			(371, 'stockholm', 28, 18.07, 59.33, '2020-03-01T00:00:00.500Z',
			 '{"type":"Point","coordinates":[18.07,59.33]}'),
			(372, 'gothenburg', 12, 11.97, 57.71, '2020-06-01T02:00:00+02:00',
			 '{"type":"Point","coordinates":[11.97,57.71]}'),
			(373, 'london', 11, -0.13, 51.51, '2021-01-15T00:00:00Z',
			 '{"type":"Point","coordinates":[-0.13,51.51]}')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec: %v", err)
		}
	}
	return path
}

func newProvider(t *testing.T) provider.Provider {
	t.Helper()
	p, err := New(config.ProviderDef{
		Name:    "sqlite",
		Data:    newFixtureDB(t),
		IDField: "id",
		Options: map[string]any{
			"table":      "stations",
			"x_field":    "lon",
			"y_field":    "lat",
			"time_field": "observed",
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresTable(t *testing.T) {
	_, err := New(config.ProviderDef{Name: "sqlite", Data: ":memory:"})
	if !errors.Is(err, provider.ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}
}

func TestNew_MissingTable(t *testing.T) {
	_, err := New(config.ProviderDef{
		Name: "sqlite", Data: ":memory:",
		Options: map[string]any{"table": "nothere"},
	})
	if !errors.Is(err, provider.ErrConnection) {
		t.Fatalf("want ErrConnection, got %v", err)
	}
}

func TestFields_FromSchema(t *testing.T) {
	p := newProvider(t)
	fields := p.Fields()
	if fields["name"] != "string" {
		t.Errorf("name = %q, want string", fields["name"])
	}
	if fields["elevation"] != "number" {
		t.Errorf("elevation = %q, want number", fields["elevation"])
	}
	if _, ok := fields["geometry"]; ok {
		t.Error("geometry column must not be exposed as a field")
	}
}

func TestQuery_PagingAndCount(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		StartIndex: 1, Limit: 1, ResultType: provider.ResultTypeResults,
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
	f := page.Features[0]
	if f["type"] != "Feature" {
		t.Errorf("type = %v", f["type"])
	}
	if _, ok := f["geometry"].(map[string]any); !ok {
		t.Error("geometry not decoded from GeoJSON column")
	}
}

func TestQuery_BBoxPushdown(t *testing.T) {
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
		t.Fatalf("NumberReturned = %d, want 2", page.NumberReturned)
	}
}

func TestQuery_PropertyFilterAndSort(t *testing.T) {
	p := newProvider(t)
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		SortBy:     []provider.SortCriterion{{Property: "elevation", Order: provider.SortDescending}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	first := page.Features[0]["properties"].(map[string]any)
	if first["name"] != "stockholm" {
		t.Errorf("first by elevation desc = %v, want stockholm", first["name"])
	}

	page, err = p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		Properties: []provider.PropertyFilter{{Name: "name", Value: "london"}},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 1 {
		t.Fatalf("filtered NumberReturned = %d, want 1", page.NumberReturned)
	}
}

func TestQuery_DatetimeNormalized(t *testing.T) {
	p := newProvider(t)

	// instant filter matches a stored value carrying fractional seconds
	instant := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	page, err := p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		Datetime:   provider.TimeFilter{Raw: "2020-03-01T00:00:00Z", Instant: &instant},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 1 {
		t.Fatalf("instant NumberReturned = %d, want 1", page.NumberReturned)
	}
	if page.Features[0]["id"] != "371" {
		t.Errorf("id = %v, want 371", page.Features[0]["id"])
	}

	// range comparison converts a stored zone offset to UTC
	begin := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)
	page, err = p.Query(context.Background(), provider.Query{
		Limit:      10,
		ResultType: provider.ResultTypeResults,
		Datetime:   provider.TimeFilter{Raw: "2020-01-01/2020-12-31", Begin: &begin, End: &end},
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if page.NumberReturned != 2 {
		t.Fatalf("range NumberReturned = %d, want 2 (2020 stations)", page.NumberReturned)
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
	if len(page.Features) != 0 || page.NumberMatched == nil || *page.NumberMatched != 3 {
		t.Fatalf("hits page wrong: %+v", page)
	}
}

func TestGet(t *testing.T) {
	p := newProvider(t)
	f, err := p.Get(context.Background(), "371")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f["id"] != "371" {
		t.Errorf("id = %v, want 371", f["id"])
	}

	if _, err := p.Get(context.Background(), "9999"); !errors.Is(err, provider.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
