package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/cascadegeo/featureserv/internal/api"
	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/process"
	"github.com/cascadegeo/featureserv/internal/provider"
)

type fixedProvider struct {
	features map[string]map[string]any
}

func (p *fixedProvider) Fields() map[string]string { return map[string]string{"name": "string"} }

func (p *fixedProvider) Query(_ context.Context, q provider.Query) (*provider.ResultPage, error) {
	var out []map[string]any
	for _, f := range p.features {
		out = append(out, f)
	}
	return &provider.ResultPage{Features: out, NumberReturned: len(out)}, nil
}

func (p *fixedProvider) Get(_ context.Context, id string) (map[string]any, error) {
	f, ok := p.features[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return f, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.Server{
			URL:      "http://localhost:5000",
			Language: "en-US",
			Encoding: "utf-8",
			Limit:    10,
		},
		Datasets: map[string]*config.Collection{
			"obs": {Title: "Observations"},
		},
		Processes: map[string]*config.Process{
			"hello-world": {Processor: config.ProcessorDef{Name: "HelloWorld"}},
		},
	}

	procs := process.NewRegistry()
	procs.Register("HelloWorld", process.NewHelloWorld())

	a := api.New(cfg, api.Options{
		Providers: map[string]provider.Provider{
			"obs": &fixedProvider{features: map[string]map[string]any{
				"1": {"type": "Feature", "id": "1"},
			}},
		},
		Processes: procs,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return time.Unix(0, 0).UTC() },
	})

	srv := httptest.NewServer(NewRouter(a, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp.StatusCode, doc
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	status, doc := getJSON(t, srv.URL+"/")
	if status != 200 || doc["links"] == nil {
		t.Fatalf("landing: status=%d doc=%v", status, doc)
	}

	status, doc = getJSON(t, srv.URL+"/conformance")
	if status != 200 || doc["conformsTo"] == nil {
		t.Fatalf("conformance: status=%d", status)
	}

	status, doc = getJSON(t, srv.URL+"/collections/obs/items")
	if status != 200 || doc["type"] != "FeatureCollection" {
		t.Fatalf("items: status=%d type=%v", status, doc["type"])
	}

	status, doc = getJSON(t, srv.URL+"/collections/obs/items/1")
	if status != 200 || doc["id"] != "1" {
		t.Fatalf("item: status=%d id=%v", status, doc["id"])
	}

	status, doc = getJSON(t, srv.URL+"/collections/obs/items/999")
	if status != 404 || doc["code"] != "NotFound" {
		t.Fatalf("missing item: status=%d code=%v", status, doc["code"])
	}

	status, doc = getJSON(t, srv.URL+"/collections/nope")
	if status != 400 || doc["description"] != "Invalid feature collection" {
		t.Fatalf("unknown collection: status=%d", status)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestExecuteProcessRoute(t *testing.T) {
	srv := newTestServer(t)

	body := strings.NewReader(`{"inputs":[{"id":"name","value":"World"}]}`)
	resp, err := http.Post(srv.URL+"/processes/hello-world/jobs", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 201 {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	if doc["outputs"] == nil {
		t.Fatalf("missing outputs: %v", doc)
	}
}

func TestAcceptHeaderNegotiation(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/conformance", nil)
	req.Header.Set("Accept", "application/ld+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// conformance has no ld form; jsonld still serializes as json content
	if resp.StatusCode != 200 {
		t.Fatalf("got status %d", resp.StatusCode)
	}
}
