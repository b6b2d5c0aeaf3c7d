// Package provider defines the contract between the API core and the
// backing data stores that serve collection records.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cascadegeo/featureserv/internal/config"
)

// Failure taxonomy surfaced to the API layer. Anything wrapped in
// ErrConnection or ErrQuery renders as an opaque 500; ErrNotFound as 404.
var (
	ErrConnection = errors.New("provider connection error")
	ErrQuery      = errors.New("provider query error")
	ErrNotFound   = errors.New("identifier not found")
)

// ResultType selects between returning records and returning only a count.
const (
	ResultTypeResults = "results"
	ResultTypeHits    = "hits"
)

type SortOrder int

const (
	SortAscending SortOrder = iota
	SortDescending
)

type SortCriterion struct {
	Property string
	Order    SortOrder
}

type PropertyFilter struct {
	Name  string
	Value string
}

// TimeFilter is a parsed datetime query parameter: either an instant or a
// range with optionally unbounded sides. The zero value means no filter.
type TimeFilter struct {
	Raw     string
	Instant *time.Time
	Begin   *time.Time
	End     *time.Time
}

func (f TimeFilter) IsZero() bool { return f.Raw == "" }

// Contains reports whether t satisfies the filter. Instants match within
// one second to tolerate truncated storage precision.
func (f TimeFilter) Contains(t time.Time) bool {
	if f.IsZero() {
		return true
	}
	if f.Instant != nil {
		d := t.Sub(*f.Instant)
		if d < 0 {
			d = -d
		}
		return d < time.Second
	}
	if f.Begin != nil && t.Before(*f.Begin) {
		return false
	}
	if f.End != nil && t.After(*f.End) {
		return false
	}
	return true
}

// Query is a fully validated feature query. The API layer never passes a
// partially validated query to a provider.
type Query struct {
	StartIndex int
	Limit      int
	ResultType string
	BBox       []float64 // empty or [minx, miny, maxx, maxy]
	Datetime   TimeFilter
	Properties []PropertyFilter
	SortBy     []SortCriterion
}

// ResultPage is one page of records from a provider.
type ResultPage struct {
	Features       []map[string]any `json:"features"`
	NumberMatched  *int             `json:"numberMatched,omitempty"`
	NumberReturned int              `json:"numberReturned"`
}

// Provider is the uniform data-access contract for a collection.
type Provider interface {
	// Fields maps filterable/sortable property names to type tags.
	Fields() map[string]string

	Query(ctx context.Context, q Query) (*ResultPage, error)

	// Get fetches a single feature; ErrNotFound when absent.
	Get(ctx context.Context, identifier string) (map[string]any, error)
}

// Factory builds a provider from its collection descriptor.
type Factory func(def config.ProviderDef) (Provider, error)

// Registry is the closed set of provider implementations, populated at
// startup and read-only afterwards.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Open resolves and instantiates the provider for a collection descriptor.
// Unknown provider types and instantiation failures both map to
// ErrConnection so the caller sees the uniform taxonomy.
func (r *Registry) Open(def config.ProviderDef) (Provider, error) {
	f, ok := r.factories[def.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider type %q", ErrConnection, def.Name)
	}
	p, err := f(def)
	if err != nil {
		if errors.Is(err, ErrConnection) || errors.Is(err, ErrQuery) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, def.Name, err)
	}
	return p, nil
}

// BuildSet opens one provider per configured dataset. Resolution happens
// once at configuration load, not per request.
func BuildSet(cfg *config.Config, reg *Registry) (map[string]Provider, error) {
	set := make(map[string]Provider, len(cfg.Datasets))
	for name, ds := range cfg.Datasets {
		p, err := reg.Open(ds.Provider)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		set[name] = p
	}
	return set, nil
}
