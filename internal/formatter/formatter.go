// Package formatter defines the output-formatter plugin contract for item
// collections beyond the built-in representations.
package formatter

import (
	"github.com/cascadegeo/featureserv/internal/config"
)

// Formatter renders an assembled item-list document to an alternate
// serialization.
type Formatter interface {
	MimeType() string

	// Write renders the document; def is the collection's provider
	// descriptor, available for formatter-specific options.
	Write(doc map[string]any, def config.ProviderDef) ([]byte, error)
}

type Registry struct {
	formatters map[string]Formatter
}

func NewRegistry() *Registry {
	return &Registry{formatters: make(map[string]Formatter)}
}

func (r *Registry) Register(name string, f Formatter) {
	r.formatters[name] = f
}

func (r *Registry) Get(name string) (Formatter, bool) {
	f, ok := r.formatters[name]
	return f, ok
}

// Names lists the registered formatter names for format allow-lists.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formatters))
	for k := range r.formatters {
		names = append(names, k)
	}
	return names
}
