// Package process defines the processing-plugin contract and the closed
// registry of processors resolved at startup.
package process

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// Processor executes a named process synchronously.
type Processor interface {
	// Metadata returns the process description document.
	Metadata() map[string]any

	// Execute runs the process; errors are treated as caller-input errors.
	Execute(inputs map[string]any) (any, error)
}

type Registry struct {
	procs map[string]Processor
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Processor)}
}

func (r *Registry) Register(name string, p Processor) {
	r.procs[name] = p
}

func (r *Registry) Get(name string) (Processor, bool) {
	p, ok := r.procs[name]
	return p, ok
}

// executeRequestSchema validates the wire shape of an execution request:
// {"inputs": [{"id": ..., "value": ...}, ...]}
const executeRequestSchema = `{
	"type": "object",
	"required": ["inputs"],
	"properties": {
		"inputs": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {
					"id": {"type": "string"}
				}
			}
		}
	}
}`

var compiledSchema = gojsonschema.NewStringLoader(executeRequestSchema)

// ParseExecuteRequest validates and flattens an execution request body into
// an id -> value input map.
func ParseExecuteRequest(body []byte) (map[string]any, error) {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid request data: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid request data: %s", result.Errors()[0].String())
	}

	var req struct {
		Inputs []struct {
			ID    string `json:"id"`
			Value any    `json:"value"`
		} `json:"inputs"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request data: %w", err)
	}

	inputs := make(map[string]any, len(req.Inputs))
	for _, in := range req.Inputs {
		inputs[in.ID] = in.Value
	}
	return inputs, nil
}
