package process

import "errors"

// HelloWorld is a trivial echo processor used as the reference processing
// plugin and in the example configuration.
type HelloWorld struct{}

func NewHelloWorld() *HelloWorld { return &HelloWorld{} }

func (p *HelloWorld) Metadata() map[string]any {
	return map[string]any{
		"id":          "hello-world",
		"version":     "0.1.0",
		"title":       "Hello World process",
		"description": "Hello World process",
		"keywords":    []any{"hello world"},
		"links": []any{
			map[string]any{
				"type":  "text/html",
				"rel":   "canonical",
				"title": "information",
				"href":  "https://example.org/process",
			},
		},
		"inputs": []any{
			map[string]any{
				"id":    "name",
				"title": "name",
				"input": map[string]any{
					"literalDataDomain": map[string]any{
						"dataType": "string",
						"valueDefinition": map[string]any{
							"anyValue": true,
						},
					},
				},
				"minOccurs": 1,
				"maxOccurs": 1,
			},
		},
		"outputs": []any{
			map[string]any{
				"id":    "echo",
				"title": "Hello, world",
				"output": map[string]any{
					"formats": []any{
						map[string]any{
							"mimeType": "application/json",
						},
					},
				},
			},
		},
		"example": map[string]any{
			"inputs": []any{
				map[string]any{
					"id":    "name",
					"value": "hi there",
					"type":  "text/plain",
				},
			},
		},
	}
}

func (p *HelloWorld) Execute(inputs map[string]any) (any, error) {
	name, ok := inputs["name"].(string)
	if !ok || name == "" {
		return nil, errors.New("Cannot process without a name")
	}
	return []any{
		map[string]any{"id": "echo", "value": "Hello " + name},
	}, nil
}
