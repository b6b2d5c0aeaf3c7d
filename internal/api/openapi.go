package api

import "github.com/cascadegeo/featureserv/internal/config"

// buildOpenAPI derives an OpenAPI 3.0 description of the running service
// from its configuration. It is computed once at startup and served as-is.
func buildOpenAPI(cfg *config.Config) map[string]any {
	paths := map[string]any{
		"/": map[string]any{
			"get": operation("Landing page", "landingPage", nil),
		},
		"/api": map[string]any{
			"get": operation("This document", "openapiDocument", nil),
		},
		"/conformance": map[string]any{
			"get": operation("Conformance classes", "conformance", nil),
		},
		"/collections": map[string]any{
			"get": operation("Feature collections", "describeCollections", nil),
		},
		"/processes": map[string]any{
			"get": operation("Processes", "describeProcesses", nil),
		},
	}

	for _, name := range cfg.DatasetNames() {
		ds := cfg.Datasets[name]
		base := "/collections/" + name
		paths[base] = map[string]any{
			"get": operation(ds.Title+" collection", "describe"+name+"Collection", nil),
		}
		paths[base+"/items"] = map[string]any{
			"get": operation(ds.Title+" items", "get"+name+"Features", []map[string]any{
				queryParam("f", "string"),
				queryParam("bbox", "string"),
				queryParam("limit", "integer"),
				queryParam("startindex", "integer"),
				queryParam("resulttype", "string"),
				queryParam("datetime", "string"),
				queryParam("sortby", "string"),
			}),
		}
		paths[base+"/items/{featureId}"] = map[string]any{
			"get": operation(ds.Title+" item by id", "get"+name+"Feature", []map[string]any{
				pathParam("featureId"),
			}),
		}
	}

	for _, name := range cfg.ProcessNames() {
		base := "/processes/" + name
		paths[base] = map[string]any{
			"get": operation(name+" process description", "describe"+name+"Process", nil),
		}
		paths[base+"/jobs"] = map[string]any{
			"post": operation("Execute "+name, "execute"+name+"Job", nil),
		}
	}

	return map[string]any{
		"openapi": "3.0.2",
		"info": map[string]any{
			"title":       cfg.Metadata.Identification.Title,
			"description": cfg.Metadata.Identification.Description,
			"version":     Version,
		},
		"servers": []map[string]any{
			{"url": cfg.Server.URL, "description": cfg.Metadata.Identification.Description},
		},
		"paths": paths,
	}
}

func operation(summary, id string, params []map[string]any) map[string]any {
	op := map[string]any{
		"summary":     summary,
		"operationId": id,
		"responses": map[string]any{
			"200": map[string]any{"description": "successful operation"},
		},
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return op
}

func queryParam(name, typ string) map[string]any {
	return map[string]any{
		"name":     name,
		"in":       "query",
		"required": false,
		"schema":   map[string]any{"type": typ},
	}
}

func pathParam(name string) map[string]any {
	return map[string]any{
		"name":     name,
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}
}
