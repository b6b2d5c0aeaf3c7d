package api

import (
	"fmt"
	"strings"

	"github.com/cascadegeo/featureserv/internal/config"
)

// geojsonLDVocab is the canonical GeoJSON-LD vocabulary; it is always the
// first @context entry, followed by any collection-specific additions.
const geojsonLDVocab = "https://geojson.org/geojson-ld/geojson-context.jsonld"

// geojsonToJSONLD lifts an assembled GeoJSON document into GeoJSON-LD:
// a @context array, a computed document id, and rewritten feature ids
// when the document is a list.
func geojsonToJSONLD(cfg *config.Config, doc map[string]any, dataset, identifier string) map[string]any {
	var context []any
	if ds, ok := cfg.Datasets[dataset]; ok {
		context = ds.Context
	}

	id := fmt.Sprintf("%s/collections/%s/items", cfg.Server.URL, dataset)
	if identifier != "" {
		id += "/" + identifier
	}
	doc["id"] = id

	out := make(map[string]any, len(doc)+1)
	ctx := make([]any, 0, len(context)+1)
	ctx = append(ctx, geojsonLDVocab)
	ctx = append(ctx, context...)
	out["@context"] = ctx
	for k, v := range doc {
		out[k] = v
	}

	if identifier == "" {
		rewriteFeatureIDs(doc["features"], id)
	}
	return out
}

// rewriteFeatureIDs gives every feature in a list document an id of the
// form {listId}/{featureId}. The feature id comes from the feature itself
// or from a properties.id popped out of the properties map; features with
// neither are left untouched.
func rewriteFeatureIDs(features any, listID string) {
	each := func(f map[string]any) {
		featureID := f["id"]
		if featureID == nil || featureID == "" {
			if props, ok := f["properties"].(map[string]any); ok {
				if pid, ok := props["id"]; ok {
					featureID = pid
					delete(props, "id")
				}
			}
		}
		if featureID == nil || featureID == "" {
			return
		}
		f["id"] = fmt.Sprintf("%s/%v", listID, featureID)
	}

	switch fs := features.(type) {
	case []map[string]any:
		for _, f := range fs {
			each(f)
		}
	case []any:
		for _, raw := range fs {
			if f, ok := raw.(map[string]any); ok {
				each(f)
			}
		}
	}
}

// catalogLD maps the server metadata to a schema.org DataCatalog, the
// JSON-LD shape of the landing page and collection listings.
func catalogLD(cfg *config.Config) map[string]any {
	meta := cfg.Metadata
	contact := meta.Contact
	return map[string]any{
		"@context":       "http://www.schema.org",
		"@type":          "DataCatalog",
		"@id":            cfg.Server.URL,
		"url":            cfg.Server.URL,
		"name":           meta.Identification.Title,
		"description":    meta.Identification.Description,
		"keywords":       meta.Identification.Keywords,
		"termsOfService": meta.Identification.TermsOfService,
		"license":        meta.License.URL,
		"provider": map[string]any{
			"@type": "Organization",
			"name":  meta.Provider.Name,
			"url":   meta.Provider.URL,
			"address": map[string]any{
				"@type":           "PostalAddress",
				"streetAddress":   contact.Address,
				"postalCode":      contact.PostalCode,
				"addressLocality": contact.City,
				"addressRegion":   contact.StateOrProvince,
				"addressCountry":  contact.Country,
			},
			"contactPoint": map[string]any{
				"@type":     "Contactpoint",
				"email":     contact.Email,
				"telephone": contact.Phone,
				"faxNumber": contact.Fax,
				"url":       contact.URL,
				"hoursAvailable": map[string]any{
					"opens":       contact.Hours,
					"description": contact.Instructions,
				},
				"contactType": contact.Role,
				"description": contact.Position,
			},
		},
	}
}

// collectionLD maps one collection to a schema.org Dataset.
func collectionLD(cfg *config.Config, name string, ds *config.Collection) map[string]any {
	id := fmt.Sprintf("%s/collections/%s", cfg.Server.URL, name)

	dataset := map[string]any{
		"@type":       "Dataset",
		"@id":         id,
		"url":         id,
		"name":        ds.Title,
		"description": ds.Description,
		"license":     cfg.Metadata.License.URL,
		"keywords":    ds.Keywords,
	}

	spatial := ds.Extents.Spatial
	if len(spatial.BBox) == 4 && strings.HasSuffix(spatial.CRS, "CRS84") {
		dataset["spatial"] = map[string]any{
			"geo": map[string]any{
				"@type": "GeoShape",
				"box": fmt.Sprintf("%v,%v %v,%v",
					spatial.BBox[0], spatial.BBox[1], spatial.BBox[2], spatial.BBox[3]),
			},
		}
	}

	dataset["temporalCoverage"] = fmt.Sprintf("%s/%s",
		ds.Extents.Temporal.Begin.String(), ds.Extents.Temporal.End.String())

	if len(ds.Links) > 0 {
		dist := make([]map[string]any, 0, len(ds.Links))
		for _, l := range ds.Links {
			entry := map[string]any{
				"@type":          "DataDownload",
				"contentURL":     l.Href,
				"encodingFormat": l.Type,
				"name":           l.Title,
			}
			if l.Hreflang != "" {
				entry["inLanguage"] = l.Hreflang
			} else if cfg.Server.Language != "" {
				entry["inLanguage"] = cfg.Server.Language
			}
			if l.Rel == "author" {
				entry["author"] = l.Rel
			}
			dist = append(dist, entry)
		}
		dataset["distribution"] = dist
	}
	return dataset
}
