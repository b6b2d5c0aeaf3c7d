package api

import (
	"fmt"
	"strconv"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/provider"
)

// Media types produced by the core.
const (
	mediaJSON    = "application/json"
	mediaHTML    = "text/html"
	mediaJSONLD  = "application/ld+json"
	mediaGeoJSON = "application/geo+json"
	mediaOpenAPI = "application/openapi+json;version=3.0"
)

// Link is one hypermedia link in a resource document.
type Link struct {
	Rel      string `json:"rel"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Href     string `json:"href"`
	Hreflang string `json:"hreflang,omitempty"`
}

// relFor marks the link of the active representation self and every
// sibling representation alternate, so exactly one self exists per set.
func relFor(active, link Format) string {
	if effective(active) == link {
		return "self"
	}
	return "alternate"
}

// representationLinks builds the self/alternate triple for a resource.
func representationLinks(href string, active Format, jsonType string, lang string) []Link {
	return []Link{
		{
			Rel:   relFor(active, FormatJSON),
			Type:  jsonType,
			Title: "This document as JSON",
			Href:  href + "?f=json",
		},
		{
			Rel:   relFor(active, FormatJSONLD),
			Type:  mediaJSONLD,
			Title: "This document as RDF (JSON-LD)",
			Href:  href + "?f=jsonld",
		},
		{
			Rel:      relFor(active, FormatHTML),
			Type:     mediaHTML,
			Title:    "This document as HTML",
			Href:     href + "?f=html",
			Hreflang: lang,
		},
	}
}

// landingDocument assembles the API landing page.
func landingDocument(cfg *config.Config, active Format) map[string]any {
	base := cfg.Server.URL
	links := representationLinks(base, active, mediaJSON, cfg.Server.Language)
	links = append(links,
		Link{
			Rel:   "service",
			Type:  mediaOpenAPI,
			Title: "The OpenAPI definition as JSON",
			Href:  base + "/api",
		},
		Link{
			Rel:   "conformance",
			Type:  mediaJSON,
			Title: "Conformance",
			Href:  base + "/conformance",
		},
		Link{
			Rel:   "data",
			Type:  mediaJSON,
			Title: "Collections",
			Href:  base + "/collections",
		},
	)
	return map[string]any{
		"title":       cfg.Metadata.Identification.Title,
		"description": cfg.Metadata.Identification.Description,
		"links":       links,
	}
}

// conformanceClasses this server implements.
var conformanceClasses = []string{
	"http://www.opengis.net/spec/ogcapi-features-1/1.0/req/core",
	"http://www.opengis.net/spec/ogcapi-features-1/1.0/req/oas30",
	"http://www.opengis.net/spec/ogcapi-features-1/1.0/req/html",
	"http://www.opengis.net/spec/ogcapi-features-1/1.0/req/geojson",
}

func conformanceDocument() map[string]any {
	return map[string]any{"conformsTo": conformanceClasses}
}

// collectionDocument assembles one collection description.
func collectionDocument(cfg *config.Config, name string, ds *config.Collection, active Format) map[string]any {
	base := cfg.Server.URL

	extent := map[string]any{
		"spatial": map[string]any{
			"bbox": ds.Extents.Spatial.BBox,
			"crs":  ds.Extents.Spatial.CRS,
		},
		"temporal": temporalExtentDocument(ds.Extents.Temporal),
	}

	links := make([]Link, 0, len(ds.Links)+6)
	for _, l := range ds.Links {
		links = append(links, Link{
			Type: l.Type, Rel: l.Rel, Title: l.Title, Href: l.Href, Hreflang: l.Hreflang,
		})
	}
	itemsHref := fmt.Sprintf("%s/collections/%s/items", base, name)
	links = append(links,
		Link{Rel: "item", Type: mediaGeoJSON, Title: "Features as GeoJSON", Href: itemsHref + "?f=json"},
		Link{Rel: "item", Type: mediaJSONLD, Title: "Features as RDF (GeoJSON-LD)", Href: itemsHref + "?f=jsonld"},
		Link{Rel: "item", Type: mediaHTML, Title: "Features as HTML", Href: itemsHref + "?f=html"},
	)
	links = append(links, representationLinks(
		fmt.Sprintf("%s/collections/%s", base, name), active, mediaJSON, cfg.Server.Language)...)

	return map[string]any{
		"id":          name,
		"itemType":    "feature",
		"title":       ds.Title,
		"description": ds.Description,
		"keywords":    ds.Keywords,
		"extent":      extent,
		"links":       links,
	}
}

func temporalExtentDocument(t config.TemporalExtent) map[string]any {
	doc := map[string]any{
		"interval": [][]string{{t.Begin.String(), t.End.String()}},
	}
	if t.TRS != "" {
		doc["trs"] = t.TRS
	}
	return doc
}

// collectionsDocument assembles the full collection listing.
func collectionsDocument(cfg *config.Config, active Format) map[string]any {
	collections := make([]map[string]any, 0, len(cfg.Datasets))
	for _, name := range cfg.DatasetNames() {
		collections = append(collections, collectionDocument(cfg, name, cfg.Datasets[name], active))
	}
	return map[string]any{
		"collections": collections,
		"links": representationLinks(
			cfg.Server.URL+"/collections", active, mediaJSON, cfg.Server.Language),
	}
}

// itemsLinks builds the link set for a feature-list page. prev and next
// are always emitted; the provider may simply return an empty page.
func itemsLinks(cfg *config.Config, dataset string, startIndex int, active Format) []Link {
	base := cfg.Server.URL
	itemsHref := fmt.Sprintf("%s/collections/%s/items", base, dataset)

	prev := startIndex - cfg.Server.Limit
	if prev < 0 {
		prev = 0
	}
	next := startIndex + cfg.Server.Limit

	links := []Link{
		{
			Rel:   relFor(active, FormatJSON),
			Type:  mediaGeoJSON,
			Title: "This document as GeoJSON",
			Href:  itemsHref + "?f=json",
		},
		{
			Rel:   relFor(active, FormatJSONLD),
			Type:  mediaJSONLD,
			Title: "This document as RDF (JSON-LD)",
			Href:  itemsHref + "?f=jsonld",
		},
		{
			Rel:   relFor(active, FormatHTML),
			Type:  mediaHTML,
			Title: "This document as HTML",
			Href:  itemsHref + "?f=html",
		},
		{
			Rel:   "prev",
			Type:  mediaGeoJSON,
			Title: "items (prev)",
			Href:  itemsHref + "?startindex=" + strconv.Itoa(prev),
		},
		{
			Rel:   "next",
			Type:  mediaGeoJSON,
			Title: "items (next)",
			Href:  itemsHref + "?startindex=" + strconv.Itoa(next),
		},
		{
			Rel:   "collection",
			Type:  mediaJSON,
			Title: cfg.Datasets[dataset].Title,
			Href:  fmt.Sprintf("%s/collections/%s", base, dataset),
		},
	}
	return links
}

// itemsDocument assembles a FeatureCollection page document.
func itemsDocument(cfg *config.Config, dataset string, page *provider.ResultPage, startIndex int, active Format, now func() string) map[string]any {
	doc := map[string]any{
		"type":           "FeatureCollection",
		"features":       page.Features,
		"numberReturned": page.NumberReturned,
		"links":          itemsLinks(cfg, dataset, startIndex, active),
		"timeStamp":      now(),
	}
	if page.NumberMatched != nil {
		doc["numberMatched"] = *page.NumberMatched
	}
	return doc
}

// itemLinks builds the link set for a single feature.
func itemLinks(cfg *config.Config, dataset, identifier string, active Format) []Link {
	base := cfg.Server.URL
	itemHref := fmt.Sprintf("%s/collections/%s/items/%s", base, dataset, identifier)

	return []Link{
		{
			Rel:   relFor(active, FormatJSON),
			Type:  mediaGeoJSON,
			Title: "This document as GeoJSON",
			Href:  itemHref + "?f=json",
		},
		{
			Rel:   relFor(active, FormatJSONLD),
			Type:  mediaJSONLD,
			Title: "This document as RDF (JSON-LD)",
			Href:  itemHref + "?f=jsonld",
		},
		{
			Rel:   relFor(active, FormatHTML),
			Type:  mediaHTML,
			Title: "This document as HTML",
			Href:  itemHref + "?f=html",
		},
		{
			Rel:   "collection",
			Type:  mediaJSON,
			Title: cfg.Datasets[dataset].Title,
			Href:  fmt.Sprintf("%s/collections/%s", base, dataset),
		},
		{Rel: "prev", Type: mediaGeoJSON, Href: itemHref},
		{Rel: "next", Type: mediaGeoJSON, Href: itemHref},
	}
}
