package api

import "strings"

// Format names a response representation. The empty string means "not
// requested", which downstream defaults to plain JSON.
type Format string

const (
	FormatNone   Format = ""
	FormatJSON   Format = "json"
	FormatHTML   Format = "html"
	FormatJSONLD Format = "jsonld"
)

// baseFormats is the allow-list for every endpoint; item endpoints extend
// it with the registered formatter names.
var baseFormats = []Format{FormatJSON, FormatHTML, FormatJSONLD}

// NegotiateFormat resolves the requested representation. An explicit ?f=
// wins and is returned verbatim, even when invalid: allow-list checking is
// the endpoint's job. Otherwise the Accept header is scanned, preferring
// html over jsonld over json. No signal at all yields FormatNone.
func NegotiateFormat(queryParams, headers map[string]string) Format {
	if f, ok := queryParams["f"]; ok && f != "" {
		return Format(f)
	}

	accept, ok := headers["accept"]
	if !ok {
		accept, ok = headers["Accept"]
	}
	if !ok || accept == "" {
		return FormatNone
	}

	offered := map[string]bool{}
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(part)
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		offered[strings.ToLower(mt)] = true
	}

	switch {
	case offered["text/html"]:
		return FormatHTML
	case offered["application/ld+json"]:
		return FormatJSONLD
	case offered["application/json"]:
		return FormatJSON
	}
	return FormatNone
}

// allowed reports whether a resolved format may be served. FormatNone is
// always allowed and later treated as JSON.
func allowed(f Format, extra []string) bool {
	if f == FormatNone {
		return true
	}
	for _, b := range baseFormats {
		if f == b {
			return true
		}
	}
	for _, name := range extra {
		if string(f) == strings.ToLower(name) {
			return true
		}
	}
	return false
}

// effective maps an unresolved format to the default representation.
func effective(f Format) Format {
	if f == FormatNone {
		return FormatJSON
	}
	return f
}
