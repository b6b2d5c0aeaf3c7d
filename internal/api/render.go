package api

import (
	json "github.com/goccy/go-json"

	"github.com/cascadegeo/featureserv/internal/observability"
)

// renderJSON serializes an assembled document with the prepared headers.
func (a *API) renderJSON(headers map[string]string, status int, doc any) Response {
	body, err := json.Marshal(doc)
	if err != nil {
		a.log.Error().Err(err).Msg("document serialization failed")
		return a.errorResponse(headers, opaqueFailure("serialization error (check logs)"))
	}
	observability.IncRendered(headers["Content-Type"])
	return Response{Headers: headers, Status: status, Body: body}
}

// renderHTML delegates to the template engine. The engine receives exactly
// the assembled document; configuration and version are bound at startup.
func (a *API) renderHTML(headers map[string]string, name string, doc any) Response {
	if a.tmpl == nil {
		return a.errorResponse(headers, errInvalidFormat())
	}
	out, err := a.tmpl.Render(name, doc)
	if err != nil {
		a.log.Error().Err(err).Str("template", name).Msg("template render failed")
		return a.errorResponse(headers, opaqueFailure("render error (check logs)"))
	}
	headers["Content-Type"] = mediaHTML
	observability.IncRendered(mediaHTML)
	return Response{Headers: headers, Status: 200, Body: []byte(out)}
}

// errorResponse renders the uniform error body.
func (a *API) errorResponse(headers map[string]string, apiErr *Error) Response {
	headers["Content-Type"] = mediaJSON
	body, _ := json.Marshal(map[string]string{
		"code":        string(apiErr.Code),
		"description": apiErr.Description,
	})
	return Response{Headers: headers, Status: apiErr.Status, Body: body}
}
