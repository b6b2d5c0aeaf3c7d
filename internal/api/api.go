// Package api is the request-handling core: it negotiates representation
// formats, validates queries, dispatches to providers and assembles the
// response documents for every endpoint. It is a pure function from
// (configuration, request, provider) to (headers, status, body); the HTTP
// surface lives in internal/server.
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/formatter"
	"github.com/cascadegeo/featureserv/internal/htmltmpl"
	"github.com/cascadegeo/featureserv/internal/logger"
	"github.com/cascadegeo/featureserv/internal/observability"
	"github.com/cascadegeo/featureserv/internal/pagecache"
	"github.com/cascadegeo/featureserv/internal/process"
	"github.com/cascadegeo/featureserv/internal/provider"
)

// Version is reported in the X-Powered-By header and build metrics.
const Version = "0.4.0"

// timeStampFormat is the fixed-precision UTC timestamp attached to every
// item-list response.
const timeStampFormat = "2006-01-02T15:04:05.000000Z"

// Request is the HTTP-shaped inbound abstraction: the outer adapter fills
// it from whatever framework carries the request.
type Request struct {
	QueryParams map[string]string
	Headers     map[string]string
	Body        []byte
}

// Response is the uniform outbound triple.
type Response struct {
	Headers map[string]string
	Status  int
	Body    []byte
}

// Options carries the collaborators wired in at startup.
type Options struct {
	Providers  map[string]provider.Provider
	Processes  *process.Registry
	Formatters *formatter.Registry
	Template   htmltmpl.Engine
	Cache      *pagecache.Cache
	Logger     zerolog.Logger
	Now        func() time.Time
}

// API orchestrates the endpoints. It holds only read-only state; requests
// share nothing mutable and may run concurrently without coordination.
type API struct {
	cfg        *config.Config
	providers  map[string]provider.Provider
	processes  *process.Registry
	formatters *formatter.Registry
	tmpl       htmltmpl.Engine
	cache      *pagecache.Cache
	openapi    []byte
	log        zerolog.Logger
	now        func() time.Time
}

func New(cfg *config.Config, opts Options) *API {
	a := &API{
		cfg:        cfg,
		providers:  opts.Providers,
		processes:  opts.Processes,
		formatters: opts.Formatters,
		tmpl:       opts.Template,
		cache:      opts.Cache,
		log:        opts.Logger,
		now:        opts.Now,
	}
	if a.providers == nil {
		a.providers = map[string]provider.Provider{}
	}
	if a.processes == nil {
		a.processes = process.NewRegistry()
	}
	if a.formatters == nil {
		a.formatters = formatter.NewRegistry()
	}
	if a.now == nil {
		a.now = time.Now
	}
	a.openapi, _ = json.Marshal(buildOpenAPI(cfg))
	return a
}

func (a *API) timeStamp() string {
	return a.now().UTC().Format(timeStampFormat)
}

// baseHeaders starts every response with the default content type and the
// server signature.
func (a *API) baseHeaders() map[string]string {
	return map[string]string{
		"Content-Type": mediaJSON,
		"X-Powered-By": "featureserv " + Version,
	}
}

// negotiate is the shared preprocessing stage: copy base headers, resolve
// the format, and check it against the endpoint's allow-list.
func (a *API) negotiate(req Request, extraFormats []string) (map[string]string, Format, *Error) {
	headers := a.baseHeaders()
	f := NegotiateFormat(req.QueryParams, req.Headers)
	if !allowed(f, extraFormats) {
		return headers, f, errInvalidFormat()
	}
	return headers, f, nil
}

// Root serves the landing page with the link catalogue.
func (a *API) Root(_ context.Context, req Request) Response {
	headers, format, apiErr := a.negotiate(req, nil)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	doc := landingDocument(a.cfg, format)
	switch effective(format) {
	case FormatHTML:
		return a.renderHTML(headers, "root.html", doc)
	case FormatJSONLD:
		headers["Content-Type"] = mediaJSONLD
		return a.renderJSON(headers, 200, catalogLD(a.cfg))
	default:
		return a.renderJSON(headers, 200, doc)
	}
}

// OpenAPI serves the precomputed API description document.
func (a *API) OpenAPI(_ context.Context, req Request) Response {
	headers, format, apiErr := a.negotiate(req, nil)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	if effective(format) == FormatHTML {
		return a.renderHTML(headers, "api.html", map[string]any{
			"openapi-document-path": a.cfg.Server.URL + "/api",
		})
	}
	headers["Content-Type"] = mediaOpenAPI
	observability.IncRendered(mediaOpenAPI)
	return Response{Headers: headers, Status: 200, Body: a.openapi}
}

// Conformance serves the static capability list.
func (a *API) Conformance(_ context.Context, req Request) Response {
	headers, format, apiErr := a.negotiate(req, nil)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	doc := conformanceDocument()
	if effective(format) == FormatHTML {
		return a.renderHTML(headers, "conformance.html", doc)
	}
	return a.renderJSON(headers, 200, doc)
}

// Collections describes one collection (dataset != "") or lists them all.
// An unknown collection id on this path is a 400, not a 404; the item
// endpoints keep the same convention for unknown collections while unknown
// identifiers yield 404.
func (a *API) Collections(_ context.Context, req Request, dataset string) Response {
	headers, format, apiErr := a.negotiate(req, nil)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	if dataset != "" {
		ds, ok := a.cfg.Datasets[dataset]
		if !ok {
			return a.errorResponse(headers, errInvalidCollection())
		}
		doc := collectionDocument(a.cfg, dataset, ds, format)
		switch effective(format) {
		case FormatHTML:
			return a.renderHTML(headers, "collection.html", doc)
		case FormatJSONLD:
			headers["Content-Type"] = mediaJSONLD
			ld := catalogLD(a.cfg)
			ld["dataset"] = collectionLD(a.cfg, dataset, ds)
			return a.renderJSON(headers, 200, ld)
		default:
			return a.renderJSON(headers, 200, doc)
		}
	}

	doc := collectionsDocument(a.cfg, format)
	switch effective(format) {
	case FormatHTML:
		return a.renderHTML(headers, "collections.html", doc)
	case FormatJSONLD:
		headers["Content-Type"] = mediaJSONLD
		ld := catalogLD(a.cfg)
		sets := make([]map[string]any, 0, len(a.cfg.Datasets))
		for _, name := range a.cfg.DatasetNames() {
			sets = append(sets, collectionLD(a.cfg, name, a.cfg.Datasets[name]))
		}
		ld["dataset"] = sets
		return a.renderJSON(headers, 200, ld)
	default:
		return a.renderJSON(headers, 200, doc)
	}
}

// Items runs a validated, paginated feature query against the collection's
// provider and assembles the FeatureCollection page.
func (a *API) Items(ctx context.Context, req Request, dataset string) Response {
	headers, format, apiErr := a.negotiate(req, a.formatters.Names())
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	ds, ok := a.cfg.Datasets[dataset]
	if !ok {
		return a.errorResponse(headers, errInvalidCollection())
	}
	ctx = logger.WithCollection(ctx, dataset)
	ctx = logger.WithFormat(ctx, string(effective(format)))

	p, ok := a.providers[dataset]
	if !ok {
		logger.FromContext(ctx, &a.log).Error().Msg("no provider bound for collection")
		return a.errorResponse(headers, opaqueFailure("connection error (check logs)"))
	}

	q, apiErr := ValidateQuery(req.QueryParams, ds, p.Fields(), a.cfg.Server.Limit)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	page, apiErr := a.queryProvider(ctx, dataset, p, q)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	doc := itemsDocument(a.cfg, dataset, page, q.StartIndex, format, a.timeStamp)

	switch effective(format) {
	case FormatHTML:
		itemsPath := a.cfg.Server.URL + "/collections/" + dataset + "/items"
		doc["items_path"] = itemsPath
		doc["dataset_path"] = a.cfg.Server.URL + "/collections/" + dataset
		doc["collections_path"] = a.cfg.Server.URL + "/collections"
		doc["startindex"] = q.StartIndex
		return a.renderHTML(headers, "items.html", doc)
	case FormatJSONLD:
		headers["Content-Type"] = mediaJSONLD
		return a.renderJSON(headers, 200, geojsonToJSONLD(a.cfg, doc, dataset, ""))
	case FormatJSON:
		return a.renderJSON(headers, 200, doc)
	default:
		return a.renderFormatter(headers, format, dataset, ds, doc)
	}
}

// renderFormatter hands the assembled document to a registered formatter
// plugin (e.g. CSV) and attaches the download headers.
func (a *API) renderFormatter(headers map[string]string, format Format, dataset string, ds *config.Collection, doc map[string]any) Response {
	f, ok := a.formatters.Get(string(format))
	if !ok {
		return a.errorResponse(headers, errInvalidFormat())
	}
	body, err := f.Write(doc, ds.Provider)
	if err != nil {
		a.log.Error().Err(err).Str("formatter", string(format)).Msg("formatter failed")
		return a.errorResponse(headers, opaqueFailure("format error (check logs)"))
	}
	headers["Content-Type"] = f.MimeType() + "; charset=" + a.cfg.Server.Encoding
	headers["Content-Disposition"] = `attachment; filename="` + dataset + `.` + string(format) + `"`
	observability.IncRendered(string(format))
	return Response{Headers: headers, Status: 200, Body: body}
}

// queryProvider wraps the provider call with the page cache and maps the
// failure taxonomy to the opaque wire errors.
func (a *API) queryProvider(ctx context.Context, dataset string, p provider.Provider, q provider.Query) (*provider.ResultPage, *Error) {
	var key string
	if a.cache != nil {
		key = pagecache.Key(dataset, q)
		if raw, ok := a.cache.Get(ctx, key); ok {
			var page provider.ResultPage
			if err := json.Unmarshal(raw, &page); err == nil {
				return &page, nil
			}
		}
	}

	start := time.Now()
	page, err := p.Query(ctx, q)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.ObserveProviderQuery(dataset, outcome, time.Since(start).Seconds())

	if err != nil {
		logger.FromContext(ctx, &a.log).Error().Err(err).Msg("provider query failed")
		if errors.Is(err, provider.ErrQuery) {
			return nil, opaqueFailure("query error (check logs)")
		}
		return nil, opaqueFailure("connection error (check logs)")
	}

	if a.cache != nil {
		if raw, err := json.Marshal(page); err == nil {
			a.cache.Set(ctx, key, raw)
		}
	}
	return page, nil
}

// Item fetches a single feature by identifier.
func (a *API) Item(ctx context.Context, req Request, dataset, identifier string) Response {
	headers, format, apiErr := a.negotiate(req, nil)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	if _, ok := a.cfg.Datasets[dataset]; !ok {
		return a.errorResponse(headers, errInvalidCollection())
	}
	ctx = logger.WithCollection(ctx, dataset)
	ctx = logger.WithFormat(ctx, string(effective(format)))

	p, ok := a.providers[dataset]
	if !ok {
		logger.FromContext(ctx, &a.log).Error().Msg("no provider bound for collection")
		return a.errorResponse(headers, opaqueFailure("connection error (check logs)"))
	}

	feature, err := p.Get(ctx, identifier)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return a.errorResponse(headers, errIdentifierNotFound())
		}
		logger.FromContext(ctx, &a.log).Error().Err(err).Str("id", identifier).Msg("provider get failed")
		if errors.Is(err, provider.ErrQuery) {
			return a.errorResponse(headers, opaqueFailure("query error (check logs)"))
		}
		return a.errorResponse(headers, opaqueFailure("connection error (check logs)"))
	}

	feature["links"] = itemLinks(a.cfg, dataset, identifier, format)

	switch effective(format) {
	case FormatHTML:
		return a.renderHTML(headers, "item.html", feature)
	case FormatJSONLD:
		headers["Content-Type"] = mediaJSONLD
		return a.renderJSON(headers, 200, geojsonToJSONLD(a.cfg, feature, dataset, identifier))
	default:
		return a.renderJSON(headers, 200, feature)
	}
}

// Processes describes one process (name != "") or lists them all; process
// metadata is synthesized with the synchronous execution capabilities this
// core supports.
func (a *API) Processes(_ context.Context, req Request, name string) Response {
	headers, format, apiErr := a.negotiate(req, nil)
	if apiErr != nil {
		return a.errorResponse(headers, apiErr)
	}

	if name != "" {
		if _, ok := a.cfg.Processes[name]; !ok {
			return a.errorResponse(headers, errIdentifierNotFound())
		}
		md, apiErr := a.processMetadata(name, false)
		if apiErr != nil {
			return a.errorResponse(headers, apiErr)
		}
		if effective(format) == FormatHTML {
			return a.renderHTML(headers, "process.html", md)
		}
		return a.renderJSON(headers, 200, md)
	}

	processes := make([]map[string]any, 0, len(a.cfg.Processes))
	for _, procName := range a.cfg.ProcessNames() {
		md, apiErr := a.processMetadata(procName, true)
		if apiErr != nil {
			return a.errorResponse(headers, apiErr)
		}
		processes = append(processes, md)
	}
	doc := map[string]any{"processes": processes}
	if effective(format) == FormatHTML {
		return a.renderHTML(headers, "processes.html", doc)
	}
	return a.renderJSON(headers, 200, doc)
}

func (a *API) processMetadata(name string, listing bool) (map[string]any, *Error) {
	procCfg := a.cfg.Processes[name]
	proc, ok := a.processes.Get(procCfg.Processor.Name)
	if !ok {
		a.log.Error().Str("process", name).Str("processor", procCfg.Processor.Name).
			Msg("processor not registered")
		return nil, opaqueFailure("connection error (check logs)")
	}
	md := proc.Metadata()
	if listing {
		md["itemType"] = []string{"process"}
	}
	md["jobControlOptions"] = []string{"sync-execute"}
	md["outputTransmission"] = []string{"value"}
	return md, nil
}

// ExecuteProcess invokes a process synchronously. Execution failures are
// caller-input errors by convention: their message is surfaced verbatim
// with a 400, never a 500.
func (a *API) ExecuteProcess(_ context.Context, req Request, name string) Response {
	headers := a.baseHeaders()

	if len(req.Body) == 0 {
		return a.errorResponse(headers, missingParameter("missing request data"))
	}

	procCfg, ok := a.cfg.Processes[name]
	if !ok {
		return a.errorResponse(headers, errIdentifierNotFound())
	}
	proc, ok := a.processes.Get(procCfg.Processor.Name)
	if !ok {
		a.log.Error().Str("process", name).Msg("processor not registered")
		return a.errorResponse(headers, opaqueFailure("connection error (check logs)"))
	}

	inputs, err := process.ParseExecuteRequest(req.Body)
	if err != nil {
		return a.errorResponse(headers, invalidParameter(err.Error()))
	}

	outputs, err := proc.Execute(inputs)
	if err != nil {
		return a.errorResponse(headers, invalidParameter(err.Error()))
	}

	if parseBool(req.QueryParams["raw"]) {
		if mt := firstOutputMimeType(proc.Metadata()); mt != "" {
			headers["Content-Type"] = mt
		}
		return a.renderJSON(headers, 201, outputs)
	}
	return a.renderJSON(headers, 201, map[string]any{"outputs": outputs})
}

// firstOutputMimeType digs the declared mime type of the first output out
// of a process metadata document.
func firstOutputMimeType(md map[string]any) string {
	outputs, _ := md["outputs"].([]any)
	if len(outputs) == 0 {
		return ""
	}
	first, _ := outputs[0].(map[string]any)
	output, _ := first["output"].(map[string]any)
	formats, _ := output["formats"].([]any)
	if len(formats) == 0 {
		return ""
	}
	entry, _ := formats[0].(map[string]any)
	mt, _ := entry["mimeType"].(string)
	return mt
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}
