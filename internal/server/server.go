// Package server binds the request-handling core to HTTP: a chi router,
// the shared middlewares, the probes and the metrics endpoint.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cascadegeo/featureserv/internal/api"
	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/health"
	"github.com/cascadegeo/featureserv/internal/middleware"
)

// maxBodyBytes caps process execution payloads.
const maxBodyBytes = 1 << 20

// endpoint adapts one core operation to an http.HandlerFunc.
type endpoint func(ctx context.Context, req api.Request) api.Response

// NewRouter wires every operation of the core onto its route.
func NewRouter(a *api.API, log zerolog.Logger, ready ...func() error) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(log))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(ready...))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", handle(a.Root))
	r.Get("/api", handle(a.OpenAPI))
	r.Get("/conformance", handle(a.Conformance))

	r.Get("/collections", handle(func(ctx context.Context, req api.Request) api.Response {
		return a.Collections(ctx, req, "")
	}))
	r.Get("/collections/{collectionId}", handleParam(a.Collections, "collectionId"))
	r.Get("/collections/{collectionId}/items", handleParam(a.Items, "collectionId"))
	r.Get("/collections/{collectionId}/items/{featureId}",
		func(w http.ResponseWriter, req *http.Request) {
			write(w, a.Item(req.Context(), toCoreRequest(req),
				chi.URLParam(req, "collectionId"), chi.URLParam(req, "featureId")))
		})

	r.Get("/processes", handle(func(ctx context.Context, req api.Request) api.Response {
		return a.Processes(ctx, req, "")
	}))
	r.Get("/processes/{processId}", handleParam(a.Processes, "processId"))
	r.Post("/processes/{processId}/jobs", handleParam(a.ExecuteProcess, "processId"))

	return r
}

func handle(op endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		write(w, op(req.Context(), toCoreRequest(req)))
	}
}

func handleParam(op func(ctx context.Context, req api.Request, name string) api.Response, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		write(w, op(req.Context(), toCoreRequest(req), chi.URLParam(req, param)))
	}
}

// toCoreRequest flattens an http.Request into the core's transport-neutral
// shape. Repeated query parameters keep their first value.
func toCoreRequest(req *http.Request) api.Request {
	params := map[string]string{}
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	headers := map[string]string{}
	if accept := req.Header.Get("Accept"); accept != "" {
		headers["Accept"] = accept
	}

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	}

	return api.Request{QueryParams: params, Headers: headers, Body: body}
}

func write(w http.ResponseWriter, resp api.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// Run serves the router until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Bind).Msg("http listen")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
