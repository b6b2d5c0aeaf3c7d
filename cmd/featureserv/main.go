package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cascadegeo/featureserv/internal/api"
	"github.com/cascadegeo/featureserv/internal/config"
	"github.com/cascadegeo/featureserv/internal/formatter"
	"github.com/cascadegeo/featureserv/internal/htmltmpl"
	"github.com/cascadegeo/featureserv/internal/invalidation"
	"github.com/cascadegeo/featureserv/internal/logger"
	"github.com/cascadegeo/featureserv/internal/observability"
	"github.com/cascadegeo/featureserv/internal/pagecache"
	"github.com/cascadegeo/featureserv/internal/process"
	"github.com/cascadegeo/featureserv/internal/provider"
	"github.com/cascadegeo/featureserv/internal/provider/memory"
	"github.com/cascadegeo/featureserv/internal/provider/sqlitep"
	"github.com/cascadegeo/featureserv/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "featureserv.yml", "configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		bootLog := logger.Build(logger.Config{Component: "featureserv"}, os.Stderr)
		bootLog.Error().Err(err).Msg("configuration load failed")
		return 1
	}

	log := logger.Build(logger.Config{
		Level:     cfg.Server.LogLevel,
		Console:   strings.EqualFold(os.Getenv("LOG_CONSOLE"), "true"),
		Component: "featureserv",
	}, os.Stdout)

	observability.ExposeBuildInfo(api.Version)
	log.Info().
		Str("bind", cfg.Server.Bind).
		Str("version", api.Version).
		Int("collections", len(cfg.Datasets)).
		Msg("starting featureserv")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// closed plugin sets, resolved once against the configuration
	providerReg := provider.NewRegistry()
	providerReg.Register("GeoJSON", memory.New)
	providerReg.Register("SQLite", sqlitep.New)

	providers, err := provider.BuildSet(cfg, providerReg)
	if err != nil {
		log.Error().Err(err).Msg("provider setup failed")
		return 1
	}

	processReg := process.NewRegistry()
	processReg.Register("HelloWorld", process.NewHelloWorld())

	formatterReg := formatter.NewRegistry()
	formatterReg.Register("csv", formatter.NewCSV())

	tmpl, err := htmltmpl.New(cfg.Server.Templates, cfg, api.Version)
	if err != nil {
		log.Error().Err(err).Msg("template setup failed")
		return 1
	}

	var cache *pagecache.Cache
	if cfg.Cache.Enabled {
		cache, err = pagecache.New(ctx, cfg.Cache, log)
		if err != nil {
			log.Error().Err(err).Msg("page cache setup failed")
			return 1
		}
		defer func() { _ = cache.Close() }()
	}

	if cfg.Invalidation.Enabled && cache != nil {
		consumer := invalidation.New(cfg.Invalidation, cache, log)
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("invalidation consumer stopped")
			}
		}()
	}

	core := api.New(cfg, api.Options{
		Providers:  providers,
		Processes:  processReg,
		Formatters: formatterReg,
		Template:   tmpl,
		Cache:      cache,
		Logger:     log,
	})

	router := server.NewRouter(core, log)
	if err := server.Run(ctx, cfg, router, log); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		return 1
	}
	log.Info().Msg("server stopped")
	return 0
}
