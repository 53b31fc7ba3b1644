package app

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"aina-assist/internal/cache"
	"aina-assist/internal/catalog"
	"aina-assist/internal/chunk"
	"aina-assist/internal/config"
	"aina-assist/internal/engine"
	"aina-assist/internal/logger"
	"aina-assist/internal/pipeline"
	"aina-assist/internal/provider"
	"aina-assist/internal/telemetry"
	"aina-assist/internal/tokens"
)

// Deps bundles the runtime dependencies of the service.
type Deps struct {
	Config    config.Config
	Log       *slog.Logger
	Catalog   *catalog.Table
	Engine    *engine.Engine
	Pipelines *pipeline.Pipelines

	sink telemetry.Sink
	c    cache.Cache
	nc   *nats.Conn
}

// Build loads env, config, and shared components.
func Build() (Deps, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "err", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	endpoints := map[string]string{
		"salamandra-7b": cfg.SalamandraURL,
		"alia-40b-8k":   cfg.AliaURL,
		"alia-40b-16k":  cfg.AliaURL,
		"alia-40b-32k":  cfg.AliaURL,
	}
	table, err := catalog.Load(cfg.ModelsConfig, endpoints)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to load model catalog: %w", err)
	}
	if _, ok := table.Get(cfg.DefaultProvider); !ok {
		return Deps{}, fmt.Errorf("DEFAULT_PROVIDER %q not in catalog", cfg.DefaultProvider)
	}
	if cfg.AutoMapReduce {
		if _, ok := table.Get(cfg.MapReduceProvider); !ok {
			return Deps{}, fmt.Errorf("MAPREDUCE_PROVIDER %q not in catalog", cfg.MapReduceProvider)
		}
	}
	strategy, err := chunk.ParseStrategy(cfg.ChunkStrategy)
	if err != nil {
		return Deps{}, fmt.Errorf("invalid CHUNK_STRATEGY: %w", err)
	}

	registry := provider.NewRegistry(func(d catalog.Descriptor) (provider.Adapter, error) {
		switch d.Kind {
		case catalog.KindOllama:
			return provider.NewOllama(d, cfg.OllamaURL), nil
		case catalog.KindOpenAI:
			return provider.NewOpenAICompat(d, cfg.OpenAIKey)
		default:
			return nil, fmt.Errorf("invalid provider kind %q for %s", d.Kind, d.ID)
		}
	})

	sink, nc, err := buildSink(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	c, err := buildCache(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize cache: %w", err)
	}

	eng := engine.New(log, table, registry, tokens.NewEstimator(), sink, c, engine.Options{
		DefaultProvider:   cfg.DefaultProvider,
		AutoFallback:      cfg.AutoFallback,
		AutoMapReduce:     cfg.AutoMapReduce,
		ChunkSize:         cfg.ChunkSize,
		ChunkStrategy:     strategy,
		ChunkOverlap:      cfg.ChunkOverlap,
		MapConcurrency:    cfg.MapConcurrency,
		MapReduceProvider: cfg.MapReduceProvider,
		CallTimeout:       cfg.CallTimeout,
		CacheTTL:          cfg.CacheTTL,
	})

	return Deps{
		Config:    cfg,
		Log:       log,
		Catalog:   table,
		Engine:    eng,
		Pipelines: pipeline.New(log, eng),
		sink:      sink,
		c:         c,
		nc:        nc,
	}, nil
}

// Close flushes telemetry and releases connections. Call on shutdown.
func (d Deps) Close() {
	if d.sink != nil {
		if err := d.sink.Close(); err != nil {
			d.Log.Warn("telemetry close failed", "err", err)
		}
	}
	if d.c != nil {
		if err := d.c.Close(); err != nil {
			d.Log.Warn("cache close failed", "err", err)
		}
	}
	if d.nc != nil {
		d.nc.Close()
	}
}

func buildSink(cfg config.Config, log *slog.Logger) (telemetry.Sink, *nats.Conn, error) {
	if cfg.NATSURL == "" {
		log.Info("using slog telemetry sink")
		return telemetry.NewAsync(log, telemetry.NewSlog(log), cfg.TelemetryQueueSize), nil, nil
	}
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("using NATS telemetry sink", "url", cfg.NATSURL)
	return telemetry.NewAsync(log, telemetry.NewNATS(nc), cfg.TelemetryQueueSize), nc, nil
}

func buildCache(cfg config.Config, log *slog.Logger) (cache.Cache, error) {
	if cfg.RedisAddr == "" {
		log.Info("result cache disabled")
		return cache.NewNoOpCache(), nil
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}
	log.Info("using Redis result cache", "addr", cfg.RedisAddr)
	return c, nil
}
