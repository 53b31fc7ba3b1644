package config

import (
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the invocation engine service.
type Config struct {
	// Server
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	MaxUploadSize int64  `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"` // 10MB in bytes

	// Providers
	DefaultProvider string `env:"DEFAULT_PROVIDER" envDefault:"salamandra-7b"`
	ModelsConfig    string `env:"MODELS_CONFIG"` // optional YAML overriding the builtin catalog
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	SalamandraURL   string `env:"VLLM_SALAMANDRA_URL"`
	AliaURL         string `env:"VLLM_ALIA_URL"`
	OllamaURL       string `env:"OLLAMA_URL" envDefault:"http://127.0.0.1:11434"`

	// Auto strategies
	AutoFallback      bool          `env:"AUTO_FALLBACK" envDefault:"true"`
	AutoMapReduce     bool          `env:"AUTO_MAP_REDUCE" envDefault:"false"`
	ChunkSize         int           `env:"CHUNK_SIZE" envDefault:"12000"`
	ChunkStrategy     string        `env:"CHUNK_STRATEGY" envDefault:"paragraph"` // paragraph, sentence or fixed
	ChunkOverlap      int           `env:"CHUNK_OVERLAP" envDefault:"500"`
	MapConcurrency    int           `env:"MAP_CONCURRENCY" envDefault:"3"`
	MapReduceProvider string        `env:"MAPREDUCE_PROVIDER" envDefault:"alia-40b-32k"` // substitute for local-only targets
	CallTimeout       time.Duration `env:"CALL_TIMEOUT" envDefault:"60s"`

	// Telemetry
	NATSURL            string `env:"NATS_URL"`
	TelemetryQueueSize int    `env:"TELEMETRY_QUEUE_SIZE" envDefault:"256"`

	// Result cache
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"1h"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
