package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "KAENBYOU_"

// Config contains all runtime configuration loaded from environment
// variables. Every variable carries the KAENBYOU_ prefix.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// DatabaseURL selects the store: empty for memory, "sqlite:<path>" for
	// SQLite, anything else is a Postgres DSN.
	DatabaseURL string `env:"DATABASE_URL"`
	DBSchema    string `env:"DB_SCHEMA" envDefault:"kaenbyou"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"0"`

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB"`

	// Token guards the REST API and the event stream. Empty disables auth.
	Token        string        `env:"TOKEN"`
	BasePath     string        `env:"BASE_PATH"`
	MaxBodyBytes int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	LoginTimeout time.Duration `env:"LOGIN_TIMEOUT" envDefault:"30s"`

	FetchInterval time.Duration `env:"FETCH_INTERVAL" envDefault:"50ms"`
	FetchTimeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	IngestLanes   int           `env:"INGEST_LANES" envDefault:"8"`

	ResumeTimeout  time.Duration `env:"RESUME_TIMEOUT" envDefault:"5m"`
	MaxBuffered    int           `env:"MAX_BUFFERED" envDefault:"10000"`
	WebhookTimeout time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"10s"`

	WSOriginRequired bool     `env:"WS_ORIGIN_REQUIRED"`
	WSAllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	WSDevInsecure    bool     `env:"WS_DEV_INSECURE"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`

	// ConfigFile is the optional YAML file listing bots and webhooks.
	ConfigFile string `env:"CONFIG"`

	AutoMigrate bool `env:"AUTO_MIGRATE"`
	TraceStdout bool `env:"TRACE_STDOUT"`
}

// LoadConfig loads Config from the process environment.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{Prefix: envPrefix})
}

// LoadConfigFrom loads Config from an explicit environment map.
func LoadConfigFrom(environ map[string]string) (Config, error) {
	return loadConfig(env.Options{Prefix: envPrefix, Environment: environ})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.BasePath = normalizeBasePath(cfg.BasePath)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	return cfg, nil
}

// normalizeBasePath yields "" or a path with one leading and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
