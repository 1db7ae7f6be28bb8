package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Storage    StorageConfig
	Generation GenerationConfig
	RateLimit  RateLimitConfig
	Retention  RetentionConfig
	Log        LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// WriteTimeout must outlast Generation.Timeout.
	WriteTimeout time.Duration
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is believed.
	TrustedProxies []string
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL          string
	StreamMaxAge time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type StorageConfig struct {
	Backend       string // "fs" or "s3"
	Root          string
	PublicBaseURL string
	S3            S3Config
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GenerationConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxImages         int
}

type RateLimitConfig struct {
	Backend             string // "memory" or "redis"
	AnonymousLimit      int
	AnonymousWindow     time.Duration
	AuthenticatedLimit  int
	AuthenticatedWindow time.Duration
	SweepInterval       time.Duration
}

type RetentionConfig struct {
	UploadMaxAge  time.Duration
	SweepInterval time.Duration
	BatchSize     int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           k.String("server.host"),
			Port:           k.Int("server.port"),
			TrustedProxies: splitList(k.String("server.trusted.proxies")),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			AccessSecret: k.String("jwt.access.secret"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		Storage: StorageConfig{
			Backend:       k.String("storage.backend"),
			Root:          k.String("storage.root"),
			PublicBaseURL: k.String("storage.public.base.url"),
			S3: S3Config{
				Endpoint:  k.String("storage.s3.endpoint"),
				AccessKey: k.String("storage.s3.access.key"),
				SecretKey: k.String("storage.s3.secret.key"),
				Bucket:    k.String("storage.s3.bucket"),
				UseSSL:    k.Bool("storage.s3.use.ssl"),
			},
		},
		Generation: GenerationConfig{
			BaseURL:           k.String("generation.base.url"),
			APIKey:            k.String("generation.api.key"),
			Model:             k.String("generation.model"),
			RequestsPerSecond: k.Float64("generation.requests.per.second"),
			MaxImages:         k.Int("generation.max.images"),
		},
		RateLimit: RateLimitConfig{
			Backend:            k.String("ratelimit.backend"),
			AnonymousLimit:     k.Int("ratelimit.anonymous.limit"),
			AuthenticatedLimit: k.Int("ratelimit.authenticated.limit"),
		},
		Retention: RetentionConfig{
			BatchSize: k.Int("retention.batch.size"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	applyDefaults(cfg)

	// Parse durations
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"server.write.timeout", "180s", &cfg.Server.WriteTimeout},
		{"jwt.access.expiry", "15m", &cfg.JWT.AccessExpiry},
		{"nats.stream.max.age", "168h", &cfg.NATS.StreamMaxAge},
		{"generation.timeout", "120s", &cfg.Generation.Timeout},
		{"ratelimit.anonymous.window", "1h", &cfg.RateLimit.AnonymousWindow},
		{"ratelimit.authenticated.window", "24h", &cfg.RateLimit.AuthenticatedWindow},
		{"ratelimit.sweep.interval", "10m", &cfg.RateLimit.SweepInterval},
		{"retention.upload.max.age", "168h", &cfg.Retention.UploadMaxAge},
		{"retention.sweep.interval", "1h", &cfg.Retention.SweepInterval},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		*d.dst, err = time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "printcraft"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "printcraft"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "fs"
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "data/images"
	}
	if cfg.Storage.PublicBaseURL == "" {
		cfg.Storage.PublicBaseURL = "http://localhost:8080"
	}
	if cfg.Storage.S3.Bucket == "" {
		cfg.Storage.S3.Bucket = "printcraft-images"
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "https://api.openai.com"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-image-1"
	}
	if cfg.Generation.RequestsPerSecond == 0 {
		cfg.Generation.RequestsPerSecond = 5
	}
	if cfg.Generation.MaxImages == 0 {
		cfg.Generation.MaxImages = 4
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.AnonymousLimit == 0 {
		cfg.RateLimit.AnonymousLimit = 10
	}
	if cfg.RateLimit.AuthenticatedLimit == 0 {
		cfg.RateLimit.AuthenticatedLimit = 50
	}
	if cfg.Retention.BatchSize == 0 {
		cfg.Retention.BatchSize = 100
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
