package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, WriteTimeout: 3 * time.Minute},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "printcraft",
			Password: "secret", Name: "printcraft", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT:   JWTConfig{AccessSecret: "access-secret-that-is-at-least-32-chars!"},
		Storage: StorageConfig{
			Backend: "fs",
			Root:    "data/images",
		},
		Generation: GenerationConfig{
			APIKey:    "sk-test",
			Timeout:   2 * time.Minute,
			MaxImages: 4,
		},
		RateLimit: RateLimitConfig{
			Backend:             "memory",
			AnonymousLimit:      10,
			AnonymousWindow:     time.Hour,
			AuthenticatedLimit:  50,
			AuthenticatedWindow: 24 * time.Hour,
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTAccessSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_ACCESS_SECRET") {
		t.Fatalf("expected JWT_ACCESS_SECRET error, got: %v", err)
	}
}

func TestValidate_GenerationAPIKeyRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.APIKey = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "GENERATION_API_KEY") {
		t.Fatalf("expected GENERATION_API_KEY error, got: %v", err)
	}
}

func TestValidate_MaxImagesRange(t *testing.T) {
	cfg := validConfig()
	cfg.Generation.MaxImages = 11
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "GENERATION_MAX_IMAGES") {
		t.Fatalf("expected GENERATION_MAX_IMAGES error, got: %v", err)
	}
}

func TestValidate_UnknownBackends(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.Backend = "memcached"
	cfg.Storage.Backend = "ftp"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected backend validation errors")
	}
	if !strings.Contains(err.Error(), "RATELIMIT_BACKEND") {
		t.Errorf("expected RATELIMIT_BACKEND error in: %v", err)
	}
	if !strings.Contains(err.Error(), "STORAGE_BACKEND") {
		t.Errorf("expected STORAGE_BACKEND error in: %v", err)
	}
}

func TestValidate_S3BackendNeedsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Storage.Backend = "s3"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "STORAGE_S3_ENDPOINT") {
		t.Fatalf("expected s3 credentials error, got: %v", err)
	}

	cfg.Storage.S3 = S3Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "b", Bucket: "img"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error with s3 credentials, got: %v", err)
	}
}

func TestValidate_RateLimitPolicies(t *testing.T) {
	cfg := validConfig()
	cfg.RateLimit.AnonymousWindow = 0
	cfg.RateLimit.AuthenticatedLimit = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected rate limit validation errors")
	}
	for _, substr := range []string{"RATELIMIT_ANONYMOUS", "RATELIMIT_AUTHENTICATED"} {
		if !strings.Contains(err.Error(), substr) {
			t.Errorf("expected %q in error: %v", substr, err)
		}
	}
}

func TestValidate_RedisPortOnlyCheckedForRedisBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Redis.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory backend should ignore redis port, got: %v", err)
	}

	cfg.RateLimit.Backend = "redis"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "REDIS_PORT") {
		t.Fatalf("expected REDIS_PORT error, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 0},
		DB:        DBConfig{Port: 5432},
		Storage:   StorageConfig{Backend: "fs", Root: "x"},
		RateLimit: RateLimitConfig{Backend: "memory"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	errStr := err.Error()
	for _, substr := range []string{"JWT_ACCESS_SECRET", "DB_PASSWORD", "SERVER_PORT", "GENERATION_API_KEY"} {
		if !strings.Contains(errStr, substr) {
			t.Errorf("expected %q in error: %s", substr, errStr)
		}
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	got := splitList("http://a.test, http://b.test ,,")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Fatalf("unexpected split result: %v", got)
	}
}

func TestValidate_WriteTimeoutShorterThanGeneration(t *testing.T) {
	cfg := validConfig()
	cfg.Server.WriteTimeout = 30 * time.Second
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_WRITE_TIMEOUT") {
		t.Fatalf("expected SERVER_WRITE_TIMEOUT error, got: %v", err)
	}
}

func TestValidate_TrustedProxies(t *testing.T) {
	cfg := validConfig()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.10", "fd00::/8"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "proxy.internal"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_TRUSTED_PROXIES") {
		t.Fatalf("expected SERVER_TRUSTED_PROXIES error, got: %v", err)
	}
}
