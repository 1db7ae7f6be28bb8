package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.RateLimit.Backend == "redis" && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	for _, proxy := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			errs = append(errs, fmt.Sprintf("SERVER_TRUSTED_PROXIES entry %q is not an address or CIDR", proxy))
		}
	}

	// Upstream generation API
	if c.Generation.APIKey == "" {
		errs = append(errs, "GENERATION_API_KEY is required")
	}
	if c.Generation.Timeout <= 0 {
		errs = append(errs, "GENERATION_TIMEOUT must be positive")
	}
	if c.Server.WriteTimeout <= c.Generation.Timeout {
		errs = append(errs, "SERVER_WRITE_TIMEOUT must be longer than GENERATION_TIMEOUT")
	}
	if c.Generation.MaxImages < 1 || c.Generation.MaxImages > 10 {
		errs = append(errs, fmt.Sprintf("GENERATION_MAX_IMAGES must be 1–10, got %d", c.Generation.MaxImages))
	}

	// Rate limiting
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("RATELIMIT_BACKEND must be memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.RateLimit.AnonymousLimit < 1 || c.RateLimit.AnonymousWindow <= 0 {
		errs = append(errs, "RATELIMIT_ANONYMOUS_LIMIT and RATELIMIT_ANONYMOUS_WINDOW must be positive")
	}
	if c.RateLimit.AuthenticatedLimit < 1 || c.RateLimit.AuthenticatedWindow <= 0 {
		errs = append(errs, "RATELIMIT_AUTHENTICATED_LIMIT and RATELIMIT_AUTHENTICATED_WINDOW must be positive")
	}

	// Storage
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Root == "" {
			errs = append(errs, "STORAGE_ROOT is required for the fs backend")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.AccessKey == "" || c.Storage.S3.SecretKey == "" {
			errs = append(errs, "STORAGE_S3_ENDPOINT, STORAGE_S3_ACCESS_KEY and STORAGE_S3_SECRET_KEY are required for the s3 backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND must be fs or s3, got %q", c.Storage.Backend))
	}

	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, generation events will not be published")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
