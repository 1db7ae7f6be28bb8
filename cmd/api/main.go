package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/printcraft/printcraft/internal/api"
	"github.com/printcraft/printcraft/internal/auth"
	"github.com/printcraft/printcraft/internal/config"
	"github.com/printcraft/printcraft/internal/database"
	"github.com/printcraft/printcraft/internal/genclient"
	"github.com/printcraft/printcraft/internal/generation"
	"github.com/printcraft/printcraft/internal/images"
	"github.com/printcraft/printcraft/internal/imagestore"
	mw "github.com/printcraft/printcraft/internal/middleware"
	inats "github.com/printcraft/printcraft/internal/nats"
	"github.com/printcraft/printcraft/internal/prompts"
	"github.com/printcraft/printcraft/internal/ratelimit"
	iredis "github.com/printcraft/printcraft/internal/redis"
	"github.com/printcraft/printcraft/internal/retention"
	"github.com/printcraft/printcraft/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	// Image storage
	var backend imagestore.Backend
	switch cfg.Storage.Backend {
	case "s3":
		backend, err = imagestore.NewS3Backend(ctx, cfg.Storage.S3)
	default:
		backend, err = imagestore.NewFSBackend(cfg.Storage.Root, imagestore.DefaultPolicies())
	}
	if err != nil {
		slog.Error("initializing image storage", "error", err, "backend", cfg.Storage.Backend)
		os.Exit(1)
	}
	store := imagestore.NewStore(backend, imagestore.DefaultPolicies(), cfg.Storage.PublicBaseURL)

	// Rate limiting
	policies := ratelimit.Policies{
		ratelimit.CategoryAnonymous:     {Limit: cfg.RateLimit.AnonymousLimit, Window: cfg.RateLimit.AnonymousWindow},
		ratelimit.CategoryAuthenticated: {Limit: cfg.RateLimit.AuthenticatedLimit, Window: cfg.RateLimit.AuthenticatedWindow},
	}
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Backend == "redis" {
		redisClient, err := iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Error("connecting to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, policies)
	} else {
		limiter = ratelimit.NewMemoryLimiter(policies, ratelimit.WithSweepInterval(cfg.RateLimit.SweepInterval))
	}

	// NATS (optional)
	var natsClient *inats.Client
	var events generation.EventPublisher
	if cfg.NATS.URL != "" {
		natsClient, err = inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		events = inats.NewPublisher(natsClient.JetStream())
	}

	// Repositories
	promptRepo := prompts.NewRepository(pool)
	imageRepo := images.NewRepository(pool)

	// Generation
	genSvc := generation.NewService(generation.Dependencies{
		Prompts:   promptRepo,
		Store:     store,
		Images:    imageRepo,
		Generator: genclient.New(cfg.Generation),
		Limiter:   limiter,
		Policies:  policies,
		Events:    events,
		MaxImages: cfg.Generation.MaxImages,
	})
	genHandler := generation.NewHandler(genSvc, store)
	imageHandler := images.NewHandler(store, imageRepo)
	promptHandler := prompts.NewHandler(promptRepo)

	// Retention
	sweeper := retention.NewSweeper(imageRepo, store, cfg.Retention.UploadMaxAge, cfg.Retention.SweepInterval, cfg.Retention.BatchSize)
	go sweeper.Run(ctx)

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)

	trustedProxies, err := mw.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		slog.Error("parsing trusted proxies", "error", err)
		os.Exit(1)
	}

	// Router
	router := api.NewRouter(pool, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		TrustedProxies:     trustedProxies,
	}, api.HandlerSet{
		GeneratePublic:  genHandler.GeneratePublic,
		GenerateUser:    genHandler.GenerateUser,
		GenerationQuota: genHandler.Quota,

		UploadImage: imageHandler.Upload,
		ServeImage:  imageHandler.Serve,

		ListPrompts: promptHandler.List,

		AuthMiddleware: auth.Middleware(jwtManager),
		OptionalAuth:   auth.Optional(jwtManager),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
