package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pyqapi/docs"
	"pyqapi/internal/auth"
	"pyqapi/internal/cache"
	"pyqapi/internal/config"
	"pyqapi/internal/database"
	"pyqapi/internal/database/migration"
	"pyqapi/internal/fetch"
	handlers "pyqapi/internal/http/handler"
	"pyqapi/internal/http/middleware"
	"pyqapi/internal/locator"
	"pyqapi/internal/logging"
	"pyqapi/internal/metrics"
	"pyqapi/internal/repository/postgres"
	"pyqapi/internal/service"
	"pyqapi/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// server owns the Fiber app and the connections it must release on exit.
type server struct {
	app     *fiber.App
	closers []func() error
}

func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logging.L().Warn("close_failed", zap.Error(err))
		}
	}
}

// newServer wires every dependency from cfg. It is the only place concrete implementations are chosen.
func newServer(ctx context.Context, cfg *config.AppConfig) (*server, error) {
	log := logging.L()
	srv := &server{}
	fail := func(err error) (*server, error) {
		srv.Close()
		return nil, err
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fail(fmt.Errorf("connect database: %w", err))
	}
	srv.closers = append(srv.closers, db.Close)

	if err := migration.EnsureMigrated(ctx, db, cfg.Database.Host); err != nil {
		return fail(err)
	}

	store, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("init object storage: %w", err))
	}

	assets, closeCache, err := newAssetCache(ctx, cfg.Redis)
	if err != nil {
		return fail(err)
	}
	srv.closers = append(srv.closers, closeCache)

	if cfg.Auth.AdminEmail == "" || cfg.Auth.AdminPassword == "" || cfg.Auth.JWTSecret == "" {
		log.Warn("admin_auth_not_configured")
	}

	repo := postgres.NewPaperPostgres(db)
	deps := handlers.Deps{
		Papers: service.NewPaperService(repo, store, assets, cfg.UploadTmpDir),
		Downloads: service.NewDownloadService(
			repo,
			fetch.New(fetch.WithTimeout(cfg.Fetch.Timeout()), fetch.WithMaxBytes(cfg.Fetch.MaxBytes)),
			locator.NewRewriter(store, cfg.Storage.SignedURLTTL),
			assets,
			metrics.NewDownload(prometheus.DefaultRegisterer),
		),
		Auth: auth.New(cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
	}

	app, err := newApp(cfg, db, deps, prometheus.DefaultRegisterer)
	if err != nil {
		return fail(err)
	}
	srv.app = app
	return srv, nil
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "", "minio":
		return storage.NewMinIO(ctx, cfg.MinIO, cfg.PublicBaseURL)
	case "s3":
		return storage.NewS3(ctx, cfg.S3, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// newAssetCache dials Redis when an address is configured and falls back to no caching otherwise.
func newAssetCache(ctx context.Context, cfg config.RedisConfig) (cache.AssetCache, func() error, error) {
	if cfg.Addr == "" {
		return cache.Noop{}, func() error { return nil }, nil
	}
	rc, err := cache.Dial(ctx, &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, cfg.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return rc, rc.Close, nil
}

func newApp(cfg *config.AppConfig, db *sql.DB, deps handlers.Deps, reg prometheus.Registerer) (*fiber.App, error) {
	app := fiber.New(fiber.Config{
		AppName:      "pyqapi",
		ErrorHandler: handlers.ErrorHandler(),
		BodyLimit:    cfg.MaxUploadMB << 20,
	})

	prom, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowedOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
	}))
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware(otelfiber.WithNext(func(c *fiber.Ctx) bool {
		return c.Path() == "/metrics"
	})))
	app.Use(middleware.Logger())
	app.Use(prom.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	handlers.RegisterRoutes(app, db, deps)

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	return app, nil
}
