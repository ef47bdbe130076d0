package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"imagerelay/docs"
	"imagerelay/internal/config"
	"imagerelay/internal/gemini"
	handlers "imagerelay/internal/http/handler"
	"imagerelay/internal/http/middleware"
	"imagerelay/internal/logger"
	"imagerelay/internal/metrics"
	"imagerelay/internal/otel"
	"imagerelay/internal/service"
	"imagerelay/internal/storage"
	"imagerelay/internal/stubllm"
)

// multipartSlack covers form boundaries and headers on top of the file itself.
const multipartSlack = 1 << 20

// @title Image Relay API
// @version 1.0
// @description Accepts one uploaded image per request and returns a model-generated description.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, zl)
	if err != nil {
		zl.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			zl.Error("tracing shutdown failed", zap.Error(err))
		}
	}()

	// Staging area for uploads in flight (local directory or MinIO bucket)
	store, err := storage.New(cfg)
	if err != nil {
		zl.Fatal("failed to initialize staging storage", zap.Error(err))
	}

	analyzer, err := newAnalyzer(cfg)
	if err != nil {
		zl.Fatal("failed to initialize analyzer", zap.Error(err))
	}

	relayMetrics, err := metrics.NewRelay(prometheus.DefaultRegisterer)
	if err != nil {
		zl.Fatal("failed to register relay metrics", zap.Error(err))
	}
	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		zl.Fatal("failed to register http metrics", zap.Error(err))
	}

	imgSvc := service.NewImageService(store, analyzer, service.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Metrics:        relayMetrics,
		Logger:         zl,
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(cfg.MaxUploadBytes),
		BodyLimit:    int(cfg.MaxUploadBytes) + multipartSlack,
	})

	// Register global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSAllowOrigins}))
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger(zl))
	app.Use(promMiddleware.Handler())

	uploadDir := ""
	if local, ok := store.(*storage.LocalStorage); ok {
		uploadDir = local.Dir()
	}
	handlers.RegisterRoutes(app, imgSvc, handlers.Options{
		UploadDir: uploadDir,
		Gatherer:  prometheus.DefaultGatherer,
		Logger:    zl,
	})

	// Swagger UI with dynamic host and scheme
	app.Get("/swagger/*", func(c *fiber.Ctx) error {
		scheme := c.Protocol()
		if proto := c.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.Split(proto, ",")[0]
		}

		docs.SwaggerInfo.Host = c.Get("Host")
		docs.SwaggerInfo.Schemes = []string{scheme}

		return swagger.HandlerDefault(c)
	})

	go func() {
		<-ctx.Done()
		zl.Info("shutting down")
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			zl.Error("server shutdown failed", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Port
	zl.Info("server starting",
		zap.String("addr", addr),
		zap.String("analyzer", analyzer.SourceName()),
		zap.String("staging_backend", cfg.StagingBackend),
		zap.Int64("max_upload_bytes", cfg.MaxUploadBytes),
	)

	if err := app.Listen(addr); err != nil {
		zl.Fatal("failed to start server", zap.Error(err))
	}
}

// newAnalyzer builds the analysis client once at startup; it is shared by all requests.
func newAnalyzer(cfg *config.AppConfig) (service.Analyzer, error) {
	switch cfg.Analyzer {
	case config.AnalyzerGemini:
		return gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model, gemini.WithBaseURL(cfg.Gemini.BaseURL)), nil
	case config.AnalyzerStub:
		return stubllm.NewClient(), nil
	default:
		return nil, fmt.Errorf("unsupported analyzer: %s", cfg.Analyzer)
	}
}
