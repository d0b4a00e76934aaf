package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ManuelReschke/SprayOps/app/repository"
	apiv1 "github.com/ManuelReschke/SprayOps/internal/api/v1"
	"github.com/ManuelReschke/SprayOps/internal/pkg/billing"
	"github.com/ManuelReschke/SprayOps/internal/pkg/cache"
	"github.com/ManuelReschke/SprayOps/internal/pkg/database"
	"github.com/ManuelReschke/SprayOps/internal/pkg/env"
	"github.com/ManuelReschke/SprayOps/internal/pkg/mail"
	"github.com/ManuelReschke/SprayOps/internal/pkg/metrics"
	"github.com/ManuelReschke/SprayOps/internal/pkg/organization"
	"github.com/ManuelReschke/SprayOps/internal/pkg/router"
	"github.com/ManuelReschke/SprayOps/internal/pkg/s3archive"
	"github.com/ManuelReschke/SprayOps/internal/pkg/scheduler"
)

const (
	snapshotTTL     = 5 * time.Minute
	shutdownTimeout = 15 * time.Second
)

// Application is the assembled HTTP server plus its background jobs.
type Application struct {
	App       *fiber.App
	Scheduler *scheduler.Manager
}

func main() {
	env.SetupEnvFile()
	application := NewApplication()
	application.Scheduler.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := application.App.Listen(addr); err != nil {
			log.Fatalf("[API] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[API] Shutting down")
	application.Scheduler.Stop()
	if err := application.App.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Errorf("[API] Graceful shutdown failed: %v", err)
	}
}

func NewApplication() *Application {
	repos := setupRepositories()
	cacheEnabled := env.GetEnvBool("CACHE_ENABLED", true)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	billingCfg := billing.ConfigFromEnv()
	if billingCfg.OwnerEmail == "" {
		log.Warn("[Billing] OWNER_EMAIL not set, owner bypass disabled")
	}
	if billingCfg.InvitationCode == "" {
		log.Warn("[Billing] INVITATION_CODE not set, signups are closed")
	}

	deps := billing.Deps{
		Organizations: repos.Organization,
		Members:       repos.Member,
		Repository:    setupBillingRepository(),
		Gateway:       setupGateway(billingCfg),
		Catalog:       billing.CatalogFromEnv(),
		Config:        billingCfg,
		Metrics:       m,
	}
	orgDeps := organization.Deps{
		Organizations: repos.Organization,
		Members:       repos.Member,
		Invitations:   repos.Invitation,
		Users:         repos.User,
		Metrics:       m,
	}
	// a nil *Notifications must not end up inside the interfaces
	if notifications := mail.NewNotificationsFromEnv(); notifications != nil {
		deps.Notifier = notifications
		orgDeps.Mailer = notifications
	}
	if archiver := setupArchiver(); archiver != nil {
		deps.Archiver = archiver
	}
	if cacheEnabled {
		cache.SetupCache()
		deps.Cache = billing.NewRedisSnapshotCache(cache.GetClient(), snapshotTTL)
	}

	billingSvc := billing.NewService(deps)
	orgSvc := organization.NewService(orgDeps)

	jobs, err := scheduler.NewManager(scheduler.ConfigFromEnv(), orgSvc, billingSvc)
	if err != nil {
		log.Fatalf("[Scheduler] Invalid schedule: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:   "SprayOps",
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if basePath, ok := findBasePath(); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		log.Warn("[API] public/docs not found, API docs disabled")
	}

	routes := router.Dependencies{
		Deps: apiv1.Deps{
			Repositories:  repos,
			Billing:       billingSvc,
			Organizations: orgSvc,
			Maintenance:   jobs,
			OwnerMatcher:  billingCfg.IsOwnerEmail,
		},
		Metrics:         m,
		LimiterMax:      env.GetEnvInt("API_RATE_LIMIT", 120),
		MetricsUser:     env.GetEnv("METRICS_USER", "admin"),
		MetricsPassword: env.GetEnv("METRICS_PASSWORD", ""),
		Health:          healthCheck(cacheEnabled),
	}
	if cacheEnabled {
		routes.LimiterStorage = cache.NewLimiterStorage(cache.OptionsFromEnv())
	}
	router.InstallRouter(app, routes)

	return &Application{App: app, Scheduler: jobs}
}

// setupRepositories picks the storage backend. DB_DRIVER=memory keeps all
// data in process and is meant for local development only.
func setupRepositories() *repository.Repositories {
	if env.GetEnv("DB_DRIVER", "mysql") == "memory" {
		log.Warn("[Database] Using in-memory storage, data is lost on restart")
		return repository.NewMemoryStore().Repositories()
	}
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())
	return repository.GetGlobalRepositories()
}

func setupBillingRepository() billing.Repository {
	if database.GetDB() == nil {
		return billing.NewMemoryRepository()
	}
	return billing.NewRepository(database.GetDB())
}

func setupGateway(cfg billing.Config) billing.Gateway {
	if cfg.StripeSecretKey != "" {
		if cfg.StripeWebhookSecret == "" {
			log.Warn("[Billing] STRIPE_WEBHOOK_SECRET not set, every webhook will be rejected")
		}
		return billing.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	}
	if !env.IsDev() {
		log.Fatal("[Billing] STRIPE_SECRET_KEY is required outside APP_ENV=dev")
	}
	log.Warn("[Billing] STRIPE_SECRET_KEY not set, using the mock payment gateway")
	return billing.NewMockGateway()
}

func setupArchiver() *s3archive.Archiver {
	cfg, err := s3archive.LoadConfig()
	if err != nil {
		log.Errorf("[S3Archive] Invalid configuration, archive disabled: %v", err)
		return nil
	}
	if !cfg.IsEnabled() {
		return nil
	}
	archiver, err := s3archive.NewArchiver(context.Background(), cfg)
	if err != nil {
		log.Errorf("[S3Archive] Could not create client, archive disabled: %v", err)
		return nil
	}
	log.Infof("[S3Archive] Archiving webhook payloads to bucket %s", cfg.BucketName)
	return archiver
}

func healthCheck(cacheEnabled bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if db := database.GetDB(); db != nil {
			sqlDB, err := db.DB()
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		if cacheEnabled {
			if err := cache.Ping(ctx); err != nil {
				return fmt.Errorf("cache: %w", err)
			}
		}
		return nil
	}
}

func findBasePath() (string, bool) {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/sprayops to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs"); err == nil {
			return path, true
		}
	}
	return "", false
}
