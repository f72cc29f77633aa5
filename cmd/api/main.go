package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/signal-notifier/internal/config"
	"github.com/kursadbilgin/signal-notifier/internal/domain"
	"github.com/kursadbilgin/signal-notifier/internal/eventbus"
	"github.com/kursadbilgin/signal-notifier/internal/handler"
	"github.com/kursadbilgin/signal-notifier/internal/infra/postgresql"
	"github.com/kursadbilgin/signal-notifier/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/signal-notifier/internal/infra/redis"
	"github.com/kursadbilgin/signal-notifier/internal/observability"
	"github.com/kursadbilgin/signal-notifier/internal/provider"
	"github.com/kursadbilgin/signal-notifier/internal/queue"
	"github.com/kursadbilgin/signal-notifier/internal/ratelimit"
	"github.com/kursadbilgin/signal-notifier/internal/repository"
	"github.com/kursadbilgin/signal-notifier/internal/service"
	"github.com/kursadbilgin/signal-notifier/internal/transport"
	"github.com/kursadbilgin/signal-notifier/internal/webhook"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("signal-notifier stopped with error", zap.Error(err))
	}
	logger.Info("signal-notifier stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, postgresql.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()
	bus := eventbus.New(logger)

	notificationRepo := repository.NewGormNotificationRepo(db)
	deliveryRepo := repository.NewGormDeliveryRepo(db)
	templateRepo := repository.NewGormTemplateRepo(db)
	preferenceRepo := repository.NewGormPreferenceRepo(db)
	webhookRepo := repository.NewGormWebhookRepo(db)
	webhookDeliveryRepo := repository.NewGormWebhookDeliveryRepo(db)

	limiter, err := buildLimiter(cfg.RateLimitBackend, rdb)
	if err != nil {
		return err
	}

	tracker, err := service.NewDeliveryTracker(notificationRepo, deliveryRepo, bus, service.RetryPolicy{
		MaxRetries:        cfg.RetryMaxRetries,
		InitialDelay:      cfg.RetryInitialDelay,
		BackoffMultiplier: cfg.RetryBackoffMultiplier,
	}, logger)
	if err != nil {
		return err
	}
	tracker.SetMetrics(metrics)

	webhookManager, err := service.NewWebhookManager(webhookRepo, webhookDeliveryRepo, webhook.NewSender(), cfg.AppURL, logger)
	if err != nil {
		return err
	}

	providers, err := buildProviders(ctx, cfg, rdb, preferenceRepo, webhookManager, logger)
	if err != nil {
		return err
	}

	dispatcher, err := service.NewDispatcher(notificationRepo, deliveryRepo, tracker, providers, bus, cfg.DeliveryTimeout, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	scheduler, err := service.NewPriorityScheduler(notificationRepo, dispatcher, logger)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	notificationService, err := service.NewNotificationService(
		notificationRepo, deliveryRepo, templateRepo, preferenceRepo, tracker, scheduler, bus, logger,
	)
	if err != nil {
		return err
	}
	templateService, err := service.NewTemplateService(templateRepo)
	if err != nil {
		return err
	}
	preferenceService, err := service.NewPreferenceService(preferenceRepo)
	if err != nil {
		return err
	}

	eventService, err := service.NewEventNotificationService(preferenceRepo, notificationService, limiter, logger)
	if err != nil {
		return err
	}
	eventService.SetMetrics(metrics)

	retryReaper, err := service.NewRetryReaper(notificationRepo, deliveryRepo, scheduler, cfg.RetryScanInterval, cfg.ScanBatchSize, logger)
	if err != nil {
		return err
	}
	retryReaper.SetStaleAfter(cfg.StaleClaimAfter)
	expirationReaper, err := service.NewExpirationReaper(notificationRepo, deliveryRepo, bus, cfg.ExpiryScanInterval, cfg.ScanBatchSize, logger)
	if err != nil {
		return err
	}
	expirationReaper.SetMetrics(metrics)

	webhookWorker, err := service.NewWebhookWorker(webhookRepo, webhookDeliveryRepo, webhookManager, limiter, bus, cfg.WebhookPollInterval, logger)
	if err != nil {
		return err
	}
	webhookWorker.SetMetrics(metrics)

	factPublisher, err := queue.NewFactPublisher(queue.NewRabbitMQPublisher(rabbit), logger)
	if err != nil {
		return err
	}
	eventConsumer, err := queue.NewEventConsumer(queue.NewRabbitMQConsumer(rabbit, cfg.ConsumerPrefetch, logger), bus, logger)
	if err != nil {
		return err
	}

	bus.Subscribe("*", webhookWorker.HandleEvent)
	bus.Subscribe(domain.EventOnChain, eventService.HandleOnChainEvent)
	factPublisher.Register(bus)

	app := fiber.New(fiber.Config{
		AppName:      "signal-notifier",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(observability.RequestIDMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, metrics.Handler())
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		return err
	}
	if err := handler.RegisterWebhookRoutes(app, webhookManager); err != nil {
		return err
	}
	if err := handler.RegisterPreferenceRoutes(app, preferenceService); err != nil {
		return err
	}
	if err := handler.RegisterTemplateRoutes(app, templateService); err != nil {
		return err
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return retryReaper.Start(gctx) })
	g.Go(func() error { return expirationReaper.Start(gctx) })
	g.Go(func() error { return webhookWorker.Start(gctx) })
	g.Go(func() error { return eventConsumer.Run(gctx) })
	g.Go(func() error {
		logger.Info("signal-notifier api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(cfg.ShutdownTimeout)
	})

	err = g.Wait()
	scheduler.Wait()
	bus.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildLimiter(backend string, rdb *goredis.Client) (ratelimit.RateLimiter, error) {
	if backend == "memory" {
		return ratelimit.NewMemoryLimiter(), nil
	}
	return infraredis.NewSlidingWindowLimiter(rdb)
}

// buildProviders wires one provider per channel. Push stays unset without a
// topic, so PUSH records fail permanently instead of retrying.
func buildProviders(
	ctx context.Context,
	cfg *config.Config,
	rdb *goredis.Client,
	addresses provider.EmailAddressResolver,
	webhookManager *service.WebhookManager,
	logger *zap.Logger,
) (provider.Set, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return provider.Set{}, fmt.Errorf("failed to load aws config: %w", err)
	}

	email, err := provider.NewEmailProvider(ses.NewFromConfig(awsCfg), cfg.EmailSender, addresses)
	if err != nil {
		return provider.Set{}, err
	}
	inApp, err := provider.NewInAppProvider(rdb)
	if err != nil {
		return provider.Set{}, err
	}

	set := provider.Set{
		Email:   email,
		InApp:   inApp,
		Webhook: webhookManager.ChannelProvider(),
	}

	if cfg.PushTopic == "" {
		logger.Warn("PUSH_TOPIC_ARN not set, push deliveries will fail")
		return set, nil
	}
	push, err := provider.NewPushProvider(sns.NewFromConfig(awsCfg), cfg.PushTopic)
	if err != nil {
		return provider.Set{}, err
	}
	set.Push = push
	return set, nil
}
