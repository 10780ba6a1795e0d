package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/command"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/config"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/consumer"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/handler"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/middleware"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/query"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/repository"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/storage"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/stream"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/internal/subscription"
	"github.com/albertllousas/bank-account-with-event-sourcing-microservice/pkg/metrics"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	// Database connection (event store + projection)
	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := storage.Bootstrap(db); err != nil {
		log.Fatalf("Failed to bootstrap schema: %v", err)
	}

	// Redis connection (event feed + inbound transaction streams)
	redis, err := stream.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	collector := metrics.NewCollector()
	publisher := stream.NewPublisher(redis)

	// --- CQRS wiring ---
	eventStore := repository.NewEventStore(db)
	projection := repository.NewProjectionRepository(db, eventStore)

	commandSvc := command.NewAccountCommandService(projection, eventStore, eventStore)
	querySvc := query.NewAccountQueryService(projection)

	accountHandler := handler.NewAccountHandler(commandSvc, querySvc)

	// --- Side-effects subscription ---
	pipeline := subscription.NewPipeline(
		subscription.NewUpdateProjectionHandler(projection),
		subscription.NewPublishExternalHandler(publisher),
		subscription.NewPublishMetricsHandler(collector),
		subscription.NewWriteLogsHandler(),
		subscription.NewTriggerUseCaseHandler(commandSvc),
	)
	dispatcher := subscription.NewDispatcher(redis, pipeline, collector, subscription.DispatcherConfig{
		Group:    "account-side-effects",
		Consumer: hostname(),
		Stream:   subscription.FeedStream,
		Retry: subscription.RetryStrategy{
			MaxNumberOfRetries: cfg.MaxNumberOfRetries,
			RetryDelay:         cfg.RetryDelay,
			ApplyDelaysAfter:   cfg.ApplyDelaysAfter,
		},
	})
	relay := subscription.NewFeedRelay(eventStore, publisher, cfg.RelayPollInterval)

	// Setup router
	router := gin.Default()
	router.Use(middleware.LoggingMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	v1 := router.Group("/v1/accounts", middleware.AuthMiddleware())
	{
		v1.POST("", accountHandler.CreateAccount)
		v1.DELETE("/:accountId", accountHandler.CloseAccount)
		v1.GET("/:accountId/balance", accountHandler.GetBalance)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Printf("Feed relay stopped: %v", err)
		}
	}()

	go func() {
		if err := dispatcher.Run(ctx); err != nil {
			log.Printf("Dispatcher stopped: %v", err)
		}
	}()

	go func() {
		if err := consumer.NewCardTransactionConsumer(redis, commandSvc, hostname()).Start(ctx); err != nil {
			log.Printf("Card transaction consumer stopped: %v", err)
		}
	}()
	go func() {
		if err := consumer.NewCryptoTransactionConsumer(redis, commandSvc, hostname()).Start(ctx); err != nil {
			log.Printf("Crypto transaction consumer stopped: %v", err)
		}
	}()
	go func() {
		if err := consumer.NewSepaTransferConsumer(redis, commandSvc, hostname()).Start(ctx); err != nil {
			log.Printf("Sepa transfer consumer stopped: %v", err)
		}
	}()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	log.Printf("Accounts service starting on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "accounts-service-1"
	}
	return name
}
