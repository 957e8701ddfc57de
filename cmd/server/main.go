package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkin-service/config"
	"checkin-service/internal/api"
	"checkin-service/internal/broker"
	"checkin-service/internal/feed"
	"checkin-service/internal/models"
	"checkin-service/internal/redisclient"
	"checkin-service/internal/service"
	"checkin-service/internal/store"
	"checkin-service/internal/util"
	"checkin-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting check-in service")

	tp, err := util.InitTracer("checkin-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		log.Fatalf("Failed to apply schema: %v", err)
	}
	schemaCancel()
	log.Println("Database connected")

	tokenTTL := time.Duration(cfg.Checkin.TokenTTLSeconds) * time.Second
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, tokenTTL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAttempts)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	rateWindow := time.Duration(cfg.Checkin.RateWindowMinutes) * time.Minute
	statsAggregator := service.NewStatsAggregator(rateWindow)
	staffTracker := service.NewStaffTracker()
	alertEngine := service.NewAlertEngine(db, defaultAlertPolicy(cfg))
	feedPublisher := feed.NewPublisher(cfg.Checkin.FeedBufferSize)

	redemptionService := service.NewRedemptionService(db, redisClient, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	attemptConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAttempts, cfg.Kafka.ConsumerGroup)
	attemptWorker := worker.NewAttemptWorker(attemptConsumer, statsAggregator, staffTracker, alertEngine, feedPublisher)
	go func() {
		if err := attemptWorker.Start(workerCtx); err != nil {
			log.Printf("Attempt worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(redemptionService, alertEngine, statsAggregator, staffTracker, feedPublisher, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	attemptWorker.Stop()

	log.Println("Server exited")
}

func defaultAlertPolicy(cfg *config.Config) models.AlertPolicy {
	return models.AlertPolicy{
		MediumAttempts: cfg.Alerts.MediumAttempts,
		MediumDevices:  cfg.Alerts.MediumDevices,
		HighAttempts:   cfg.Alerts.HighAttempts,
		HighDevices:    cfg.Alerts.HighDevices,
	}
}
