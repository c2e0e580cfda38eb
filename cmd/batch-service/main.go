package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pharmatrust/platform/pkg/batch"
	"github.com/pharmatrust/platform/pkg/codes"
	"github.com/pharmatrust/platform/pkg/common/config"
	"github.com/pharmatrust/platform/pkg/common/database"
	"github.com/pharmatrust/platform/pkg/common/kafka"
	"github.com/pharmatrust/platform/pkg/common/logger"
	"github.com/pharmatrust/platform/pkg/ledger"
	"github.com/pharmatrust/platform/pkg/observability/metrics"
	"github.com/pharmatrust/platform/pkg/pipeline"
	"github.com/pharmatrust/platform/pkg/progress"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	uploadRepo := batch.NewRepository(db)
	if err := uploadRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate upload tables")
	}

	codeRepo := codes.NewRepository(db)
	if err := codeRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate code tables")
	}

	schema, err := batch.LoadSchema(cfg.ValidationSchemaPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load validation schema")
	}
	schema.MaxRows = cfg.MaxBatchRows

	validator, err := batch.NewValidator(schema)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to build validator")
	}

	var tracker progress.Tracker
	if cfg.ProgressBackend == "redis" {
		redisClient := database.ConnectRedis(cfg)
		defer database.CloseRedis(redisClient)
		tracker = progress.NewRedisTracker(redisClient, cfg.ProgressTTL)
	} else {
		tracker = progress.NewMemoryTracker()
	}

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaEventTopic != "" {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventTopic)
		defer producer.Close()
	}

	ledgerSvc := ledger.NewService(cfg)

	codesSvc := codes.NewService(
		codeRepo,
		ledgerSvc,
		tracker,
		codes.NewGenerator(cfg.CodePrefix),
		cfg.BatchCodeThreshold,
		cfg.MaxCodeIDAttempts,
		cfg.VerificationBaseURL,
	)

	detector := batch.NewDuplicateDetector(uploadRepo)
	svc := pipeline.NewService(validator, detector, uploadRepo, ledgerSvc, codesSvc, tracker, producer)
	handler := pipeline.NewHTTPHandler(svc, codesSvc, tracker, producer, cfg.MaxRequestBody)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Batch Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Batch Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Batch Service stopped")
}
