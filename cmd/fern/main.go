package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/company"
	"github.com/Ramsey-B/fern/internal/repositories/event"
	"github.com/Ramsey-B/fern/internal/repositories/outcome"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/embedding"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logger"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/persist"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/resolver"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/records"
	"github.com/Ramsey-B/fern/pkg/routes/stats"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.AppName, cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(cfg config.Config, log logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing
	var exporter sdktrace.SpanExporter = &exporters.ConsoleExporter{}
	if cfg.TracingEnabled {
		otlp, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.TracingEndpoint,
			Protocol: cfg.TracingProtocol,
			Insecure: cfg.TracingInsecure,
		})
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = otlp
	}
	shutdownTracing := tracing.Configure(cfg.AppName, exporter)
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Postgres
	db, err := database.Connect(ctx, database.ConnectConfig{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, log)
	if err != nil {
		return err
	}

	instance, ok := db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("unexpected database instance type %T", db)
	}
	defer instance.Close()

	driver, err := migratepg.WithInstance(instance.DB.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(log, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis (create-window locks)
	var redisClient *redis.Client
	var locker resolver.Locker
	if cfg.RedisEnabled {
		redisClient, err = redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		locker = redis.NewLocker(redisClient, cfg.AppName)
	}

	// Repositories and resolution pipeline
	events := event.New(db, log)
	companies := company.New(db, log)
	outcomes := outcome.New(db, log)
	store := resolver.NewRepositoryStore(events, companies)

	batcher := persist.NewBatcher(log, store, persist.Config{
		MaxBatchSize:   cfg.MaxBatchSize,
		HardCap:        cfg.HardCap,
		MaxRetries:     cfg.MaxRetries,
		RetryBaseDelay: cfg.RetryBaseDelay,
		FlushInterval:  cfg.FlushInterval,
	})

	engine := matching.NewEngine(log, store, matching.EngineConfig{
		SimilarityFloor: cfg.SimilarityFloor,
		OverfetchFactor: cfg.OverfetchFactor,
		DateWindow:      cfg.DateWindow,
	})
	evaluator := matching.NewEvaluator(cfg.SimilarityFloor)
	merger := merging.NewResolver(log)
	embedder := embedding.NewClient(embedding.Config{
		Endpoint: cfg.EmbeddingEndpoint,
		Model:    cfg.EmbeddingModel,
		Timeout:  cfg.EmbeddingTimeout,
	}, log)

	var producer *kafka.Producer
	publishers := resolver.Publishers{outcomes}
	if cfg.KafkaOutputTopic != "" {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, log)
		defer producer.Close()
		publishers = append(publishers, producer)
	}

	service := resolver.New(log, engine, evaluator, merger, batcher, companies, locker, embedder, publishers, resolver.Config{
		Workers: cfg.EventWorkerCount,
		TopK:    cfg.TopK,
		LockTTL: cfg.CreateLockTTL,
	})
	batcher.OnFlush(service.Stats().RecordFlush)

	go batcher.Run(ctx)

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled {
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaInputTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, log, service.HandleMessage)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.WithError(err).Error("Consumer stopped")
				cancel()
			}
		}()
		defer consumer.Stop()
	}

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(log)
	e.Use(middleware.Logger(log))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	var redisCheck health.RedisPinger
	if redisClient != nil {
		redisCheck = redisClient
	}
	var consumerCheck health.ConsumerHealth
	if consumer != nil {
		consumerCheck = consumer
	}
	checker := health.NewChecker(db, redisCheck, consumerCheck, version())
	checker.RegisterRoutes(e)
	stats.Register(e, service, batcher)
	records.Register(e, events, companies, outcomes)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second

	go func() {
		checker.SetReady(true)
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.WithError(err).Info("HTTP server stopped")
		}
	}()

	<-ctx.Done()
	checker.SetReady(false)
	log.Info("Shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP shutdown failed")
	}

	// final drain so accepted records are not lost on shutdown
	if _, err := batcher.Flush(context.Background()); err != nil {
		log.WithError(err).Error("Final flush failed")
	}

	return nil
}

func version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}
