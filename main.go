package main

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/skin-analysis/internal/classifier"
	"github.com/example/skin-analysis/internal/codec"
	"github.com/example/skin-analysis/internal/collector"
	"github.com/example/skin-analysis/internal/confidence"
	"github.com/example/skin-analysis/internal/config"
	"github.com/example/skin-analysis/internal/demographics"
	"github.com/example/skin-analysis/internal/grpcclient"
	"github.com/example/skin-analysis/internal/handlers"
	"github.com/example/skin-analysis/internal/logging"
	"github.com/example/skin-analysis/internal/mockgen"
	"github.com/example/skin-analysis/internal/pipeline"
	"github.com/example/skin-analysis/internal/repository"
	"github.com/example/skin-analysis/internal/session"
	"github.com/example/skin-analysis/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	logger, err := logging.NewLoggerWithOptions(logging.Options{File: cfg.LogFile, Level: level})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var provider store.Provider = store.NewMemoryProvider(cfg.StorageQuotaBytes, cfg.SessionTTL)
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
		defer redisClient.Close()
		provider = store.RedisProvider{Client: redisClient, TTL: cfg.SessionTTL, Logger: logger}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	normalizer := confidence.NewNormalizer(cfg.ConfidencePrecision)
	transport, conn := initTransport(ctx, cfg, logger)
	if conn != nil {
		defer conn.Close()
	}
	client := classifier.NewClient(transport, normalizer, cfg.ClassifierImageField, logger)
	mocks := mockgen.New(demographics.DefaultCategories(), normalizer, rand.NewSource(time.Now().UnixNano()))
	profileCollector := collector.New(cfg.ProfileCollectionURL, &http.Client{}, cfg.ProfileCollectionTimeout, logger)

	opts := []pipeline.Option{
		pipeline.WithCollector(profileCollector),
		pipeline.WithMetrics(pipeline.NewMetrics(registry)),
		pipeline.WithSubmitTimeout(cfg.ClassifierTimeout),
	}
	if cfg.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		repo := repository.NewAnalysisRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		opts = append(opts, pipeline.WithRepository(repo))
	}
	orchestrator := pipeline.New(codec.New(cfg.MaxImageBytes), client, mocks, logger, opts...)

	if cfg.InsecureSessionSecret() {
		logger.Warn("SESSION_SECRET is not set, session tokens are signed with the public default secret")
	}
	issuer, err := session.NewIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		logger.Fatal("invalid session configuration", zap.Error(err))
	}
	sessions, err := session.NewRegistry(cfg.SessionCacheSize, provider, logger)
	if err != nil {
		logger.Fatal("failed to build session registry", zap.Error(err))
	}

	r := gin.Default()
	r.MaxMultipartMemory = int64(cfg.MaxImageBytes)

	h := handlers.New(handlers.Options{
		Orchestrator: orchestrator,
		Issuer:       issuer,
		Collector:    profileCollector,
		MaxBytes:     cfg.MaxImageBytes,
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:       logger,
	})
	handlers.RegisterRoutes(r, h, session.Middleware(issuer, sessions))

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("skin analysis API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}

	orchestrator.Wait()
	profileCollector.Wait()
}

func initTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (classifier.Transport, *grpc.ClientConn) {
	if cfg.ClassifierTransport == config.TransportGRPC {
		transport, conn, err := grpcclient.DialClassifier(ctx, cfg.ClassifierGRPCAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to classifier", zap.Error(err))
		}
		return transport, conn
	}

	if cfg.ClassifierURL == "" {
		logger.Warn("CLASSIFIER_URL is not set, every capture will use a mock record")
	}
	return classifier.NewHTTPTransport(cfg.ClassifierURL, &http.Client{}), nil
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
