package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-compare/internal/auth"
	"github.com/example/face-compare/internal/config"
	"github.com/example/face-compare/internal/grpchealth"
	"github.com/example/face-compare/internal/handlers"
	"github.com/example/face-compare/internal/httpclient"
	"github.com/example/face-compare/internal/logging"
	"github.com/example/face-compare/internal/preview"
	"github.com/example/face-compare/internal/repository"
	"github.com/example/face-compare/internal/session"
	"github.com/example/face-compare/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	startupCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(startupCtx, cfg.DatabaseDSN, logger)
	repo := repository.NewComparisonRepository(db, logger)
	if err := repo.AutoMigrate(startupCtx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisClient := initRedis(startupCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	predictor := httpclient.NewPredictionClient(httpclient.Options{
		Origin:  cfg.PredictOrigin,
		Path:    cfg.PredictPath,
		Timeout: cfg.PredictTimeout,
	}, logger)

	registry := session.NewRegistry(preview.NewDecoder(), predictor, logger)
	uc := usecase.NewComparisonUseCase(registry, repo, usecase.NewRedisCache(redisClient), cfg.PredictOrigin, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	healthDone := startHealth(healthCtx, cfg, predictor, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face compare API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("predict_origin", cfg.PredictOrigin),
	)
	err = serveHTTPServer(server, cfg.ShutdownTimeout, logger, serveOptions{onShutdown: stopHealth})
	stopHealth()
	<-healthDone
	if err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
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
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

// startHealth runs the prediction health monitor and its gRPC server until ctx
// is done. The returned channel closes once both have stopped.
func startHealth(ctx context.Context, cfg *config.Config, pinger grpchealth.Pinger, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen for grpc health", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
	}

	monitor := grpchealth.NewMonitor(pinger, cfg.HealthInterval, logger)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Run(ctx)
	}()

	go func() {
		defer close(done)
		logger.Info("grpc health listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpchealth.Serve(ctx, listener, monitor, logger); err != nil {
			logger.Error("grpc health server failed", zap.Error(err))
		}
		<-monitorDone
	}()
	return done
}

type serveOptions struct {
	// listener overrides ListenAndServe when set.
	listener net.Listener
	// signals replaces OS signal delivery when set.
	signals <-chan os.Signal
	// onShutdown runs once a shutdown signal arrives, before draining.
	onShutdown func()
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, opts serveOptions) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.listener != nil {
			err = server.Serve(opts.listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := opts.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		if opts.onShutdown != nil {
			opts.onShutdown()
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
