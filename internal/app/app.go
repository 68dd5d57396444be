package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/vladislavdragonenkov/lessonbook/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/lessonbook/internal/health"
	"github.com/vladislavdragonenkov/lessonbook/internal/metrics"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/api"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/booking"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/lessonbook/internal/service/grpc"
	httpsvc "github.com/vladislavdragonenkov/lessonbook/internal/service/http"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/idempotency"
	"github.com/vladislavdragonenkov/lessonbook/internal/service/outbox"
	"github.com/vladislavdragonenkov/lessonbook/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает хранилище, воркеры, HTTP, gRPC и сервер метрик и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.closeFn(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close storage")
		}
	}()

	bookingMetrics := metrics.NewBookingMetrics()

	cache, redisClient := initLessonCache(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	publishers := initOutboxPublishers(cfg, logger)
	defer publishers.close(logger)

	coordinatorOpts := []booking.Option{
		booking.WithLogger(logger.WithField("component", "booking-coordinator")),
		booking.WithMetrics(bookingMetrics),
		booking.WithTimeline(),
	}
	if deps.outboxEnabled(publishers) {
		coordinatorOpts = append(coordinatorOpts, booking.WithOutbox())
	} else {
		logger.Info("in-memory storage without broker, outbox events are not recorded")
	}
	catalogOpts := []catalog.Option{
		catalog.WithLogger(logger.WithField("component", "catalog")),
		catalog.WithMetrics(bookingMetrics),
		catalog.WithTimeline(deps.timelineRepo),
		catalog.WithDirectSpacesEdit(cfg.AllowDirectSpacesEdit),
	}
	if cache != nil {
		coordinatorOpts = append(coordinatorOpts, booking.WithCapacityObserver(cache))
		catalogOpts = append(catalogOpts, catalog.WithCache(cache))
	}

	coordinator := booking.NewCoordinator(deps.capacity, deps.orders, deps.tx, coordinatorOpts...)
	catalogSvc := catalog.NewService(deps.lessons, deps.orders, catalogOpts...)

	if cfg.SeedFile != "" {
		lessons, err := loadSeedFile(cfg.SeedFile)
		if err != nil {
			return err
		}
		if err := catalogSvc.SeedLessons(ctx, lessons); err != nil {
			return fmt.Errorf("seed lessons: %w", err)
		}
	}

	guard := idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency-guard"))

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	workersDone := startWorkers(workerCtx, cfg, deps, publishers, logger)
	defer shutdownWorkers(cancelWorkers, workersDone, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if cache != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", cache.Ping))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	errCh := make(chan error, 2)

	var httpSrv *http.Server
	if cfg.HTTPAddr != "" {
		router := httpsvc.NewRouter(coordinator, catalogSvc,
			httpsvc.WithLogger(logger.WithField("layer", "http")),
			httpsvc.WithIdempotency(guard),
			httpsvc.WithImagesDir(cfg.ImagesDir),
			httpsvc.WithCORSOrigins(cfg.Origins()),
		)
		httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return err
		}
		httpSrv = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Infof("HTTP API слушает %s", httpLis.Addr())
			if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	defer shutdownHTTP(httpSrv, logger)

	var (
		grpcServer   *grpc.Server
		healthServer *health.Server
	)
	if cfg.GRPCAddr != "" {
		svc := grpcsvc.NewBookingService(coordinator, catalogSvc, guard, logger.WithField("layer", "grpc"))
		grpcServer, healthServer = grpcsvc.NewServer(svc, registerGRPCMetrics(logger))

		grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownGRPC(grpcServer, healthServer, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownGRPC(grpcServer, healthServer, logger)
		return err
	}
}

// initLessonCache подключает Redis-кеш каталога. Недоступный Redis не мешает старту.
func initLessonCache(ctx context.Context, cfg Config, logger *log.Entry) (*catalog.RedisCache, *redis.Client) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	client, err := catalog.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.WithError(err).Warn("redis is unavailable, lesson cache disabled")
		return nil, nil
	}
	logger.WithField("redis_addr", cfg.RedisAddr).Info("lesson cache enabled")
	return catalog.NewRedisCache(client, cfg.CacheTTL, logger.WithField("component", "lesson-cache")), client
}

// startWorkers запускает outbox и cleanup воркеры. Канал закрывается, когда оба завершились.
func startWorkers(ctx context.Context, cfg Config, deps *runtimeDependencies, publishers *outboxPublishers, logger *log.Entry) <-chan struct{} {
	var wg sync.WaitGroup

	if publishers != nil {
		worker := outbox.NewWorker(deps.outboxRepo, publishers.events,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics(nil)),
			outbox.WithDLQPublisher(publishers.dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup-worker")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(nil)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// registerGRPCMetrics регистрирует метрики gRPC сервера, переиспользуя уже зарегистрированные.
func registerGRPCMetrics(logger *log.Entry) *promgrpc.ServerMetrics {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				return existing
			}
		}
		logger.WithError(err).Warn("failed to register grpc metrics")
	}
	return grpcMetrics
}

// loadSeedFile читает JSON-массив уроков.
func loadSeedFile(path string) ([]domain.Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var lessons []api.Lesson
	if err := api.DecodeStrict(data, &lessons); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}

	out := make([]domain.Lesson, 0, len(lessons))
	for _, lesson := range lessons {
		out = append(out, lesson.ToDomain())
	}
	return out, nil
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus и health-проверок.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

// shutdownGRPC переводит health в NOT_SERVING и останавливает сервер, принудительно после таймаута.
func shutdownGRPC(server *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	if server == nil {
		return
	}
	if healthServer != nil {
		healthServer.Shutdown()
	}

	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownWorkers отменяет контекст воркеров и ждёт их завершения.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}

	select {
	case <-done:
		logger.Info("background workers stopped")
	case <-time.After(shutdownTimeout):
		logger.Warn("background workers did not stop in time")
	}
}
