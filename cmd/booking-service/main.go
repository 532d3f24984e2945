package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"comsy.local/booking-service/config"
	"comsy.local/booking-service/internal/api"
	"comsy.local/booking-service/internal/auth"
	"comsy.local/booking-service/internal/booking"
	"comsy.local/booking-service/internal/broker"
	"comsy.local/booking-service/internal/common"
	"comsy.local/booking-service/internal/db"
	"comsy.local/booking-service/internal/db/repos"
	"comsy.local/booking-service/internal/live"
	"comsy.local/booking-service/internal/lock"
	"comsy.local/booking-service/internal/metrics"
)

type BookingService struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sqlx.DB
	redis     *redis.Client
	broker    *broker.Broker
	recorder  *metrics.Recorder
	registry  *prometheus.Registry
	scheduler *booking.Scheduler
	hub       *live.Hub
}

func NewBookingService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*BookingService, error) {
	s := &BookingService{cfg: cfg, logger: logger}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.recorder = metrics.NewRecorder(s.registry)

	var (
		bookings  booking.BookingStore
		computers booking.ComputerRegistry
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, bookings will not survive a restart")
		store := repos.NewMemoryStore()
		bookings, computers = store, store
	default:
		conn, err := db.NewDB(ctx, cfg.DB.DSN(), time.Minute, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		s.db = conn
		bookings = repos.NewBookingRepository(conn)
		computers = repos.NewComputerRepository(conn)
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to in-process locks", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			s.redis.Close()
			s.redis = nil
		} else {
			locker = lock.NewRedisLocker(s.redis, "comsy:lock:computer:", cfg.LockTTL, logger)
			logger.Info("using redis computer locks", zap.String("addr", cfg.RedisAddr))
		}
	}

	opts := booking.Options{
		Bookings:  bookings,
		Computers: computers,
		Locker:    locker,
		Guard: common.NewGuard(common.GuardSettings{
			Name:        "store",
			MaxRetries:  3,
			IsTransient: repos.IsTransient,
			Logger:      logger,
		}),
		Metrics: s.recorder,
		Logger:  logger.Named("booking"),
	}

	if cfg.RabbitMQURL != "" {
		b, err := broker.NewBroker(cfg.RabbitMQURL, cfg.RabbitMQExchange, "topic", logger)
		if err != nil {
			logger.Warn("failed to create broker, lifecycle events will not be published", zap.Error(err))
		} else {
			s.broker = b
			opts.Publisher = b
		}
	}

	s.scheduler = booking.NewScheduler(opts)
	s.hub = live.NewHub(live.Options{
		PingInterval:   cfg.PingInterval,
		OriginPatterns: cfg.WSOriginPatterns,
		Logger:         logger.Named("live"),
		Metrics:        s.recorder,
	})
	return s, nil
}

func (s *BookingService) ready(ctx context.Context) error {
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			return err
		}
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *BookingService) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	api.SetupRoutes(router, api.RouterConfig{
		Scheduler:      s.scheduler,
		Tokens:         auth.NewTokens(s.cfg.JWTSecret, 0),
		Live:           s.hub,
		Metrics:        s.recorder.Handler(),
		Recorder:       s.recorder,
		Logger:         s.logger.Named("api"),
		RequestTimeout: s.cfg.RequestTimeout,
		Ready:          s.ready,
	})
	return router
}

func (s *BookingService) Close() {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn("error closing broker", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("error closing redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("error closing database connection", zap.Error(err))
		}
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("booking service: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := NewBookingService(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start booking service", zap.Error(err))
		return err
	}
	defer service.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           service.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("booking service listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return service.scheduler.RunSweeper(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		return service.hub.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("booking service stopped with error", zap.Error(err))
		return err
	}
	logger.Info("booking service stopped")
	return nil
}
