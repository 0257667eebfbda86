// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/D-7J/beast-downloader-bot/internal/admission"
	"github.com/D-7J/beast-downloader-bot/internal/catalog"
	"github.com/D-7J/beast-downloader-bot/internal/config"
	"github.com/D-7J/beast-downloader-bot/internal/db"
	"github.com/D-7J/beast-downloader-bot/internal/events"
	"github.com/D-7J/beast-downloader-bot/internal/fetcher"
	downloadHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/downloads"
	eventsHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/events"
	planHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/plans"
	subscriptionHandler "github.com/D-7J/beast-downloader-bot/internal/handlers/subscriptions"
	"github.com/D-7J/beast-downloader-bot/internal/lifecycle"
	"github.com/D-7J/beast-downloader-bot/internal/metrics"
	"github.com/D-7J/beast-downloader-bot/internal/middleware"
	"github.com/D-7J/beast-downloader-bot/internal/payment"
	"github.com/D-7J/beast-downloader-bot/internal/pkg/auth"
	"github.com/D-7J/beast-downloader-bot/internal/queue"
	"github.com/D-7J/beast-downloader-bot/internal/repository/postgres"
	"github.com/D-7J/beast-downloader-bot/internal/store/redisstore"
	"github.com/D-7J/beast-downloader-bot/internal/subscription"
	"github.com/D-7J/beast-downloader-bot/internal/usage"
	"github.com/D-7J/beast-downloader-bot/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	pool   *worker.Pool
	cancel context.CancelFunc
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.Default()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// ----- Logger -----
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	s.logger = logger

	// ----- PostgreSQL -----
	pool, err := db.NewPostgresPool(ctx, s.cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       s.cfg.RedisDB,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// ----- Plan catalog -----
	cat, err := catalog.New()
	if err != nil {
		return fmt.Errorf("invalid plan catalog: %w", err)
	}

	// ----- Auth -----
	authManager, err := auth.NewManager(s.cfg.AuthSecret, s.cfg.AuthTokenTTL)
	if err != nil {
		return fmt.Errorf("failed to build auth manager: %w", err)
	}

	// ----- Stores -----
	counters := redisstore.NewCounters(redisClient)
	subRepo := postgres.NewSubscriptionRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)

	// ----- Metrics & events -----
	m := metrics.NewDefault()
	hub := events.NewHub(logger)
	go hub.Run(ctx)

	// ----- Engine -----
	fetch := fetcher.NewYtDlp(s.cfg.YtDlpBinary, s.cfg.DownloadDir, logger)
	tracker := usage.NewTracker(counters, logger)
	tracker.SetSlotTTL(usage.SlotTTLFor(s.cfg.JobTimeout))
	subs := subscription.NewService(subRepo, logger)
	q := queue.New(cat, m)
	controller := admission.NewController(subs, cat, tracker, q, jobRepo, fetch, m, logger)
	life := lifecycle.NewService(jobRepo, q, controller, tracker, hub, m, logger)
	payments := payment.NewService(subs, logger)

	// ----- Workers -----
	s.pool, err = worker.NewPool(q, jobRepo, life, fetch, worker.Config{
		Concurrency:     s.cfg.WorkerConcurrency,
		PollInterval:    s.cfg.WorkerPollEvery,
		JobTimeout:      s.cfg.JobTimeout,
		ShutdownTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	s.pool.Start(ctx)

	// ----- Expiry sweep -----
	go s.runSweep(ctx, subs)

	// ----- Handlers -----
	h := &Handlers{
		DownloadHandler:     downloadHandler.NewDownloadHandler(controller, life, q, jobRepo, tracker),
		PlanHandler:         planHandler.NewPlanHandler(cat),
		SubscriptionHandler: subscriptionHandler.NewSubscriptionHandler(subs, payments),
		EventsHandler:       eventsHandler.NewEventsHandler(hub, logger),
		AuthMiddleware:      middleware.NewAuthMiddleware(authManager, logger),
	}
	SetupRouter(s.engine, logger, h)

	logger.Info("server starting", zap.String("addr", s.cfg.HTTPAddr))
	return s.engine.Run(s.cfg.HTTPAddr)
}

// Shutdown stops the workers and background loops.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.pool != nil {
		s.pool.Stop()
	}
	if s.logger != nil {
		s.logger.Sync()
	}
}

// runSweep periodically downgrades lapsed paid subscriptions. The effective
// tier derivation is already correct without it; this keeps stored rows and
// user-facing status in line.
func (s *Server) runSweep(ctx context.Context, subs *subscription.Service) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := subs.SweepExpired(ctx, time.Now(), s.cfg.SweepBatch)
			if err != nil {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
				continue
			}
			if changed > 0 {
				s.logger.Info("expiry sweep finished", zap.Int("downgraded", changed))
			}
		}
	}
}
