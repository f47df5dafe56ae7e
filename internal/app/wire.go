package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"beaconattend/internal/attendance"
	"beaconattend/internal/auth"
	"beaconattend/internal/clock"
	"beaconattend/internal/cloudinary"
	"beaconattend/internal/config"
	"beaconattend/internal/export"
	"beaconattend/internal/handler"
	"beaconattend/internal/httpmiddleware"
	"beaconattend/internal/metrics"
	"beaconattend/internal/proximity"
	"beaconattend/internal/queue"
	"beaconattend/internal/session"
	"beaconattend/internal/store"
	"beaconattend/internal/users"
)

// Stack is the service graph of one process, built from configuration.
type Stack struct {
	Config   config.App
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// DB is nil with the memory driver. Redis is nil unless the queue or
	// the rate limiter uses it.
	DB    *store.DB
	Redis *store.Redis

	Sessions   *session.Manager
	Attendance *attendance.Service
	Users      *users.Service
	Exports    *export.Service
	Queue      queue.Queue
	Issuer     auth.Issuer
}

// Build opens storage, applies migrations and wires every service.
func Build(ctx context.Context, cfg config.App, logger *zap.Logger) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Stack{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics.New(reg),
	}

	var (
		sessionStore session.Store
		ledger       attendance.Ledger
		userStore    users.Store
	)
	if cfg.DBDriver == "memory" {
		logger.Warn("using in-memory storage; data is lost on restart")
		sessionStore = session.NewMemoryStore()
		ledger = attendance.NewMemoryLedger()
		userStore = users.NewMemoryStore()
	} else {
		db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.DB = db
		mg, err := NewMigrator(db, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := mg.Run(ctx); err != nil {
			s.Close()
			return nil, err
		}
		sessionStore = session.NewRepository(db)
		ledger = attendance.NewRepository(db)
		userStore = users.NewRepository(db)
	}

	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		rdb, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Redis = rdb
		if !s.Redis.Healthy(ctx) {
			logger.Warn("redis not reachable at startup", zap.String("addr", cfg.RedisAddr))
		}
	}

	clk := clock.Real()
	s.Sessions = session.NewManager(sessionStore, session.Options{
		DefaultWindowMinutes: cfg.DefaultWindowMinutes,
		Policy:               session.ConflictPolicy(cfg.ConflictPolicy),
		Clock:                clk,
		Logger:               logger.Named("session"),
		Metrics:              s.Metrics,
	})
	s.Attendance = attendance.NewService(s.Sessions, ledger, attendance.Options{
		Validator:     proximityValidator(cfg),
		GraceFraction: cfg.GraceFraction,
		Logger:        logger.Named("attendance"),
		Metrics:       s.Metrics,
	})
	s.Users = users.NewService(userStore, clk, logger.Named("users"))

	switch cfg.QueueBackend {
	case "redis":
		s.Queue = queue.NewRedisQueue(s.Redis.Client, "", logger.Named("queue"))
	default:
		s.Queue = queue.NewInMemory(100)
	}

	exOpts := export.Options{
		Names:    s.Users,
		Uploader: uploader(cfg, logger),
		Queue:    s.Queue,
		Clock:    clk,
		Logger:   logger.Named("export"),
		Metrics:  s.Metrics,
	}
	if cfg.RosterFile != "" {
		roster, err := export.LoadRoster(cfg.RosterFile)
		if err != nil {
			s.Close()
			return nil, err
		}
		exOpts.Roster = roster
	}
	s.Exports = export.NewService(s.Sessions, s.Attendance, exOpts)

	s.Issuer = auth.Issuer{
		Key:        cfg.JWTSigningKey,
		Name:       cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}
	return s, nil
}

func proximityValidator(cfg config.App) proximity.Validator {
	limit := proximity.TrustedClaim{MaxDistance: cfg.MaxBeaconDistance}
	if cfg.ProximityMode == "rssi" {
		return proximity.RSSIRanging{
			TxPower:          cfg.BeaconTxPower,
			PathLossExponent: cfg.PathLossExponent,
			MinRSSI:          cfg.MinRSSI,
			Limit:            limit,
		}
	}
	return limit
}

func uploader(cfg config.App, logger *zap.Logger) export.Uploader {
	if cfg.CloudinaryConfigured() {
		logger.Info("exports upload to cloudinary", zap.String("cloud", cfg.CloudinaryCloudName))
		return cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}
	logger.Info("cloudinary not configured, exports are written locally", zap.String("dir", cfg.ExportDir))
	return export.DirUploader{Dir: cfg.ExportDir}
}

// Limiter returns the rate limiter selected by RATE_LIMIT_BACKEND.
func (s *Stack) Limiter() httpmiddleware.Limiter {
	if s.Config.RateLimitBackend == "redis" && s.Redis != nil {
		return httpmiddleware.NewRedisLimiter(s.Redis.Client, s.Config.RateLimitPerMin)
	}
	return httpmiddleware.NewTokenBucket(s.Config.RateLimitPerMin, s.Config.RateLimitPerMin)
}

// Checks are the dependencies reported on /healthz.
func (s *Stack) Checks() map[string]handler.Check {
	checks := map[string]handler.Check{}
	if s.DB != nil {
		checks["db"] = s.DB.Healthy
	}
	if s.Redis != nil {
		checks["redis"] = s.Redis.Healthy
	}
	return checks
}

// Router builds the HTTP engine with the middleware chain and all routes.
func (s *Stack) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(s.Logger.Named("http"), "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	h := handler.New(handler.Deps{
		Sessions:     s.Sessions,
		Attendance:   s.Attendance,
		Exports:      s.Exports,
		Users:        s.Users,
		Issuer:       s.Issuer,
		AuthRequired: s.Config.AuthRequired,
		Logger:       s.Logger.Named("handler"),
		Metrics:      s.Metrics,
	})
	r.GET("/healthz", h.Health(s.Checks()))
	r.GET("/metrics", handler.Metrics(s.Registry))

	api := r.Group("")
	api.Use(httpmiddleware.RateLimit(s.Limiter(), s.Logger))
	api.Use(auth.Authenticate(s.Issuer))
	h.Register(api)
	return r
}

// Close releases storage connections.
func (s *Stack) Close() {
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.Logger.Warn("close db", zap.Error(err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Logger.Warn("close redis", zap.Error(err))
		}
	}
}

// String summarizes the selected backends for the startup log.
func (s *Stack) String() string {
	return fmt.Sprintf("db=%s queue=%s ratelimit=%s proximity=%s policy=%s auth_required=%t",
		s.Config.DBDriver, s.Config.QueueBackend, s.Config.RateLimitBackend,
		s.Config.ProximityMode, s.Config.ConflictPolicy, s.Config.AuthRequired)
}
