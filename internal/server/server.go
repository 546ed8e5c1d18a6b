package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/autopost/internal/config"
	"github.com/ifuryst/autopost/internal/service"
	"github.com/ifuryst/autopost/internal/service/publisher"
	"github.com/ifuryst/autopost/internal/service/publisher/dryrun"
	"github.com/ifuryst/autopost/internal/service/publisher/linkedin"
	"github.com/ifuryst/autopost/internal/storage"
)

const shutdownTimeout = 30 * time.Second

type Server struct {
	Config *config.Config
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	Stores     *service.Stores
	Media      storage.MediaStore
	Uploader   *storage.Uploader
	Publishers *publisher.Manager
	Monitor    *service.Monitor

	// Services
	Posts     *service.PostService
	Templates *service.TemplateService
	Scheduler *service.Scheduler
}

// Components are the pieces NewServer builds from configuration. Tests pass
// their own to Build.
type Components struct {
	Stores    *service.Stores
	Media     storage.MediaStore
	Publisher service.PostPublisher
	Monitor   *service.Monitor
}

func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, hub *sentry.Hub) (*Server, error) {
	stores, err := service.OpenStores(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	media, err := storage.New(ctx, cfg, logger)
	if err != nil {
		_ = stores.Close(ctx)
		return nil, fmt.Errorf("failed to initialize media storage: %w", err)
	}

	manager := publisher.NewPublishManager(logger)
	for _, p := range []publisher.Publisher{
		linkedin.NewPublisher(cfg.Publisher.LinkedIn, logger),
		dryrun.NewPublisher(cfg.Publisher.DryRunDelayDuration(), logger),
	} {
		if err := manager.RegisterPublisher(p); err != nil {
			_ = stores.Close(ctx)
			return nil, err
		}
	}

	inner, err := manager.GetPublisher(cfg.Publisher.Type)
	if err != nil {
		_ = stores.Close(ctx)
		return nil, err
	}
	guard := publisher.NewGuard(inner, cfg.Publisher.TimeoutDuration(), logger,
		publisher.WithMedia(media),
		publisher.WithMinInterval(cfg.Publisher.MinIntervalDuration()),
	)

	srv := Build(cfg, logger, Components{
		Stores:    stores,
		Media:     media,
		Publisher: guard,
		Monitor:   service.NewMonitor(logger, hub),
	})
	srv.Publishers = manager

	logger.Info("Publisher configured",
		zap.String("publisher", inner.Name()),
		zap.Strings("available", manager.Names()),
		zap.Duration("timeout", guard.Timeout()))

	return srv, nil
}

// Build wires services, middleware and routes around already opened
// components.
func Build(cfg *config.Config, logger *zap.Logger, c Components) *Server {
	gin.SetMode(cfg.Server.Mode)

	monitor := c.Monitor
	if monitor == nil {
		monitor = service.NewMonitor(logger, nil)
	}

	srv := &Server{
		Config:    cfg,
		Router:    gin.New(),
		Logger:    logger,
		Stores:    c.Stores,
		Media:     c.Media,
		Uploader:  storage.NewUploader(c.Media, &cfg.Upload),
		Monitor:   monitor,
		Posts:     service.NewPostService(c.Stores.Posts, logger),
		Templates: service.NewTemplateService(c.Stores.Templates, logger),
		Scheduler: service.NewScheduler(&cfg.Scheduler, c.Stores.Posts, c.Publisher, monitor, logger,
			service.WithPublishTimeout(cfg.Publisher.TimeoutDuration())),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health"},
	}))

	s.Router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/uploads"})))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", s.handleHealth)

	if local, ok := s.Media.(*storage.LocalStore); ok {
		s.Router.Static("/uploads", local.Dir())
	}

	api := s.Router.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)

		posts := api.Group("/posts")
		{
			posts.GET("", s.handleListPosts)
			posts.POST("", s.handleCreatePost)
			posts.POST("/upload", s.handleUpload)
			posts.GET("/:id", s.handleGetPost)
			posts.PUT("/:id", s.handleUpdatePost)
			posts.DELETE("/:id", s.handleDeletePost)
			posts.POST("/:id/publish", s.handlePublishNow)
		}

		api.POST("/schedule/:id", s.handleSchedulePost)
		api.POST("/publish/:id", s.handlePublishNow)
		api.GET("/scheduled", s.handleListScheduled)
		api.GET("/stats", s.handleStats)

		scheduler := api.Group("/scheduler")
		{
			scheduler.GET("/status", s.handleSchedulerStatus)
			scheduler.POST("/trigger", s.handleTriggerTick)
			scheduler.POST("/reconcile", s.handleReconcile)
		}

		templates := api.Group("/templates")
		{
			templates.GET("", s.handleListTemplates)
			templates.POST("", s.handleCreateTemplate)
			templates.GET("/:id", s.handleGetTemplate)
			templates.POST("/:id/fill", s.handleFillTemplate)
			templates.DELETE("/:id", s.handleDeleteTemplate)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Stop taking requests, then let the running tick finish its post.
	var err error
	if s.Server != nil {
		err = s.Server.Shutdown(shutdownCtx)
	}
	s.Scheduler.Stop(shutdownCtx)

	if closeErr := s.Close(shutdownCtx); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close releases the database connection.
func (s *Server) Close(ctx context.Context) error {
	if s.Stores == nil {
		return nil
	}
	return s.Stores.Close(ctx)
}
