package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"mediaingest/internal/content"
	"mediaingest/internal/metrics"
	"mediaingest/internal/models"
	"mediaingest/internal/storage"
)

// Enqueuer publishes image tasks. *queue.Producer satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, tasks ...models.ImageTask) ([]models.ImageTask, error)
}

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	http     *http.Server
	db       *storage.Storage
	store    content.Store
	producer Enqueuer
	log      zerolog.Logger
}

func NewServer(cfg *models.Config, db *storage.Storage, store content.Store, producer Enqueuer, log zerolog.Logger) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		router:   r,
		db:       db,
		store:    store,
		producer: producer,
		log:      log.With().Str("component", "http").Logger(),
	}
	r.Use(s.requestLogger())

	api := r.Group("/api/v1")
	api.POST("/tasks", s.handleCreateTask)
	api.POST("/products/:id/images", s.handleImportImages)
	api.PUT("/products/:id", s.handlePutProduct)
	api.GET("/products/:id/media", s.handleListProductMedia)
	api.GET("/variants/:id/images", s.handleListVariantImages)
	api.GET("/media/:id", s.handleGetMedia)
	api.DELETE("/media/:id", s.handleDeleteMedia)

	r.GET("/files/*key", s.handleGetFile)
	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.http = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.ServerAddr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.RecordRequest(c.Request.Method, route, strconv.Itoa(status))

		ev := s.log.Debug()
		if status >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
