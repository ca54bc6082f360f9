package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/siherrmann/mailrank"
	"github.com/siherrmann/mailrank/core/ingest"
)

// Server exposes the prioritization engine over HTTP
type Server struct {
	app    *mailrank.Mailrank
	source ingest.DocumentSource
	log    *slog.Logger
}

// NewServer wires the HTTP layer around a Mailrank instance. The
// document source backs the ingestion endpoints and may be nil when
// the server only ranks and searches.
func NewServer(app *mailrank.Mailrank, source ingest.DocumentSource, logger *slog.Logger) (*Server, error) {
	if app == nil {
		return nil, errors.New("mailrank instance must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{app: app, source: source, log: logger}, nil
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.Health)

	api := router.Group("/api/v1")
	api.POST("/rank", s.Rank)
	api.POST("/ingest", s.Ingest)
	api.POST("/extract", s.Extract)
	api.GET("/search", s.Search)

	return router
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()

	s.log.Info("Server listening", slog.String("addr", addr))

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
