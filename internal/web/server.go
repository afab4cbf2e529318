// Package web serves the scheduling operations as a JSON API.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/conorfennell/knolplan/internal/logger"
	"github.com/conorfennell/knolplan/internal/storage"
	"github.com/conorfennell/knolplan/internal/study"
	"github.com/conorfennell/knolplan/internal/sync"
)

// SourceManager manages deck sources and imports them.
type SourceManager interface {
	Sources(ctx context.Context) ([]storage.Source, error)
	AddSource(ctx context.Context, path string) (storage.Source, error)
	RemoveSource(ctx context.Context, id int64) error
	Run(ctx context.Context) (sync.Report, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	svc     *study.Service
	sources SourceManager
	log     *logger.Logger
	router  *gin.Engine
}

// NewServer creates and configures a new server. Browsers on corsOrigins
// may call the API.
func NewServer(svc *study.Service, sources SourceManager, log *logger.Logger, corsOrigins ...string) *Server {
	s := &Server{
		svc:     svc,
		sources: sources,
		log:     log.With("service", "WebServer"),
		router:  gin.New(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	if len(corsOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: corsOrigins,
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.GET("/healthcheck", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := s.router.Group("/api")
	{
		api.GET("/decks", s.listDecks)
		api.GET("/decks/:id/due", s.dueCards)
		api.GET("/decks/:id/metrics", s.deckMetrics)
		api.GET("/sections/:id/due", s.dueCardsInSection)

		api.GET("/cards/:id/recall", s.recallProbability)
		api.GET("/cards/:id/preview", s.previewReview)
		api.POST("/cards/:id/review", s.reviewCard)

		api.POST("/practice", s.recordPractice)

		api.GET("/assessments", s.listAssessments)
		api.POST("/assessments", s.createAssessment)
		api.GET("/assessments/:id", s.getAssessment)
		api.PUT("/assessments/:id", s.updateAssessment)
		api.DELETE("/assessments/:id", s.deleteAssessment)
		api.GET("/assessments/:id/plan", s.getPlan)
		api.GET("/assessments/:id/plan/preview", s.previewPlan)
		api.POST("/assessments/:id/plan/results", s.recordDayResult)

		api.GET("/sources", s.listSources)
		api.POST("/sources", s.addSource)
		api.DELETE("/sources/:id", s.removeSource)
		api.POST("/sync", s.runSync)
	}
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
