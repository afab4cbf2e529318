package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/conorfennell/knolplan/internal/storage"
)

type sourceRequest struct {
	Path string `json:"path" binding:"required"`
}

type sourceResponse struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
}

func newSourceResponse(src storage.Source) sourceResponse {
	out := sourceResponse{ID: src.ID, Path: src.Path, Type: src.Type}
	if src.LastScanned.Valid {
		t := src.LastScanned.Time
		out.LastScanned = &t
	}
	return out
}

// GET /api/sources
func (s *Server) listSources(c *gin.Context) {
	sources, err := s.sources.Sources(c.Request.Context())
	if err != nil {
		s.fail(c, "listSources", err)
		return
	}
	out := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, newSourceResponse(src))
	}
	respondOK(c, gin.H{"sources": out})
}

// POST /api/sources
func (s *Server) addSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	src, err := s.sources.AddSource(c.Request.Context(), req.Path)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"source": newSourceResponse(src)})
}

// DELETE /api/sources/:id
func (s *Server) removeSource(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid source id %q", c.Param("id")))
		return
	}
	if err := s.sources.RemoveSource(c.Request.Context(), id); err != nil {
		s.fail(c, "removeSource", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/sync
// Runs in the foreground so the caller sees the result.
func (s *Server) runSync(c *gin.Context) {
	report, err := s.sources.Run(c.Request.Context())
	if err != nil {
		s.fail(c, "runSync", err)
		return
	}
	respondOK(c, gin.H{"report": report})
}
