package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conorfennell/knolplan/internal/domain"
)

type reviewRequest struct {
	Response domain.StudyResponse `json:"response" binding:"required"`
}

type practiceRequest struct {
	DeckID       string `json:"deck_id" binding:"required"`
	CorrectCards int    `json:"correct_cards"`
	TotalCards   int    `json:"total_cards"`
}

// GET /api/decks
func (s *Server) listDecks(c *gin.Context) {
	decks, err := s.svc.Decks(c.Request.Context())
	if err != nil {
		s.fail(c, "listDecks", err)
		return
	}
	respondOK(c, gin.H{"decks": decks})
}

// GET /api/decks/:id/due
func (s *Server) dueCards(c *gin.Context) {
	cards, err := s.svc.DueCards(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "dueCards", err)
		return
	}
	respondOK(c, gin.H{"cards": cards})
}

// GET /api/sections/:id/due
func (s *Server) dueCardsInSection(c *gin.Context) {
	cards, err := s.svc.DueCardsInSection(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "dueCardsInSection", err)
		return
	}
	respondOK(c, gin.H{"cards": cards})
}

// GET /api/decks/:id/metrics
func (s *Server) deckMetrics(c *gin.Context) {
	m, err := s.svc.ComputeMetrics(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "deckMetrics", err)
		return
	}
	respondOK(c, m)
}

// GET /api/cards/:id/recall
func (s *Server) recallProbability(c *gin.Context) {
	p, err := s.svc.RecallProbability(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "recallProbability", err)
		return
	}
	respondOK(c, gin.H{"card_id": c.Param("id"), "probability": p})
}

// GET /api/cards/:id/preview
// The card each response would produce, keyed by response name.
func (s *Server) previewReview(c *gin.Context) {
	preview, err := s.svc.PreviewReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "previewReview", err)
		return
	}
	out := make(map[string]domain.Card, len(preview))
	for r, card := range preview {
		out[r.String()] = card
	}
	respondOK(c, gin.H{"preview": out})
}

// POST /api/cards/:id/review
func (s *Server) reviewCard(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	card, err := s.svc.ReviewCard(c.Request.Context(), c.Param("id"), req.Response)
	if err != nil {
		s.fail(c, "reviewCard", err)
		return
	}
	respondOK(c, gin.H{"card": card})
}

// POST /api/practice
func (s *Server) recordPractice(c *gin.Context) {
	var req practiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	entry := domain.PracticeLogEntry{DeckID: req.DeckID, CorrectCards: req.CorrectCards, TotalCards: req.TotalCards}
	if err := s.svc.RecordPractice(c.Request.Context(), entry); err != nil {
		s.fail(c, "recordPractice", err)
		return
	}
	c.Status(http.StatusNoContent)
}
