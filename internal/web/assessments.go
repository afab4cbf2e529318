package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conorfennell/knolplan/internal/domain"
)

type assessmentRequest struct {
	Name         string             `json:"name"`
	Date         string             `json:"date" binding:"required"`
	Weight       int                `json:"weight"`
	DeckIDs      []string           `json:"deck_ids"`
	DeckWeights  map[string]float64 `json:"deck_weights"`
	DailyMinutes int                `json:"daily_minutes"`
}

func (r assessmentRequest) toDomain(id string) (domain.Assessment, error) {
	date, err := domain.ParseDay(r.Date)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	weight := r.Weight
	if weight == 0 {
		weight = 1
	}
	return domain.Assessment{
		ID:           id,
		Name:         r.Name,
		Date:         date,
		Weight:       weight,
		DeckIDs:      r.DeckIDs,
		DeckWeights:  r.DeckWeights,
		DailyMinutes: r.DailyMinutes,
	}, nil
}

type assessmentResponse struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Date         string             `json:"date"`
	Weight       int                `json:"weight"`
	DeckIDs      []string           `json:"deck_ids"`
	DeckWeights  map[string]float64 `json:"deck_weights,omitempty"`
	DailyMinutes int                `json:"daily_minutes"`
}

func newAssessmentResponse(a domain.Assessment) assessmentResponse {
	return assessmentResponse{
		ID:           a.ID,
		Name:         a.Name,
		Date:         domain.DayString(a.Date),
		Weight:       a.Weight,
		DeckIDs:      a.DeckIDs,
		DeckWeights:  a.DeckWeights,
		DailyMinutes: a.DailyMinutes,
	}
}

type planEntryResponse struct {
	Date          string            `json:"date"`
	DeckID        string            `json:"deck_id"`
	TargetMinutes int               `json:"target_minutes"`
	ActualMinutes *int              `json:"actual_minutes,omitempty"`
	Status        domain.PlanStatus `json:"status"`
}

func newPlanResponse(entries []domain.PlanEntry) []planEntryResponse {
	out := make([]planEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, planEntryResponse{
			Date:          domain.DayString(e.Date),
			DeckID:        e.DeckID,
			TargetMinutes: e.TargetMinutes,
			ActualMinutes: e.ActualMinutes,
			Status:        e.Status,
		})
	}
	return out
}

type dayResultRequest struct {
	Date          string            `json:"date" binding:"required"`
	DeckID        string            `json:"deck_id" binding:"required"`
	Status        domain.PlanStatus `json:"status" binding:"required"`
	ActualMinutes *int              `json:"actual_minutes"`
}

// GET /api/assessments
func (s *Server) listAssessments(c *gin.Context) {
	all, err := s.svc.ListAssessments(c.Request.Context())
	if err != nil {
		s.fail(c, "listAssessments", err)
		return
	}
	out := make([]assessmentResponse, 0, len(all))
	for _, a := range all {
		out = append(out, newAssessmentResponse(a))
	}
	respondOK(c, gin.H{"assessments": out})
}

// GET /api/assessments/:id
func (s *Server) getAssessment(c *gin.Context) {
	a, err := s.svc.Assessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "getAssessment", err)
		return
	}
	respondOK(c, gin.H{"assessment": newAssessmentResponse(a)})
}

// POST /api/assessments
// When none of the decks exist the assessment is still created; the
// response carries a warning and an empty plan.
func (s *Server) createAssessment(c *gin.Context) {
	var req assessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in, err := req.toDomain("")
	if err != nil {
		badRequest(c, err)
		return
	}
	a, plan, err := s.svc.CreateAssessment(c.Request.Context(), in)
	body := gin.H{}
	if err != nil {
		if !errors.Is(err, domain.ErrNoDecksSelected) || a.ID == "" {
			s.fail(c, "createAssessment", err)
			return
		}
		body["warning"] = err.Error()
	}
	body["assessment"] = newAssessmentResponse(a)
	body["plan"] = newPlanResponse(plan)
	c.JSON(http.StatusCreated, body)
}

// PUT /api/assessments/:id
func (s *Server) updateAssessment(c *gin.Context) {
	var req assessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in, err := req.toDomain(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return
	}
	a, plan, err := s.svc.UpdateAssessment(c.Request.Context(), in)
	body := gin.H{}
	if err != nil {
		if !errors.Is(err, domain.ErrNoDecksSelected) || a.ID == "" {
			s.fail(c, "updateAssessment", err)
			return
		}
		body["warning"] = err.Error()
	}
	body["assessment"] = newAssessmentResponse(a)
	body["plan"] = newPlanResponse(plan)
	respondOK(c, body)
}

// DELETE /api/assessments/:id
func (s *Server) deleteAssessment(c *gin.Context) {
	if err := s.svc.DeleteAssessment(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, "deleteAssessment", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/assessments/:id/plan
func (s *Server) getPlan(c *gin.Context) {
	plan, err := s.svc.Plan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "getPlan", err)
		return
	}
	respondOK(c, gin.H{"plan": newPlanResponse(plan)})
}

// GET /api/assessments/:id/plan/preview
// A freshly generated plan that is not stored.
func (s *Server) previewPlan(c *gin.Context) {
	plan, err := s.svc.GeneratePlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "previewPlan", err)
		return
	}
	respondOK(c, gin.H{"plan": newPlanResponse(plan)})
}

// POST /api/assessments/:id/plan/results
func (s *Server) recordDayResult(c *gin.Context) {
	var req dayResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	date, err := domain.ParseDay(req.Date)
	if err != nil {
		badRequest(c, fmt.Errorf("date must be YYYY-MM-DD: %w", err))
		return
	}
	plan, err := s.svc.RecordDayResult(c.Request.Context(), c.Param("id"), date, req.DeckID, req.Status, req.ActualMinutes)
	if err != nil {
		s.fail(c, "recordDayResult", err)
		return
	}
	respondOK(c, gin.H{"plan": newPlanResponse(plan)})
}
