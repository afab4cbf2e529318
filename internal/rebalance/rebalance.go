// Package rebalance keeps each assessment's stored plan in step with what
// happened: it regenerates the plan on assessment changes and, when a day is
// marked studied or skipped, recomputes every later pending entry.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
	"github.com/conorfennell/knolplan/internal/logger"
	"github.com/conorfennell/knolplan/internal/performance"
	"github.com/conorfennell/knolplan/internal/planner"
)

// AssessmentStore reads assessments.
type AssessmentStore interface {
	GetAssessment(ctx context.Context, id string) (domain.Assessment, error)
}

// DeckRepository lists decks with their sections.
type DeckRepository interface {
	ListDecks(ctx context.Context, ids []string) ([]domain.Deck, error)
}

// PracticeLogStore reads the append-only practice log.
type PracticeLogStore interface {
	ListPractice(ctx context.Context, deckIDs []string) ([]domain.PracticeLogEntry, error)
}

// PlanStore persists plans. ReplacePlan must be all-or-nothing and fail with
// domain.ErrConcurrentRebalance when the revision has moved.
type PlanStore interface {
	LoadPlan(ctx context.Context, assessmentID string) ([]domain.PlanEntry, int64, error)
	ReplacePlan(ctx context.Context, assessmentID string, expectedRevision int64, entries []domain.PlanEntry) error
	DeletePlan(ctx context.Context, assessmentID string) error
}

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// Deps are the collaborators of a Rebalancer.
type Deps struct {
	Assessments AssessmentStore
	Decks       DeckRepository
	Practice    PracticeLogStore
	Plans       PlanStore
	Allocator   *planner.Allocator
	Aggregator  *performance.Aggregator
	Clock       Clock
	Log         *logger.Logger
}

// Rebalancer regenerates plans. Work on one assessment is serialised;
// different assessments are independent.
type Rebalancer struct {
	assessments AssessmentStore
	decks       DeckRepository
	practice    PracticeLogStore
	plans       PlanStore
	allocator   *planner.Allocator
	aggregator  *performance.Aggregator
	clock       Clock
	log         *logger.Logger
	locks       *keyedMutex
}

// New creates a Rebalancer.
func New(d Deps) *Rebalancer {
	clock := d.Clock
	if clock == nil {
		clock = SystemClock
	}
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	return &Rebalancer{
		assessments: d.Assessments,
		decks:       d.Decks,
		practice:    d.Practice,
		plans:       d.Plans,
		allocator:   d.Allocator,
		aggregator:  d.Aggregator,
		clock:       clock,
		log:         log.With("service", "Rebalancer"),
		locks:       newKeyedMutex(),
	}
}

// Lock holds the assessment's lock until the returned func is called.
// Callers that mutate an assessment and its plan together use it so the
// pair changes as one step.
func (r *Rebalancer) Lock(assessmentID string) func() {
	return r.locks.Lock(assessmentID)
}

// Generate builds a fresh plan for a from today without storing it.
func (r *Rebalancer) Generate(ctx context.Context, a domain.Assessment, today time.Time) ([]domain.PlanEntry, error) {
	decks, err := r.decks.ListDecks(ctx, a.DeckIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load decks of assessment %s: %w", a.ID, err)
	}
	log, err := r.practice.ListPractice(ctx, a.DeckIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load practice of assessment %s: %w", a.ID, err)
	}
	metrics := r.aggregator.ComputeAll(a.DeckIDs, log, r.clock.Now())
	return r.allocator.Generate(a, decks, metrics, today)
}

// OnAssessmentCreated stores a freshly generated plan for a.
// The caller must hold the assessment's lock.
func (r *Rebalancer) OnAssessmentCreated(ctx context.Context, a domain.Assessment) ([]domain.PlanEntry, error) {
	return r.regenerate(ctx, a, func(domain.PlanEntry) bool { return false }, time.Time{})
}

// OnAssessmentUpdated drops every future pending entry of a and regenerates
// them; today's entries and resolved history stay. The caller must hold the
// assessment's lock.
func (r *Rebalancer) OnAssessmentUpdated(ctx context.Context, a domain.Assessment) ([]domain.PlanEntry, error) {
	today := domain.Day(r.clock.Now())
	keep := func(e domain.PlanEntry) bool {
		return e.Status != domain.Pending || !e.Date.After(today)
	}
	return r.regenerate(ctx, a, keep, today)
}

// OnAssessmentDeleted removes the whole plan, resolved entries included.
// The caller must hold the assessment's lock.
func (r *Rebalancer) OnAssessmentDeleted(ctx context.Context, assessmentID string) error {
	if err := r.plans.DeletePlan(ctx, assessmentID); err != nil {
		return err
	}
	r.log.Info("plan deleted", "assessment_id", assessmentID)
	return nil
}

// OnDayResolved marks one entry studied or skipped and regenerates every
// pending entry after that day, or after today when the day is past.
// Resolved entries are never rewritten.
func (r *Rebalancer) OnDayResolved(ctx context.Context, assessmentID string, date time.Time, deckID string, status domain.PlanStatus, actualMinutes *int) ([]domain.PlanEntry, error) {
	if !status.Resolved() {
		return nil, fmt.Errorf("%w: status %q cannot resolve a day", domain.ErrInvalidResponse, status)
	}
	if actualMinutes != nil && *actualMinutes < 0 {
		return nil, fmt.Errorf("%w: negative actual minutes %d", domain.ErrInvalidResponse, *actualMinutes)
	}

	unlock := r.locks.Lock(assessmentID)
	defer unlock()

	a, err := r.assessments.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	existing, revision, err := r.plans.LoadPlan(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	day := domain.Day(date)
	key := domain.PlanKey{Date: domain.DayString(day), DeckID: deckID, AssessmentID: assessmentID}
	// Pending entries up to today stay; regeneration only covers later days.
	from := day
	if today := domain.Day(r.clock.Now()); today.After(from) {
		from = today
	}
	found := false
	kept := make([]domain.PlanEntry, 0, len(existing))
	for _, e := range existing {
		if e.Key() == key {
			e.Status = status
			if actualMinutes != nil {
				v := *actualMinutes
				e.ActualMinutes = &v
			}
			found = true
		} else if e.Status == domain.Pending && e.Date.After(from) {
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return nil, fmt.Errorf("plan entry %s: %w", key, domain.ErrNotFound)
	}

	generated, err := r.Generate(ctx, a, r.clock.Now())
	if err != nil && !errors.Is(err, domain.ErrNoDecksSelected) {
		return nil, err
	}
	if err != nil {
		r.log.Warn("no decks left to plan", "assessment_id", assessmentID)
	}

	entries := merge(kept, generated, from)
	if err := r.plans.ReplacePlan(ctx, assessmentID, revision, entries); err != nil {
		return nil, err
	}
	r.log.Info("day resolved",
		"assessment_id", assessmentID,
		"date", key.Date,
		"deck_id", deckID,
		"status", string(status),
		"entries", len(entries),
	)
	return entries, nil
}

// regenerate keeps the existing entries accepted by keep and adds generated
// entries after from that do not collide with a kept entry.
func (r *Rebalancer) regenerate(ctx context.Context, a domain.Assessment, keep func(domain.PlanEntry) bool, from time.Time) ([]domain.PlanEntry, error) {
	existing, revision, err := r.plans.LoadPlan(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	var kept []domain.PlanEntry
	for _, e := range existing {
		if keep(e) {
			kept = append(kept, e)
		}
	}

	generated, genErr := r.Generate(ctx, a, r.clock.Now())
	if genErr != nil && !errors.Is(genErr, domain.ErrNoDecksSelected) {
		return nil, genErr
	}

	entries := merge(kept, generated, from)
	if err := r.plans.ReplacePlan(ctx, a.ID, revision, entries); err != nil {
		return nil, err
	}
	r.log.Info("plan regenerated", "assessment_id", a.ID, "kept", len(kept), "entries", len(entries))
	return entries, genErr
}

// merge adds generated entries dated after from to kept, skipping keys that
// kept already holds, and sorts the result by date then deck.
func merge(kept, generated []domain.PlanEntry, from time.Time) []domain.PlanEntry {
	taken := make(map[domain.PlanKey]bool, len(kept))
	for _, e := range kept {
		taken[e.Key()] = true
	}
	out := append([]domain.PlanEntry{}, kept...)
	for _, e := range generated {
		if !e.Date.After(from) || taken[e.Key()] {
			continue
		}
		taken[e.Key()] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].DeckID < out[j].DeckID
	})
	return out
}
