// Package study is the single entry point the HTTP layer and the CLI call.
// It sequences the memory model, the aggregator, the allocator and the
// rebalancer over the stores; it holds no scheduling logic of its own.
package study

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/knolplan/internal/domain"
	"github.com/conorfennell/knolplan/internal/fsrs"
	"github.com/conorfennell/knolplan/internal/logger"
	"github.com/conorfennell/knolplan/internal/performance"
	"github.com/conorfennell/knolplan/internal/rebalance"
)

// CardRepository reads and writes cards.
type CardRepository interface {
	GetCard(ctx context.Context, id string) (domain.Card, error)
	SaveCard(ctx context.Context, card domain.Card) error
	ListCardsByDeck(ctx context.Context, deckID string) ([]domain.Card, error)
	ListCardsBySection(ctx context.Context, sectionID string) ([]domain.Card, error)
}

// DeckRepository reads decks with their sections.
type DeckRepository interface {
	rebalance.DeckRepository
	GetDeck(ctx context.Context, id string) (domain.Deck, error)
}

// AssessmentStore is full CRUD over assessments.
type AssessmentStore interface {
	rebalance.AssessmentStore
	CreateAssessment(ctx context.Context, a domain.Assessment) error
	UpdateAssessment(ctx context.Context, a domain.Assessment) error
	DeleteAssessment(ctx context.Context, id string) error
	ListAssessments(ctx context.Context) ([]domain.Assessment, error)
}

// PracticeLogStore appends to and reads the practice log.
type PracticeLogStore interface {
	rebalance.PracticeLogStore
	AppendPractice(ctx context.Context, entry domain.PracticeLogEntry) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Cards       CardRepository
	Decks       DeckRepository
	Assessments AssessmentStore
	Practice    PracticeLogStore
	Plans       rebalance.PlanStore
	Memory      *fsrs.Params
	Aggregator  *performance.Aggregator
	Rebalancer  *rebalance.Rebalancer
	Clock       rebalance.Clock
	Log         *logger.Logger
	// Parallelism bounds RebalanceAll; zero means 4.
	Parallelism int
}

// Service implements the scheduling operations.
type Service struct {
	cards       CardRepository
	decks       DeckRepository
	assessments AssessmentStore
	practice    PracticeLogStore
	plans       rebalance.PlanStore
	memory      *fsrs.Params
	aggregator  *performance.Aggregator
	rebalancer  *rebalance.Rebalancer
	clock       rebalance.Clock
	validate    *validator.Validate
	log         *logger.Logger
	parallelism int
}

// New creates a Service.
func New(d Deps) *Service {
	s := &Service{
		cards:       d.Cards,
		decks:       d.Decks,
		assessments: d.Assessments,
		practice:    d.Practice,
		plans:       d.Plans,
		memory:      d.Memory,
		aggregator:  d.Aggregator,
		rebalancer:  d.Rebalancer,
		clock:       d.Clock,
		validate:    validator.New(),
		log:         d.Log,
		parallelism: d.Parallelism,
	}
	if s.memory == nil {
		s.memory = fsrs.DefaultParams()
	}
	if s.aggregator == nil {
		s.aggregator = performance.New(performance.DefaultConfig())
	}
	if s.clock == nil {
		s.clock = rebalance.SystemClock
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("service", "StudyService")
	if s.parallelism <= 0 {
		s.parallelism = 4
	}
	return s
}

// InitCard returns the memory state of a card that was never reviewed.
func (s *Service) InitCard() domain.Card {
	return fsrs.InitCard(s.clock.Now())
}

// ReviewCard applies a response to a stored card, saves it and logs the
// review as one practised card on the card's deck.
func (s *Service) ReviewCard(ctx context.Context, cardID string, response domain.StudyResponse) (domain.Card, error) {
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		return domain.Card{}, err
	}
	now := s.clock.Now()
	next, err := s.memory.Review(card, response, now)
	if err != nil {
		return domain.Card{}, err
	}
	if err := s.cards.SaveCard(ctx, next); err != nil {
		return domain.Card{}, err
	}

	correct := 0
	if response != domain.Again {
		correct = 1
	}
	entry := domain.PracticeLogEntry{DeckID: next.DeckID, Timestamp: now, CorrectCards: correct, TotalCards: 1}
	if err := s.practice.AppendPractice(ctx, entry); err != nil {
		return domain.Card{}, err
	}
	s.log.Debug("card reviewed",
		"card_id", cardID,
		"response", response.String(),
		"state", next.State.String(),
		"scheduled_days", next.ScheduledDays,
	)
	return next, nil
}

// PreviewReview returns the card each response would produce now.
func (s *Service) PreviewReview(ctx context.Context, cardID string) (map[domain.StudyResponse]domain.Card, error) {
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	return s.memory.PreviewReview(card, s.clock.Now())
}

// DueCards returns the deck's cards due now, earliest first.
func (s *Service) DueCards(ctx context.Context, deckID string) ([]domain.Card, error) {
	if _, err := s.decks.GetDeck(ctx, deckID); err != nil {
		return nil, err
	}
	cards, err := s.cards.ListCardsByDeck(ctx, deckID)
	if err != nil {
		return nil, err
	}
	return sortDue(fsrs.DueCards(cards, s.clock.Now())), nil
}

// DueCardsInSection is DueCards restricted to one section.
func (s *Service) DueCardsInSection(ctx context.Context, sectionID string) ([]domain.Card, error) {
	cards, err := s.cards.ListCardsBySection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return sortDue(fsrs.DueCards(cards, s.clock.Now())), nil
}

func sortDue(cards []domain.Card) []domain.Card {
	sort.SliceStable(cards, func(i, j int) bool {
		if !cards[i].NextReview.Equal(cards[j].NextReview) {
			return cards[i].NextReview.Before(cards[j].NextReview)
		}
		return cards[i].ID < cards[j].ID
	})
	return cards
}

// RecallProbability returns the chance of recalling the card now.
func (s *Service) RecallProbability(ctx context.Context, cardID string) (float64, error) {
	card, err := s.cards.GetCard(ctx, cardID)
	if err != nil {
		return 0, err
	}
	return s.memory.RecallProbability(card, s.clock.Now()), nil
}

// Decks lists every deck with its sections.
func (s *Service) Decks(ctx context.Context) ([]domain.Deck, error) {
	return s.decks.ListDecks(ctx, nil)
}

// RecordPractice appends a practice result. A zero timestamp means now.
func (s *Service) RecordPractice(ctx context.Context, entry domain.PracticeLogEntry) error {
	if entry.TotalCards <= 0 || entry.CorrectCards < 0 || entry.CorrectCards > entry.TotalCards {
		return fmt.Errorf("%w: %d of %d cards correct", domain.ErrInvalidResponse, entry.CorrectCards, entry.TotalCards)
	}
	if _, err := s.decks.GetDeck(ctx, entry.DeckID); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock.Now()
	}
	return s.practice.AppendPractice(ctx, entry)
}

// ComputeMetrics returns the deck's metrics ranked against every other deck.
func (s *Service) ComputeMetrics(ctx context.Context, deckID string) (domain.DeckMetrics, error) {
	decks, err := s.decks.ListDecks(ctx, nil)
	if err != nil {
		return domain.DeckMetrics{}, err
	}
	ids := make([]string, 0, len(decks))
	found := false
	for _, d := range decks {
		ids = append(ids, d.ID)
		found = found || d.ID == deckID
	}
	if !found {
		return domain.DeckMetrics{}, fmt.Errorf("deck %s: %w", deckID, domain.ErrNotFound)
	}
	log, err := s.practice.ListPractice(ctx, ids)
	if err != nil {
		return domain.DeckMetrics{}, err
	}
	return s.aggregator.ComputeAll(ids, log, s.clock.Now())[deckID], nil
}

// ListAssessments returns every assessment.
func (s *Service) ListAssessments(ctx context.Context) ([]domain.Assessment, error) {
	return s.assessments.ListAssessments(ctx)
}

// Assessment returns one assessment.
func (s *Service) Assessment(ctx context.Context, id string) (domain.Assessment, error) {
	return s.assessments.GetAssessment(ctx, id)
}

// CreateAssessment stores a new assessment and its first plan. When none of
// the referenced decks exist the assessment is kept with an empty plan and
// ErrNoDecksSelected is returned alongside it. Any other failure leaves
// nothing stored.
func (s *Service) CreateAssessment(ctx context.Context, a domain.Assessment) (domain.Assessment, []domain.PlanEntry, error) {
	if err := s.check(a); err != nil {
		return domain.Assessment{}, nil, err
	}
	today := domain.Day(s.clock.Now())
	a.Date = domain.Day(a.Date)
	if !a.Date.After(today) {
		return domain.Assessment{}, nil, fmt.Errorf("%w: %s", domain.ErrPastDueAssessment, domain.DayString(a.Date))
	}
	a.ID = uuid.NewString()

	unlock := s.rebalancer.Lock(a.ID)
	defer unlock()
	if err := s.assessments.CreateAssessment(ctx, a); err != nil {
		return domain.Assessment{}, nil, err
	}
	entries, err := s.rebalancer.OnAssessmentCreated(ctx, a)
	if errors.Is(err, domain.ErrNoDecksSelected) {
		s.log.Warn("assessment has no known decks", "assessment_id", a.ID)
		return a, entries, err
	}
	if err != nil {
		if derr := s.assessments.DeleteAssessment(ctx, a.ID); derr != nil {
			s.log.Error("failed to undo assessment create", "assessment_id", a.ID, "error", derr)
		}
		return domain.Assessment{}, nil, err
	}
	s.log.Info("assessment created", "assessment_id", a.ID, "date", domain.DayString(a.Date), "entries", len(entries))
	return a, entries, nil
}

// UpdateAssessment replaces a stored assessment and regenerates its future
// pending plan entries. If the plan cannot be regenerated the previous
// assessment is restored.
func (s *Service) UpdateAssessment(ctx context.Context, a domain.Assessment) (domain.Assessment, []domain.PlanEntry, error) {
	if err := s.check(a); err != nil {
		return domain.Assessment{}, nil, err
	}
	a.Date = domain.Day(a.Date)

	unlock := s.rebalancer.Lock(a.ID)
	defer unlock()
	prev, err := s.assessments.GetAssessment(ctx, a.ID)
	if err != nil {
		return domain.Assessment{}, nil, err
	}
	if err := s.assessments.UpdateAssessment(ctx, a); err != nil {
		return domain.Assessment{}, nil, err
	}
	entries, err := s.rebalancer.OnAssessmentUpdated(ctx, a)
	if errors.Is(err, domain.ErrNoDecksSelected) {
		return a, entries, err
	}
	if err != nil {
		if rerr := s.assessments.UpdateAssessment(ctx, prev); rerr != nil {
			s.log.Error("failed to restore assessment", "assessment_id", a.ID, "error", rerr)
		}
		return domain.Assessment{}, nil, err
	}
	s.log.Info("assessment updated", "assessment_id", a.ID, "entries", len(entries))
	return a, entries, nil
}

// DeleteAssessment removes an assessment and its whole plan.
func (s *Service) DeleteAssessment(ctx context.Context, id string) error {
	unlock := s.rebalancer.Lock(id)
	defer unlock()
	if _, err := s.assessments.GetAssessment(ctx, id); err != nil {
		return err
	}
	if err := s.rebalancer.OnAssessmentDeleted(ctx, id); err != nil {
		return err
	}
	if err := s.assessments.DeleteAssessment(ctx, id); err != nil {
		return err
	}
	s.log.Info("assessment deleted", "assessment_id", id)
	return nil
}

// GeneratePlan computes a fresh plan for the assessment without storing it.
func (s *Service) GeneratePlan(ctx context.Context, assessmentID string) ([]domain.PlanEntry, error) {
	a, err := s.assessments.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return s.rebalancer.Generate(ctx, a, s.clock.Now())
}

// Plan returns the stored plan of an assessment.
func (s *Service) Plan(ctx context.Context, assessmentID string) ([]domain.PlanEntry, error) {
	if _, err := s.assessments.GetAssessment(ctx, assessmentID); err != nil {
		return nil, err
	}
	entries, _, err := s.plans.LoadPlan(ctx, assessmentID)
	return entries, err
}

// RecordDayResult marks one plan entry studied or skipped and returns the
// rebalanced plan.
func (s *Service) RecordDayResult(ctx context.Context, assessmentID string, date time.Time, deckID string, status domain.PlanStatus, actualMinutes *int) ([]domain.PlanEntry, error) {
	return s.rebalancer.OnDayResolved(ctx, assessmentID, date, deckID, status, actualMinutes)
}

// RebalanceAll regenerates the future of every assessment, for example after
// deck sources changed. Assessments run in parallel; the first failure is
// returned after all have finished.
func (s *Service) RebalanceAll(ctx context.Context) error {
	all, err := s.assessments.ListAssessments(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, a := range all {
		g.Go(func() error {
			unlock := s.rebalancer.Lock(a.ID)
			defer unlock()
			_, err := s.rebalancer.OnAssessmentUpdated(gctx, a)
			if errors.Is(err, domain.ErrNoDecksSelected) {
				s.log.Warn("assessment has no known decks", "assessment_id", a.ID)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to rebalance assessment %s: %w", a.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("rebalanced all assessments", "count", len(all))
	return nil
}

func (s *Service) check(a domain.Assessment) error {
	if len(a.DeckIDs) == 0 {
		return domain.ErrNoDecksSelected
	}
	if err := s.validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidAssessment, err)
	}
	for id := range a.DeckWeights {
		if !slices.Contains(a.DeckIDs, id) {
			return fmt.Errorf("%w: weight for deck %s outside the selection", domain.ErrInvalidAssessment, id)
		}
	}
	return nil
}
