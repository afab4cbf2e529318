// Package planner distributes study time for an assessment over the days
// left before it, giving weaker decks more sessions.
package planner

import (
	"math"
	"sort"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
	"github.com/conorfennell/knolplan/internal/performance"
)

// Config holds the cadence and budget constants of the allocator.
type Config struct {
	LowAccuracy          float64 `koanf:"low_accuracy" validate:"gt=0,lt=1"`
	HighAccuracy         float64 `koanf:"high_accuracy" validate:"gtfield=LowAccuracy,lte=1"`
	LowAccuracySessions  int     `koanf:"low_accuracy_sessions" validate:"gte=1,lte=7"`
	MidAccuracySessions  int     `koanf:"mid_accuracy_sessions" validate:"gte=1,lte=7"`
	HighAccuracySessions int     `koanf:"high_accuracy_sessions" validate:"gte=1,lte=7"`
	CoverageMultiplier   float64 `koanf:"coverage_multiplier" validate:"gte=0"`
	FallbackDailyMinutes int     `koanf:"fallback_daily_minutes" validate:"gte=1"`
	MinBlockMinutes      int     `koanf:"min_block_minutes" validate:"gte=1"`
	DecksPerSession      int     `koanf:"decks_per_session" validate:"gte=1"`
}

// DefaultConfig returns the standard cadence: 6, 4 or 3 sessions a week
// below 60%, below 80% and from 80% average accuracy.
func DefaultConfig() Config {
	return Config{
		LowAccuracy:          0.6,
		HighAccuracy:         0.8,
		LowAccuracySessions:  6,
		MidAccuracySessions:  4,
		HighAccuracySessions: 3,
		CoverageMultiplier:   1.5,
		FallbackDailyMinutes: 60,
		MinBlockMinutes:      10,
		DecksPerSession:      1,
	}
}

// Allocator generates plans. It is pure and safe for concurrent use.
type Allocator struct {
	cfg Config
}

// New creates an Allocator.
func New(cfg Config) *Allocator {
	if cfg.DecksPerSession < 1 {
		cfg.DecksPerSession = 1
	}
	return &Allocator{cfg: cfg}
}

// Config returns the allocator's configuration.
func (a *Allocator) Config() Config {
	return a.cfg
}

// allocation is one deck taking part in a plan.
type allocation struct {
	deck     domain.Deck
	weight   float64
	accuracy float64
	share    float64
	current  float64
}

// Generate produces the pending plan entries of assessment from today on.
// A past-due or same-day assessment yields an empty plan and no error; an
// assessment without usable decks yields ErrNoDecksSelected.
func (a *Allocator) Generate(assessment domain.Assessment, decks []domain.Deck, metrics map[string]domain.DeckMetrics, today time.Time) ([]domain.PlanEntry, error) {
	start := domain.Day(today)
	exam := domain.Day(assessment.Date)
	daysUntilExam := int(math.Ceil(exam.Sub(start).Hours() / 24))
	if daysUntilExam <= 0 {
		return []domain.PlanEntry{}, nil
	}

	allocs := a.resolveDecks(assessment, decks, metrics)
	if len(allocs) == 0 {
		return []domain.PlanEntry{}, domain.ErrNoDecksSelected
	}

	sessions := a.sessionDates(start, exam, daysUntilExam, a.totalSessions(allocs, daysUntilExam))

	// Weakest first; ties keep the assessment's deck order.
	sort.SliceStable(allocs, func(i, j int) bool {
		return allocs[i].accuracy < allocs[j].accuracy
	})
	var totalWeight, totalShare float64
	for _, al := range allocs {
		totalWeight += al.weight
	}
	for _, al := range allocs {
		al.share = al.weight / totalWeight * (2 - al.accuracy)
		totalShare += al.share
	}

	budget := assessment.DailyMinutes
	if budget <= 0 {
		budget = a.cfg.FallbackDailyMinutes
	}
	perSession := a.cfg.DecksPerSession
	if perSession > len(allocs) {
		perSession = len(allocs)
	}

	entries := make([]domain.PlanEntry, 0, len(sessions)*perSession)
	for _, date := range sessions {
		picked := pickDecks(allocs, perSession, totalShare)
		minutes := splitMinutes(budget, picked, a.cfg.MinBlockMinutes)
		for i, al := range picked {
			entries = append(entries, domain.PlanEntry{
				Date:          date,
				DeckID:        al.deck.ID,
				AssessmentID:  assessment.ID,
				TargetMinutes: minutes[i],
				Status:        domain.Pending,
			})
		}
	}
	return entries, nil
}

// resolveDecks selects the assessment's decks in order and attaches weights.
// Explicit deck weights are used as given; otherwise decks share 100 evenly
// with the integer remainder going to the first decks.
func (a *Allocator) resolveDecks(assessment domain.Assessment, decks []domain.Deck, metrics map[string]domain.DeckMetrics) []*allocation {
	byID := make(map[string]domain.Deck, len(decks))
	for _, d := range decks {
		byID[d.ID] = d
	}

	seen := make(map[string]bool, len(assessment.DeckIDs))
	var allocs []*allocation
	for _, id := range assessment.DeckIDs {
		deck, ok := byID[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		al := &allocation{deck: deck, accuracy: performance.NeutralAccuracy}
		if m, ok := metrics[id]; ok {
			al.accuracy = m.Accuracy
		}
		if len(assessment.DeckWeights) > 0 {
			al.weight = assessment.DeckWeights[id]
			if al.weight <= 0 {
				continue
			}
		}
		allocs = append(allocs, al)
	}

	if len(assessment.DeckWeights) == 0 && len(allocs) > 0 {
		base := 100 / len(allocs)
		rem := 100 % len(allocs)
		for i, al := range allocs {
			al.weight = float64(base)
			if i < rem {
				al.weight++
			}
		}
	}
	return allocs
}

// totalSessions is the larger of the coverage term (every section touched
// CoverageMultiplier times) and the cadence term for the average accuracy.
func (a *Allocator) totalSessions(allocs []*allocation, daysUntilExam int) int {
	var sections int
	var accuracy float64
	for _, al := range allocs {
		sections += al.deck.SectionCount()
		accuracy += al.accuracy
	}
	accuracy /= float64(len(allocs))

	perWeek := a.cfg.HighAccuracySessions
	switch {
	case accuracy < a.cfg.LowAccuracy:
		perWeek = a.cfg.LowAccuracySessions
	case accuracy < a.cfg.HighAccuracy:
		perWeek = a.cfg.MidAccuracySessions
	}

	coverage := int(math.Ceil(float64(sections) * a.cfg.CoverageMultiplier))
	cadence := int(math.Ceil(float64(daysUntilExam*perWeek) / 7))
	return max(coverage, cadence)
}

// sessionDates spaces total sessions from the day after start, stopping
// before the exam day.
func (a *Allocator) sessionDates(start, exam time.Time, daysUntilExam, total int) []time.Time {
	if total <= 0 {
		return nil
	}
	interval := max(1, daysUntilExam/total)
	dates := make([]time.Time, 0, total)
	for i := 0; i < total; i++ {
		d := domain.AddDays(start, 1+i*interval)
		if !d.Before(exam) {
			break
		}
		dates = append(dates, d)
	}
	return dates
}

// pickDecks runs one round of smooth weighted round-robin choosing n distinct
// decks. Ties go to the deck earlier in the weakest-first order.
func pickDecks(allocs []*allocation, n int, totalShare float64) []*allocation {
	for _, al := range allocs {
		al.current += float64(n) * al.share
	}
	order := make([]int, len(allocs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return allocs[order[i]].current > allocs[order[j]].current
	})

	chosen := order[:n]
	sort.Ints(chosen)
	picked := make([]*allocation, 0, n)
	for _, idx := range chosen {
		allocs[idx].current -= totalShare
		picked = append(picked, allocs[idx])
	}
	return picked
}

// splitMinutes divides budget across the picked decks by weight using
// largest-remainder rounding, then raises every block to the minimum.
func splitMinutes(budget int, picked []*allocation, minBlock int) []int {
	var total float64
	for _, al := range picked {
		total += al.weight
	}

	minutes := make([]int, len(picked))
	fractions := make([]float64, len(picked))
	assigned := 0
	for i, al := range picked {
		raw := float64(budget) * al.weight / total
		minutes[i] = int(math.Floor(raw))
		fractions[i] = raw - float64(minutes[i])
		assigned += minutes[i]
	}

	order := make([]int, len(picked))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return fractions[order[i]] > fractions[order[j]]
	})
	for i := 0; assigned < budget && i < len(order); i++ {
		minutes[order[i]]++
		assigned++
	}

	for i := range minutes {
		if minutes[i] < minBlock {
			minutes[i] = minBlock
		}
	}
	return minutes
}
