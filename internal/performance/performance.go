// Package performance projects the practice log into per-deck metrics.
// Nothing here is stored; metrics are recomputed for every plan.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
)

// NeutralAccuracy is assumed for decks without practice data.
const NeutralAccuracy = 0.5

// Config tunes the aggregation.
type Config struct {
	// RecencyDays is the time constant of the recency decay, in days.
	RecencyDays float64 `koanf:"recency_days" validate:"gt=0"`
}

// DefaultConfig returns a one-week recency time constant.
func DefaultConfig() Config {
	return Config{RecencyDays: 7}
}

// Aggregator computes DeckMetrics from practice logs.
type Aggregator struct {
	recencyDays float64
}

// New creates an Aggregator. A non-positive RecencyDays falls back to the default.
func New(cfg Config) *Aggregator {
	days := cfg.RecencyDays
	if days <= 0 {
		days = DefaultConfig().RecencyDays
	}
	return &Aggregator{recencyDays: days}
}

// ComputeDeckMetrics aggregates every log entry for deckID.
// The percentile of a deck measured on its own is 50.
func (a *Aggregator) ComputeDeckMetrics(deckID string, log []domain.PracticeLogEntry, now time.Time) domain.DeckMetrics {
	var correct, total int
	var last time.Time
	for _, e := range log {
		if e.DeckID != deckID || e.TotalCards <= 0 {
			continue
		}
		total += e.TotalCards
		correct += clamp(e.CorrectCards, 0, e.TotalCards)
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}

	m := domain.DeckMetrics{
		DeckID:               deckID,
		Accuracy:             NeutralAccuracy,
		RecencyDecay:         1,
		DifficultyPercentile: 50,
		Samples:              total,
	}
	if total > 0 {
		m.Accuracy = float64(correct) / float64(total)
		m.RecencyDecay = a.recencyDecay(now.Sub(last))
	}
	m.PriorityRaw = (1 - m.Accuracy) * m.RecencyDecay
	return m
}

// ComputeAll computes metrics for every deck and ranks their priorities
// against each other into DifficultyPercentile (0-100, mid-rank on ties).
func (a *Aggregator) ComputeAll(deckIDs []string, log []domain.PracticeLogEntry, now time.Time) map[string]domain.DeckMetrics {
	byDeck := make(map[string][]domain.PracticeLogEntry, len(deckIDs))
	for _, e := range log {
		byDeck[e.DeckID] = append(byDeck[e.DeckID], e)
	}

	out := make(map[string]domain.DeckMetrics, len(deckIDs))
	for _, id := range deckIDs {
		out[id] = a.ComputeDeckMetrics(id, byDeck[id], now)
	}
	rankPercentiles(out)
	return out
}

// recencyDecay is 1 - e^(-days/τ): near 0 right after practice, approaching 1.
func (a *Aggregator) recencyDecay(since time.Duration) float64 {
	days := since.Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return 1 - math.Exp(-days/a.recencyDays)
}

func rankPercentiles(metrics map[string]domain.DeckMetrics) {
	n := len(metrics)
	if n < 2 {
		return
	}
	priorities := make([]float64, 0, n)
	for _, m := range metrics {
		priorities = append(priorities, m.PriorityRaw)
	}
	sort.Float64s(priorities)

	for id, m := range metrics {
		below := sort.SearchFloat64s(priorities, m.PriorityRaw)
		equal := 0
		for i := below; i < n && priorities[i] == m.PriorityRaw; i++ {
			equal++
		}
		// equal includes the deck itself.
		m.DifficultyPercentile = 100 * (float64(below) + 0.5*float64(equal-1)) / float64(n-1)
		metrics[id] = m
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
