package domain

import (
	"fmt"
	"time"
)

// PracticeLogEntry is one append-only record of practice on a deck.
type PracticeLogEntry struct {
	DeckID       string    `json:"deck_id"`
	Timestamp    time.Time `json:"timestamp"`
	CorrectCards int       `json:"correct_cards"`
	TotalCards   int       `json:"total_cards"`
}

// DeckMetrics is derived from the practice log and never stored as truth.
type DeckMetrics struct {
	DeckID               string  `json:"deck_id"`
	Accuracy             float64 `json:"accuracy"`
	RecencyDecay         float64 `json:"recency_decay"`
	PriorityRaw          float64 `json:"priority_raw"`
	DifficultyPercentile float64 `json:"difficulty_percentile"`
	Samples              int     `json:"samples"`
}

// Assessment is an upcoming exam the plan prepares for.
type Assessment struct {
	ID           string             `json:"id"`
	Name         string             `json:"name" validate:"required"`
	Date         time.Time          `json:"date" validate:"required"`
	Weight       int                `json:"weight" validate:"gte=1"`
	DeckIDs      []string           `json:"deck_ids" validate:"dive,required"`
	DeckWeights  map[string]float64 `json:"deck_weights,omitempty" validate:"omitempty,dive,gt=0"`
	DailyMinutes int                `json:"daily_minutes" validate:"gte=0"`
}

// PlanStatus is the completion status of a plan entry.
type PlanStatus string

const (
	Pending PlanStatus = "pending"
	Studied PlanStatus = "studied"
	Skipped PlanStatus = "skipped"
)

// IsValid reports whether s is a known status.
func (s PlanStatus) IsValid() bool {
	switch s {
	case Pending, Studied, Skipped:
		return true
	default:
		return false
	}
}

// Resolved reports whether the entry was marked studied or skipped.
func (s PlanStatus) Resolved() bool {
	return s == Studied || s == Skipped
}

// PlanEntry is one scheduled study block for a deck on a day.
// (Date, DeckID, AssessmentID) is the key.
type PlanEntry struct {
	Date          time.Time  `json:"date"`
	DeckID        string     `json:"deck_id"`
	AssessmentID  string     `json:"assessment_id"`
	TargetMinutes int        `json:"target_minutes"`
	ActualMinutes *int       `json:"actual_minutes,omitempty"`
	Status        PlanStatus `json:"status"`
}

// PlanKey identifies a plan entry.
type PlanKey struct {
	Date         string
	DeckID       string
	AssessmentID string
}

// Key returns the composite key of the entry.
func (e PlanEntry) Key() PlanKey {
	return PlanKey{Date: DayString(e.Date), DeckID: e.DeckID, AssessmentID: e.AssessmentID}
}

func (k PlanKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.AssessmentID, k.Date, k.DeckID)
}

// DayLayout is the calendar-day format used for plan dates.
const DayLayout = "2006-01-02"

// Day returns midnight UTC of the calendar day t falls on in its own location.
// All plan dates are normalised through Day so they compare and persist alike.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayString formats the calendar day of t.
func DayString(t time.Time) string {
	return t.Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD day in UTC.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// AddDays returns the calendar day n days after day.
func AddDays(day time.Time, n int) time.Time {
	return day.AddDate(0, 0, n)
}
