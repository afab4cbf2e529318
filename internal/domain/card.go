package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CardState is the learning stage of a card.
// The integer values are persisted, so they must not be reordered.
type CardState int

const (
	New        CardState = iota // Never reviewed.
	Learning                    // First successful review done.
	Review                      // In the long-term review cycle.
	Relearning                  // Forgotten, being relearned.
)

var (
	cardStateNames  = [...]string{New: "new", Learning: "learning", Review: "review", Relearning: "relearning"}
	cardStateByName = map[string]CardState{
		"new":        New,
		"learning":   Learning,
		"review":     Review,
		"relearning": Relearning,
	}
)

func (s CardState) isValid() bool {
	return s >= New && s <= Relearning
}

func (s CardState) String() string {
	if s.isValid() {
		return cardStateNames[s]
	}
	return fmt.Sprintf("CardState(%d)", int(s))
}

// MarshalJSON implements json.Marshaler. States serialize as JSON strings.
func (s CardState) MarshalJSON() ([]byte, error) {
	if !s.isValid() {
		return nil, fmt.Errorf("knolplan: invalid card state: %d", int(s))
	}
	return json.Marshal(cardStateNames[s])
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *CardState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("knolplan: invalid card state: %s", data)
	}
	v, ok := cardStateByName[str]
	if !ok {
		return fmt.Errorf("knolplan: invalid card state: %q", str)
	}
	*s = v
	return nil
}

// Card is a single flashcard and its memory state.
// Question, Answer and Context are content; everything from Stability on is
// owned by the memory model and changed only through a review.
type Card struct {
	ID        string `json:"id"`
	SectionID string `json:"section_id"`
	DeckID    string `json:"deck_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Context   string `json:"context,omitempty"`

	Stability     float64    `json:"stability"`
	Difficulty    float64    `json:"difficulty"`
	ElapsedDays   int        `json:"elapsed_days"`
	ScheduledDays int        `json:"scheduled_days"`
	Reps          int        `json:"reps"`
	Lapses        int        `json:"lapses"`
	State         CardState  `json:"state"`
	LastReview    *time.Time `json:"last_review,omitempty"`
	NextReview    time.Time  `json:"next_review"`
}

// Section groups cards inside a deck.
type Section struct {
	ID        string `json:"id"`
	DeckID    string `json:"deck_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	CardCount int    `json:"card_count"`
}

// Deck is a named collection of sections imported from one file.
type Deck struct {
	ID         string    `json:"id"`
	FileID     string    `json:"file_id"`
	Name       string    `json:"name"`
	Sections   []Section `json:"sections"`
	EstMinutes int       `json:"est_minutes"`
}

// SectionCount returns the number of sections in the deck.
func (d Deck) SectionCount() int {
	return len(d.Sections)
}
