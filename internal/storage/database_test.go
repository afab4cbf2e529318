package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
)

var now = time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedDeck(t *testing.T, db *DB, id string, sections ...string) domain.Deck {
	t.Helper()
	deck := domain.Deck{ID: id, FileID: "file-" + id, Name: "Deck " + id, EstMinutes: 5}
	for i, name := range sections {
		deck.Sections = append(deck.Sections, domain.Section{ID: id + "/" + name, DeckID: id, Name: name, Position: i})
	}
	if err := db.UpsertDeck(context.Background(), deck, 0); err != nil {
		t.Fatalf("UpsertDeck: %v", err)
	}
	return deck
}

func TestCards(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	deck := seedDeck(t, db, "d1", "intro", "advanced")

	card := domain.Card{
		ID:         "c1",
		SectionID:  deck.Sections[0].ID,
		DeckID:     deck.ID,
		Question:   "What is Go?",
		Answer:     "A language",
		NextReview: now,
	}
	if err := db.InsertCard(ctx, card); err != nil {
		t.Fatalf("InsertCard: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		got, err := db.GetCard(ctx, "c1")
		if err != nil {
			t.Fatalf("GetCard: %v", err)
		}
		if got.Question != card.Question || got.State != domain.New || got.LastReview != nil {
			t.Errorf("Unexpected card %+v", got)
		}
		if !got.NextReview.Equal(now) {
			t.Errorf("Expected next review %v, but got %v", now, got.NextReview)
		}
	})

	t.Run("save memory state", func(t *testing.T) {
		last := now
		card.State = domain.Review
		card.Stability = 4.5
		card.Difficulty = 6.1
		card.Reps = 2
		card.LastReview = &last
		card.NextReview = now.Add(96 * time.Hour)
		if err := db.SaveCard(ctx, card); err != nil {
			t.Fatalf("SaveCard: %v", err)
		}
		got, err := db.GetCard(ctx, "c1")
		if err != nil {
			t.Fatalf("GetCard: %v", err)
		}
		if got.State != domain.Review || got.Stability != 4.5 || got.Reps != 2 {
			t.Errorf("Unexpected saved card %+v", got)
		}
		if got.LastReview == nil || !got.LastReview.Equal(last) {
			t.Errorf("Expected last review %v, but got %v", last, got.LastReview)
		}
	})

	t.Run("missing card", func(t *testing.T) {
		if _, err := db.GetCard(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, but got %v", err)
		}
		if err := db.SaveCard(ctx, domain.Card{ID: "nope", NextReview: now}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on save, but got %v", err)
		}
	})

	t.Run("list by deck and section", func(t *testing.T) {
		other := domain.Card{ID: "c2", SectionID: deck.Sections[1].ID, DeckID: deck.ID, Question: "Q2", NextReview: now.Add(-time.Hour)}
		if err := db.InsertCard(ctx, other); err != nil {
			t.Fatalf("InsertCard: %v", err)
		}
		cards, err := db.ListCardsByDeck(ctx, deck.ID)
		if err != nil {
			t.Fatalf("ListCardsByDeck: %v", err)
		}
		if len(cards) != 2 || cards[0].ID != "c2" {
			t.Errorf("Expected c2 first of 2 cards, got %d cards", len(cards))
		}
		cards, err = db.ListCardsBySection(ctx, deck.Sections[1].ID)
		if err != nil {
			t.Fatalf("ListCardsBySection: %v", err)
		}
		if len(cards) != 1 {
			t.Errorf("Expected 1 card in section, but got %d", len(cards))
		}
	})

	t.Run("deck sections carry card counts", func(t *testing.T) {
		got, err := db.GetDeck(ctx, deck.ID)
		if err != nil {
			t.Fatalf("GetDeck: %v", err)
		}
		if got.SectionCount() != 2 {
			t.Fatalf("Expected 2 sections, but got %d", got.SectionCount())
		}
		if got.Sections[0].CardCount != 1 || got.Sections[1].CardCount != 1 {
			t.Errorf("Unexpected card counts %d, %d", got.Sections[0].CardCount, got.Sections[1].CardCount)
		}
	})
}

func TestListDecks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	seedDeck(t, db, "a", "s1")
	seedDeck(t, db, "b")

	decks, err := db.ListDecks(ctx, []string{"b", "missing"})
	if err != nil {
		t.Fatalf("ListDecks: %v", err)
	}
	if len(decks) != 1 || decks[0].ID != "b" {
		t.Errorf("Expected only deck b, got %+v", decks)
	}
	all, err := db.ListDecks(ctx, nil)
	if err != nil {
		t.Fatalf("ListDecks: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 decks, but got %d", len(all))
	}
	if _, err := db.GetDeck(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestPracticeLog(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i, e := range []domain.PracticeLogEntry{
		{DeckID: "a", Timestamp: now, CorrectCards: 3, TotalCards: 5},
		{DeckID: "b", Timestamp: now, CorrectCards: 1, TotalCards: 1},
		{DeckID: "a", Timestamp: now.Add(-time.Hour), CorrectCards: 0, TotalCards: 2},
	} {
		if err := db.AppendPractice(ctx, e); err != nil {
			t.Fatalf("AppendPractice %d: %v", i, err)
		}
	}
	log, err := db.ListPractice(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("ListPractice: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("Expected 2 entries, but got %d", len(log))
	}
	if log[0].TotalCards != 2 {
		t.Errorf("Expected oldest entry first, got %+v", log[0])
	}
}

func TestAssessments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := domain.Assessment{
		ID:           "exam-1",
		Name:         "Finals",
		Date:         time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Weight:       2,
		DeckIDs:      []string{"a", "b"},
		DeckWeights:  map[string]float64{"a": 70, "b": 30},
		DailyMinutes: 45,
	}
	if err := db.CreateAssessment(ctx, a); err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}

	got, err := db.GetAssessment(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got.Name != "Finals" || !got.Date.Equal(a.Date) || len(got.DeckIDs) != 2 || got.DeckWeights["a"] != 70 {
		t.Errorf("Unexpected assessment %+v", got)
	}

	a.DeckWeights = nil
	a.DailyMinutes = 30
	if err := db.UpdateAssessment(ctx, a); err != nil {
		t.Fatalf("UpdateAssessment: %v", err)
	}
	got, _ = db.GetAssessment(ctx, a.ID)
	if got.DeckWeights != nil || got.DailyMinutes != 30 {
		t.Errorf("Expected even split and 30 minutes, got %+v", got)
	}

	list, err := db.ListAssessments(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListAssessments: err=%v len=%d", err, len(list))
	}

	if err := db.DeleteAssessment(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAssessment: %v", err)
	}
	if _, err := db.GetAssessment(ctx, a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestPlanRevisions(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	day := time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC)
	actual := 25
	entries := []domain.PlanEntry{
		{Date: day, DeckID: "a", AssessmentID: "x", TargetMinutes: 30, Status: domain.Pending},
		{Date: day.AddDate(0, 0, 1), DeckID: "b", AssessmentID: "x", TargetMinutes: 30, ActualMinutes: &actual, Status: domain.Studied},
	}

	plan, rev, err := db.LoadPlan(ctx, "x")
	if err != nil || len(plan) != 0 || rev != 0 {
		t.Fatalf("LoadPlan on empty: plan=%v rev=%d err=%v", plan, rev, err)
	}
	if err := db.ReplacePlan(ctx, "x", rev, entries); err != nil {
		t.Fatalf("ReplacePlan: %v", err)
	}

	plan, rev, err = db.LoadPlan(ctx, "x")
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if rev != 1 || len(plan) != 2 {
		t.Fatalf("Expected revision 1 with 2 entries, got %d with %d", rev, len(plan))
	}
	if plan[1].ActualMinutes == nil || *plan[1].ActualMinutes != 25 || plan[1].Status != domain.Studied {
		t.Errorf("Unexpected resolved entry %+v", plan[1])
	}

	t.Run("stale revision is rejected", func(t *testing.T) {
		err := db.ReplacePlan(ctx, "x", 0, nil)
		if !errors.Is(err, domain.ErrConcurrentRebalance) {
			t.Fatalf("Expected ErrConcurrentRebalance, but got %v", err)
		}
		kept, _, _ := db.LoadPlan(ctx, "x")
		if len(kept) != 2 {
			t.Errorf("Expected the plan to be untouched, but got %d entries", len(kept))
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := db.DeletePlan(ctx, "x"); err != nil {
			t.Fatalf("DeletePlan: %v", err)
		}
		plan, rev, _ := db.LoadPlan(ctx, "x")
		if len(plan) != 0 || rev != 0 {
			t.Errorf("Expected empty plan at revision 0, got %d entries at %d", len(plan), rev)
		}
	})
}

func TestSources(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id, err := db.InsertSource(ctx, "/notes", "local")
	if err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	src, err := db.FindSourceByPath(ctx, "/notes")
	if err != nil || src.ID != id || src.Type != "local" {
		t.Fatalf("FindSourceByPath: src=%+v err=%v", src, err)
	}
	if err := db.UpdateSourceLastScanned(ctx, id, now); err != nil {
		t.Fatalf("UpdateSourceLastScanned: %v", err)
	}
	deck := domain.Deck{ID: "d", FileID: "f", Name: "D"}
	if err := db.UpsertDeck(ctx, deck, id); err != nil {
		t.Fatalf("UpsertDeck: %v", err)
	}
	if err := db.DeleteSource(ctx, id); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := db.GetDeck(ctx, "d"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected the source's deck to be gone, but got %v", err)
	}
	if _, err := db.FindSourceByPath(ctx, "/notes"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}
