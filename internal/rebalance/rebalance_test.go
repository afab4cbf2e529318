package rebalance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
	"github.com/conorfennell/knolplan/internal/performance"
	"github.com/conorfennell/knolplan/internal/planner"
)

var today = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)

// memStore is an in-memory implementation of every store the rebalancer uses.
type memStore struct {
	mu          sync.Mutex
	assessments map[string]domain.Assessment
	decks       []domain.Deck
	practice    []domain.PracticeLogEntry
	plans       map[string][]domain.PlanEntry
	revisions   map[string]int64
	// beforeReplace runs inside ReplacePlan before the revision check.
	beforeReplace func(id string)
}

func newMemStore() *memStore {
	return &memStore{
		assessments: make(map[string]domain.Assessment),
		plans:       make(map[string][]domain.PlanEntry),
		revisions:   make(map[string]int64),
	}
}

func (m *memStore) GetAssessment(_ context.Context, id string) (domain.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assessments[id]
	if !ok {
		return domain.Assessment{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memStore) ListDecks(_ context.Context, ids []string) ([]domain.Deck, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []domain.Deck
	for _, d := range m.decks {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) ListPractice(_ context.Context, deckIDs []string) ([]domain.PracticeLogEntry, error) {
	return m.practice, nil
}

func (m *memStore) LoadPlan(_ context.Context, id string) ([]domain.PlanEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PlanEntry{}, m.plans[id]...), m.revisions[id], nil
}

func (m *memStore) ReplacePlan(_ context.Context, id string, rev int64, entries []domain.PlanEntry) error {
	if m.beforeReplace != nil {
		m.beforeReplace(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revisions[id] != rev {
		return domain.ErrConcurrentRebalance
	}
	m.plans[id] = append([]domain.PlanEntry{}, entries...)
	m.revisions[id] = rev + 1
	return nil
}

func (m *memStore) DeletePlan(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plans, id)
	delete(m.revisions, id)
	return nil
}

func setup(t *testing.T) (*Rebalancer, *memStore, domain.Assessment) {
	t.Helper()
	store := newMemStore()
	store.decks = []domain.Deck{
		{ID: "a", Sections: []domain.Section{{ID: "a1"}, {ID: "a2"}}},
		{ID: "b", Sections: []domain.Section{{ID: "b1"}}},
	}
	a := domain.Assessment{
		ID:           "exam",
		Name:         "Exam",
		Date:         today.AddDate(0, 0, 10),
		Weight:       1,
		DeckIDs:      []string{"a", "b"},
		DailyMinutes: 60,
	}
	store.assessments[a.ID] = a

	r := New(Deps{
		Assessments: store,
		Decks:       store,
		Practice:    store,
		Plans:       store,
		Allocator:   planner.New(planner.DefaultConfig()),
		Aggregator:  performance.New(performance.DefaultConfig()),
		Clock:       ClockFunc(func() time.Time { return today }),
	})

	unlock := r.Lock(a.ID)
	defer unlock()
	entries, err := r.OnAssessmentCreated(context.Background(), a)
	if err != nil {
		t.Fatalf("OnAssessmentCreated: %v", err)
	}
	if len(entries) < 4 {
		t.Fatalf("Expected a multi-day plan, but got %d entries", len(entries))
	}
	return r, store, a
}

func findEntry(entries []domain.PlanEntry, key domain.PlanKey) (domain.PlanEntry, bool) {
	for _, e := range entries {
		if e.Key() == key {
			return e, true
		}
	}
	return domain.PlanEntry{}, false
}

func TestOnDayResolved(t *testing.T) {
	r, store, a := setup(t)
	ctx := context.Background()
	before := store.plans[a.ID]
	target := before[0]
	minutes := 45

	entries, err := r.OnDayResolved(ctx, a.ID, target.Date, target.DeckID, domain.Studied, &minutes)
	if err != nil {
		t.Fatalf("OnDayResolved: %v", err)
	}

	got, ok := findEntry(entries, target.Key())
	if !ok {
		t.Fatal("Expected the resolved entry to remain in the plan")
	}
	if got.Status != domain.Studied || got.ActualMinutes == nil || *got.ActualMinutes != 45 {
		t.Errorf("Expected studied entry with 45 minutes, but got %+v", got)
	}
	for _, e := range entries {
		if e.Date.After(target.Date) && e.Status != domain.Pending {
			t.Errorf("Expected future entry %s to be pending, but got %s", e.Key(), e.Status)
		}
	}
	if len(store.plans[a.ID]) != len(entries) {
		t.Errorf("Expected the returned plan to be persisted")
	}
}

func TestResolvedEntriesSurviveLaterRebalances(t *testing.T) {
	r, store, a := setup(t)
	ctx := context.Background()
	plan := store.plans[a.ID]
	first, later := plan[0], plan[2]
	minutes := 20

	if _, err := r.OnDayResolved(ctx, a.ID, first.Date, first.DeckID, domain.Studied, &minutes); err != nil {
		t.Fatalf("OnDayResolved first: %v", err)
	}
	entries, err := r.OnDayResolved(ctx, a.ID, later.Date, later.DeckID, domain.Skipped, nil)
	if err != nil {
		t.Fatalf("OnDayResolved later: %v", err)
	}

	got, ok := findEntry(entries, first.Key())
	if !ok || got.Status != domain.Studied || *got.ActualMinutes != 20 {
		t.Errorf("Expected first entry to stay studied with 20 minutes, got %+v (found=%v)", got, ok)
	}
	skipped, ok := findEntry(entries, later.Key())
	if !ok || skipped.Status != domain.Skipped || skipped.ActualMinutes != nil {
		t.Errorf("Expected later entry skipped without minutes, got %+v", skipped)
	}

	// Entries up to the resolved day are exactly the ones from before.
	for _, e := range plan {
		if e.Date.After(later.Date) {
			continue
		}
		if _, ok := findEntry(entries, e.Key()); !ok {
			t.Errorf("Entry %s on or before the resolved day was dropped", e.Key())
		}
	}
}

func TestOnDayResolvedKeepsTodaysPendingEntries(t *testing.T) {
	r, store, a := setup(t)
	ctx := context.Background()
	plan := store.plans[a.ID]
	resolved := plan[0]

	var current []domain.PlanEntry
	for _, e := range plan {
		if e.Date.After(resolved.Date) {
			if len(current) > 0 && !e.Date.Equal(current[0].Date) {
				break
			}
			current = append(current, e)
		}
	}
	if len(current) == 0 {
		t.Fatal("Expected a session after the first one")
	}

	// The learner comes back on the next session day and resolves the missed one.
	r.clock = ClockFunc(func() time.Time { return current[0].Date.Add(9 * time.Hour) })
	entries, err := r.OnDayResolved(ctx, a.ID, resolved.Date, resolved.DeckID, domain.Studied, nil)
	if err != nil {
		t.Fatalf("OnDayResolved: %v", err)
	}

	for _, want := range current {
		got, ok := findEntry(entries, want.Key())
		if !ok {
			t.Errorf("Expected today's entry %s to remain, but it was dropped", want.Key())
			continue
		}
		if got.Status != domain.Pending || got.TargetMinutes != want.TargetMinutes {
			t.Errorf("Expected today's entry unchanged, got = %+v, want %+v", got, want)
		}
	}
	for _, e := range entries {
		if e.Date.Before(current[0].Date) && e.Date.After(resolved.Date) {
			t.Errorf("Unexpected entry %s between the resolved day and today", e.Key())
		}
	}
}

func TestOnDayResolvedInvalidInput(t *testing.T) {
	r, store, a := setup(t)
	ctx := context.Background()
	e := store.plans[a.ID][0]
	negative := -5

	if _, err := r.OnDayResolved(ctx, a.ID, e.Date, e.DeckID, domain.Pending, nil); !errors.Is(err, domain.ErrInvalidResponse) {
		t.Errorf("Expected ErrInvalidResponse for pending, but got %v", err)
	}
	if _, err := r.OnDayResolved(ctx, a.ID, e.Date, e.DeckID, domain.Studied, &negative); !errors.Is(err, domain.ErrInvalidResponse) {
		t.Errorf("Expected ErrInvalidResponse for negative minutes, but got %v", err)
	}
	if _, err := r.OnDayResolved(ctx, a.ID, e.Date, "nope", domain.Studied, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown entry, but got %v", err)
	}
	if _, err := r.OnDayResolved(ctx, "missing", e.Date, e.DeckID, domain.Studied, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown assessment, but got %v", err)
	}
}

func TestOnDayResolvedConflictLeavesPlanUntouched(t *testing.T) {
	r, store, a := setup(t)
	ctx := context.Background()
	before := append([]domain.PlanEntry{}, store.plans[a.ID]...)
	e := before[0]

	store.beforeReplace = func(id string) {
		store.mu.Lock()
		store.revisions[id]++
		store.mu.Unlock()
	}
	_, err := r.OnDayResolved(ctx, a.ID, e.Date, e.DeckID, domain.Studied, nil)
	if !errors.Is(err, domain.ErrConcurrentRebalance) {
		t.Fatalf("Expected ErrConcurrentRebalance, but got %v", err)
	}
	after := store.plans[a.ID]
	if len(after) != len(before) {
		t.Fatalf("Expected %d entries, but got %d", len(before), len(after))
	}
	for i := range before {
		if after[i].Status != before[i].Status {
			t.Errorf("Entry %s changed status to %s", after[i].Key(), after[i].Status)
		}
	}
}

func TestOnDayResolvedSerialisesSameAssessment(t *testing.T) {
	r, store, a := setup(t)
	ctx := context.Background()
	plan := store.plans[a.ID]

	var wg sync.WaitGroup
	errs := make(chan error, len(plan))
	for _, e := range plan[:4] {
		wg.Add(1)
		go func(e domain.PlanEntry) {
			defer wg.Done()
			if _, err := r.OnDayResolved(ctx, a.ID, e.Date, e.DeckID, domain.Skipped, nil); err != nil {
				errs <- err
			}
		}(e)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}
	if store.revisions[a.ID] != 5 {
		t.Errorf("Expected revision 5 after create and 4 resolutions, but got %d", store.revisions[a.ID])
	}
}

func TestOnAssessmentUpdated(t *testing.T) {
	r, store, a := setup(t)
	ctx := context.Background()
	first := store.plans[a.ID][0]
	if _, err := r.OnDayResolved(ctx, a.ID, first.Date, first.DeckID, domain.Studied, nil); err != nil {
		t.Fatalf("OnDayResolved: %v", err)
	}

	a.DailyMinutes = 30
	a.DeckIDs = []string{"a"}
	store.assessments[a.ID] = a
	unlock := r.Lock(a.ID)
	entries, err := r.OnAssessmentUpdated(ctx, a)
	unlock()
	if err != nil {
		t.Fatalf("OnAssessmentUpdated: %v", err)
	}

	if got, ok := findEntry(entries, first.Key()); !ok || got.Status != domain.Studied {
		t.Errorf("Expected studied history to be kept, got %+v", got)
	}
	for _, e := range entries {
		if e.Status != domain.Pending {
			continue
		}
		if e.DeckID != "a" || e.TargetMinutes != 30 {
			t.Errorf("Expected regenerated entries for deck a at 30 minutes, got %+v", e)
		}
	}
}

func TestOnAssessmentDeleted(t *testing.T) {
	r, store, a := setup(t)
	unlock := r.Lock(a.ID)
	defer unlock()
	if err := r.OnAssessmentDeleted(context.Background(), a.ID); err != nil {
		t.Fatalf("OnAssessmentDeleted: %v", err)
	}
	if len(store.plans[a.ID]) != 0 {
		t.Errorf("Expected no entries, but got %d", len(store.plans[a.ID]))
	}
}

func TestOnAssessmentCreatedWithoutDecks(t *testing.T) {
	r, store, _ := setup(t)
	a := domain.Assessment{ID: "empty", Date: today.AddDate(0, 0, 5), DeckIDs: []string{"gone"}}
	store.assessments[a.ID] = a
	unlock := r.Lock(a.ID)
	defer unlock()
	entries, err := r.OnAssessmentCreated(context.Background(), a)
	if !errors.Is(err, domain.ErrNoDecksSelected) {
		t.Errorf("Expected ErrNoDecksSelected, but got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected an empty plan, but got %d entries", len(entries))
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected a different key not to block")
	}
	unlockA()
	if len(k.locks) != 0 {
		t.Errorf("Expected lock table to be empty, but got %d", len(k.locks))
	}
}
