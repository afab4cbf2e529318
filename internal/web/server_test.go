package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/conorfennell/knolplan/internal/domain"
	"github.com/conorfennell/knolplan/internal/fsrs"
	"github.com/conorfennell/knolplan/internal/logger"
	"github.com/conorfennell/knolplan/internal/performance"
	"github.com/conorfennell/knolplan/internal/planner"
	"github.com/conorfennell/knolplan/internal/rebalance"
	"github.com/conorfennell/knolplan/internal/storage"
	"github.com/conorfennell/knolplan/internal/study"
	"github.com/conorfennell/knolplan/internal/sync"
)

var now = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	srv *Server
	db  *storage.DB
	dir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logger.Nop()
	clock := rebalance.ClockFunc(func() time.Time { return now })
	aggregator := performance.New(performance.DefaultConfig())
	rb := rebalance.New(rebalance.Deps{
		Assessments: db, Decks: db, Practice: db, Plans: db,
		Allocator:  planner.New(planner.DefaultConfig()),
		Aggregator: aggregator,
		Clock:      clock,
		Log:        log,
	})
	svc := study.New(study.Deps{
		Cards: db, Decks: db, Assessments: db, Practice: db, Plans: db,
		Memory:     fsrs.DefaultParams(),
		Aggregator: aggregator,
		Rebalancer: rb,
		Clock:      clock,
		Log:        log,
	})
	syncer := sync.New(db, t.TempDir(), log, sync.WithClock(clock.Now), sync.OnChange(svc.RebalanceAll))

	dir := t.TempDir()
	deck := "# Go\n\n## Basics\nQ: Zero value of int?\nA: 0\n---\nQ: Zero value of string?\nA: empty string\n"
	if err := os.WriteFile(filepath.Join(dir, "go.md"), []byte(deck), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return &testEnv{srv: NewServer(svc, syncer, log, "http://localhost:3000"), db: db, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Unmarshal %q: %v", rec.Body.String(), err)
	}
}

// importDecks adds the test source, syncs it and returns the deck id.
func (e *testEnv) importDecks(t *testing.T) string {
	t.Helper()
	if rec := e.do(t, http.MethodPost, "/api/sources", gin.H{"path": e.dir}); rec.Code != http.StatusCreated {
		t.Fatalf("add source: status %d, body %s", rec.Code, rec.Body)
	}
	rec := e.do(t, http.MethodPost, "/api/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: status %d, body %s", rec.Code, rec.Body)
	}
	var got struct {
		Report sync.Report `json:"report"`
	}
	decode(t, rec, &got)
	if got.Report.CardsAdded != 2 {
		t.Fatalf("Expected 2 imported cards, but got %+v", got.Report)
	}

	decks, err := e.db.ListDecks(context.Background(), nil)
	if err != nil || len(decks) != 1 {
		t.Fatalf("Expected one deck, got %v (err %v)", decks, err)
	}
	return decks[0].ID
}

func TestHealthcheck(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthcheck", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("Expected 200 ok, but got %d %q", rec.Code, rec.Body.String())
	}
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/assessments", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Expected allow-origin header for the dev origin, but got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for a foreign origin, but got %d", rec.Code)
	}
}

func TestAssessmentLifecycle(t *testing.T) {
	e := newTestEnv(t)
	deckID := e.importDecks(t)

	rec := e.do(t, http.MethodPost, "/api/assessments", gin.H{
		"name":          "Go exam",
		"date":          domain.DayString(now.AddDate(0, 0, 10)),
		"deck_ids":      []string{deckID},
		"daily_minutes": 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, but got %d: %s", rec.Code, rec.Body)
	}
	var created struct {
		Assessment assessmentResponse  `json:"assessment"`
		Plan       []planEntryResponse `json:"plan"`
	}
	decode(t, rec, &created)
	if created.Assessment.ID == "" || len(created.Plan) == 0 {
		t.Fatalf("Unexpected create response %s", rec.Body)
	}
	id := created.Assessment.ID
	first := created.Plan[0]
	if first.Status != domain.Pending || first.TargetMinutes != 30 {
		t.Errorf("Unexpected first entry %+v", first)
	}

	rec = e.do(t, http.MethodPost, "/api/assessments/"+id+"/plan/results", gin.H{
		"date":           first.Date,
		"deck_id":        first.DeckID,
		"status":         "studied",
		"actual_minutes": 25,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, but got %d: %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodGet, "/api/assessments/"+id+"/plan", nil)
	var plan struct {
		Plan []planEntryResponse `json:"plan"`
	}
	decode(t, rec, &plan)
	if plan.Plan[0].Status != domain.Studied || plan.Plan[0].ActualMinutes == nil || *plan.Plan[0].ActualMinutes != 25 {
		t.Errorf("Expected first entry studied for 25 minutes, got %+v", plan.Plan[0])
	}

	rec = e.do(t, http.MethodPut, "/api/assessments/"+id, gin.H{
		"name":          "Go exam",
		"date":          domain.DayString(now.AddDate(0, 0, 12)),
		"deck_ids":      []string{deckID},
		"daily_minutes": 40,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on update, but got %d: %s", rec.Code, rec.Body)
	}

	if rec := e.do(t, http.MethodGet, "/api/assessments/"+id+"/plan/preview", nil); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 on preview, but got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodDelete, "/api/assessments/"+id, nil); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, but got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/assessments/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, but got %d", rec.Code)
	}
}

func TestAssessmentErrors(t *testing.T) {
	e := newTestEnv(t)
	deckID := e.importDecks(t)
	future := domain.DayString(now.AddDate(0, 0, 5))

	tests := []struct {
		name   string
		body   gin.H
		status int
		code   string
	}{
		{"past due", gin.H{"name": "x", "date": domain.DayString(now), "deck_ids": []string{deckID}}, http.StatusBadRequest, "past_due_assessment"},
		{"no decks", gin.H{"name": "x", "date": future}, http.StatusUnprocessableEntity, "no_decks_selected"},
		{"no name", gin.H{"date": future, "deck_ids": []string{deckID}}, http.StatusBadRequest, "invalid_assessment"},
		{"bad date", gin.H{"name": "x", "date": "next week", "deck_ids": []string{deckID}}, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/assessments", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected %d, but got %d: %s", tt.status, rec.Code, rec.Body)
			}
			var env errorEnvelope
			decode(t, rec, &env)
			if env.Error.Code != tt.code {
				t.Errorf("Expected code %s, but got %s", tt.code, env.Error.Code)
			}
		})
	}

	t.Run("unknown decks still create", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/assessments", gin.H{"name": "x", "date": future, "deck_ids": []string{"gone"}})
		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected 201, but got %d: %s", rec.Code, rec.Body)
		}
		var body map[string]any
		decode(t, rec, &body)
		if body["warning"] == nil {
			t.Errorf("Expected a warning, got %s", rec.Body)
		}
	})

	t.Run("pending result rejected", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/assessments/missing/plan/results", gin.H{
			"date": future, "deck_id": deckID, "status": "pending",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, but got %d", rec.Code)
		}
	})
}

func TestCardEndpoints(t *testing.T) {
	e := newTestEnv(t)
	deckID := e.importDecks(t)

	rec := e.do(t, http.MethodGet, "/api/decks/"+deckID+"/due", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, but got %d", rec.Code)
	}
	var due struct {
		Cards []domain.Card `json:"cards"`
	}
	decode(t, rec, &due)
	if len(due.Cards) != 2 {
		t.Fatalf("Expected 2 due cards, but got %d", len(due.Cards))
	}
	cardID := due.Cards[0].ID

	rec = e.do(t, http.MethodPost, "/api/cards/"+cardID+"/review", gin.H{"response": "good"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, but got %d: %s", rec.Code, rec.Body)
	}
	var reviewed struct {
		Card domain.Card `json:"card"`
	}
	decode(t, rec, &reviewed)
	if reviewed.Card.State != domain.Learning || reviewed.Card.Reps != 1 {
		t.Errorf("Unexpected reviewed card %+v", reviewed.Card)
	}

	if rec := e.do(t, http.MethodPost, "/api/cards/"+cardID+"/review", gin.H{"response": "meh"}); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown response, but got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/cards/nope/review", gin.H{"response": "good"}); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown card, but got %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/api/cards/"+cardID+"/recall", nil)
	var recall struct {
		Probability float64 `json:"probability"`
	}
	decode(t, rec, &recall)
	if recall.Probability != 1 {
		t.Errorf("Expected probability 1 right after review, but got %v", recall.Probability)
	}

	rec = e.do(t, http.MethodGet, "/api/cards/"+cardID+"/preview", nil)
	var preview struct {
		Preview map[string]domain.Card `json:"preview"`
	}
	decode(t, rec, &preview)
	if len(preview.Preview) != 4 {
		t.Errorf("Expected 4 previews, but got %d", len(preview.Preview))
	}

	if rec := e.do(t, http.MethodPost, "/api/practice", gin.H{"deck_id": deckID, "correct_cards": 3, "total_cards": 4}); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for practice, but got %d: %s", rec.Code, rec.Body)
	}
	rec = e.do(t, http.MethodGet, "/api/decks/"+deckID+"/metrics", nil)
	var m domain.DeckMetrics
	decode(t, rec, &m)
	// One correct review plus three of four practised cards.
	if m.Accuracy != 0.8 {
		t.Errorf("Expected accuracy 0.8, but got %v", m.Accuracy)
	}

	rec = e.do(t, http.MethodGet, "/api/decks", nil)
	var decks struct {
		Decks []domain.Deck `json:"decks"`
	}
	decode(t, rec, &decks)
	if len(decks.Decks) != 1 || decks.Decks[0].Name != "Go" {
		t.Errorf("Unexpected decks %+v", decks.Decks)
	}
}

func TestSourceEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.importDecks(t)

	rec := e.do(t, http.MethodGet, "/api/sources", nil)
	var list struct {
		Sources []sourceResponse `json:"sources"`
	}
	decode(t, rec, &list)
	if len(list.Sources) != 1 || list.Sources[0].LastScanned == nil {
		t.Fatalf("Expected one scanned source, got %+v", list.Sources)
	}

	if rec := e.do(t, http.MethodDelete, "/api/sources/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad id, but got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodDelete, "/api/sources/999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown source, but got %d", rec.Code)
	}
	path := "/api/sources/" + strconv.FormatInt(list.Sources[0].ID, 10)
	if rec := e.do(t, http.MethodDelete, path, nil); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, but got %d: %s", rec.Code, rec.Body)
	}
}
