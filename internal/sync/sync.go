// Package sync imports decks from their sources into storage. Each run
// reconciles the database with the files: new cards are added with a fresh
// memory state, known cards keep theirs, and cards or decks that vanished
// from the files are deleted.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
	"github.com/conorfennell/knolplan/internal/fsrs"
	"github.com/conorfennell/knolplan/internal/gitsource"
	"github.com/conorfennell/knolplan/internal/knol"
	"github.com/conorfennell/knolplan/internal/logger"
	"github.com/conorfennell/knolplan/internal/parser"
	"github.com/conorfennell/knolplan/internal/storage"
)

const (
	TypeLocal = "local"
	TypeGit   = "git"

	// minutesPerCard estimates how long one card takes to study.
	minutesPerCard = 0.5
)

// Report summarises a sync run. DecksReshaped counts decks whose section
// list changed, new decks included.
type Report struct {
	Sources       int      `json:"sources"`
	Decks         int      `json:"decks"`
	CardsAdded    int      `json:"cards_added"`
	CardsKept     int      `json:"cards_kept"`
	CardsDeleted  int      `json:"cards_deleted"`
	CardsMoved    int      `json:"cards_moved"`
	DecksDeleted  int      `json:"decks_deleted"`
	DecksReshaped int      `json:"decks_reshaped"`
	Errors        []string `json:"errors,omitempty"`
}

// Changed reports whether the run changed any deck's cards or sections.
func (r Report) Changed() bool {
	return r.CardsAdded > 0 || r.CardsDeleted > 0 || r.CardsMoved > 0 ||
		r.DecksDeleted > 0 || r.DecksReshaped > 0
}

// Syncer reconciles sources with the database.
type Syncer struct {
	db       *storage.DB
	reposDir string
	log      *logger.Logger
	now      func() time.Time
	// onChange runs after a sync that changed decks, e.g. to rebalance plans.
	onChange func(ctx context.Context) error
	// fetch updates a git clone; replaced in tests.
	fetch func(ctx context.Context, log *logger.Logger, url, path string) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithClock sets the time source used for new cards and scan stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// OnChange registers fn to run after a sync that changed any deck.
func OnChange(fn func(ctx context.Context) error) Option {
	return func(s *Syncer) { s.onChange = fn }
}

// New creates a Syncer cloning git sources under reposDir.
func New(db *storage.DB, reposDir string, log *logger.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		db:       db,
		reposDir: reposDir,
		log:      log.With("service", "Syncer"),
		now:      time.Now,
		fetch:    gitsource.Sync,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sources lists the configured sources.
func (s *Syncer) Sources(ctx context.Context) ([]storage.Source, error) {
	return s.db.GetAllSources(ctx)
}

// AddSource registers a local directory or a git URL.
func (s *Syncer) AddSource(ctx context.Context, path string) (storage.Source, error) {
	sourceType := TypeGit
	if !gitsource.IsURL(path) {
		sourceType = TypeLocal
		abs, err := filepath.Abs(path)
		if err != nil {
			return storage.Source{}, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return storage.Source{}, fmt.Errorf("source %s: %w", abs, err)
		}
		if !info.IsDir() {
			return storage.Source{}, fmt.Errorf("source %s is not a directory", abs)
		}
		path = abs
	}

	if existing, err := s.db.FindSourceByPath(ctx, path); err == nil {
		return *existing, fmt.Errorf("source %s already exists", path)
	}
	id, err := s.db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return storage.Source{}, err
	}
	s.log.Info("source added", "id", id, "type", sourceType, "path", path)
	return storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// RemoveSource deletes a source with its decks and cards.
func (s *Syncer) RemoveSource(ctx context.Context, id int64) error {
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if src.ID != id {
			continue
		}
		if err := s.db.DeleteSource(ctx, id); err != nil {
			return err
		}
		s.log.Info("source removed", "id", id, "path", src.Path)
		if s.onChange != nil {
			return s.onChange(ctx)
		}
		return nil
	}
	return fmt.Errorf("source %d: %w", id, domain.ErrNotFound)
}

// Run reconciles every source. Problems with one source or file are
// recorded in the report and do not stop the others.
func (s *Syncer) Run(ctx context.Context) (Report, error) {
	var report Report
	sources, err := s.db.GetAllSources(ctx)
	if err != nil {
		return report, err
	}
	if len(sources) == 0 {
		s.log.Info("no sources configured")
		return report, nil
	}

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		s.log.Info("syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		root := source.Path
		if source.Type == TypeGit {
			root, err = gitsource.LocalPath(s.reposDir, source.Path)
			if err != nil {
				report.Errors = append(report.Errors, err.Error())
				continue
			}
			if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
				return report, fmt.Errorf("failed to create repos directory: %w", err)
			}
			if err := s.fetch(ctx, s.log, source.Path, root); err != nil {
				s.log.Error("failed to sync git repo", "url", source.Path, "error", err)
				report.Errors = append(report.Errors, err.Error())
				continue
			}
		}

		if err := s.reconcile(ctx, source.ID, root, &report); err != nil {
			s.log.Error("failed to reconcile source", "id", source.ID, "error", err)
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		report.Sources++
	}

	s.log.Info("sync complete",
		"sources", report.Sources,
		"decks", report.Decks,
		"cards_added", report.CardsAdded,
		"cards_deleted", report.CardsDeleted,
		"errors", len(report.Errors),
	)
	if report.Changed() && s.onChange != nil {
		if err := s.onChange(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// reconcile imports every markdown file under root as a deck of sourceID.
func (s *Syncer) reconcile(ctx context.Context, sourceID int64, root string, report *Report) error {
	seen := make(map[string]bool)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		doc, err := parser.ParseFile(path)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("parsing %s: %v", path, err))
			return nil
		}
		deckID, err := s.importDeck(ctx, sourceID, rel, doc, report)
		if err != nil {
			return err
		}
		seen[deckID] = true
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("error walking %s: %w", root, walkErr)
	}

	known, err := s.db.DeckIDsBySource(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, id := range known {
		if seen[id] {
			continue
		}
		s.log.Info("deck file gone, deleting deck", "deck_id", id)
		if err := s.db.DeleteDeck(ctx, id); err != nil {
			return err
		}
		report.DecksDeleted++
	}
	return s.db.UpdateSourceLastScanned(ctx, sourceID, s.now())
}

// importDeck stores one parsed file and its cards, returning the deck id.
func (s *Syncer) importDeck(ctx context.Context, sourceID int64, rel string, doc parser.Document, report *Report) (string, error) {
	deckID := knol.DeckID(sourceID, rel)
	name := doc.Title
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	}
	deck := domain.Deck{
		ID:     deckID,
		FileID: fmt.Sprintf("%d:%s", sourceID, filepath.ToSlash(rel)),
		Name:   name,
	}

	type placed struct {
		card      domain.Card
		sectionID string
	}
	var cards []placed
	ids := make(map[string]bool)
	for i, sec := range doc.Sections {
		sectionID := knol.SectionID(deckID, sec.Name)
		deck.Sections = append(deck.Sections, domain.Section{ID: sectionID, DeckID: deckID, Name: sec.Name, Position: i})
		for _, c := range sec.Cards {
			id := knol.CardID(deckID, c)
			if ids[id] {
				continue
			}
			ids[id] = true
			c.ID = id
			cards = append(cards, placed{card: c, sectionID: sectionID})
		}
	}
	deck.EstMinutes = int(math.Ceil(float64(len(cards)) * minutesPerCard))

	prev, err := s.db.GetDeck(ctx, deckID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}
	if !sameSections(prev.Sections, deck.Sections) {
		report.DecksReshaped++
	}
	if err := s.db.UpsertDeck(ctx, deck, sourceID); err != nil {
		return "", err
	}
	report.Decks++

	existing, err := s.db.ListCardsByDeck(ctx, deckID)
	if err != nil {
		return "", err
	}
	stored := make(map[string]domain.Card, len(existing))
	for _, c := range existing {
		stored[c.ID] = c
	}

	for _, p := range cards {
		if old, ok := stored[p.card.ID]; ok {
			report.CardsKept++
			if old.SectionID != p.sectionID {
				old.SectionID = p.sectionID
				if err := s.db.SaveCard(ctx, old); err != nil {
					return "", err
				}
				report.CardsMoved++
			}
			continue
		}
		card := fsrs.InitCard(s.now())
		card.ID = p.card.ID
		card.DeckID = deckID
		card.SectionID = p.sectionID
		card.Question = p.card.Question
		card.Answer = p.card.Answer
		card.Context = p.card.Context
		if err := s.db.InsertCard(ctx, card); err != nil {
			return "", err
		}
		report.CardsAdded++
	}

	for id := range stored {
		if ids[id] {
			continue
		}
		if err := s.db.DeleteCard(ctx, id); err != nil {
			return "", err
		}
		report.CardsDeleted++
	}
	s.log.Debug("deck imported", "deck_id", deckID, "name", name, "cards", len(cards))
	return deckID, nil
}

func sameSections(a, b []domain.Section) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
