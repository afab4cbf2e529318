package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conorfennell/knolplan/internal/domain"
)

const cardColumns = `id, section_id, deck_id, question, answer, context,
	stability, difficulty, elapsed_days, scheduled_days, reps, lapses, state, last_review, next_review`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var c domain.Card
	var state int
	var lastReview sql.NullTime
	err := row.Scan(
		&c.ID,
		&c.SectionID,
		&c.DeckID,
		&c.Question,
		&c.Answer,
		&c.Context,
		&c.Stability,
		&c.Difficulty,
		&c.ElapsedDays,
		&c.ScheduledDays,
		&c.Reps,
		&c.Lapses,
		&state,
		&lastReview,
		&c.NextReview,
	)
	if err != nil {
		return domain.Card{}, err
	}
	c.State = domain.CardState(state)
	if lastReview.Valid {
		t := lastReview.Time
		c.LastReview = &t
	}
	return c, nil
}

func nullTime(c domain.Card) sql.NullTime {
	if c.LastReview == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *c.LastReview, Valid: true}
}

// InsertCard inserts a new card with its current memory state.
func (db *DB) InsertCard(ctx context.Context, card domain.Card) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		card.ID,
		card.SectionID,
		card.DeckID,
		card.Question,
		card.Answer,
		card.Context,
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		int(card.State),
		nullTime(card),
		card.NextReview,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	return nil
}

// GetCard retrieves a card by id. A missing card yields domain.ErrNotFound.
func (db *DB) GetCard(ctx context.Context, id string) (domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
		}
		return domain.Card{}, fmt.Errorf("failed to find card %s: %w", id, err)
	}
	return c, nil
}

// SaveCard writes the memory state and placement of an existing card.
func (db *DB) SaveCard(ctx context.Context, card domain.Card) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards
		SET section_id = ?, deck_id = ?, stability = ?, difficulty = ?, elapsed_days = ?,
			scheduled_days = ?, reps = ?, lapses = ?, state = ?, last_review = ?, next_review = ?
		WHERE id = ?
	`,
		card.SectionID,
		card.DeckID,
		card.Stability,
		card.Difficulty,
		card.ElapsedDays,
		card.ScheduledDays,
		card.Reps,
		card.Lapses,
		int(card.State),
		nullTime(card),
		card.NextReview,
		card.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update card %s: %w", card.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("card %s: %w", card.ID, domain.ErrNotFound)
	}
	return nil
}

// ListCardsByDeck returns the cards of a deck ordered by next review.
func (db *DB) ListCardsByDeck(ctx context.Context, deckID string) ([]domain.Card, error) {
	return db.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE deck_id = ? ORDER BY next_review, id`, deckID)
}

// ListCardsBySection returns the cards of a section ordered by next review.
func (db *DB) ListCardsBySection(ctx context.Context, sectionID string) ([]domain.Card, error) {
	return db.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE section_id = ? ORDER BY next_review, id`, sectionID)
}

func (db *DB) queryCards(ctx context.Context, query string, arg string) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for %s: %w", arg, err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row for %s: %w", arg, err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// DeleteCard removes a card from the database by its id.
func (db *DB) DeleteCard(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card %s: %w", id, err)
	}
	return nil
}
