package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/conorfennell/knolplan/internal/domain"
)

// UpsertDeck stores a deck and replaces its sections.
// Cards are left alone; sections that disappear keep no cards once a sync
// has removed the orphans.
func (db *DB) UpsertDeck(ctx context.Context, deck domain.Deck, sourceID int64) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO decks (id, file_id, name, est_minutes, source_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				file_id = excluded.file_id,
				name = excluded.name,
				est_minutes = excluded.est_minutes,
				source_id = excluded.source_id
		`, deck.ID, deck.FileID, deck.Name, deck.EstMinutes, sourceID)
		if err != nil {
			return fmt.Errorf("failed to upsert deck %s: %w", deck.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE deck_id = ?`, deck.ID); err != nil {
			return fmt.Errorf("failed to clear sections of deck %s: %w", deck.ID, err)
		}
		for _, s := range deck.Sections {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sections (id, deck_id, name, position) VALUES (?, ?, ?, ?)
			`, s.ID, deck.ID, s.Name, s.Position); err != nil {
				return fmt.Errorf("failed to insert section %s: %w", s.ID, err)
			}
		}
		return nil
	})
}

// GetDeck returns a deck with its sections and per-section card counts.
func (db *DB) GetDeck(ctx context.Context, id string) (domain.Deck, error) {
	decks, err := db.ListDecks(ctx, []string{id})
	if err != nil {
		return domain.Deck{}, err
	}
	if len(decks) == 0 {
		return domain.Deck{}, fmt.Errorf("deck %s: %w", id, domain.ErrNotFound)
	}
	return decks[0], nil
}

// ListDecks returns the decks with the given ids; unknown ids are skipped.
// A nil slice lists every deck.
func (db *DB) ListDecks(ctx context.Context, ids []string) ([]domain.Deck, error) {
	query := `SELECT id, file_id, name, est_minutes FROM decks`
	args := make([]any, 0, len(ids))
	if ids != nil {
		if len(ids) == 0 {
			return nil, nil
		}
		query += ` WHERE id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY name, id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}
	var decks []domain.Deck
	for rows.Next() {
		var d domain.Deck
		if err := rows.Scan(&d.ID, &d.FileID, &d.Name, &d.EstMinutes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}

	for i := range decks {
		sections, err := db.listSections(ctx, decks[i].ID)
		if err != nil {
			return nil, err
		}
		decks[i].Sections = sections
	}
	return decks, nil
}

func (db *DB) listSections(ctx context.Context, deckID string) ([]domain.Section, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.id, s.deck_id, s.name, s.position, COUNT(c.id)
		FROM sections s LEFT JOIN cards c ON c.section_id = s.id
		WHERE s.deck_id = ?
		GROUP BY s.id
		ORDER BY s.position
	`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sections for deck %s: %w", deckID, err)
	}
	defer rows.Close()

	var sections []domain.Section
	for rows.Next() {
		var s domain.Section
		if err := rows.Scan(&s.ID, &s.DeckID, &s.Name, &s.Position, &s.CardCount); err != nil {
			return nil, fmt.Errorf("failed to scan section row for deck %s: %w", deckID, err)
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

// DeckIDsBySource returns the ids of decks imported from a source.
func (db *DB) DeckIDsBySource(ctx context.Context, sourceID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id FROM decks WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get decks for source ID %d: %w", sourceID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deck id for source ID %d: %w", sourceID, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteDeck removes a deck together with its sections and cards.
func (db *DB) DeleteDeck(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM cards WHERE deck_id = ?`,
			`DELETE FROM sections WHERE deck_id = ?`,
			`DELETE FROM decks WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("failed to delete deck %s: %w", id, err)
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
