package storage

import (
	"context"
	"fmt"

	"github.com/conorfennell/knolplan/internal/domain"
)

// AppendPractice adds an entry to the practice log.
func (db *DB) AppendPractice(ctx context.Context, entry domain.PracticeLogEntry) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO practice_log (deck_id, ts, correct_cards, total_cards)
		VALUES (?, ?, ?, ?)
	`, entry.DeckID, entry.Timestamp, entry.CorrectCards, entry.TotalCards)
	if err != nil {
		return fmt.Errorf("failed to append practice for deck %s: %w", entry.DeckID, err)
	}
	return nil
}

// ListPractice returns the log entries of the given decks in time order.
func (db *DB) ListPractice(ctx context.Context, deckIDs []string) ([]domain.PracticeLogEntry, error) {
	if len(deckIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(deckIDs))
	for i, id := range deckIDs {
		args[i] = id
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT deck_id, ts, correct_cards, total_cards
		FROM practice_log
		WHERE deck_id IN (`+placeholders(len(deckIDs))+`)
		ORDER BY ts, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list practice log: %w", err)
	}
	defer rows.Close()

	var log []domain.PracticeLogEntry
	for rows.Next() {
		var e domain.PracticeLogEntry
		if err := rows.Scan(&e.DeckID, &e.Timestamp, &e.CorrectCards, &e.TotalCards); err != nil {
			return nil, fmt.Errorf("failed to scan practice row: %w", err)
		}
		log = append(log, e)
	}
	return log, rows.Err()
}
