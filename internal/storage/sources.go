package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conorfennell/knolplan/internal/domain"
)

// Source represents a deck source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	Type        string
	LastScanned sql.NullTime
}

// InsertSource inserts a new source path into the database and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source from the database by its path.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	var s Source
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path)

	err := row.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("source %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources from the database.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.Path, &s.Type, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, at, sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source and every deck imported from it.
func (db *DB) DeleteSource(ctx context.Context, id int64) error {
	deckIDs, err := db.DeckIDsBySource(ctx, id)
	if err != nil {
		return err
	}
	for _, deckID := range deckIDs {
		if err := db.DeleteDeck(ctx, deckID); err != nil {
			return err
		}
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", id, err)
	}
	return nil
}
