package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/conorfennell/knolplan/internal/domain"
)

const assessmentColumns = `id, name, date, weight, daily_minutes, deck_ids, deck_weights`

func assessmentArgs(a domain.Assessment) ([]any, error) {
	deckIDs, err := json.Marshal(a.DeckIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode deck ids of assessment %s: %w", a.ID, err)
	}
	var weights sql.NullString
	if len(a.DeckWeights) > 0 {
		raw, err := json.Marshal(a.DeckWeights)
		if err != nil {
			return nil, fmt.Errorf("failed to encode deck weights of assessment %s: %w", a.ID, err)
		}
		weights = sql.NullString{String: string(raw), Valid: true}
	}
	return []any{a.ID, a.Name, domain.DayString(a.Date), a.Weight, a.DailyMinutes, string(deckIDs), weights}, nil
}

func scanAssessment(row rowScanner) (domain.Assessment, error) {
	var a domain.Assessment
	var date, deckIDs string
	var weights sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &date, &a.Weight, &a.DailyMinutes, &deckIDs, &weights); err != nil {
		return domain.Assessment{}, err
	}
	day, err := domain.ParseDay(date)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("failed to parse date of assessment %s: %w", a.ID, err)
	}
	a.Date = day
	if err := json.Unmarshal([]byte(deckIDs), &a.DeckIDs); err != nil {
		return domain.Assessment{}, fmt.Errorf("failed to decode deck ids of assessment %s: %w", a.ID, err)
	}
	if weights.Valid {
		if err := json.Unmarshal([]byte(weights.String), &a.DeckWeights); err != nil {
			return domain.Assessment{}, fmt.Errorf("failed to decode deck weights of assessment %s: %w", a.ID, err)
		}
	}
	return a, nil
}

// CreateAssessment inserts a new assessment.
func (db *DB) CreateAssessment(ctx context.Context, a domain.Assessment) error {
	args, err := assessmentArgs(a)
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, `
		INSERT INTO assessments (`+assessmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, args...); err != nil {
		return fmt.Errorf("failed to insert assessment %s: %w", a.ID, err)
	}
	return nil
}

// GetAssessment retrieves an assessment by id.
func (db *DB) GetAssessment(ctx context.Context, id string) (domain.Assessment, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id)
	a, err := scanAssessment(row)
	if err != nil {
		if isNoRows(err) {
			return domain.Assessment{}, fmt.Errorf("assessment %s: %w", id, domain.ErrNotFound)
		}
		return domain.Assessment{}, fmt.Errorf("failed to find assessment %s: %w", id, err)
	}
	return a, nil
}

// UpdateAssessment overwrites an existing assessment.
func (db *DB) UpdateAssessment(ctx context.Context, a domain.Assessment) error {
	args, err := assessmentArgs(a)
	if err != nil {
		return err
	}
	// The id moves from the front to the WHERE clause.
	args = append(append([]any{}, args[1:]...), args[0])
	res, err := db.conn.ExecContext(ctx, `
		UPDATE assessments
		SET name = ?, date = ?, weight = ?, daily_minutes = ?, deck_ids = ?, deck_weights = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to update assessment %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assessment %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

// DeleteAssessment removes an assessment. Its plan is removed separately.
func (db *DB) DeleteAssessment(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM assessments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assessment %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assessment %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListAssessments returns every assessment ordered by date.
func (db *DB) ListAssessments(ctx context.Context) ([]domain.Assessment, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+assessmentColumns+` FROM assessments ORDER BY date, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer rows.Close()

	var out []domain.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
