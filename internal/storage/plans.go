package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/knolplan/internal/domain"
)

// LoadPlan returns the plan of an assessment ordered by date and deck,
// together with the revision ReplacePlan must be given.
func (db *DB) LoadPlan(ctx context.Context, assessmentID string) ([]domain.PlanEntry, int64, error) {
	var entries []domain.PlanEntry
	var revision int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		revision, err = readRevision(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		entries, err = readPlan(ctx, tx, assessmentID)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return entries, revision, nil
}

// ReplacePlan atomically swaps the whole plan of an assessment. It fails with
// domain.ErrConcurrentRebalance, writing nothing, when the stored revision is
// no longer expectedRevision.
func (db *DB) ReplacePlan(ctx context.Context, assessmentID string, expectedRevision int64, entries []domain.PlanEntry) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := readRevision(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		if current != expectedRevision {
			return fmt.Errorf("%w: assessment %s at revision %d, expected %d",
				domain.ErrConcurrentRebalance, assessmentID, current, expectedRevision)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM plan_entries WHERE assessment_id = ?`, assessmentID); err != nil {
			return fmt.Errorf("failed to clear plan of assessment %s: %w", assessmentID, err)
		}
		for _, e := range entries {
			var actual sql.NullInt64
			if e.ActualMinutes != nil {
				actual = sql.NullInt64{Int64: int64(*e.ActualMinutes), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO plan_entries (assessment_id, date, deck_id, target_minutes, actual_minutes, status)
				VALUES (?, ?, ?, ?, ?, ?)
			`, assessmentID, domain.DayString(e.Date), e.DeckID, e.TargetMinutes, actual, string(e.Status)); err != nil {
				return fmt.Errorf("failed to insert plan entry %s: %w", e.Key(), err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plan_revisions (assessment_id, revision) VALUES (?, ?)
			ON CONFLICT(assessment_id) DO UPDATE SET revision = excluded.revision
		`, assessmentID, current+1); err != nil {
			return fmt.Errorf("failed to bump plan revision of assessment %s: %w", assessmentID, err)
		}
		return nil
	})
}

// DeletePlan removes every entry of an assessment, whatever its status.
func (db *DB) DeletePlan(ctx context.Context, assessmentID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM plan_entries WHERE assessment_id = ?`, assessmentID); err != nil {
			return fmt.Errorf("failed to delete plan of assessment %s: %w", assessmentID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM plan_revisions WHERE assessment_id = ?`, assessmentID); err != nil {
			return fmt.Errorf("failed to delete plan revision of assessment %s: %w", assessmentID, err)
		}
		return nil
	})
}

func readRevision(ctx context.Context, tx *sql.Tx, assessmentID string) (int64, error) {
	var revision int64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM plan_revisions WHERE assessment_id = ?`, assessmentID).Scan(&revision)
	if err != nil && !isNoRows(err) {
		return 0, fmt.Errorf("failed to read plan revision of assessment %s: %w", assessmentID, err)
	}
	return revision, nil
}

func readPlan(ctx context.Context, tx *sql.Tx, assessmentID string) ([]domain.PlanEntry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT date, deck_id, target_minutes, actual_minutes, status
		FROM plan_entries
		WHERE assessment_id = ?
		ORDER BY date, deck_id
	`, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan of assessment %s: %w", assessmentID, err)
	}
	defer rows.Close()

	var entries []domain.PlanEntry
	for rows.Next() {
		var e domain.PlanEntry
		var date, status string
		var actual sql.NullInt64
		if err := rows.Scan(&date, &e.DeckID, &e.TargetMinutes, &actual, &status); err != nil {
			return nil, fmt.Errorf("failed to scan plan row of assessment %s: %w", assessmentID, err)
		}
		day, err := domain.ParseDay(date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse plan date %q: %w", date, err)
		}
		e.Date = day
		e.AssessmentID = assessmentID
		e.Status = domain.PlanStatus(status)
		if actual.Valid {
			v := int(actual.Int64)
			e.ActualMinutes = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
