package repository

import (
	"context"
	"fmt"
	"time"

	"encoding/json"
)

// Submission records one visitor's answers and the routing decision they
// received. RuleID is nil for no-match decisions.
type Submission struct {
	ID        string          `json:"id"`
	FormID    string          `json:"-"`
	Answers   json.RawMessage `json:"answers"`
	Outcome   string          `json:"outcome"`
	Detail    string          `json:"detail,omitempty"`
	RuleID    *int64          `json:"rule_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateSubmission inserts a submission row and returns the created record
// with its server-generated id and timestamp.
func (r *PostgresRepository) CreateSubmission(ctx context.Context, submission Submission) (Submission, error) {
	var created Submission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO submissions (form_id, answers, outcome, detail, rule_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, form_id, answers, outcome, detail, rule_id, created_at
	`,
		submission.FormID,
		ensureJSON(submission.Answers, "{}"),
		submission.Outcome,
		submission.Detail,
		submission.RuleID,
	).Scan(
		&created.ID,
		&created.FormID,
		&created.Answers,
		&created.Outcome,
		&created.Detail,
		&created.RuleID,
		&created.CreatedAt,
	)
	if err != nil {
		return Submission{}, fmt.Errorf("create submission: %w", err)
	}

	return created, nil
}

// ListSubmissions returns the form's submissions, newest first.
func (r *PostgresRepository) ListSubmissions(ctx context.Context, formID string, limit, offset int) ([]Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, form_id, answers, outcome, detail, rule_id, created_at
		FROM submissions
		WHERE form_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, formID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	submissions := make([]Submission, 0)
	for rows.Next() {
		var s Submission
		if err := rows.Scan(
			&s.ID,
			&s.FormID,
			&s.Answers,
			&s.Outcome,
			&s.Detail,
			&s.RuleID,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		submissions = append(submissions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list submissions rows: %w", err)
	}

	return submissions, nil
}

// CountSubmissionsByOutcome returns a count of the form's submissions per
// decision outcome, for the admin dashboard.
func (r *PostgresRepository) CountSubmissionsByOutcome(ctx context.Context, formID string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT outcome, COUNT(*)
		FROM submissions
		WHERE form_id = $1
		GROUP BY outcome
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		counts[outcome] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count submissions rows: %w", err)
	}

	return counts, nil
}
