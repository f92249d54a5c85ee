package outbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresStore persists pending records in pending_status_submissions. The
// primary key (student_id, course_id) enforces one record per key.
type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

const upsertPending = `
INSERT INTO pending_status_submissions (student_id, course_id, exam_type, is_passed, queued_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (student_id, course_id) DO UPDATE
SET exam_type = EXCLUDED.exam_type,
    is_passed = EXCLUDED.is_passed,
    queued_at = EXCLUDED.queued_at`

const getPending = `
SELECT student_id, course_id, exam_type, is_passed, queued_at
FROM pending_status_submissions
WHERE student_id = $1 AND course_id = $2`

const deletePending = `
DELETE FROM pending_status_submissions
WHERE student_id = $1 AND course_id = $2`

const listPending = `
SELECT student_id, course_id, exam_type, is_passed, queued_at
FROM pending_status_submissions
ORDER BY queued_at`

func (s *PostgresStore) Put(ctx context.Context, sub StatusSubmission) error {
	_, err := s.db.Exec(ctx, upsertPending, sub.StudentID, sub.CourseID, sub.ExamType, sub.IsPassed, sub.QueuedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (StatusSubmission, bool, error) {
	var sub StatusSubmission
	err := s.db.QueryRow(ctx, getPending, key.StudentID, key.CourseID).
		Scan(&sub.StudentID, &sub.CourseID, &sub.ExamType, &sub.IsPassed, &sub.QueuedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusSubmission{}, false, nil
		}
		return StatusSubmission{}, false, err
	}
	return sub, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	_, err := s.db.Exec(ctx, deletePending, key.StudentID, key.CourseID)
	return err
}

func (s *PostgresStore) List(ctx context.Context) ([]StatusSubmission, error) {
	rows, err := s.db.Query(ctx, listPending)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusSubmission, error) {
		var sub StatusSubmission
		err := row.Scan(&sub.StudentID, &sub.CourseID, &sub.ExamType, &sub.IsPassed, &sub.QueuedAt)
		return sub, err
	})
}
