package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizforge/attempt-engine/internal/model"
)

// ErrActiveAttemptExists signals that an IN_PROGRESS attempt already
// exists for the (exam, user) pair on a single-attempt exam.
var ErrActiveAttemptExists = errors.New("an in-progress attempt already exists")

const attemptColumns = `id, exam_id, user_id, variant_code, start_time, deadline,
	 status, score, max_score, submitted_at, finalize_reason`

// AttemptRepository owns all exam_attempts writes. Status transitions go
// through conditional single-row updates; the affected-row count is the
// only cross-instance synchronization primitive.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := row.Scan(
		&a.ID, &a.ExamID, &a.UserID, &a.VariantCode, &a.StartTime, &a.Deadline,
		&a.Status, &a.Score, &a.MaxScore, &a.SubmittedAt, &a.FinalizeReason,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt by its UUID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id,
	))
}

// Create inserts a new IN_PROGRESS attempt unconditionally. Used when the
// exam allows multiple attempts; sole_active FALSE keeps these rows out of
// the active-attempt unique index.
func (r *AttemptRepository) Create(ctx context.Context, a *model.ExamAttempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, user_id, variant_code, start_time, deadline, status, max_score, sole_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
		 RETURNING id`,
		a.ExamID, a.UserID, a.VariantCode, a.StartTime, a.Deadline, model.AttemptStatusInProgress, a.MaxScore,
	).Scan(&a.ID)
}

// CreateGuarded inserts a new IN_PROGRESS attempt only if no IN_PROGRESS
// attempt exists for this (exam, user). The NOT EXISTS guard catches the
// common case with one round trip, but it reads its own statement
// snapshot and is not atomic against a concurrent insert — the
// uq_exam_attempts_active partial unique index is the authoritative
// enforcement. Either path reports ErrActiveAttemptExists.
func (r *AttemptRepository) CreateGuarded(ctx context.Context, a *model.ExamAttempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, user_id, variant_code, start_time, deadline, status, max_score, sole_active)
		 SELECT $1, $2, $3, $4, $5, $6, $7, TRUE
		 WHERE NOT EXISTS (
		     SELECT 1 FROM exam_attempts
		     WHERE exam_id = $1 AND user_id = $2 AND status = $8
		 )
		 RETURNING id`,
		a.ExamID, a.UserID, a.VariantCode, a.StartTime, a.Deadline, model.AttemptStatusInProgress, a.MaxScore,
		model.AttemptStatusInProgress,
	).Scan(&a.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrActiveAttemptExists
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrActiveAttemptExists
		}
		return err
	}
	return nil
}

// InsertQuestions persists an attempt's resolved question set.
func (r *AttemptRepository) InsertQuestions(ctx context.Context, attemptID uuid.UUID, refs []model.QuestionRef) error {
	batch := &pgx.Batch{}
	for _, ref := range refs {
		batch.Queue(
			`INSERT INTO exam_attempt_questions (attempt_id, question_id, marks, position)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (attempt_id, question_id) DO NOTHING`,
			attemptID, ref.QuestionID, ref.Marks, ref.Position,
		)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListQuestions retrieves an attempt's persisted question set in order.
func (r *AttemptRepository) ListQuestions(ctx context.Context, attemptID uuid.UUID) ([]model.QuestionRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, marks, position
		 FROM exam_attempt_questions
		 WHERE attempt_id = $1
		 ORDER BY position`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []model.QuestionRef
	for rows.Next() {
		var ref model.QuestionRef
		if err := rows.Scan(&ref.QuestionID, &ref.Marks, &ref.Position); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// TryBeginFinalize performs the atomic IN_PROGRESS → FINALIZING transition.
// Exactly one caller observes true; every other concurrent caller sees the
// row already claimed and must not write further.
func (r *AttemptRepository) TryBeginFinalize(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET status = $2
		 WHERE id = $1 AND status = $3`,
		id, model.AttemptStatusFinalizing, model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteFinalize writes the terminal status, score and submission time.
// Conditional on FINALIZING so a crashed-and-retried finalize can never
// double-complete, and a completed attempt can never revert.
func (r *AttemptRepository) CompleteFinalize(
	ctx context.Context,
	id uuid.UUID,
	status model.AttemptStatus,
	score float64,
	submittedAt time.Time,
	reason model.FinalizeReason,
) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $2, score = $3, submitted_at = $4, finalize_reason = $5
		 WHERE id = $1 AND status = $6`,
		id, status, score, submittedAt, reason, model.AttemptStatusFinalizing,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAbandoned performs the explicit administrative IN_PROGRESS →
// ABANDONED transition. Never triggered automatically.
func (r *AttemptRepository) MarkAbandoned(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET status = $2
		 WHERE id = $1 AND status = $3`,
		id, model.AttemptStatusAbandoned, model.AttemptStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpired returns attempts the scheduler should finalize: IN_PROGRESS
// past their deadline, plus FINALIZING rows whose deadline is older than
// the stale cutoff (a crashed finalize that must be resumed).
func (r *AttemptRepository) ListExpired(ctx context.Context, now, staleCutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exam_attempts
		 WHERE (status = $1 AND deadline <= $2)
		    OR (status = $3 AND deadline <= $4)
		 ORDER BY deadline
		 LIMIT $5`,
		model.AttemptStatusInProgress, now,
		model.AttemptStatusFinalizing, staleCutoff,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByExam retrieves attempts for an exam, newest first, with pagination.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID, limit, offset int) ([]model.ExamAttempt, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1`, examID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts
		 WHERE exam_id = $1
		 ORDER BY start_time DESC
		 LIMIT $2 OFFSET $3`, examID, limit, offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var attempts []model.ExamAttempt
	for rows.Next() {
		var a model.ExamAttempt
		if err := rows.Scan(
			&a.ID, &a.ExamID, &a.UserID, &a.VariantCode, &a.StartTime, &a.Deadline,
			&a.Status, &a.Score, &a.MaxScore, &a.SubmittedAt, &a.FinalizeReason,
		); err != nil {
			return nil, 0, err
		}
		attempts = append(attempts, a)
	}
	return attempts, total, rows.Err()
}
