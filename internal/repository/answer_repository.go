package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizforge/attempt-engine/internal/model"
)

// FinalAnswerRow is one graded answer ready for its durable, final upsert.
type FinalAnswerRow struct {
	AttemptID   uuid.UUID
	QuestionID  uuid.UUID
	TextAnswer  *string
	OptionIDs   []uuid.UUID
	IsCorrect   *bool
	EarnedMarks float64
	ClientSeq   int64
	SavedAt     time.Time
}

// AnswerRepository owns submitted_answers and submitted_answer_options.
// Rows are upserted by (attempt_id, question_id) so a retried finalize
// never duplicates them.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// UpsertProvisional synchronously stores an answer while the buffer is
// unavailable. It never touches finalized rows and never regresses an
// answer to an older client sequence.
func (r *AnswerRepository) UpsertProvisional(ctx context.Context, attemptID uuid.UUID, ans model.BufferedAnswer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var text *string
	if ans.TextAnswer != "" {
		text = &ans.TextAnswer
	}

	var answerID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO submitted_answers (attempt_id, question_id, text_answer, provisional, client_seq, saved_at)
		 VALUES ($1, $2, $3, TRUE, $4, $5)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET text_answer = EXCLUDED.text_answer,
		     client_seq  = EXCLUDED.client_seq,
		     saved_at    = EXCLUDED.saved_at
		 WHERE submitted_answers.provisional
		   AND submitted_answers.client_seq <= EXCLUDED.client_seq
		 RETURNING id`,
		attemptID, ans.QuestionID, text, ans.Seq, ans.SavedAt,
	).Scan(&answerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Older than the stored write, or already finalized. Drop it.
			return tx.Commit(ctx)
		}
		return fmt.Errorf("upsert provisional: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM submitted_answer_options WHERE answer_id = $1`, answerID,
	); err != nil {
		return fmt.Errorf("clear options: %w", err)
	}
	for _, optID := range ans.SelectedOptionIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO submitted_answer_options (answer_id, option_id) VALUES ($1, $2)`,
			answerID, optID,
		); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListProvisional retrieves the provisional fallback rows for an attempt
// in buffered-answer form, for reconciliation against the cache.
func (r *AnswerRepository) ListProvisional(ctx context.Context, attemptID uuid.UUID) ([]model.BufferedAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.question_id, a.text_answer, a.client_seq, a.saved_at,
		        COALESCE(array_agg(o.option_id) FILTER (WHERE o.option_id IS NOT NULL), '{}')
		 FROM submitted_answers a
		 LEFT JOIN submitted_answer_options o ON o.answer_id = a.id
		 WHERE a.attempt_id = $1 AND a.provisional
		 GROUP BY a.id, a.question_id, a.text_answer, a.client_seq, a.saved_at`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.BufferedAnswer
	for rows.Next() {
		var ans model.BufferedAnswer
		var text *string
		if err := rows.Scan(&ans.QuestionID, &text, &ans.Seq, &ans.SavedAt, &ans.SelectedOptionIDs); err != nil {
			return nil, err
		}
		if text != nil {
			ans.TextAnswer = *text
		}
		answers = append(answers, ans)
	}
	return answers, rows.Err()
}

// SaveFinal upserts the graded, final answer rows for an attempt in one
// transaction. Re-running with the same input is a no-op in effect, which
// is what makes a crashed finalize safely retryable.
func (r *AnswerRepository) SaveFinal(ctx context.Context, rows []FinalAnswerRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for _, row := range rows {
		var answerID uuid.UUID
		err := tx.QueryRow(ctx,
			`INSERT INTO submitted_answers
			     (attempt_id, question_id, text_answer, is_correct, earned_marks, provisional, client_seq, saved_at, graded_at)
			 VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7, $8)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET text_answer  = EXCLUDED.text_answer,
			     is_correct   = EXCLUDED.is_correct,
			     earned_marks = EXCLUDED.earned_marks,
			     provisional  = FALSE,
			     client_seq   = EXCLUDED.client_seq,
			     saved_at     = EXCLUDED.saved_at,
			     graded_at    = EXCLUDED.graded_at
			 RETURNING id`,
			row.AttemptID, row.QuestionID, row.TextAnswer, row.IsCorrect,
			row.EarnedMarks, row.ClientSeq, row.SavedAt, now,
		).Scan(&answerID)
		if err != nil {
			return fmt.Errorf("upsert final answer: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM submitted_answer_options WHERE answer_id = $1`, answerID,
		); err != nil {
			return fmt.Errorf("clear options: %w", err)
		}
		for _, optID := range row.OptionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO submitted_answer_options (answer_id, option_id) VALUES ($1, $2)`,
				answerID, optID,
			); err != nil {
				return fmt.Errorf("insert option: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}
