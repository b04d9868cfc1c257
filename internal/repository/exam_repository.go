package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizforge/attempt-engine/internal/model"
)

// ExamRepository reads the exam catalog. The attempt engine never writes
// to exams.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject_id, duration_minutes, passing_mark,
		        randomize_questions, allow_multiple_attempts,
		        start_at, end_at, sampling_profile, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(
		&e.ID, &e.Title, &e.SubjectID, &e.DurationMinutes, &e.PassingMark,
		&e.RandomizeQuestions, &e.AllowMultipleAttempts,
		&e.StartAt, &e.EndAt, &e.SamplingProfile, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// StaticQuestionList retrieves the exam's statically configured question
// list ordered by sequence index.
func (r *ExamRepository) StaticQuestionList(ctx context.Context, examID uuid.UUID) ([]model.QuestionRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, marks, position
		 FROM exam_questions
		 WHERE exam_id = $1
		 ORDER BY position`, examID,
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
