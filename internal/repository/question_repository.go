package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizforge/attempt-engine/internal/model"
)

// PoolQuestion is a sampling candidate from a subject's question pool.
type PoolQuestion struct {
	QuestionID uuid.UUID        `json:"question_id"`
	Difficulty model.Difficulty `json:"difficulty"`
	Marks      float64          `json:"marks"`
}

// QuestionRepository reads the question catalog, including correct option
// sets for grading.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListPoolBySubject retrieves all sampling candidates for a subject.
func (r *QuestionRepository) ListPoolBySubject(ctx context.Context, subjectID uuid.UUID) ([]PoolQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, difficulty, marks
		 FROM questions
		 WHERE subject_id = $1`, subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pool []PoolQuestion
	for rows.Next() {
		var q PoolQuestion
		if err := rows.Scan(&q.QuestionID, &q.Difficulty, &q.Marks); err != nil {
			return nil, err
		}
		pool = append(pool, q)
	}
	return pool, rows.Err()
}

// ListByIDs retrieves full questions (with options) for the given IDs.
// Order of the result is unspecified; callers index by ID.
func (r *QuestionRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Question, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*model.Question{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, subject_id, text, type, difficulty, marks
		 FROM questions
		 WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := make(map[uuid.UUID]*model.Question, len(ids))
	for rows.Next() {
		q := &model.Question{}
		if err := rows.Scan(&q.ID, &q.SubjectID, &q.Text, &q.Type, &q.Difficulty, &q.Marks); err != nil {
			return nil, err
		}
		questions[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	optRows, err := r.pool.Query(ctx,
		`SELECT question_id, id, text, is_correct, position
		 FROM question_options
		 WHERE question_id = ANY($1)
		 ORDER BY question_id, position`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer optRows.Close()

	for optRows.Next() {
		var qid uuid.UUID
		var o model.QuestionOption
		if err := optRows.Scan(&qid, &o.ID, &o.Text, &o.IsCorrect, &o.Position); err != nil {
			return nil, err
		}
		if q, ok := questions[qid]; ok {
			q.Options = append(q.Options, o)
		}
	}
	return questions, optRows.Err()
}
