package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/quizforge/attempt-engine/internal/model"
)

// VariantRepository reads pre-materialized exam variants.
type VariantRepository struct {
	pool *pgxpool.Pool
}

// NewVariantRepository creates a new VariantRepository.
func NewVariantRepository(pool *pgxpool.Pool) *VariantRepository {
	return &VariantRepository{pool: pool}
}

// GetByExamAndCode retrieves a non-deleted variant by its exam and code.
func (r *VariantRepository) GetByExamAndCode(ctx context.Context, examID uuid.UUID, code string) (*model.ExamVariant, error) {
	v := &model.ExamVariant{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, code, created_at, deleted_at
		 FROM exam_variants
		 WHERE exam_id = $1 AND code = $2 AND deleted_at IS NULL`, examID, code,
	).Scan(&v.ID, &v.ExamID, &v.Code, &v.CreatedAt, &v.DeletedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// QuestionList retrieves the variant's materialized question list in order.
// The list is immutable once any attempt references the variant, so this
// read is reproducible across restores.
func (r *VariantRepository) QuestionList(ctx context.Context, variantID uuid.UUID) ([]model.QuestionRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, marks, position
		 FROM exam_variant_questions
		 WHERE variant_id = $1
		 ORDER BY position`, variantID,
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
