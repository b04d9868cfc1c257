package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamVariant is a named, pre-materialized question set for an exam.
// Its question list is immutable once any attempt references it, which is
// what makes variant-based attempts reproducible across restores.
type ExamVariant struct {
	ID        uuid.UUID  `json:"id"`
	ExamID    uuid.UUID  `json:"exam_id"`
	Code      string     `json:"code"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// ExamVariantQuestion is one ordered entry of a variant's question list.
type ExamVariantQuestion struct {
	VariantID  uuid.UUID `json:"variant_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Marks      float64   `json:"marks"`
	Position   int       `json:"position"`
}
