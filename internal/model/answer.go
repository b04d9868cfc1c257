package model

import (
	"time"

	"github.com/google/uuid"
)

// BufferedAnswer is the cache-resident, non-durable record of one
// question's answer-in-progress. Last write wins per (attempt, question);
// writes carry a client sequence so stale retries can be discarded.
type BufferedAnswer struct {
	QuestionID        uuid.UUID   `json:"question_id"`
	SelectedOptionIDs []uuid.UUID `json:"selected_option_ids,omitempty"`
	TextAnswer        string      `json:"text_answer,omitempty"`
	Seq               int64       `json:"seq"`
	SavedAt           time.Time   `json:"saved_at"`
}

// SubmittedAnswer is the durable record of one question's final answer,
// written at finalize time and immutable afterward. Provisional rows are
// the synchronous fallback path used while the buffer is unavailable; they
// are reconciled (newest per question wins) and flipped at finalize.
type SubmittedAnswer struct {
	ID          uuid.UUID  `json:"id"`
	AttemptID   uuid.UUID  `json:"attempt_id"`
	QuestionID  uuid.UUID  `json:"question_id"`
	TextAnswer  *string    `json:"text_answer,omitempty"`
	IsCorrect   *bool      `json:"is_correct,omitempty"`
	EarnedMarks float64    `json:"earned_marks"`
	Provisional bool       `json:"provisional"`
	ClientSeq   int64      `json:"client_seq"`
	SavedAt     time.Time  `json:"saved_at"`
	GradedAt    *time.Time `json:"graded_at,omitempty"`
}

// SubmittedAnswerOption records one selected option of a submitted answer.
type SubmittedAnswerOption struct {
	AnswerID uuid.UUID `json:"answer_id"`
	OptionID uuid.UUID `json:"option_id"`
}
