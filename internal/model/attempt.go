package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states.
//
// Transitions are owned by the orchestrator:
//
//	IN_PROGRESS → FINALIZING → COMPLETED      (normal)
//	IN_PROGRESS → FINALIZING → NEEDS_REVIEW   (ungradable free text)
//	IN_PROGRESS → ABANDONED                   (explicit admin action only)
type AttemptStatus string

const (
	AttemptStatusInProgress  AttemptStatus = "IN_PROGRESS"
	AttemptStatusFinalizing  AttemptStatus = "FINALIZING"
	AttemptStatusCompleted   AttemptStatus = "COMPLETED"
	AttemptStatusAbandoned   AttemptStatus = "ABANDONED"
	AttemptStatusNeedsReview AttemptStatus = "NEEDS_REVIEW"
)

// Terminal reports whether the status is an end state.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusAbandoned || s == AttemptStatusNeedsReview
}

// FinalizeReason records which actor drove an attempt out of IN_PROGRESS.
type FinalizeReason string

const (
	FinalizeReasonSubmit  FinalizeReason = "SUBMIT"
	FinalizeReasonTimeout FinalizeReason = "TIMEOUT"
)

// ExamAttempt is one instance of a user taking one exam, bounded by
// StartTime and Deadline. Deadline is fixed at creation and never extended.
type ExamAttempt struct {
	ID             uuid.UUID       `json:"id"`
	ExamID         uuid.UUID       `json:"exam_id"`
	UserID         int             `json:"user_id"`
	VariantCode    *string         `json:"variant_code,omitempty"`
	StartTime      time.Time       `json:"start_time"`
	Deadline       time.Time       `json:"deadline"`
	Status         AttemptStatus   `json:"status"`
	Score          *float64        `json:"score,omitempty"`
	MaxScore       float64         `json:"max_score"`
	SubmittedAt    *time.Time      `json:"submitted_at,omitempty"`
	FinalizeReason *FinalizeReason `json:"finalize_reason,omitempty"`
}

// AttemptQuestion is one entry of an attempt's resolved question set,
// persisted at StartAttempt so randomized sets survive restarts and are
// reproducible at finalize time.
type AttemptQuestion struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Marks      float64   `json:"marks"`
	Position   int       `json:"position"`
}

// StartAttemptRequest is the payload for starting a new attempt.
type StartAttemptRequest struct {
	VariantCode string `json:"variant_code" binding:"omitempty,min=1,max=64"`
}

// SaveAnswerRequest is the payload for buffering a single answer.
// Seq is a client-side monotonically increasing sequence used to discard
// stale retries arriving out of order.
type SaveAnswerRequest struct {
	QuestionID        uuid.UUID   `json:"question_id" binding:"required"`
	SelectedOptionIDs []uuid.UUID `json:"selected_option_ids" binding:"omitempty,max=32"`
	TextAnswer        string      `json:"text_answer" binding:"omitempty,max=20000"`
	Seq               int64       `json:"seq" binding:"min=0"`
}

// SaveBatchRequest buffers several answers in one call.
type SaveBatchRequest struct {
	Answers []SaveAnswerRequest `json:"answers" binding:"required,min=1,max=200,dive"`
}

// SaveOutcome reports what happened to a buffered save. A save past the
// deadline is accepted but not applied; DeadlinePassed lets the transport
// layer attach the reason without treating it as an error.
type SaveOutcome struct {
	Applied        bool
	DeadlinePassed bool
}

// AttemptState is the client-resume view of an attempt: remaining time
// plus how many questions already have a buffered answer.
type AttemptState struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	Status           AttemptStatus `json:"status"`
	Deadline         time.Time     `json:"deadline"`
	RemainingSeconds float64       `json:"remaining_seconds"`
	AnsweredCount    int           `json:"answered_count"`
	QuestionCount    int           `json:"question_count"`
}

// SubmitResult is what the client sees after a finalize, regardless of
// which actor won the transition.
type SubmitResult struct {
	AttemptID uuid.UUID     `json:"attempt_id"`
	Status    AttemptStatus `json:"status"`
	Score     *float64      `json:"score,omitempty"`
	MaxScore  float64       `json:"max_score"`
}
