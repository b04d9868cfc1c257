package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Exam is the catalog's view of an assessment. The attempt engine treats
// exams as read-only input: duration, marks and flags drive attempt
// creation but are never mutated here.
type Exam struct {
	ID                    uuid.UUID       `json:"id"`
	Title                 string          `json:"title"`
	SubjectID             uuid.UUID       `json:"subject_id"`
	DurationMinutes       int             `json:"duration_minutes"`
	PassingMark           *float64        `json:"passing_mark,omitempty"`
	RandomizeQuestions    bool            `json:"randomize_questions"`
	AllowMultipleAttempts bool            `json:"allow_multiple_attempts"`
	StartAt               *time.Time      `json:"start_at,omitempty"`
	EndAt                 *time.Time      `json:"end_at,omitempty"`
	// SamplingProfile maps difficulty to requested question count for
	// randomized exams, e.g. {"EASY": 5, "MEDIUM": 3, "HARD": 2}.
	SamplingProfile json.RawMessage `json:"sampling_profile,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WindowOpen reports whether the exam's time window permits starting an
// attempt at the given instant. Nil bounds are unbounded.
func (e *Exam) WindowOpen(now time.Time) bool {
	if e.StartAt != nil && now.Before(*e.StartAt) {
		return false
	}
	if e.EndAt != nil && now.After(*e.EndAt) {
		return false
	}
	return true
}
