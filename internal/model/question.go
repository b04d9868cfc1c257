package model

import (
	"github.com/google/uuid"
)

// QuestionType enumerates the supported question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultiChoice  QuestionType = "MULTI_CHOICE"
	QuestionTypeFreeText     QuestionType = "FREE_TEXT"
)

// Difficulty tags a question for pool sampling.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question is the catalog's view of a question, including the correct
// option set. Never sent to students in this form.
type Question struct {
	ID         uuid.UUID        `json:"id"`
	SubjectID  uuid.UUID        `json:"subject_id"`
	Text       string           `json:"text"`
	Type       QuestionType     `json:"type"`
	Difficulty Difficulty       `json:"difficulty"`
	Marks      float64          `json:"marks"`
	Options    []QuestionOption `json:"options"`
}

// QuestionOption is a selectable answer option.
type QuestionOption struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect bool      `json:"is_correct"`
	Position  int       `json:"position"`
}

// QuestionRef is one ordered entry of a resolved question set: the
// question's identity plus the marks it is worth in this context.
type QuestionRef struct {
	QuestionID uuid.UUID `json:"question_id"`
	Marks      float64   `json:"marks"`
	Position   int       `json:"position"`
}

// QuestionForStudent is a question stripped of correctness flags,
// safe to return from StartAttempt.
type QuestionForStudent struct {
	ID       uuid.UUID          `json:"id"`
	Text     string             `json:"text"`
	Type     QuestionType       `json:"type"`
	Marks    float64            `json:"marks"`
	Position int                `json:"position"`
	Options  []OptionForStudent `json:"options"`
}

// OptionForStudent is an option without the is_correct flag.
type OptionForStudent struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"text"`
	Position int       `json:"position"`
}

// Sanitize converts a full catalog question into its student-facing form.
func (q *Question) Sanitize(marks float64, position int) QuestionForStudent {
	opts := make([]OptionForStudent, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionForStudent{ID: o.ID, Text: o.Text, Position: o.Position}
	}
	return QuestionForStudent{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type,
		Marks:    marks,
		Position: position,
		Options:  opts,
	}
}

// CorrectOptionIDs returns the IDs of all options flagged correct.
func (q *Question) CorrectOptionIDs() []uuid.UUID {
	var ids []uuid.UUID
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}
