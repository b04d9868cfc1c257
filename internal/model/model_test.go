package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAttemptStatusTerminal(t *testing.T) {
	assert.False(t, AttemptStatusInProgress.Terminal())
	assert.False(t, AttemptStatusFinalizing.Terminal())
	assert.True(t, AttemptStatusCompleted.Terminal())
	assert.True(t, AttemptStatusAbandoned.Terminal())
	assert.True(t, AttemptStatusNeedsReview.Terminal())
}

func TestExamWindowOpen(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	t.Run("unbounded window is always open", func(t *testing.T) {
		e := &Exam{}
		assert.True(t, e.WindowOpen(now))
	})

	t.Run("before start is closed", func(t *testing.T) {
		e := &Exam{StartAt: &future}
		assert.False(t, e.WindowOpen(now))
	})

	t.Run("after end is closed", func(t *testing.T) {
		e := &Exam{EndAt: &past}
		assert.False(t, e.WindowOpen(now))
	})

	t.Run("inside window is open", func(t *testing.T) {
		e := &Exam{StartAt: &past, EndAt: &future}
		assert.True(t, e.WindowOpen(now))
	})
}

func TestQuestionSanitizeStripsCorrectness(t *testing.T) {
	q := &Question{
		ID:   uuid.New(),
		Text: "pick two",
		Type: QuestionTypeMultiChoice,
		Options: []QuestionOption{
			{ID: uuid.New(), Text: "a", IsCorrect: true, Position: 0},
			{ID: uuid.New(), Text: "b", IsCorrect: false, Position: 1},
			{ID: uuid.New(), Text: "c", IsCorrect: true, Position: 2},
		},
	}

	sanitized := q.Sanitize(3, 7)

	assert.Equal(t, q.ID, sanitized.ID)
	assert.Equal(t, 3.0, sanitized.Marks)
	assert.Equal(t, 7, sanitized.Position)
	assert.Len(t, sanitized.Options, 3)

	correct := q.CorrectOptionIDs()
	assert.Equal(t, []uuid.UUID{q.Options[0].ID, q.Options[2].ID}, correct)
}
