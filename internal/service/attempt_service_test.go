package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quizforge/attempt-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileAnswers(t *testing.T) {
	q1, q2, q3 := uuid.New(), uuid.New(), uuid.New()
	base := time.Now()

	t.Run("buffer wins on higher sequence", func(t *testing.T) {
		merged := reconcileAnswers(
			[]model.BufferedAnswer{{QuestionID: q1, TextAnswer: "new", Seq: 5, SavedAt: base}},
			[]model.BufferedAnswer{{QuestionID: q1, TextAnswer: "old", Seq: 3, SavedAt: base.Add(time.Minute)}},
		)
		require.Len(t, merged, 1)
		assert.Equal(t, "new", merged[q1].TextAnswer)
	})

	t.Run("provisional wins on higher sequence", func(t *testing.T) {
		merged := reconcileAnswers(
			[]model.BufferedAnswer{{QuestionID: q1, TextAnswer: "stale", Seq: 2, SavedAt: base}},
			[]model.BufferedAnswer{{QuestionID: q1, TextAnswer: "durable", Seq: 7, SavedAt: base}},
		)
		assert.Equal(t, "durable", merged[q1].TextAnswer)
	})

	t.Run("equal sequence resolved by later save time", func(t *testing.T) {
		merged := reconcileAnswers(
			[]model.BufferedAnswer{{QuestionID: q1, TextAnswer: "later", Seq: 4, SavedAt: base.Add(time.Second)}},
			[]model.BufferedAnswer{{QuestionID: q1, TextAnswer: "earlier", Seq: 4, SavedAt: base}},
		)
		assert.Equal(t, "later", merged[q1].TextAnswer)
	})

	t.Run("disjoint questions union", func(t *testing.T) {
		merged := reconcileAnswers(
			[]model.BufferedAnswer{{QuestionID: q1, Seq: 1}, {QuestionID: q2, Seq: 1}},
			[]model.BufferedAnswer{{QuestionID: q3, Seq: 1}},
		)
		assert.Len(t, merged, 3)
	})

	t.Run("both sources empty", func(t *testing.T) {
		assert.Empty(t, reconcileAnswers(nil, nil))
	})
}

func TestParseSamplingProfile(t *testing.T) {
	t.Run("valid profile with mixed case keys", func(t *testing.T) {
		profile := parseSamplingProfile([]byte(`{"easy": 5, "MEDIUM": 3, "Hard": 2}`))
		assert.Equal(t, 5, profile[model.DifficultyEasy])
		assert.Equal(t, 3, profile[model.DifficultyMedium])
		assert.Equal(t, 2, profile[model.DifficultyHard])
	})

	t.Run("empty input yields nil", func(t *testing.T) {
		assert.Nil(t, parseSamplingProfile(nil))
		assert.Nil(t, parseSamplingProfile([]byte(``)))
	})

	t.Run("malformed JSON yields nil", func(t *testing.T) {
		assert.Nil(t, parseSamplingProfile([]byte(`{"easy": "lots"}`)))
	})
}
