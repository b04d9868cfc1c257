package grading

import (
	"testing"

	"github.com/google/uuid"
	"github.com/quizforge/attempt-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

func TestGradeSingleChoice(t *testing.T) {
	opts := ids(4)
	qID := uuid.New()
	keys := []QuestionKey{{
		QuestionID:       qID,
		Type:             model.QuestionTypeSingleChoice,
		Marks:            2,
		CorrectOptionIDs: opts[:1],
	}}

	t.Run("correct selection earns full marks", func(t *testing.T) {
		res := Grade(keys, map[uuid.UUID]FinalAnswer{
			qID: {QuestionID: qID, SelectedOptionIDs: opts[:1]},
		}, Options{})

		require.Len(t, res.PerQuestion, 1)
		assert.Equal(t, 2.0, res.TotalScore)
		assert.Equal(t, 2.0, res.MaxScore)
		require.NotNil(t, res.PerQuestion[0].Correct)
		assert.True(t, *res.PerQuestion[0].Correct)
	})

	t.Run("wrong selection earns zero", func(t *testing.T) {
		res := Grade(keys, map[uuid.UUID]FinalAnswer{
			qID: {QuestionID: qID, SelectedOptionIDs: opts[1:2]},
		}, Options{})

		assert.Equal(t, 0.0, res.TotalScore)
		require.NotNil(t, res.PerQuestion[0].Correct)
		assert.False(t, *res.PerQuestion[0].Correct)
	})

	t.Run("unanswered earns zero and is marked incorrect", func(t *testing.T) {
		res := Grade(keys, nil, Options{})

		assert.Equal(t, 0.0, res.TotalScore)
		assert.Equal(t, 2.0, res.MaxScore)
		require.NotNil(t, res.PerQuestion[0].Correct)
		assert.False(t, *res.PerQuestion[0].Correct)
		assert.False(t, res.NeedsReview)
	})
}

func TestGradeMultiChoiceExactSet(t *testing.T) {
	opts := ids(4)
	qID := uuid.New()
	keys := []QuestionKey{{
		QuestionID:       qID,
		Type:             model.QuestionTypeMultiChoice,
		Marks:            4,
		CorrectOptionIDs: opts[:2],
	}}

	cases := []struct {
		name     string
		selected []uuid.UUID
		want     float64
	}{
		{"exact set in different order", []uuid.UUID{opts[1], opts[0]}, 4},
		{"subset earns zero without partial credit", opts[:1], 0},
		{"superset earns zero", opts[:3], 0},
		{"duplicates collapse to exact set", []uuid.UUID{opts[0], opts[0], opts[1]}, 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Grade(keys, map[uuid.UUID]FinalAnswer{
				qID: {QuestionID: qID, SelectedOptionIDs: tc.selected},
			}, Options{})
			assert.Equal(t, tc.want, res.TotalScore)
		})
	}
}

func TestGradeMultiChoicePartialCredit(t *testing.T) {
	opts := ids(4)
	qID := uuid.New()
	keys := []QuestionKey{{
		QuestionID:       qID,
		Type:             model.QuestionTypeMultiChoice,
		Marks:            3,
		CorrectOptionIDs: opts[:3],
	}}
	enabled := Options{PartialCreditMultiSelect: true}

	t.Run("proportional credit for clean subset", func(t *testing.T) {
		res := Grade(keys, map[uuid.UUID]FinalAnswer{
			qID: {QuestionID: qID, SelectedOptionIDs: opts[:2]},
		}, enabled)
		assert.InDelta(t, 2.0, res.TotalScore, 1e-9)
		require.NotNil(t, res.PerQuestion[0].Correct)
		assert.False(t, *res.PerQuestion[0].Correct)
	})

	t.Run("any wrong selection voids partial credit", func(t *testing.T) {
		res := Grade(keys, map[uuid.UUID]FinalAnswer{
			qID: {QuestionID: qID, SelectedOptionIDs: []uuid.UUID{opts[0], opts[3]}},
		}, enabled)
		assert.Equal(t, 0.0, res.TotalScore)
	})

	t.Run("full set still earns full marks and correct flag", func(t *testing.T) {
		res := Grade(keys, map[uuid.UUID]FinalAnswer{
			qID: {QuestionID: qID, SelectedOptionIDs: opts[:3]},
		}, enabled)
		assert.Equal(t, 3.0, res.TotalScore)
		require.NotNil(t, res.PerQuestion[0].Correct)
		assert.True(t, *res.PerQuestion[0].Correct)
	})
}

func TestGradeFreeText(t *testing.T) {
	qID := uuid.New()
	keys := []QuestionKey{{
		QuestionID: qID,
		Type:       model.QuestionTypeFreeText,
		Marks:      5,
	}}

	t.Run("answered free text needs review", func(t *testing.T) {
		res := Grade(keys, map[uuid.UUID]FinalAnswer{
			qID: {QuestionID: qID, TextAnswer: "the mitochondria"},
		}, Options{})

		assert.True(t, res.NeedsReview)
		assert.Nil(t, res.PerQuestion[0].Correct)
		assert.Equal(t, 0.0, res.TotalScore)
		assert.Equal(t, 5.0, res.MaxScore)
	})

	t.Run("blank free text is incorrect without review", func(t *testing.T) {
		res := Grade(keys, nil, Options{})

		assert.False(t, res.NeedsReview)
		require.NotNil(t, res.PerQuestion[0].Correct)
		assert.False(t, *res.PerQuestion[0].Correct)
	})
}

func TestGradePassedTriState(t *testing.T) {
	opts := ids(2)
	qID := uuid.New()
	keys := []QuestionKey{{
		QuestionID:       qID,
		Type:             model.QuestionTypeSingleChoice,
		Marks:            10,
		CorrectOptionIDs: opts[:1],
	}}
	answers := map[uuid.UUID]FinalAnswer{
		qID: {QuestionID: qID, SelectedOptionIDs: opts[:1]},
	}

	t.Run("nil when no passing mark configured", func(t *testing.T) {
		res := Grade(keys, answers, Options{})
		assert.Nil(t, res.Passed)
	})

	t.Run("passed at exactly the passing mark", func(t *testing.T) {
		mark := 10.0
		res := Grade(keys, answers, Options{PassingMark: &mark})
		require.NotNil(t, res.Passed)
		assert.True(t, *res.Passed)
	})

	t.Run("failed below the passing mark", func(t *testing.T) {
		mark := 10.0
		res := Grade(keys, nil, Options{PassingMark: &mark})
		require.NotNil(t, res.Passed)
		assert.False(t, *res.Passed)
	})
}

func TestGradeScoreBounds(t *testing.T) {
	// Mixed paper: the total never exceeds the sum of marks and never
	// goes negative, whatever the answers look like.
	optsA, optsB := ids(3), ids(3)
	qA, qB := uuid.New(), uuid.New()
	keys := []QuestionKey{
		{QuestionID: qA, Type: model.QuestionTypeSingleChoice, Marks: 1, CorrectOptionIDs: optsA[:1]},
		{QuestionID: qB, Type: model.QuestionTypeMultiChoice, Marks: 3, CorrectOptionIDs: optsB[:2]},
	}

	res := Grade(keys, map[uuid.UUID]FinalAnswer{
		qA: {QuestionID: qA, SelectedOptionIDs: optsA[:1]},
		qB: {QuestionID: qB, SelectedOptionIDs: optsB},
	}, Options{PartialCreditMultiSelect: true})

	assert.GreaterOrEqual(t, res.TotalScore, 0.0)
	assert.LessOrEqual(t, res.TotalScore, res.MaxScore)
	assert.Equal(t, 4.0, res.MaxScore)
}
