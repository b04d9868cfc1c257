// Package grading scores a finalized answer set against the catalog's
// correct option sets. It is pure: no storage, no clock, no I/O.
package grading

import (
	"github.com/google/uuid"
	"github.com/quizforge/attempt-engine/internal/model"
)

// QuestionKey is what the engine needs to know about one question of an
// attempt's question set.
type QuestionKey struct {
	QuestionID       uuid.UUID
	Type             model.QuestionType
	Marks            float64
	CorrectOptionIDs []uuid.UUID
}

// FinalAnswer is one question's reconciled final answer.
type FinalAnswer struct {
	QuestionID        uuid.UUID
	SelectedOptionIDs []uuid.UUID
	TextAnswer        string
}

// QuestionResult is the engine's verdict on one question. Correct is nil
// when the question could not be auto-graded (free text pending review).
type QuestionResult struct {
	QuestionID  uuid.UUID
	Correct     *bool
	EarnedMarks float64
	NeedsReview bool
}

// Options tunes grading behavior.
type Options struct {
	// PartialCreditMultiSelect awards marks proportional to the correct
	// options selected on multi-select questions, as long as no wrong
	// option was selected. Default (false) requires an exact-set match.
	PartialCreditMultiSelect bool
	// PassingMark, when set, determines Passed.
	PassingMark *float64
}

// Result is the aggregate grading outcome for an attempt.
type Result struct {
	PerQuestion []QuestionResult
	TotalScore  float64
	MaxScore    float64
	// Passed is nil when no passing mark is configured.
	Passed *bool
	// NeedsReview is true when any answer requires manual grading; the
	// attempt's terminal status becomes NEEDS_REVIEW and TotalScore holds
	// the provisional auto-graded subtotal.
	NeedsReview bool
}

// Grade scores the answer set. Every question in keys contributes its
// marks to MaxScore whether or not it was answered. Unanswered questions
// earn zero.
func Grade(keys []QuestionKey, answers map[uuid.UUID]FinalAnswer, opts Options) Result {
	res := Result{PerQuestion: make([]QuestionResult, 0, len(keys))}

	for _, key := range keys {
		res.MaxScore += key.Marks

		ans, answered := answers[key.QuestionID]
		qr := gradeOne(key, ans, answered, opts)
		res.TotalScore += qr.EarnedMarks
		if qr.NeedsReview {
			res.NeedsReview = true
		}
		res.PerQuestion = append(res.PerQuestion, qr)
	}

	if opts.PassingMark != nil {
		passed := res.TotalScore >= *opts.PassingMark
		res.Passed = &passed
	}
	return res
}

func gradeOne(key QuestionKey, ans FinalAnswer, answered bool, opts Options) QuestionResult {
	qr := QuestionResult{QuestionID: key.QuestionID}

	if key.Type == model.QuestionTypeFreeText {
		// Free text cannot be auto-graded. An actual answer goes to manual
		// review; a blank simply earns nothing.
		if answered && ans.TextAnswer != "" {
			qr.NeedsReview = true
			return qr
		}
		incorrect := false
		qr.Correct = &incorrect
		return qr
	}

	if !answered || len(ans.SelectedOptionIDs) == 0 {
		incorrect := false
		qr.Correct = &incorrect
		return qr
	}

	matched, wrong := matchOptions(key.CorrectOptionIDs, ans.SelectedOptionIDs)

	switch {
	case wrong == 0 && matched == len(key.CorrectOptionIDs):
		correct := true
		qr.Correct = &correct
		qr.EarnedMarks = key.Marks
	case key.Type == model.QuestionTypeMultiChoice && opts.PartialCreditMultiSelect && wrong == 0 && matched > 0:
		incorrect := false
		qr.Correct = &incorrect
		qr.EarnedMarks = key.Marks * float64(matched) / float64(len(key.CorrectOptionIDs))
	default:
		incorrect := false
		qr.Correct = &incorrect
	}
	return qr
}

// matchOptions counts how many selected options are in the correct set
// (matched) and how many are not (wrong). Duplicate selections collapse.
func matchOptions(correct, selected []uuid.UUID) (matched, wrong int) {
	correctSet := make(map[uuid.UUID]struct{}, len(correct))
	for _, id := range correct {
		correctSet[id] = struct{}{}
	}

	seen := make(map[uuid.UUID]struct{}, len(selected))
	for _, id := range selected {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := correctSet[id]; ok {
			matched++
		} else {
			wrong++
		}
	}
	return matched, wrong
}
