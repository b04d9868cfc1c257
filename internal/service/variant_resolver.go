package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/quizforge/attempt-engine/internal/model"
	"github.com/quizforge/attempt-engine/internal/repository"
	"github.com/rs/zerolog"
)

// ErrInvalidExamConfiguration signals that neither a variant, a question
// pool, nor a static list could be resolved for an exam.
var ErrInvalidExamConfiguration = errors.New("exam has no resolvable question set")

// VariantResolver produces the ordered question set for a new attempt:
// a pre-built named variant, a difficulty-balanced random sample from the
// subject pool, or the exam's static list — in that priority order.
type VariantResolver struct {
	examRepo     *repository.ExamRepository
	variantRepo  *repository.VariantRepository
	questionRepo *repository.QuestionRepository
	log          zerolog.Logger
}

// NewVariantResolver creates a new VariantResolver.
func NewVariantResolver(
	examRepo *repository.ExamRepository,
	variantRepo *repository.VariantRepository,
	questionRepo *repository.QuestionRepository,
	log zerolog.Logger,
) *VariantResolver {
	return &VariantResolver{
		examRepo:     examRepo,
		variantRepo:  variantRepo,
		questionRepo: questionRepo,
		log:          log.With().Str("component", "variant_resolver").Logger(),
	}
}

// ResolveQuestionSet returns the ordered (questionId, marks) list for a
// new attempt of the given exam.
func (r *VariantResolver) ResolveQuestionSet(ctx context.Context, exam *model.Exam, variantCode string) ([]model.QuestionRef, error) {
	if variantCode != "" {
		refs, err := r.resolveVariant(ctx, exam, variantCode)
		if err != nil {
			return nil, err
		}
		if refs != nil {
			return refs, nil
		}
		// No matching variant; fall through to the exam's own config.
	}

	if exam.RandomizeQuestions {
		refs, err := r.samplePool(ctx, exam)
		if err != nil {
			return nil, err
		}
		if len(refs) > 0 {
			return refs, nil
		}
	}

	refs, err := r.examRepo.StaticQuestionList(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("static question list: %w", err)
	}
	if len(refs) == 0 {
		return nil, ErrInvalidExamConfiguration
	}
	return refs, nil
}

// resolveVariant returns the variant's materialized list verbatim, or nil
// when no matching non-deleted variant exists.
func (r *VariantResolver) resolveVariant(ctx context.Context, exam *model.Exam, code string) ([]model.QuestionRef, error) {
	variant, err := r.variantRepo.GetByExamAndCode(ctx, exam.ID, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.log.Debug().
				Str("exam_id", exam.ID.String()).
				Str("variant_code", code).
				Msg("Requested variant not found, falling back")
			return nil, nil
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}

	refs, err := r.variantRepo.QuestionList(ctx, variant.ID)
	if err != nil {
		return nil, fmt.Errorf("variant question list: %w", err)
	}
	if len(refs) == 0 {
		return nil, ErrInvalidExamConfiguration
	}
	return refs, nil
}

// samplePool draws questions per requested difficulty bucket from the
// subject's pool. Ordering is random per resolution — deliberately not
// seeded from the attempt, so repeat attempts see different papers. A
// bucket with fewer eligible questions than requested yields all matches
// rather than failing.
func (r *VariantResolver) samplePool(ctx context.Context, exam *model.Exam) ([]model.QuestionRef, error) {
	profile := parseSamplingProfile(exam.SamplingProfile)
	if len(profile) == 0 {
		return nil, nil
	}

	pool, err := r.questionRepo.ListPoolBySubject(ctx, exam.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("list question pool: %w", err)
	}

	buckets := make(map[model.Difficulty][]repository.PoolQuestion)
	for _, q := range pool {
		buckets[q.Difficulty] = append(buckets[q.Difficulty], q)
	}

	var picked []repository.PoolQuestion
	for _, difficulty := range []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard} {
		want := profile[difficulty]
		if want <= 0 {
			continue
		}
		candidates := buckets[difficulty]
		rand.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		if want > len(candidates) {
			want = len(candidates)
		}
		picked = append(picked, candidates[:want]...)
	}

	rand.Shuffle(len(picked), func(i, j int) {
		picked[i], picked[j] = picked[j], picked[i]
	})

	refs := make([]model.QuestionRef, len(picked))
	for i, q := range picked {
		refs[i] = model.QuestionRef{QuestionID: q.QuestionID, Marks: q.Marks, Position: i}
	}
	return refs, nil
}

// parseSamplingProfile decodes the exam's per-difficulty question counts.
// Unknown or malformed profiles yield an empty map.
func parseSamplingProfile(raw json.RawMessage) map[model.Difficulty]int {
	if len(raw) == 0 {
		return nil
	}
	var decoded map[string]int
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	profile := make(map[model.Difficulty]int, len(decoded))
	for k, v := range decoded {
		profile[model.Difficulty(strings.ToUpper(k))] = v
	}
	return profile
}
