package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/quizforge/attempt-engine/internal/buffer"
	"github.com/quizforge/attempt-engine/internal/config"
	"github.com/quizforge/attempt-engine/internal/grading"
	"github.com/quizforge/attempt-engine/internal/model"
	"github.com/quizforge/attempt-engine/internal/repository"
	"github.com/rs/zerolog"
)

// Domain errors.
var (
	ErrAttemptAlreadyActive = errors.New("an attempt is already in progress for this exam")
	ErrAttemptNotActive     = errors.New("attempt is not in progress")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrExamWindowClosed     = errors.New("exam is not open for attempts")
	ErrNotAttemptOwner      = errors.New("attempt belongs to another user")
)

// AttemptService is the attempt orchestrator: it creates attempts,
// enforces the one-active-attempt invariant, accepts answer saves through
// the Progress Buffer, and drives the single finalize path shared by
// explicit submission and the deadline scheduler.
type AttemptService struct {
	attemptRepo  *repository.AttemptRepository
	answerRepo   *repository.AnswerRepository
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	resolver     *VariantResolver
	buf          *buffer.ProgressBuffer
	cfg          *config.Config
	log          zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	answerRepo *repository.AnswerRepository,
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	resolver *VariantResolver,
	buf *buffer.ProgressBuffer,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo:  attemptRepo,
		answerRepo:   answerRepo,
		examRepo:     examRepo,
		questionRepo: questionRepo,
		resolver:     resolver,
		buf:          buf,
		cfg:          cfg,
		log:          log.With().Str("component", "attempt_service").Logger(),
	}
}

// StartAttempt resolves the question set, computes the deadline and
// persists a new IN_PROGRESS attempt. Returns the attempt plus the
// student-facing question set (no correctness flags).
func (s *AttemptService) StartAttempt(ctx context.Context, examID uuid.UUID, userID int, variantCode string) (*model.ExamAttempt, []model.QuestionForStudent, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("exam %s: %w", examID, pgx.ErrNoRows)
		}
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}

	now := time.Now()
	if !exam.WindowOpen(now) {
		return nil, nil, ErrExamWindowClosed
	}

	refs, err := s.resolver.ResolveQuestionSet(ctx, exam, variantCode)
	if err != nil {
		return nil, nil, err
	}

	var maxScore float64
	for _, ref := range refs {
		maxScore += ref.Marks
	}

	attempt := &model.ExamAttempt{
		ExamID:    examID,
		UserID:    userID,
		StartTime: now,
		Deadline:  now.Add(time.Duration(exam.DurationMinutes) * time.Minute),
		Status:    model.AttemptStatusInProgress,
		MaxScore:  maxScore,
	}
	if variantCode != "" {
		attempt.VariantCode = &variantCode
	}

	if exam.AllowMultipleAttempts {
		err = s.attemptRepo.Create(ctx, attempt)
	} else {
		err = s.attemptRepo.CreateGuarded(ctx, attempt)
		if errors.Is(err, repository.ErrActiveAttemptExists) {
			return nil, nil, ErrAttemptAlreadyActive
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create attempt: %w", err)
	}

	if err := s.attemptRepo.InsertQuestions(ctx, attempt.ID, refs); err != nil {
		return nil, nil, fmt.Errorf("persist question set: %w", err)
	}

	questions, err := s.sanitizedQuestions(ctx, refs)
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("user_id", userID).
		Time("deadline", attempt.Deadline).
		Int("questions", len(refs)).
		Msg("Attempt started")

	return attempt, questions, nil
}

// sanitizedQuestions loads full questions for the refs and strips the
// correctness flags, preserving the resolved order.
func (s *AttemptService) sanitizedQuestions(ctx context.Context, refs []model.QuestionRef) ([]model.QuestionForStudent, error) {
	ids := make([]uuid.UUID, len(refs))
	for i, ref := range refs {
		ids[i] = ref.QuestionID
	}
	byID, err := s.questionRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	out := make([]model.QuestionForStudent, 0, len(refs))
	for _, ref := range refs {
		q, ok := byID[ref.QuestionID]
		if !ok {
			return nil, fmt.Errorf("question %s missing from catalog", ref.QuestionID)
		}
		out = append(out, q.Sanitize(ref.Marks, ref.Position))
	}
	return out, nil
}

// getOwned loads an attempt and verifies ownership.
func (s *AttemptService) getOwned(ctx context.Context, attemptID uuid.UUID, userID int) (*model.ExamAttempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.UserID != userID {
		return nil, ErrNotAttemptOwner
	}
	return attempt, nil
}

// SaveAnswer buffers one answer. Saves after the deadline are accepted as
// no-ops (the scheduler will finalize shortly), reported through the
// outcome rather than an error; saves on a non-in-progress attempt fail
// with ErrAttemptNotActive. Idempotent and safely retryable.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, userID int, req model.SaveAnswerRequest) (model.SaveOutcome, error) {
	attempt, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return model.SaveOutcome{}, err
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return model.SaveOutcome{}, ErrAttemptNotActive
	}

	now := time.Now()
	if now.After(attempt.Deadline) {
		s.log.Debug().
			Str("attempt_id", attemptID.String()).
			Msg("Save after deadline dropped")
		return model.SaveOutcome{DeadlinePassed: true}, nil
	}

	ans := model.BufferedAnswer{
		QuestionID:        req.QuestionID,
		SelectedOptionIDs: req.SelectedOptionIDs,
		TextAnswer:        req.TextAnswer,
		Seq:               req.Seq,
		SavedAt:           now,
	}

	applied, err := s.buf.Upsert(ctx, attemptID, attempt.Deadline, ans)
	if err != nil {
		// Buffer unavailable: fall back to a synchronous provisional
		// durable write so the answer is not silently lost.
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Buffer unavailable, using durable fallback")
		if fbErr := s.answerRepo.UpsertProvisional(ctx, attemptID, ans); fbErr != nil {
			return model.SaveOutcome{}, fmt.Errorf("durable fallback: %w", fbErr)
		}
		return model.SaveOutcome{Applied: true}, nil
	}
	return model.SaveOutcome{Applied: applied}, nil
}

// SaveBatch buffers several answers in one call with the same semantics
// as SaveAnswer.
func (s *AttemptService) SaveBatch(ctx context.Context, attemptID uuid.UUID, userID int, reqs []model.SaveAnswerRequest) (model.SaveOutcome, error) {
	attempt, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return model.SaveOutcome{}, err
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return model.SaveOutcome{}, ErrAttemptNotActive
	}

	now := time.Now()
	if now.After(attempt.Deadline) {
		return model.SaveOutcome{DeadlinePassed: true}, nil
	}

	answers := make([]model.BufferedAnswer, len(reqs))
	for i, req := range reqs {
		answers[i] = model.BufferedAnswer{
			QuestionID:        req.QuestionID,
			SelectedOptionIDs: req.SelectedOptionIDs,
			TextAnswer:        req.TextAnswer,
			Seq:               req.Seq,
			SavedAt:           now,
		}
	}

	if err := s.buf.UpsertBatch(ctx, attemptID, attempt.Deadline, answers); err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Buffer unavailable, using durable fallback for batch")
		for _, ans := range answers {
			if fbErr := s.answerRepo.UpsertProvisional(ctx, attemptID, ans); fbErr != nil {
				return model.SaveOutcome{}, fmt.Errorf("durable fallback: %w", fbErr)
			}
		}
	}
	return model.SaveOutcome{Applied: true}, nil
}

// RestoreProgress returns the attempt's answers-in-progress for client
// resume: the buffer merged with any provisional fallback rows, newest
// write per question. Nothing buffered is an empty set, not an error.
func (s *AttemptService) RestoreProgress(ctx context.Context, attemptID uuid.UUID, userID int) ([]model.BufferedAnswer, error) {
	if _, err := s.getOwned(ctx, attemptID, userID); err != nil {
		return nil, err
	}
	merged, err := s.collectAnswers(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	out := make([]model.BufferedAnswer, 0, len(merged))
	for _, ans := range merged {
		out = append(out, ans)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestionID.String() < out[j].QuestionID.String()
	})
	return out, nil
}

// GetState returns remaining time and answer progress for client resume.
func (s *AttemptService) GetState(ctx context.Context, attemptID uuid.UUID, userID int) (*model.AttemptState, error) {
	attempt, err := s.getOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}

	refs, err := s.attemptRepo.ListQuestions(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}

	merged, err := s.collectAnswers(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	remaining := time.Until(attempt.Deadline).Seconds()
	if remaining < 0 || attempt.Status != model.AttemptStatusInProgress {
		remaining = 0
	}

	return &model.AttemptState{
		AttemptID:        attempt.ID,
		Status:           attempt.Status,
		Deadline:         attempt.Deadline,
		RemainingSeconds: remaining,
		AnsweredCount:    len(merged),
		QuestionCount:    len(refs),
	}, nil
}

// Submit is the client-initiated finalize.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, userID int) (*model.SubmitResult, error) {
	if _, err := s.getOwned(ctx, attemptID, userID); err != nil {
		return nil, err
	}

	attempt, err := s.Finalize(ctx, attemptID, model.FinalizeReasonSubmit)
	if err != nil {
		return nil, err
	}
	return &model.SubmitResult{
		AttemptID: attempt.ID,
		Status:    attempt.Status,
		Score:     attempt.Score,
		MaxScore:  attempt.MaxScore,
	}, nil
}

// FinalizeExpired is the scheduler's entry into the shared finalize path.
func (s *AttemptService) FinalizeExpired(ctx context.Context, attemptID uuid.UUID) error {
	_, err := s.Finalize(ctx, attemptID, model.FinalizeReasonTimeout)
	return err
}

// Finalize drives the one-time transition out of IN_PROGRESS. The
// conditional IN_PROGRESS → FINALIZING update is the sole mutual-exclusion
// mechanism: the winner performs the durable write and grading, every
// loser observes the already-claimed state and performs no writes.
// Idempotent from the caller's point of view.
func (s *AttemptService) Finalize(ctx context.Context, attemptID uuid.UUID, reason model.FinalizeReason) (*model.ExamAttempt, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	if attempt.Status.Terminal() {
		return attempt, nil
	}

	won, err := s.attemptRepo.TryBeginFinalize(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}

	if !won {
		attempt, err = s.attemptRepo.GetByID(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("refetch attempt: %w", err)
		}
		if attempt.Status == model.AttemptStatusFinalizing && reason == model.FinalizeReasonTimeout {
			// A previous finalize crashed after claiming the row. The
			// scheduler resumes it; the conditional terminal update keeps
			// a concurrent in-flight finalize safe.
			s.log.Warn().
				Str("attempt_id", attemptID.String()).
				Msg("Resuming stale finalize")
			return s.completeFinalize(ctx, attempt, reason)
		}
		// Another actor is finishing or already finished. No writes here.
		return attempt, nil
	}

	return s.completeFinalize(ctx, attempt, reason)
}

// completeFinalize performs the winner's work: reconcile answers, persist
// the durable SubmittedAnswer rows, grade, write the terminal status last,
// and clear the buffer. Every step before the status update is an upsert,
// so a crash anywhere leaves the attempt retryable.
func (s *AttemptService) completeFinalize(ctx context.Context, attempt *model.ExamAttempt, reason model.FinalizeReason) (*model.ExamAttempt, error) {
	exam, err := s.examRepo.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	refs, err := s.attemptRepo.ListQuestions(ctx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list attempt questions: %w", err)
	}

	ids := make([]uuid.UUID, len(refs))
	for i, ref := range refs {
		ids[i] = ref.QuestionID
	}
	catalog, err := s.questionRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	final, err := s.collectAnswers(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}

	keys := make([]grading.QuestionKey, 0, len(refs))
	for _, ref := range refs {
		q, ok := catalog[ref.QuestionID]
		if !ok {
			return nil, fmt.Errorf("question %s missing from catalog", ref.QuestionID)
		}
		keys = append(keys, grading.QuestionKey{
			QuestionID:       ref.QuestionID,
			Type:             q.Type,
			Marks:            ref.Marks,
			CorrectOptionIDs: q.CorrectOptionIDs(),
		})
	}

	answers := make(map[uuid.UUID]grading.FinalAnswer, len(final))
	for qid, ans := range final {
		answers[qid] = grading.FinalAnswer{
			QuestionID:        qid,
			SelectedOptionIDs: ans.SelectedOptionIDs,
			TextAnswer:        ans.TextAnswer,
		}
	}

	result := grading.Grade(keys, answers, grading.Options{
		PartialCreditMultiSelect: s.cfg.AllowPartialCredit,
		PassingMark:              exam.PassingMark,
	})

	resultByQ := make(map[uuid.UUID]grading.QuestionResult, len(result.PerQuestion))
	for _, qr := range result.PerQuestion {
		resultByQ[qr.QuestionID] = qr
	}

	rows := make([]repository.FinalAnswerRow, 0, len(final))
	for qid, ans := range final {
		qr, inSet := resultByQ[qid]
		if !inSet {
			// Buffered data for a question outside the attempt's snapshot
			// (e.g. from a client bug) is dropped, not persisted.
			s.log.Warn().
				Str("attempt_id", attempt.ID.String()).
				Str("question_id", qid.String()).
				Msg("Answer for question outside the attempt set dropped")
			continue
		}
		var text *string
		if ans.TextAnswer != "" {
			t := ans.TextAnswer
			text = &t
		}
		rows = append(rows, repository.FinalAnswerRow{
			AttemptID:   attempt.ID,
			QuestionID:  qid,
			TextAnswer:  text,
			OptionIDs:   ans.SelectedOptionIDs,
			IsCorrect:   qr.Correct,
			EarnedMarks: qr.EarnedMarks,
			ClientSeq:   ans.Seq,
			SavedAt:     ans.SavedAt,
		})
	}
	if err := s.answerRepo.SaveFinal(ctx, rows); err != nil {
		return nil, fmt.Errorf("save final answers: %w", err)
	}

	status := model.AttemptStatusCompleted
	if result.NeedsReview {
		status = model.AttemptStatusNeedsReview
	}

	now := time.Now()
	ok, err := s.attemptRepo.CompleteFinalize(ctx, attempt.ID, status, result.TotalScore, now, reason)
	if err != nil {
		return nil, fmt.Errorf("complete finalize: %w", err)
	}
	if !ok {
		// A concurrent resume finished first. Its result stands.
		s.log.Info().
			Str("attempt_id", attempt.ID.String()).
			Msg("Finalize already completed by another actor")
		return s.attemptRepo.GetByID(ctx, attempt.ID)
	}

	if err := s.buf.Clear(ctx, attempt.ID); err != nil {
		// The TTL bounds leftover data; nothing else to do.
		s.log.Warn().Err(err).
			Str("attempt_id", attempt.ID.String()).
			Msg("Buffer clear failed")
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("status", string(status)).
		Str("reason", string(reason)).
		Float64("score", result.TotalScore).
		Float64("max_score", result.MaxScore).
		Msg("Attempt finalized")

	attempt.Status = status
	attempt.Score = &result.TotalScore
	attempt.SubmittedAt = &now
	attempt.FinalizeReason = &reason
	return attempt, nil
}

// Abandon is the explicit administrative IN_PROGRESS → ABANDONED
// transition. Returns ErrAttemptNotActive when the attempt already left
// IN_PROGRESS.
func (s *AttemptService) Abandon(ctx context.Context, attemptID uuid.UUID) error {
	ok, err := s.attemptRepo.MarkAbandoned(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("mark abandoned: %w", err)
	}
	if !ok {
		if _, err := s.attemptRepo.GetByID(ctx, attemptID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAttemptNotFound
			}
			return fmt.Errorf("get attempt: %w", err)
		}
		return ErrAttemptNotActive
	}
	s.log.Info().Str("attempt_id", attemptID.String()).Msg("Attempt abandoned")
	return nil
}

// ListResults retrieves paginated attempts for an exam.
func (s *AttemptService) ListResults(ctx context.Context, examID uuid.UUID, page, perPage int) ([]model.ExamAttempt, int, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}

	attempts, total, err := s.attemptRepo.ListByExam(ctx, examID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, 0, err
	}
	if attempts == nil {
		attempts = []model.ExamAttempt{}
	}
	return attempts, total, perPage, nil
}

// collectAnswers merges the buffer with provisional fallback rows. A
// buffer read failure degrades to the durable rows alone (logged), so a
// cache outage never blocks finalize or restore.
func (s *AttemptService) collectAnswers(ctx context.Context, attemptID uuid.UUID) (map[uuid.UUID]model.BufferedAnswer, error) {
	buffered, err := s.buf.ReadAll(ctx, attemptID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Buffer read failed, using durable rows only")
		buffered = nil
	}

	provisional, err := s.answerRepo.ListProvisional(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list provisional answers: %w", err)
	}

	return reconcileAnswers(buffered, provisional), nil
}

// reconcileAnswers picks, per question, the newest write across the
// buffer and the provisional durable fallback: the higher client sequence
// wins; equal sequences go to the later save timestamp.
func reconcileAnswers(buffered, provisional []model.BufferedAnswer) map[uuid.UUID]model.BufferedAnswer {
	merged := make(map[uuid.UUID]model.BufferedAnswer, len(buffered)+len(provisional))
	for _, ans := range append(append([]model.BufferedAnswer{}, provisional...), buffered...) {
		cur, ok := merged[ans.QuestionID]
		if !ok || newer(ans, cur) {
			merged[ans.QuestionID] = ans
		}
	}
	return merged
}

func newer(a, b model.BufferedAnswer) bool {
	if a.Seq != b.Seq {
		return a.Seq > b.Seq
	}
	return a.SavedAt.After(b.SavedAt)
}
