package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quizforge/attempt-engine/internal/middleware"
	"github.com/quizforge/attempt-engine/internal/model"
	"github.com/quizforge/attempt-engine/internal/response"
	"github.com/quizforge/attempt-engine/internal/service"
	"github.com/quizforge/attempt-engine/internal/validator"
)

// AttemptHandler handles student-facing attempt endpoints.
type AttemptHandler struct {
	attemptService *service.AttemptService
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService) *AttemptHandler {
	return &AttemptHandler{attemptService: attemptService}
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Creates a new attempt and returns the resolved question set with a
// fixed deadline. Rejects a second concurrent attempt on the same exam.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.StartAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, questions, err := h.attemptService.StartAttempt(c.Request.Context(), examID, claims.UserID, req.VariantCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptAlreadyActive):
			response.Fail(c, http.StatusConflict, response.ErrAttemptAlreadyActive)
		case errors.Is(err, service.ErrExamWindowClosed):
			response.Fail(c, http.StatusForbidden, response.ErrExamWindowClosed)
		case errors.Is(err, service.ErrInvalidExamConfiguration):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidExamConfig)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"attempt":   attempt,
		"questions": questions,
	})
}

// GetState godoc
// GET /api/v1/student/attempts/:attempt_id/state
// Returns remaining time and answer progress for client resume.
func (h *AttemptHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.attemptService.GetState(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SaveAnswer godoc
// POST /api/v1/student/attempts/:attempt_id/answers
// Buffers one answer. Saves after the deadline come back with
// applied=false rather than an error, so autosave loops stay quiet.
func (h *AttemptHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, claims.UserID, req)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	payload := gin.H{"applied": out.Applied}
	if out.DeadlinePassed {
		payload["reason"] = response.ErrDeadlinePassed
	}
	response.Success(c, http.StatusOK, payload)
}

// SaveBatch godoc
// POST /api/v1/student/attempts/:attempt_id/answers/batch
// Buffers several answers in one call, each individually sequence-guarded.
func (h *AttemptHandler) SaveBatch(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveBatchRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.attemptService.SaveBatch(c.Request.Context(), attemptID, claims.UserID, req.Answers)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	if out.DeadlinePassed {
		response.Success(c, http.StatusOK, gin.H{"accepted": 0, "reason": response.ErrDeadlinePassed})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"accepted": len(req.Answers)})
}

// GetProgress godoc
// GET /api/v1/student/attempts/:attempt_id/progress
// Returns the buffered answers for client resume after reload.
func (h *AttemptHandler) GetProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	answers, err := h.attemptService.RestoreProgress(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"answers": answers})
}

// Submit godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes the attempt. Idempotent: re-submitting a finalized attempt
// returns the already-recorded result.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// failAttemptError maps service-layer attempt errors to API error codes.
func failAttemptError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotAttemptOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrAttemptNotActive):
		response.Fail(c, http.StatusConflict, response.ErrAttemptNotActive)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
