package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/quizforge/attempt-engine/internal/middleware"
	"github.com/quizforge/attempt-engine/internal/model"
	"github.com/quizforge/attempt-engine/internal/service"
	"github.com/rs/zerolog"

	ws "github.com/quizforge/attempt-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams attempt autosaves and submission over a WebSocket,
// backed by the same orchestrator paths as the REST endpoints.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/attempts/:attempt_id/stream
// Upgrades to WebSocket for low-latency autosave, state polling and
// submission on an in-progress attempt.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	// Ownership check before the upgrade so unauthorized clients never
	// hold a socket.
	if _, err := h.attemptService.GetState(c.Request.Context(), attemptID, claims.UserID); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			status = http.StatusNotFound
		case errors.Is(err, service.ErrNotAttemptOwner):
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": "attempt unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		var msg ws.RequestEnvelope
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, wsLog, attemptID, claims.UserID, &msg)
		case ws.ActionSubmit:
			h.handleSubmit(conn, wsLog, attemptID, claims.UserID)
			return
		case ws.ActionState:
			h.handleState(conn, wsLog, attemptID, claims.UserID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAutosave(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, userID int, msg *ws.RequestEnvelope) {
	ctx := context.Background()

	if msg.QuestionID == uuid.Nil {
		ws.WriteError(conn, "question_id is required")
		return
	}

	req := model.SaveAnswerRequest{
		QuestionID:        msg.QuestionID,
		SelectedOptionIDs: msg.SelectedOptionIDs,
		TextAnswer:        msg.TextAnswer,
		Seq:               msg.Seq,
	}

	out, err := h.attemptService.SaveAnswer(ctx, attemptID, userID, req)
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotActive) {
			ws.WriteError(conn, "attempt is no longer in progress")
			return
		}
		wsLog.Error().Err(err).Msg("Autosave failed")
		ws.WriteError(conn, "save failed")
		return
	}

	resp := ws.SavedResponse{
		Event:      ws.EventSaved,
		QuestionID: msg.QuestionID,
		Seq:        msg.Seq,
		Applied:    out.Applied,
	}
	if out.DeadlinePassed {
		resp.Reason = "DEADLINE_PASSED"
	}
	ws.WriteTyped(conn, resp)
}

func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, userID int) {
	result, err := h.attemptService.Submit(context.Background(), attemptID, userID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Submit failed")
		ws.WriteError(conn, "submit failed")
		return
	}

	wsLog.Info().
		Str("status", string(result.Status)).
		Msg("Attempt submitted over WebSocket")

	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:    ws.EventSubmitted,
		Status:   string(result.Status),
		Score:    result.Score,
		MaxScore: result.MaxScore,
	})
}

func (h *WSHandler) handleState(conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, userID int) {
	state, err := h.attemptService.GetState(context.Background(), attemptID, userID)
	if err != nil {
		wsLog.Error().Err(err).Msg("State read failed")
		ws.WriteError(conn, "state unavailable")
		return
	}

	ws.WriteTyped(conn, ws.StateResponse{
		Event:            ws.EventState,
		Status:           string(state.Status),
		RemainingSeconds: state.RemainingSeconds,
		AnsweredCount:    state.AnsweredCount,
		QuestionCount:    state.QuestionCount,
	})
}
