package websocket

import "github.com/google/uuid"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionState    Action = "state"
	ActionPing     Action = "ping"
)

// RequestEnvelope carries a full client message. Only the fields relevant
// to the action are populated.
type RequestEnvelope struct {
	Action            Action      `json:"action"`
	QuestionID        uuid.UUID   `json:"question_id,omitempty"`
	SelectedOptionIDs []uuid.UUID `json:"selected_option_ids,omitempty"`
	TextAnswer        string      `json:"text_answer,omitempty"`
	Seq               int64       `json:"seq"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventSubmitted Event = "submitted"
	EventState     Event = "state"
	EventPong      Event = "pong"
)

// SavedResponse acknowledges an autosave. Applied is false when the
// write was dropped as stale or past-deadline; Reason carries the cause
// for a past-deadline drop.
type SavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
	Seq        int64     `json:"seq"`
	Applied    bool      `json:"applied"`
	Reason     string    `json:"reason,omitempty"`
}

// SubmittedResponse reports the terminal outcome of a submit.
type SubmittedResponse struct {
	Event    Event    `json:"event"`
	Status   string   `json:"status"`
	Score    *float64 `json:"score"`
	MaxScore float64  `json:"max_score"`
}

// StateResponse mirrors the REST state endpoint for in-band resume.
type StateResponse struct {
	Event            Event   `json:"event"`
	Status           string  `json:"status"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	AnsweredCount    int     `json:"answered_count"`
	QuestionCount    int     `json:"question_count"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
