package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is every client frame. ReqID is echoed in the reply so the
// client can correlate responses on a shared connection.
type RequestPayload struct {
	Action    Action   `json:"action" binding:"required,oneof=autosave submit ping"`
	ReqID     string   `json:"req_id" binding:"required,max=64"`
	QID       string   `json:"q_id,omitempty" binding:"required_if=Action autosave,omitempty,uuid"`
	Selection []string `json:"selection,omitempty" binding:"max=16,dive,max=8"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

// ResponsePayload is every server frame. Only the fields of the event are set.
type ResponsePayload struct {
	Event   Event    `json:"event"`
	ReqID   string   `json:"req_id,omitempty"`
	Status  string   `json:"status,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Correct *int     `json:"correct,omitempty"`
	Total   *int     `json:"total,omitempty"`
	Error   string   `json:"error,omitempty"`
}

const (
	StatusSaved     = "saved"
	StatusCompleted = "completed"
)
