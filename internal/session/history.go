package session

import "time"

// EntryType discriminates the history entry union.
type EntryType string

const (
	EntryUserQuery     EntryType = "user_query"
	EntryToolCall      EntryType = "tool_call"
	EntryToolOutput    EntryType = "tool_output"
	EntryToolError     EntryType = "tool_error"
	EntryFinalResponse EntryType = "final_response"
)

// Entry is one immutable, time-ordered fact recorded during a session.
// Which fields are set depends on Type: Content for user_query and
// final_response, CallID/ToolName/Arguments for tool_call, and
// CallID/Result or CallID/ErrorKind/ErrorMessage plus DurationMS for the
// two terminal entry types.
type Entry struct {
	Type      EntryType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Content string `json:"content,omitempty"`

	CallID    string         `json:"call_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	Result       any     `json:"result,omitempty"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	DurationMS   float64 `json:"duration_ms,omitempty"`
}

// Terminal reports whether the entry resolves a tool call.
func (e Entry) Terminal() bool {
	return e.Type == EntryToolOutput || e.Type == EntryToolError
}
