package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agentsim/internal/session"
)

// ErrSessionNotCompleted rejects export of a session that has not reached
// the Completed state.
var ErrSessionNotCompleted = errors.New("session is not completed")

// IncompleteTraceError reports a tool call with no terminal entry found
// during export. The session guard makes this unreachable in normal use.
type IncompleteTraceError struct {
	CallID string
}

func (e *IncompleteTraceError) Error() string {
	return fmt.Sprintf("tool call %s has no recorded result", e.CallID)
}

// Invocation is one exported tool call.
type Invocation struct {
	CallID    string         `json:"callId"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

// ErrorInfo is the exported shape of a failed tool call.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Payload is the terminal value of one tool call: a success result or an
// error descriptor, never both. Errors are exported, not dropped.
type Payload struct {
	Result any
	Error  *ErrorInfo
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Error != nil {
		return json.Marshal(map[string]any{"error": p.Error})
	}
	// The result key is always present on success, even for a nil result.
	return json.Marshal(map[string]any{"result": p.Result})
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Result json.RawMessage `json:"result"`
		Error  *ErrorInfo      `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Error != nil {
		*p = Payload{Error: raw.Error}
		return nil
	}
	var result any
	if len(raw.Result) > 0 {
		if err := json.Unmarshal(raw.Result, &result); err != nil {
			return err
		}
	}
	*p = Payload{Result: result}
	return nil
}

// ToolResult pairs a call id with its terminal payload.
type ToolResult struct {
	CallID  string  `json:"callId"`
	Payload Payload `json:"payload"`
}

// Artifact is the exported, immutable record of one completed session.
type Artifact struct {
	ArtifactID      string       `json:"artifactId"`
	UserQuery       string       `json:"userQuery"`
	FinalResponse   *string      `json:"finalResponse"`
	ToolInvocations []Invocation `json:"toolInvocations"`
	ToolResults     []ToolResult `json:"toolResults"`
	CreatedAt       int64        `json:"createdAt"`
}

// Builder converts completed sessions into artifacts.
type Builder struct {
	Now func() time.Time
}

func NewBuilder() Builder {
	return Builder{Now: time.Now}
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build assembles an artifact from a completed session with a single linear
// scan of its history, preserving call order.
func (b Builder) Build(s *session.Session) (Artifact, error) {
	if s.State() != session.StateCompleted {
		return Artifact{}, fmt.Errorf("%w: state %s", ErrSessionNotCompleted, s.State())
	}
	a := Artifact{
		ArtifactID:      ArtifactID(s.AgentName, s.StartedAt),
		ToolInvocations: []Invocation{},
		ToolResults:     []ToolResult{},
		CreatedAt:       b.now().UTC().Unix(),
	}
	resolved := map[string]bool{}
	for _, e := range s.History() {
		switch e.Type {
		case session.EntryUserQuery:
			a.UserQuery = e.Content
		case session.EntryFinalResponse:
			content := e.Content
			a.FinalResponse = &content
		case session.EntryToolCall:
			a.ToolInvocations = append(a.ToolInvocations, Invocation{
				CallID:    e.CallID,
				ToolName:  e.ToolName,
				Arguments: e.Arguments,
			})
		case session.EntryToolOutput:
			a.ToolResults = append(a.ToolResults, ToolResult{
				CallID:  e.CallID,
				Payload: Payload{Result: e.Result},
			})
			resolved[e.CallID] = true
		case session.EntryToolError:
			a.ToolResults = append(a.ToolResults, ToolResult{
				CallID:  e.CallID,
				Payload: Payload{Error: &ErrorInfo{Kind: e.ErrorKind, Message: e.ErrorMessage}},
			})
			resolved[e.CallID] = true
		}
	}
	for _, inv := range a.ToolInvocations {
		if !resolved[inv.CallID] {
			return Artifact{}, &IncompleteTraceError{CallID: inv.CallID}
		}
	}
	return a, nil
}

var (
	camelBoundary = regexp.MustCompile(`(.)([A-Z][a-z])|([a-z0-9])([A-Z])`)
	nonIdent      = regexp.MustCompile(`[^a-z0-9_]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// ArtifactID derives the deterministic artifact id from the agent name and
// the session start instant. The scheme can collide for two sessions of the
// same agent within one second; callers relying on uniqueness must dedupe.
func ArtifactID(agentName string, startedAt time.Time) string {
	name := agentName
	if name == "" {
		name = "unknown"
	}
	name = camelBoundary.ReplaceAllString(name, "${1}${3}_${2}${4}")
	name = strings.ToLower(name)
	name = nonIdent.ReplaceAllString(name, "_")
	name = underscoreRun.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if name == "" {
		name = "unknown"
	}
	return name + "_" + startedAt.UTC().Format("20060102T150405Z")
}
