package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentsim/internal/catalog"
)

// State is a session lifecycle state.
type State string

const (
	StateSelectingAgent State = "selecting_agent"
	StateAwaitingQuery  State = "awaiting_query"
	StateActive         State = "active"
	StateCompleted      State = "completed"
)

// ErrInvalidState wraps every rejected state transition.
var ErrInvalidState = fmt.Errorf("invalid session state")

// PendingInvocationError rejects session completion while tool calls still
// lack a terminal entry.
type PendingInvocationError struct {
	CallIDs []string
}

func (e *PendingInvocationError) Error() string {
	return fmt.Sprintf("cannot complete session: %d unresolved tool call(s): %v", len(e.CallIDs), e.CallIDs)
}

// Session tracks one roleplay run. It is owned by a single run and discarded
// when the run ends; a new run gets a fresh instance, never a reset.
type Session struct {
	ID        string
	AgentName string
	StartedAt time.Time
	Now       func() time.Time

	mu      sync.Mutex
	state   State
	tools   []catalog.Tool
	history []Entry
	pending map[string]bool
}

// New creates a session in the SelectingAgent state.
func New() *Session {
	return &Session{
		ID:      uuid.New().String(),
		Now:     time.Now,
		state:   StateSelectingAgent,
		pending: map[string]bool{},
	}
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns a prefix-consistent snapshot of the entry log.
func (s *Session) History() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.history...)
}

// Tools returns the tool catalog cached at agent selection, in order.
func (s *Session) Tools() []catalog.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.Tool(nil), s.tools...)
}

// Tool returns the cached tool descriptor with the given name.
func (s *Session) Tool(name string) (catalog.Tool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tools {
		if t.Name == name {
			return t, true
		}
	}
	return catalog.Tool{}, false
}

// SelectAgent records the chosen agent and moves to AwaitingQuery.
func (s *Session) SelectAgent(name string, tools []catalog.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSelectingAgent {
		return fmt.Errorf("%w: cannot select agent in state %s", ErrInvalidState, s.state)
	}
	s.AgentName = name
	s.tools = append([]catalog.Tool(nil), tools...)
	s.state = StateAwaitingQuery
	return nil
}

// SubmitQuery appends the opening UserQuery entry and activates the session.
// The session start instant is fixed here.
func (s *Session) SubmitQuery(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingQuery {
		return fmt.Errorf("%w: cannot submit query in state %s", ErrInvalidState, s.state)
	}
	now := s.now()
	s.StartedAt = now
	s.history = append(s.history, Entry{Type: EntryUserQuery, Timestamp: now, Content: content})
	s.state = StateActive
	return nil
}

// BeginCall appends a ToolCall entry and returns its fresh call id.
func (s *Session) BeginCall(toolName string, args map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return "", fmt.Errorf("%w: cannot invoke tool in state %s", ErrInvalidState, s.state)
	}
	callID := uuid.New().String()
	s.history = append(s.history, Entry{
		Type:      EntryToolCall,
		Timestamp: s.now(),
		CallID:    callID,
		ToolName:  toolName,
		Arguments: cloneArgs(args),
	})
	s.pending[callID] = true
	return callID, nil
}

// FinishCall attaches the ToolOutput terminal entry for a pending call.
func (s *Session) FinishCall(callID string, result any, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resolve(callID); err != nil {
		return err
	}
	s.history = append(s.history, Entry{
		Type:       EntryToolOutput,
		Timestamp:  s.now(),
		CallID:     callID,
		Result:     result,
		DurationMS: durationMS(duration),
	})
	return nil
}

// FailCall attaches the ToolError terminal entry for a pending call.
func (s *Session) FailCall(callID, errorKind, message string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.resolve(callID); err != nil {
		return err
	}
	s.history = append(s.history, Entry{
		Type:         EntryToolError,
		Timestamp:    s.now(),
		CallID:       callID,
		ErrorKind:    errorKind,
		ErrorMessage: message,
		DurationMS:   durationMS(duration),
	})
	return nil
}

// resolve consumes a pending call id; a call gets exactly one terminal entry.
func (s *Session) resolve(callID string) error {
	if !s.pending[callID] {
		return fmt.Errorf("call %s is not pending", callID)
	}
	delete(s.pending, callID)
	return nil
}

// SubmitFinalResponse appends the closing FinalResponse entry and completes
// the session. Rejected while any tool call lacks its terminal entry.
func (s *Session) SubmitFinalResponse(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fmt.Errorf("%w: cannot submit final response in state %s", ErrInvalidState, s.state)
	}
	if len(s.pending) > 0 {
		ids := make([]string, 0, len(s.pending))
		for id := range s.pending {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return &PendingInvocationError{CallIDs: ids}
	}
	s.history = append(s.history, Entry{Type: EntryFinalResponse, Timestamp: s.now(), Content: content})
	s.state = StateCompleted
	return nil
}

// HasCall reports whether a ToolCall entry with this call id was recorded.
func (s *Session) HasCall(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.history {
		if e.Type == EntryToolCall && e.CallID == callID {
			return true
		}
	}
	return false
}

// PendingCalls lists call ids still awaiting a terminal entry.
func (s *Session) PendingCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func cloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
