package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"agentsim/internal/catalog"
	"agentsim/internal/events"
	"agentsim/internal/runner"
	"agentsim/internal/schema"
	"agentsim/internal/session"
	"agentsim/internal/store"
	"agentsim/internal/trace"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrInvocationInFlight = errors.New("another tool invocation is in flight")
	ErrNoInvocation       = errors.New("no such invocation in flight")
)

// ValidationError carries every violation found when checking arguments or
// structured content against a schema.
type ValidationError struct {
	Violations []schema.Violation
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Engine orchestrates one simulation run at a time: a human plays the agent
// by selecting tools, supplying arguments and assembling the trace. At most
// one tool invocation is in flight; the rest of the engine stays responsive
// while it runs.
type Engine struct {
	Catalog *catalog.Catalog
	Store   store.Store
	Runner  *runner.Runner
	Builder trace.Builder
	Bus     *events.Bus
	Log     *slog.Logger
	Now     func() time.Time

	mu       sync.Mutex
	session  *session.Session
	agent    *catalog.Agent
	inflight string
	cancels  map[string]context.CancelFunc
	waiters  map[string]chan struct{}
}

func New(c *catalog.Catalog, st store.Store) *Engine {
	return &Engine{
		Catalog: c,
		Store:   st,
		Runner:  runner.New(),
		Builder: trace.NewBuilder(),
		Bus:     events.NewBus(),
		Now:     time.Now,
		cancels: map[string]context.CancelFunc{},
		waiters: map[string]chan struct{}{},
	}
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// NewSession discards any current session and starts a fresh one in the
// SelectingAgent state. A still-running invocation of the old session is
// cancelled; the old instance is never recycled.
func (e *Engine) NewSession() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, cancel := range e.cancels {
		cancel()
		delete(e.cancels, id)
	}
	s := session.New()
	if e.Now != nil {
		s.Now = e.Now
	}
	e.session = s
	e.agent = nil
	e.inflight = ""
	return s
}

// Session returns the current session, if any.
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *Engine) current() (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, ErrNoSession
	}
	return e.session, nil
}

// SelectAgent resolves the agent in the catalog, caches its tool catalog on
// the session and moves it to AwaitingQuery.
func (e *Engine) SelectAgent(name string) error {
	s, err := e.current()
	if err != nil {
		return err
	}
	agent, err := e.Catalog.Get(name)
	if err != nil {
		return err
	}
	if err := s.SelectAgent(agent.Profile.Name, agent.Profile.Tools); err != nil {
		return err
	}
	e.mu.Lock()
	e.agent = agent
	e.mu.Unlock()
	return nil
}

// Agent returns the selected agent's profile.
func (e *Engine) Agent() (catalog.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.agent == nil {
		return catalog.Profile{}, fmt.Errorf("%w: no agent selected", ErrNoSession)
	}
	return e.agent.Profile, nil
}

// ToolForm regenerates the descriptor tree for one tool's parameters.
func (e *Engine) ToolForm(toolName string) (schema.FormField, error) {
	s, err := e.current()
	if err != nil {
		return schema.FormField{}, err
	}
	t, ok := s.Tool(toolName)
	if !ok {
		return schema.FormField{}, fmt.Errorf("%w: %s", catalog.ErrToolNotFound, toolName)
	}
	return schema.Generate(t.Parameters, "")
}

// QueryForm returns the descriptor tree for a structured query, or nil when
// the agent takes free text.
func (e *Engine) QueryForm() (*schema.FormField, error) {
	return e.optionalForm(func(p catalog.Profile) *schema.FieldSchema { return p.InputSchema })
}

// ResponseForm returns the descriptor tree for a structured final response,
// or nil when the agent answers in free text.
func (e *Engine) ResponseForm() (*schema.FormField, error) {
	return e.optionalForm(func(p catalog.Profile) *schema.FieldSchema { return p.OutputSchema })
}

func (e *Engine) optionalForm(pick func(catalog.Profile) *schema.FieldSchema) (*schema.FormField, error) {
	p, err := e.Agent()
	if err != nil {
		return nil, err
	}
	fs := pick(p)
	if fs == nil {
		return nil, nil
	}
	f, err := schema.Generate(*fs, "")
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// SubmitQuery starts the run with a free-text user query.
func (e *Engine) SubmitQuery(content string) error {
	s, err := e.current()
	if err != nil {
		return err
	}
	if err := s.SubmitQuery(content); err != nil {
		return err
	}
	e.publishLast(s)
	return nil
}

// SubmitStructuredQuery validates values against the agent's input schema
// and records them as canonical JSON query content.
func (e *Engine) SubmitStructuredQuery(values map[string]any) error {
	p, err := e.Agent()
	if err != nil {
		return err
	}
	if p.InputSchema == nil {
		return fmt.Errorf("agent %s declares no input schema", p.Name)
	}
	content, err := structuredContent(*p.InputSchema, values)
	if err != nil {
		return err
	}
	return e.SubmitQuery(content)
}

// inflightReserved holds the invocation slot between the guard check and the
// ToolCall entry being recorded. Never a valid call id.
const inflightReserved = "\x00reserved"

// InvokeTool validates arguments, appends the ToolCall entry and starts the
// invocation in the background. It returns the call id immediately;
// Wait blocks until the terminal entry is recorded.
func (e *Engine) InvokeTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	e.mu.Lock()
	s, agent := e.session, e.agent
	if s == nil || agent == nil {
		e.mu.Unlock()
		return "", ErrNoSession
	}
	if e.inflight != "" {
		inflight := e.inflight
		e.mu.Unlock()
		if inflight == inflightReserved {
			return "", ErrInvocationInFlight
		}
		return "", fmt.Errorf("%w: %s", ErrInvocationInFlight, inflight)
	}
	// Reserve the slot before validating so a concurrent InvokeTool cannot
	// also pass the guard.
	e.inflight = inflightReserved
	e.mu.Unlock()

	release := func() {
		e.mu.Lock()
		if e.inflight == inflightReserved {
			e.inflight = ""
		}
		e.mu.Unlock()
	}

	t, ok := s.Tool(toolName)
	if !ok {
		release()
		return "", fmt.Errorf("%w: %s", catalog.ErrToolNotFound, toolName)
	}
	if violations := schema.Validate(t.Parameters, argsValue(args)); len(violations) > 0 {
		release()
		return "", &ValidationError{Violations: violations}
	}

	callID, err := s.BeginCall(toolName, args)
	if err != nil {
		release()
		return "", err
	}
	e.publishLast(s)

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	e.mu.Lock()
	if e.inflight == inflightReserved {
		e.inflight = callID
	}
	e.cancels[callID] = cancel
	e.waiters[callID] = done
	e.mu.Unlock()

	e.log().Info("tool invocation started", "session", s.ID, "tool", toolName, "call_id", callID)
	go e.run(callCtx, s, agent, t.Name, callID, args, done)
	return callID, nil
}

func (e *Engine) run(ctx context.Context, s *session.Session, agent *catalog.Agent, toolName, callID string, args map[string]any, done chan struct{}) {
	outcome := e.Runner.Invoke(ctx, func(ctx context.Context, args map[string]any) (any, error) {
		return agent.Call(ctx, toolName, args)
	}, args)

	if outcome.OK() {
		if err := s.FinishCall(callID, outcome.Result, outcome.Duration); err != nil {
			e.log().Error("record tool output", "call_id", callID, "err", err)
		}
	} else {
		if err := s.FailCall(callID, outcome.ErrorKind, outcome.ErrorMessage, outcome.Duration); err != nil {
			e.log().Error("record tool error", "call_id", callID, "err", err)
		}
	}
	e.log().Info("tool invocation resolved",
		"call_id", callID, "ok", outcome.OK(), "cancelled", outcome.Cancelled,
		"duration", outcome.Duration)
	e.publishLast(s)

	e.mu.Lock()
	if cancel, ok := e.cancels[callID]; ok {
		cancel()
		delete(e.cancels, callID)
	}
	delete(e.waiters, callID)
	if e.inflight == callID {
		e.inflight = ""
	}
	e.mu.Unlock()
	close(done)
}

// Wait blocks until the invocation's terminal entry is recorded or ctx ends.
// Returns immediately for an already-resolved call; an id the session never
// issued is ErrNoInvocation.
func (e *Engine) Wait(ctx context.Context, callID string) error {
	e.mu.Lock()
	done, ok := e.waiters[callID]
	s := e.session
	e.mu.Unlock()
	if !ok {
		if s != nil && s.HasCall(callID) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNoInvocation, callID)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelInvocation requests cancellation of the in-flight invocation. The
// outcome is fixed as a Cancelled tool error; a late result is discarded.
func (e *Engine) CancelInvocation(callID string) error {
	e.mu.Lock()
	cancel, ok := e.cancels[callID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoInvocation, callID)
	}
	cancel()
	return nil
}

// SubmitFinalResponse completes the run with a free-text answer. Rejected
// with PendingInvocationError while a tool call lacks its terminal entry.
func (e *Engine) SubmitFinalResponse(content string) error {
	s, err := e.current()
	if err != nil {
		return err
	}
	if err := s.SubmitFinalResponse(content); err != nil {
		return err
	}
	e.publishLast(s)
	return nil
}

// SubmitStructuredFinalResponse validates values against the agent's output
// schema and records them as canonical JSON response content.
func (e *Engine) SubmitStructuredFinalResponse(values map[string]any) error {
	p, err := e.Agent()
	if err != nil {
		return err
	}
	if p.OutputSchema == nil {
		return fmt.Errorf("agent %s declares no output schema", p.Name)
	}
	content, err := structuredContent(*p.OutputSchema, values)
	if err != nil {
		return err
	}
	return e.SubmitFinalResponse(content)
}

// History returns a snapshot of the current session's entry log.
func (e *Engine) History() ([]session.Entry, error) {
	s, err := e.current()
	if err != nil {
		return nil, err
	}
	return s.History(), nil
}

// ExportArtifact builds the artifact for the completed session and appends
// it to the collection at path. Export failures leave the session untouched
// so the human can retry.
func (e *Engine) ExportArtifact(path string) (trace.Artifact, error) {
	s, err := e.current()
	if err != nil {
		return trace.Artifact{}, err
	}
	artifact, err := e.Builder.Build(s)
	if err != nil {
		return trace.Artifact{}, err
	}
	if err := e.Store.Append(path, artifact); err != nil {
		return trace.Artifact{}, err
	}
	e.log().Info("artifact exported", "artifact_id", artifact.ArtifactID, "path", path)
	return artifact, nil
}

func (e *Engine) publishLast(s *session.Session) {
	if e.Bus == nil {
		return
	}
	h := s.History()
	if len(h) > 0 {
		e.Bus.Publish(h[len(h)-1])
	}
}

func structuredContent(fs schema.FieldSchema, values map[string]any) (string, error) {
	if violations := schema.Validate(fs, argsValue(values)); len(violations) > 0 {
		return "", &ValidationError{Violations: violations}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// argsValue normalizes an absent argument map to an empty object so
// required-property checks still run against it.
func argsValue(args map[string]any) any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
