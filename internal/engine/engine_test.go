package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"agentsim/internal/catalog"
	"agentsim/internal/runner"
	"agentsim/internal/schema"
	"agentsim/internal/session"
	"agentsim/internal/store"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	p := catalog.Profile{
		Name:        "CalcAgent",
		Instruction: "You are a calculator.",
		Tools: []catalog.Tool{
			{
				Name: "add",
				Parameters: schema.Object([]schema.Property{
					{Name: "a", Schema: schema.Number("left operand")},
					{Name: "b", Schema: schema.Number("right operand")},
				}, "a", "b"),
			},
			{
				Name:       "block",
				Parameters: schema.Object(nil),
			},
		},
	}
	a, err := catalog.NewAgent(p)
	if err != nil {
		t.Fatal(err)
	}
	a.Bind("add", func(ctx context.Context, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
	a.Bind("block", func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	structured := catalog.Profile{
		Name:  "SurveyAgent",
		Tools: []catalog.Tool{},
		InputSchema: ptr(schema.Object([]schema.Property{
			{Name: "topic", Schema: schema.String("survey topic")},
		}, "topic")),
		OutputSchema: ptr(schema.Object([]schema.Property{
			{Name: "verdict", Schema: schema.String("survey verdict")},
		}, "verdict")),
	}
	b, err := catalog.NewAgent(structured)
	if err != nil {
		t.Fatal(err)
	}

	c := catalog.New()
	c.Add(a)
	c.Add(b)
	return c
}

func ptr(fs schema.FieldSchema) *schema.FieldSchema { return &fs }

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(testCatalog(t), store.New())
	e.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	return e
}

func TestFullRun(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	if err := e.SelectAgent("CalcAgent"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("select without session: %v", err)
	}

	e.NewSession()
	if err := e.SelectAgent("CalcAgent"); err != nil {
		t.Fatal(err)
	}
	if err := e.SubmitQuery("What is 2+2?"); err != nil {
		t.Fatal(err)
	}

	callID, err := e.InvokeTool(ctx, "add", map[string]any{"a": 2.0, "b": 2.0})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Wait(ctx, callID); err != nil {
		t.Fatal(err)
	}

	history, err := e.History()
	if err != nil {
		t.Fatal(err)
	}
	last := history[len(history)-1]
	if last.Type != session.EntryToolOutput || last.CallID != callID {
		t.Fatalf("last entry = %+v", last)
	}
	if last.Result != 4.0 {
		t.Errorf("result = %v", last.Result)
	}

	if err := e.SubmitFinalResponse("The answer is 4."); err != nil {
		t.Fatal(err)
	}
	if e.Session().State() != session.StateCompleted {
		t.Errorf("state = %s", e.Session().State())
	}

	path := filepath.Join(t.TempDir(), "cases.json")
	artifact, err := e.ExportArtifact(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(artifact.ToolInvocations) != 1 || artifact.ToolInvocations[0].CallID != callID {
		t.Errorf("artifact invocations = %+v", artifact.ToolInvocations)
	}
	col, err := e.Store.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(col.Artifacts) != 1 {
		t.Errorf("collection size = %d", len(col.Artifacts))
	}
}

func TestInvokeValidatesArguments(t *testing.T) {
	e := testEngine(t)
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	_, err := e.InvokeTool(context.Background(), "add", map[string]any{"a": "two"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Violations) != 2 {
		t.Errorf("violations = %+v", verr.Violations)
	}
	if got := len(e.Session().History()); got != 1 {
		t.Errorf("rejected call appended to history: %d entries", got)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	e := testEngine(t)
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	_, err := e.InvokeTool(context.Background(), "subtract", nil)
	if !errors.Is(err, catalog.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestSingleInvocationInFlight(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	callID, err := e.InvokeTool(ctx, "block", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.InvokeTool(ctx, "add", map[string]any{"a": 1.0, "b": 1.0}); !errors.Is(err, ErrInvocationInFlight) {
		t.Fatalf("second invoke: %v", err)
	}

	if err := e.CancelInvocation(callID); err != nil {
		t.Fatal(err)
	}
	if err := e.Wait(ctx, callID); err != nil {
		t.Fatal(err)
	}

	// The slot frees once the terminal entry is recorded.
	next, err := e.InvokeTool(ctx, "add", map[string]any{"a": 1.0, "b": 1.0})
	if err != nil {
		t.Fatal(err)
	}
	e.Wait(ctx, next)
}

func TestConcurrentInvokesTakeOneSlot(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	for iter := 0; iter < 25; iter++ {
		e.NewSession()
		e.SelectAgent("CalcAgent")
		e.SubmitQuery("q")

		const n = 8
		accepted := make(chan string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if id, err := e.InvokeTool(ctx, "block", nil); err == nil {
					accepted <- id
				} else if !errors.Is(err, ErrInvocationInFlight) {
					t.Errorf("unexpected invoke error: %v", err)
				}
			}()
		}
		wg.Wait()
		close(accepted)

		ids := []string{}
		for id := range accepted {
			ids = append(ids, id)
		}
		if len(ids) != 1 {
			t.Fatalf("iteration %d: %d concurrent invocations accepted", iter, len(ids))
		}
		if pending := e.Session().PendingCalls(); len(pending) != 1 {
			t.Fatalf("iteration %d: pending = %v", iter, pending)
		}
		e.CancelInvocation(ids[0])
		if err := e.Wait(ctx, ids[0]); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWaitUnknownInvocation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	if err := e.Wait(ctx, "ghost"); !errors.Is(err, ErrNoInvocation) {
		t.Fatalf("expected ErrNoInvocation, got %v", err)
	}

	// A resolved call the session issued still waits successfully.
	callID, err := e.InvokeTool(ctx, "add", map[string]any{"a": 1.0, "b": 2.0})
	if err != nil {
		t.Fatal(err)
	}
	e.Wait(ctx, callID)
	if err := e.Wait(ctx, callID); err != nil {
		t.Errorf("wait on resolved call: %v", err)
	}
}

func TestCancelInvocation(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	callID, err := e.InvokeTool(ctx, "block", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CancelInvocation(callID); err != nil {
		t.Fatal(err)
	}
	if err := e.Wait(ctx, callID); err != nil {
		t.Fatal(err)
	}

	history, _ := e.History()
	last := history[len(history)-1]
	if last.Type != session.EntryToolError {
		t.Fatalf("last entry = %+v", last)
	}
	if last.ErrorKind != runner.ErrorKindCancelled {
		t.Errorf("error kind = %s", last.ErrorKind)
	}

	if err := e.CancelInvocation(callID); !errors.Is(err, ErrNoInvocation) {
		t.Errorf("cancel resolved invocation: %v", err)
	}
}

func TestCancelUnknownInvocation(t *testing.T) {
	e := testEngine(t)
	e.NewSession()
	if err := e.CancelInvocation("ghost"); !errors.Is(err, ErrNoInvocation) {
		t.Errorf("expected ErrNoInvocation, got %v", err)
	}
}

func TestWaitResolvedInvocationReturnsImmediately(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	callID, _ := e.InvokeTool(ctx, "add", map[string]any{"a": 1.0, "b": 2.0})
	e.Wait(ctx, callID)
	if err := e.Wait(ctx, callID); err != nil {
		t.Errorf("second wait: %v", err)
	}
}

func TestFinalResponseBlockedByPendingCall(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	callID, err := e.InvokeTool(ctx, "block", nil)
	if err != nil {
		t.Fatal(err)
	}

	err = e.SubmitFinalResponse("done")
	var pending *session.PendingInvocationError
	if !errors.As(err, &pending) {
		t.Fatalf("expected PendingInvocationError, got %v", err)
	}
	if len(pending.CallIDs) != 1 || pending.CallIDs[0] != callID {
		t.Errorf("pending ids = %v", pending.CallIDs)
	}

	e.CancelInvocation(callID)
	e.Wait(ctx, callID)
	if err := e.SubmitFinalResponse("done"); err != nil {
		t.Fatal(err)
	}
}

func TestNewSessionCancelsInflight(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	if _, err := e.InvokeTool(ctx, "block", nil); err != nil {
		t.Fatal(err)
	}
	old := e.Session()

	e.NewSession()
	deadline := time.Now().Add(time.Second)
	for len(old.PendingCalls()) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("old invocation never resolved")
		}
		time.Sleep(time.Millisecond)
	}
	last := old.History()[len(old.History())-1]
	if last.Type != session.EntryToolError || last.ErrorKind != runner.ErrorKindCancelled {
		t.Errorf("old session terminal entry = %+v", last)
	}
	if e.Session() == old {
		t.Error("session instance recycled")
	}
}

func TestToolForm(t *testing.T) {
	e := testEngine(t)
	e.NewSession()
	e.SelectAgent("CalcAgent")

	f, err := e.ToolForm("add")
	if err != nil {
		t.Fatal(err)
	}
	if f.Widget != schema.WidgetGroup || len(f.Children) != 2 {
		t.Fatalf("form = %+v", f)
	}
	if f.Children[0].Path != "a" || f.Children[0].Widget != schema.WidgetDecimal {
		t.Errorf("child = %+v", f.Children[0])
	}

	if _, err := e.ToolForm("subtract"); !errors.Is(err, catalog.ErrToolNotFound) {
		t.Errorf("unknown tool form: %v", err)
	}
}

func TestStructuredQueryAndResponse(t *testing.T) {
	e := testEngine(t)
	e.NewSession()
	e.SelectAgent("SurveyAgent")

	qf, err := e.QueryForm()
	if err != nil {
		t.Fatal(err)
	}
	if qf == nil || len(qf.Children) != 1 || qf.Children[0].Path != "topic" {
		t.Fatalf("query form = %+v", qf)
	}

	err = e.SubmitStructuredQuery(map[string]any{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if err := e.SubmitStructuredQuery(map[string]any{"topic": "go"}); err != nil {
		t.Fatal(err)
	}
	history, _ := e.History()
	if history[0].Content != `{"topic":"go"}` {
		t.Errorf("query content = %s", history[0].Content)
	}

	if err := e.SubmitStructuredFinalResponse(map[string]any{"verdict": "ship it"}); err != nil {
		t.Fatal(err)
	}
	history, _ = e.History()
	if history[len(history)-1].Content != `{"verdict":"ship it"}` {
		t.Errorf("response content = %s", history[len(history)-1].Content)
	}
}

func TestStructuredQueryWithoutSchema(t *testing.T) {
	e := testEngine(t)
	e.NewSession()
	e.SelectAgent("CalcAgent")

	if err := e.SubmitStructuredQuery(map[string]any{"topic": "go"}); err == nil {
		t.Error("structured query accepted without input schema")
	}
	qf, err := e.QueryForm()
	if err != nil {
		t.Fatal(err)
	}
	if qf != nil {
		t.Errorf("query form for free-text agent = %+v", qf)
	}
}

func TestBusPublishesHistoryEntries(t *testing.T) {
	e := testEngine(t)
	feed, cancel := e.Bus.Subscribe()
	defer cancel()

	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	select {
	case entry := <-feed:
		if entry.Type != session.EntryUserQuery || entry.Content != "q" {
			t.Errorf("entry = %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatal("no entry published")
	}
}

func TestExportRequiresCompletedSession(t *testing.T) {
	e := testEngine(t)
	e.NewSession()
	e.SelectAgent("CalcAgent")
	e.SubmitQuery("q")

	if _, err := e.ExportArtifact(filepath.Join(t.TempDir(), "cases.json")); err == nil {
		t.Error("export of active session accepted")
	}
}
