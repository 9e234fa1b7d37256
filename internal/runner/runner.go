package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKindCancelled tags outcomes of cancelled invocations.
const ErrorKindCancelled = "Cancelled"

// Callable is the external single-call invocation primitive. It may block
// and is expected to honor ctx cancellation on a best-effort basis.
type Callable func(ctx context.Context, args map[string]any) (any, error)

// Fault is an error with an explicit kind, for tool implementations that
// want a named error class in the recorded outcome.
type Fault struct {
	Kind    string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Outcome is the normalized result of one tool invocation. Exactly one of
// the success and error shapes is populated; Cancelled outcomes carry
// ErrorKindCancelled.
type Outcome struct {
	Result       any
	ErrorKind    string
	ErrorMessage string
	Cancelled    bool
	Duration     time.Duration
}

// OK reports whether the invocation produced a usable result.
func (o Outcome) OK() bool {
	return o.ErrorKind == "" && !o.Cancelled
}

// Runner executes one tool call at a time against an external callable.
type Runner struct {
	Now func() time.Time
}

func New() *Runner {
	return &Runner{Now: time.Now}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

type callResult struct {
	value any
	err   error
}

// Invoke runs call in its own goroutine and waits for either completion or
// ctx cancellation. Cancellation is advisory to the callable but
// authoritative here: once observed, the outcome is fixed as Cancelled and a
// late result is discarded. Errors and panics raised by the callable are
// normalized, never propagated.
func (r *Runner) Invoke(ctx context.Context, call Callable, args map[string]any) Outcome {
	start := r.now()
	// Buffered so the callable's goroutine can finish after cancellation
	// without anyone reading its (discarded) result.
	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- callResult{err: &Fault{Kind: "Panic", Message: fmt.Sprint(rec)}}
			}
		}()
		value, err := call(ctx, args)
		done <- callResult{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return Outcome{
			Cancelled:    true,
			ErrorKind:    ErrorKindCancelled,
			ErrorMessage: "tool invocation was cancelled",
			Duration:     r.now().Sub(start),
		}
	case res := <-done:
		elapsed := r.now().Sub(start)
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) || errors.Is(res.err, context.DeadlineExceeded) {
				return Outcome{
					Cancelled:    true,
					ErrorKind:    ErrorKindCancelled,
					ErrorMessage: "tool invocation was cancelled",
					Duration:     elapsed,
				}
			}
			return Outcome{
				ErrorKind:    errorKind(res.err),
				ErrorMessage: res.err.Error(),
				Duration:     elapsed,
			}
		}
		return Outcome{Result: res.value, Duration: elapsed}
	}
}

// errorKind derives a stable error-class name: an explicit Fault kind when
// present, otherwise the concrete error type name.
func errorKind(err error) string {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Kind
	}
	name := fmt.Sprintf("%T", err)
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "errorString", "wrapError", "joinError":
		return "Error"
	}
	return name
}
