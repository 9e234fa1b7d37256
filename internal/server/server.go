package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"agentsim/internal/catalog"
	"agentsim/internal/engine"
	"agentsim/internal/schema"
	"agentsim/internal/session"
	"agentsim/internal/store"
	"agentsim/internal/trace"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	// Collection is the default evaluation-collection file used by the
	// export endpoint when the request names none.
	Collection string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"cannot submit query in state active"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the simulation API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Request shape errors should be 400 bad_request; 422 is kept
			// for schema validation of tool arguments.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Agent Simulation API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAgents(group, cfg.Engine)
	registerSession(group, cfg.Engine)
	registerInvocations(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerExport(group, cfg)
	registerCollections(group, cfg)
	registerStream(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{"violations": ve.Violations}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	var pe *session.PendingInvocationError
	if errors.As(err, &pe) {
		return newAPIError(http.StatusConflict, "pending_invocations", err.Error(), map[string]any{"call_ids": pe.CallIDs})
	}
	var ue *schema.UnsupportedKindError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusUnprocessableEntity, "unsupported_schema", err.Error(), map[string]any{"path": ue.Path, "kind": ue.Kind})
	}
	var ce *store.CollectionParseError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "collection_invalid", err.Error(), map[string]any{"path": ce.Path})
	}
	var ie *trace.IncompleteTraceError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusConflict, "incomplete_trace", err.Error(), map[string]any{"call_id": ie.CallID})
	}
	switch {
	case errors.Is(err, catalog.ErrAgentNotFound),
		errors.Is(err, catalog.ErrToolNotFound),
		errors.Is(err, engine.ErrNoInvocation):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrNoSession),
		errors.Is(err, engine.ErrInvocationInFlight),
		errors.Is(err, session.ErrInvalidState),
		errors.Is(err, trace.ErrSessionNotCompleted):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Agent Simulation API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAgents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List available agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AgentSummary `json:"body"`
	}, error) {
		return &struct {
			Body []AgentSummary `json:"body"`
		}{Body: mapAgents(e.Catalog.Profiles())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agent",
		Method:      http.MethodGet,
		Path:        "/agents/{name}",
		Summary:     "Get agent profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body catalog.Profile `json:"body"`
	}, error) {
		a, err := e.Catalog.Get(input.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body catalog.Profile `json:"body"`
		}{Body: a.Profile}, nil
	})
}

func registerSession(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "new-session",
		Method:        http.MethodPost,
		Path:          "/session",
		Summary:       "Start a fresh session",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s := e.NewSession()
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Current session state",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s := e.Session()
		if s == nil {
			return nil, handleError(engine.ErrNoSession)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-agent",
		Method:      http.MethodPost,
		Path:        "/session/agent",
		Summary:     "Select the agent to roleplay",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body SelectAgentRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if err := e.SelectAgent(input.Body.Name); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(e.Session())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "query-form",
		Method:      http.MethodGet,
		Path:        "/session/query-form",
		Summary:     "Form descriptor for the agent input schema",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *schema.FormField `json:"body"`
	}, error) {
		f, err := e.QueryForm()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *schema.FormField `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "response-form",
		Method:      http.MethodGet,
		Path:        "/session/response-form",
		Summary:     "Form descriptor for the agent output schema",
		Errors:      []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *schema.FormField `json:"body"`
	}, error) {
		f, err := e.ResponseForm()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *schema.FormField `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tool-form",
		Method:      http.MethodGet,
		Path:        "/session/tools/{tool}/form",
		Summary:     "Form descriptor for a tool's parameters",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Tool string `path:"tool"`
	}) (*struct {
		Body schema.FormField `json:"body"`
	}, error) {
		f, err := e.ToolForm(input.Tool)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body schema.FormField `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-query",
		Method:      http.MethodPost,
		Path:        "/session/query",
		Summary:     "Submit the user query",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body QueryRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		var err error
		switch {
		case input.Body.Values != nil:
			err = e.SubmitStructuredQuery(input.Body.Values)
		case input.Body.Content != "":
			err = e.SubmitQuery(input.Body.Content)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "content or values is required", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(e.Session())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-final-response",
		Method:      http.MethodPost,
		Path:        "/session/final",
		Summary:     "Submit the final response and complete the session",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body FinalResponseRequest `json:"body"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		var err error
		switch {
		case input.Body.Values != nil:
			err = e.SubmitStructuredFinalResponse(input.Body.Values)
		case input.Body.Content != "":
			err = e.SubmitFinalResponse(input.Body.Content)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "content or values is required", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(e.Session())}, nil
	})
}

func registerInvocations(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "invoke-tool",
		Method:        http.MethodPost,
		Path:          "/session/invocations",
		Summary:       "Start a tool invocation",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body InvokeRequest `json:"body"`
	}) (*struct {
		Body InvokeResponse `json:"body"`
	}, error) {
		if input.Body.Tool == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "tool is required", nil)
		}
		callID, err := e.InvokeTool(ctx, input.Body.Tool, input.Body.Arguments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InvokeResponse `json:"body"`
		}{Body: InvokeResponse{CallID: callID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "wait-invocation",
		Method:      http.MethodPost,
		Path:        "/session/invocations/{call_id}/wait",
		Summary:     "Block until an invocation reaches its terminal entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CallID string `path:"call_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if err := e.Wait(ctx, input.CallID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(e.Session())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-invocation",
		Method:      http.MethodPost,
		Path:        "/session/invocations/{call_id}/cancel",
		Summary:     "Cancel a running invocation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CallID string `path:"call_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		if err := e.CancelInvocation(input.CallID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(e.Session())}, nil
	})
}

func registerHistory(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-history",
		Method:      http.MethodGet,
		Path:        "/session/history",
		Summary:     "Session history snapshot",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		entries, err := e.History()
		if err != nil {
			return nil, handleError(err)
		}
		s := e.Session()
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{SessionID: s.ID, Entries: entries}}, nil
	})
}

func registerExport(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "export-artifact",
		Method:        http.MethodPost,
		Path:          "/session/export",
		Summary:       "Export the completed session into the collection",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ExportRequest `json:"body"`
	}) (*struct {
		Body trace.Artifact `json:"body"`
	}, error) {
		target := input.Body.Path
		if target == "" {
			target = cfg.Collection
		}
		if target == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no collection path configured", nil)
		}
		artifact, err := cfg.Engine.ExportArtifact(target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body trace.Artifact `json:"body"`
		}{Body: artifact}, nil
	})
}

func registerCollections(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-collection",
		Method:      http.MethodGet,
		Path:        "/collection",
		Summary:     "Read the evaluation-case collection",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Path string `query:"path"`
	}) (*struct {
		Body store.Collection `json:"body"`
	}, error) {
		target := input.Path
		if target == "" {
			target = cfg.Collection
		}
		if target == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no collection path configured", nil)
		}
		col, err := cfg.Engine.Store.Load(target)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "collection not found", map[string]any{"path": target})
			}
			return nil, handleError(err)
		}
		return &struct {
			Body store.Collection `json:"body"`
		}{Body: col}, nil
	})
}
