package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"sprintsheet/internal/engine"
	"sprintsheet/internal/events"
)

// Config for the HTTP report handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"integrity_error"`
	Message string         `json:"message" example:"task 9.1 (sprint 9): sprint not declared in summary list"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"task_id\":\"9.1\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// New returns an HTTP handler exposing the plan and a freshly generated
// workbook on every request.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Sprintsheet API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerPlan(group, cfg.Engine)
	registerReport(group, cfg.Engine)
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
	var ie *engine.IntegrityError
	if errors.As(err, &ie) {
		details := map[string]any{"sprint_number": ie.SprintNumber}
		if ie.TaskID != "" {
			details["task_id"] = ie.TaskID
		}
		return newAPIError(http.StatusUnprocessableEntity, "integrity_error", err.Error(), details)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			spec, _ = json.Marshal(api.OpenAPI())
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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

func registerPlan(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sprints",
		Method:      http.MethodGet,
		Path:        "/sprints",
		Summary:     "Sprint summaries in sprint-number order",
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body SprintsResponse }, error) {
		return &struct{ Body SprintsResponse }{Body: SprintsResponse{
			Project: e.Registry.Project,
			Items:   e.Registry.SprintsByNumber(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Tasks in plan order",
	}, func(ctx context.Context, input *struct {
		Sprint int `query:"sprint" doc:"only tasks of this sprint"`
	}) (*struct{ Body TasksResponse }, error) {
		items := e.Registry.Tasks
		if input.Sprint > 0 {
			items = e.Registry.TasksInSprint(input.Sprint)
		}
		return &struct{ Body TasksResponse }{Body: TasksResponse{Project: e.Registry.Project, Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-plan",
		Method:      http.MethodGet,
		Path:        "/check",
		Summary:     "Integrity problems and drift in the plan",
	}, func(ctx context.Context, _ *struct{}) (*struct{ Body CheckResponse }, error) {
		return &struct{ Body CheckResponse }{Body: toCheckResponse(e.Check(ctx))}, nil
	})
}

type reportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerReport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "download-report",
		Method:      http.MethodGet,
		Path:        "/report.xlsx",
		Summary:     "Generate the tracking workbook",
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Tracking workbook",
				Content:     map[string]*huma.MediaType{xlsxContentType: {}},
			},
		},
	}, func(ctx context.Context, _ *struct{}) (*reportOutput, error) {
		f, err := e.Build(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		defer f.Close()
		buf, err := f.WriteToBuffer()
		if err != nil {
			return nil, handleError(fmt.Errorf("encode workbook: %w", err))
		}
		name := strings.Join(strings.Fields(e.Registry.Project), "_")
		if name == "" {
			name = "sprintsheet"
		}
		payload := events.EventPayload{"bytes": buf.Len()}
		if p, ok := PrincipalFromContext(ctx); ok {
			payload["subject"] = p.Subject
			payload["auth"] = p.Source
		}
		e.Events.Append(ctx, slog.LevelInfo, "report.served", "report", name, payload)
		return &reportOutput{
			ContentType:        xlsxContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", name+"_Project_Tracking.xlsx"),
			Body:               buf.Bytes(),
		}, nil
	})
}
