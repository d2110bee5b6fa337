// Package server exposes the deal workflow over HTTP. Handlers translate
// the engine's typed rejections into a stable error envelope so board
// clients can classify them without parsing messages.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"leaseline/internal/catalog"
	"leaseline/internal/engine"
	"leaseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"guard_violation"`
	Message string         `json:"message" example:"guard not fulfilled: Risk approved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Leaseline API.
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
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema validation failures are the client's fault, not a guard's.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Leaseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStages(group)
	registerDeals(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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

// handleError classifies engine rejections onto the envelope. Order
// violations and claim races are conflicts, role violations forbidden,
// unmet guards and missing documents unprocessable.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var te engine.TransitionError
	if errors.As(err, &te) {
		details := map[string]any{"from": te.From, "to": te.To}
		switch te.Reason {
		case engine.ReasonOrderViolation:
			return newAPIError(http.StatusConflict, "order_violation", te.Error(), details)
		case engine.ReasonRoleViolation:
			details["role"] = te.Role
			return newAPIError(http.StatusForbidden, "role_violation", te.Error(), details)
		case engine.ReasonGuardViolation:
			details["guard"] = te.Guard
			details["guard_label"] = te.GuardLabel
			return newAPIError(http.StatusUnprocessableEntity, "guard_violation", te.Error(), details)
		default:
			return newAPIError(http.StatusBadRequest, "unknown_transition", te.Error(), details)
		}
	}
	var mde engine.MissingDocumentsError
	if errors.As(err, &mde) {
		return newAPIError(http.StatusUnprocessableEntity, "missing_documents", err.Error(), map[string]any{
			"guard":   mde.GuardKey,
			"missing": mde.Missing,
		})
	}
	var dre engine.DocumentRequiredError
	if errors.As(err, &dre) {
		return newAPIError(http.StatusUnprocessableEntity, "document_required", err.Error(), map[string]any{
			"guard": dre.GuardKey,
		})
	}
	var ue engine.UploadError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadGateway, "upload_failed", err.Error(), map[string]any{
			"file_name": ue.FileName,
		})
	}
	if errors.Is(err, engine.ErrClaimConflict) {
		return newAPIError(http.StatusConflict, "claim_conflict", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrTaskAlreadyDone) {
		return newAPIError(http.StatusConflict, "task_done", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrDealTerminal) {
		return newAPIError(http.StatusConflict, "deal_terminal", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusForbidden:
		return "forbidden"
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
    <title>Leaseline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerStages(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/stages",
		Summary:     "List pipeline stages",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StageResponse `json:"body"`
	}, error) {
		out := make([]StageResponse, 0, len(catalog.Stages))
		for _, s := range catalog.Stages {
			guards := make([]GuardResponse, 0, len(s.ExitGuards))
			for _, g := range s.ExitGuards {
				guards = append(guards, GuardResponse{
					Key:              g.Key,
					Label:            g.Label,
					Hint:             g.Hint,
					RequiresDocument: g.RequiresDocument,
					RequiredTypes:    g.RequiredTypes,
				})
			}
			out = append(out, StageResponse{
				Key:       s.Key,
				Title:     s.Title,
				OwnerRole: string(s.OwnerRole),
				ExitRole:  string(s.ExitRole),
				SLAHours:  s.SLAHours,
				Terminal:  s.Terminal(),
				Guards:    guards,
			})
		}
		return &struct {
			Body []StageResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDeals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-deal",
		Method:        http.MethodPost,
		Path:          "/deals",
		Summary:       "Create deal",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateDealRequest `json:"body"`
	}) (*struct {
		Body DealResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		opts := engine.DealCreateOptions{
			Title:      input.Body.Title,
			ClientName: input.Body.ClientName,
			Fields:     input.Body.Fields,
			ActorID:    actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		d, err := e.CreateDeal(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DealResponse `json:"body"`
		}{Body: dealResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deals",
		Method:      http.MethodGet,
		Path:        "/deals",
		Summary:     "List deals",
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status"`
		Limit           int    `query:"limit"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []DealResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListDeals(ctx, repo.DealFilters{
			Status:          input.Status,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DealResponse `json:"body"`
		}{Body: mapDeals(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deal",
		Method:      http.MethodGet,
		Path:        "/deals/{deal_id}",
		Summary:     "Get deal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID string `path:"deal_id"`
	}) (*struct {
		Body DealResponse `json:"body"`
	}, error) {
		d, err := e.Repo.GetDeal(ctx, input.DealID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DealResponse `json:"body"`
		}{Body: dealResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-deal",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/transition",
		Summary:     "Advance deal to the next stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		DealID string            `path:"deal_id"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body DealResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.ToStatus) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to_status is required", nil)
		}
		d, err := e.TransitionDeal(ctx, engine.TransitionOptions{
			DealID:       input.DealID,
			ToStatus:     input.Body.ToStatus,
			ActorID:      actorID,
			ActorRoles:   rolesFromContext(ctx),
			GuardContext: input.Body.GuardContext,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DealResponse `json:"body"`
		}{Body: dealResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-deal",
		Method:      http.MethodPost,
		Path:        "/deals/{deal_id}/cancel",
		Summary:     "Cancel deal",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		DealID string            `path:"deal_id"`
		Body   CancelDealRequest `json:"body"`
	}) (*struct {
		Body DealResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CancelDeal(ctx, input.DealID, input.Body.Reason, actorID, rolesFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DealResponse `json:"body"`
		}{Body: dealResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deal-checklist",
		Method:      http.MethodGet,
		Path:        "/deals/{deal_id}/checklist",
		Summary:     "Document checklist for a guard",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID   string `path:"deal_id"`
		GuardKey string `query:"guard_key"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		guardKey := input.GuardKey
		if guardKey == "" {
			guardKey = catalog.GuardDocsUploaded
		}
		checklist, _, err := e.ReconcileChecklist(ctx, input.DealID, guardKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: checklistResponse(checklist)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		DealID          string `query:"deal_id"`
		Status          string `query:"status"`
		GuardKey        string `query:"guard_key"`
		AssigneeID      string `query:"assignee_id"`
		Limit           int    `query:"limit"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			DealID:          input.DealID,
			Status:          input.Status,
			GuardKey:        input.GuardKey,
			AssigneeID:      input.AssigneeID,
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/claim",
		Summary:     "Claim task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ClaimTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Submit task form",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   CompleteTaskRequest `json:"body"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		uploads, err := decodeUploads(input.Body.Documents)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		res, err := e.CompleteTask(ctx, engine.TaskCompleteOptions{
			TaskID:     input.TaskID,
			Intent:     input.Body.Intent,
			Fields:     input.Body.Fields,
			Note:       input.Body.Note,
			Documents:  uploads,
			ActorID:    actorID,
			ActorRoles: rolesFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: completionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reopen",
		Summary:     "Reopen completed task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   ReopenTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReopenTask(ctx, input.TaskID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deal-documents",
		Method:      http.MethodGet,
		Path:        "/deals/{deal_id}/documents",
		Summary:     "List deal documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DealID string `path:"deal_id"`
	}) (*struct {
		Body []DocumentResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDeal(ctx, input.DealID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListDealDocuments(ctx, input.DealID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DocumentResponse `json:"body"`
		}{Body: mapDocuments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-document",
		Method:        http.MethodPost,
		Path:          "/deals/{deal_id}/documents",
		Summary:       "Record document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		DealID string                `path:"deal_id"`
		Body   RecordDocumentRequest `json:"body"`
	}) (*struct {
		Body DocumentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		uploads, err := decodeUploads([]DocumentUploadRequest{input.Body.Document})
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		doc, err := e.RecordDocument(ctx, engine.DocumentRecordOptions{
			DealID:   input.DealID,
			GuardKey: input.Body.GuardKey,
			Upload:   uploads[0],
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DocumentResponse `json:"body"`
		}{Body: documentResponse(doc)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}",
		Summary:     "Remove document",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		DocumentID string `path:"document_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveDocument(ctx, input.DocumentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		DealID     string `query:"deal_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		After      int64  `query:"after"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		var items []EventResponse
		if input.After > 0 {
			evts, err := e.Repo.EventsAfter(ctx, limit, input.After)
			if err != nil {
				return nil, handleError(err)
			}
			items = mapEvents(evts)
		} else {
			evts, err := e.Repo.LatestEvents(ctx, limit, input.DealID, input.Type, input.EntityKind, input.EntityID)
			if err != nil {
				return nil, handleError(err)
			}
			items = mapEvents(evts)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: items}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a development token",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ActorID string   `json:"actor_id"`
			Roles   []string `json:"roles,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.ActorID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(auth.JWTSecret, input.Body.ActorID, input.Body.Roles, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"token": token}}, nil
	})
}

// decodeUploads turns API upload payloads into engine uploads, decoding
// base64 content when present.
func decodeUploads(reqs []DocumentUploadRequest) ([]engine.DocumentUpload, error) {
	uploads := make([]engine.DocumentUpload, 0, len(reqs))
	for _, req := range reqs {
		if strings.TrimSpace(req.FileName) == "" {
			return nil, errors.New("document file_name is required")
		}
		up := engine.DocumentUpload{
			Type:        req.Type,
			FileName:    req.FileName,
			ExistingRef: req.StorageRef,
			Optional:    req.Optional,
		}
		if req.ContentBase64 != "" {
			data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
			if err != nil {
				return nil, fmt.Errorf("document %s: invalid base64 content", req.FileName)
			}
			up.Content = data
		}
		if len(up.Content) == 0 && up.ExistingRef == "" {
			return nil, fmt.Errorf("document %s: content_base64 or storage_ref is required", req.FileName)
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}
