package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"questline/internal/combat"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/engine/auth"
	"questline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"stale_version"`
	Message string         `json:"message" example:"stale version: expected 3, current 4"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"current_version\":\"4\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Questline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 invalid_input
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Questline Encounter API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerEncounters(group, cfg.Engine)
	registerTurns(group, cfg.Engine)
	registerLog(group, cfg.Engine)
	registerConditions(group, cfg.Engine)
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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, engine.ErrReadOnlySource) {
		return newAPIError(http.StatusBadRequest, "read_only_source", err.Error(), nil)
	}
	var ce *combat.Error
	if errors.As(err, &ce) {
		return newAPIError(statusForCode(ce.Code), strings.ToLower(string(ce.Code)), ce.Message, metadataDetails(ce.Metadata))
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func statusForCode(code combat.Code) int {
	switch code {
	case combat.CodeInvalidInput:
		return http.StatusBadRequest
	case combat.CodeNotFound:
		return http.StatusNotFound
	case combat.CodeConflict, combat.CodeStaleVersion, combat.CodeInvalidTurn, combat.CodeEncounterNotActive:
		return http.StatusConflict
	case combat.CodeOutOfRange:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func metadataDetails(md map[string]string) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_input"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "out_of_range"
	case http.StatusUnauthorized:
		return "unauthorized"
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
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Questline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerEncounters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-encounter",
		Method:        http.MethodPost,
		Path:          "/encounters",
		Summary:       "Start an encounter for an actor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateEncounterRequest `json:"body"`
	}) (*struct {
		Body domain.Encounter `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		enc, err := e.CreateEncounter(ctx, engine.CreateEncounterOptions{
			ID:            input.Body.ID,
			ActorID:       input.Body.ActorID,
			OriginQuestID: input.Body.OriginQuestID,
			Actor:         input.Body.Actor,
			Enemies:       input.Body.Enemies,
			Caller:        caller,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Encounter `json:"body"`
		}{Body: enc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-encounters",
		Method:      http.MethodGet,
		Path:        "/encounters",
		Summary:     "List encounters, newest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
		Status  string `query:"status" enum:"pending,active,victory,defeat,fled"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body EncounterListResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEncounters(ctx, caller, repo.EncounterFilters{
			ActorID: input.ActorID,
			Status:  input.Status,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EncounterListResponse `json:"body"`
		}{Body: EncounterListResponse{Items: nonNilEncounters(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-encounter",
		Method:      http.MethodGet,
		Path:        "/encounters/{id}",
		Summary:     "Get an encounter",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Encounter `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		enc, err := e.GetEncounter(ctx, caller, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Encounter `json:"body"`
		}{Body: enc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-combat",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/active-combat",
		Summary:     "Current pending or active encounter of an actor",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
	}) (*struct {
		Body ActiveCombatResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		enc, mods, err := e.ActiveCombat(ctx, caller, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActiveCombatResponse `json:"body"`
		}{Body: ActiveCombatResponse{Encounter: enc, Modifiers: nonNilModifiers(mods)}}, nil
	})
}

func registerTurns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-initiative",
		Method:      http.MethodPost,
		Path:        "/encounters/{id}/initiative",
		Summary:     "Submit the actor's initiative roll",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body InitiativeRequest `json:"body"`
	}) (*struct {
		Body domain.Encounter `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tr, err := e.SubmitInitiative(ctx, caller, input.ID, input.Body.Version, input.Body.Roll)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Encounter `json:"body"`
		}{Body: tr.Encounter}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-action",
		Method:      http.MethodPost,
		Path:        "/encounters/{id}/actions",
		Summary:     "Submit one player action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ActionRequest `json:"body"`
	}) (*struct {
		Body domain.ActionResult `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tr, err := e.SubmitAction(ctx, caller, input.Body.toDomain(input.ID))
		if err != nil {
			return nil, handleError(err)
		}
		result := tr.Result
		if result.NarrativeHooks == nil {
			result.NarrativeHooks = []domain.NarrativeHook{}
		}
		return &struct {
			Body domain.ActionResult `json:"body"`
		}{Body: result}, nil
	})
}

func registerLog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "encounter-log",
		Method:      http.MethodGet,
		Path:        "/encounters/{id}/log",
		Summary:     "Action log of an encounter",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "invalid_input", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.EncounterLog(ctx, caller, input.ID, cursorID, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerConditions(api huma.API, e engine.Engine) {
	type actorPath struct {
		ActorID string `path:"actor_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-conditions",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/conditions",
		Summary:     "Active conditions of an actor",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *actorPath) (*struct {
		Body ConditionListResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ActorConditions(ctx, caller, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConditionListResponse `json:"body"`
		}{Body: ConditionListResponse{Items: nonNilConditions(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "replace-conditions",
		Method:      http.MethodPut,
		Path:        "/actors/{actor_id}/conditions",
		Summary:     "Replace the conditions of an actor",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string                   `path:"actor_id"`
		Body    ReplaceConditionsRequest `json:"body"`
	}) (*struct {
		Body ConditionListResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ReplaceConditions(ctx, caller, input.ActorID, input.Body.Items)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConditionListResponse `json:"body"`
		}{Body: ConditionListResponse{Items: nonNilConditions(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "actor-modifiers",
		Method:      http.MethodGet,
		Path:        "/actors/{actor_id}/modifiers",
		Summary:     "Summed stat modifiers of an actor",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *actorPath) (*struct {
		Body ModifiersResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		mods, err := e.Modifiers(ctx, caller, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ModifiersResponse `json:"body"`
		}{Body: ModifiersResponse{Modifiers: nonNilModifiers(mods)}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
