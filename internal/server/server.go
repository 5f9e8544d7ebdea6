package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"revloop/internal/config"
	"revloop/internal/domain"
	"revloop/internal/engine"
	"revloop/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"report_locked"`
	Message string         `json:"message" example:"no commit exists for week 3; a report requires a commit"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every failure uses.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the accountability API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
			// Schema-level request problems are 400; 422 is reserved for
			// domain validation faults with their own codes.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Revloop API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerPrograms(group, cfg.Engine)
	registerParticipants(group, cfg.Engine)
	registerWeeklyLoop(group, cfg.Engine)
	registerStages(group, cfg.Engine)
	registerEscalation(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerOps(group, cfg.Engine)

	startIntentDispatcher(cfg.Engine)
	return router, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		zap.S().Debugw("request", "method", r.Method, "path", r.URL.Path)
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
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

// handleError maps domain faults onto the HTTP surface. The fault class
// picks the status; the fault code and details pass through untouched so
// a client can branch on them.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if f, ok := domain.AsFault(err); ok {
		return newAPIError(statusForClass(f.Class), f.Code, f.Message, f.Details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	zap.S().Errorw("internal error", "error", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func statusForClass(class domain.FaultClass) int {
	switch class {
	case domain.FaultValidation:
		return http.StatusUnprocessableEntity
	case domain.FaultSequencing:
		return http.StatusConflict
	case domain.FaultEscalation:
		return http.StatusLocked
	case domain.FaultStage:
		return http.StatusForbidden
	case domain.FaultNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
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

func registerPrograms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-program",
		Method:        http.MethodPost,
		Path:          "/programs",
		Summary:       "Create program",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProgramRequest `json:"body"`
	}) (*struct {
		Body ProgramResponse `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		p, err := e.InitProgram(ctx, input.Body.ID, desc)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgramResponse `json:"body"`
		}{Body: programResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-program",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}",
		Summary:     "Get program",
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
	}) (*struct {
		Body ProgramResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProgram(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgramResponse `json:"body"`
		}{Body: programResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-program-config",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/config",
		Summary:     "Get program rulebook",
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		cfg, err := e.Repo.GetProgramConfig(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-program-config",
		Method:      http.MethodPut,
		Path:        "/programs/{program_id}/config",
		Summary:     "Replace program rulebook",
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		Body      ConfigImportRequest `json:"body"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if err := e.Repo.UpsertProgramConfig(ctx, input.ProgramID, cfg); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "enroll-participant",
		Method:        http.MethodPost,
		Path:          "/programs/{program_id}/participants",
		Summary:       "Enroll participant",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProgramID string        `path:"program_id"`
		Body      EnrollRequest `json:"body"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		p, err := e.Enroll(ctx, engine.EnrollOptions{
			ParticipantID: input.Body.ID,
			ProgramID:     input.ProgramID,
			Baseline30:    input.Body.Baseline30,
			Baseline90:    input.Body.Baseline90,
			Now:           e.Now(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-participant",
		Method:      http.MethodGet,
		Path:        "/participants/{id}",
		Summary:     "Get participant",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		p, err := e.Repo.GetParticipant(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-week",
		Method:      http.MethodGet,
		Path:        "/participants/{id}/week",
		Summary:     "Current week state",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.WeekState `json:"body"`
	}, error) {
		st, err := e.CurrentWeekState(ctx, input.ID, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WeekState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "participant-history",
		Method:      http.MethodGet,
		Path:        "/participants/{id}/history",
		Summary:     "Full per-week history",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []repo.WeekRecord `json:"body"`
	}, error) {
		records, err := e.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if records == nil {
			records = []repo.WeekRecord{}
		}
		return &struct {
			Body []repo.WeekRecord `json:"body"`
		}{Body: records}, nil
	})
}

func registerWeeklyLoop(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-commit",
		Method:        http.MethodPost,
		Path:          "/participants/{id}/commits",
		Summary:       "Submit weekly commit",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body CommitRequest `json:"body"`
	}) (*struct {
		Body domain.WeekCycle `json:"body"`
	}, error) {
		c, err := e.SubmitCommit(ctx, engine.CommitOptions{
			ParticipantID: input.ID,
			Week:          input.Body.Week,
			Action:        input.Body.Action,
			Tactic:        input.Body.Tactic,
			TargetRevenue: input.Body.TargetRevenue,
			TargetDate:    input.Body.TargetDate,
			Now:           e.Now(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WeekCycle `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-report",
		Method:        http.MethodPost,
		Path:          "/participants/{id}/reports",
		Summary:       "Submit weekly report",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReportRequest `json:"body"`
	}) (*struct {
		Body domain.WeekCycle `json:"body"`
	}, error) {
		c, err := e.SubmitReport(ctx, engine.ReportOptions{
			ParticipantID: input.ID,
			Week:          input.Body.Week,
			Revenue:       input.Body.Revenue,
			Hours:         input.Body.Hours,
			Narrative:     input.Body.Narrative,
			EvidenceCount: input.Body.EvidenceCount,
			Now:           e.Now(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WeekCycle `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "submit-adjust",
		Method:        http.MethodPost,
		Path:          "/participants/{id}/adjustments",
		Summary:       "Submit weekly adjustment",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body AdjustRequest `json:"body"`
	}) (*struct {
		Body domain.WeekCycle `json:"body"`
	}, error) {
		c, err := e.SubmitAdjust(ctx, engine.AdjustOptions{
			ParticipantID: input.ID,
			Week:          input.Body.Week,
			Notes:         input.Body.Notes,
			Now:           e.Now(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WeekCycle `json:"body"`
		}{Body: c}, nil
	})
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stage-status",
		Method:      http.MethodGet,
		Path:        "/participants/{id}/stage",
		Summary:     "Stage progression status",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.StageState `json:"body"`
	}, error) {
		st, err := e.StageStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StageState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-access",
		Method:      http.MethodGet,
		Path:        "/participants/{id}/stage/{stage}/access",
		Summary:     "Check access to stage content",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Stage int    `path:"stage"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := e.StageAccess(ctx, input.ID, input.Stage, e.Now()); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"allowed": true, "stage": input.Stage}}, nil
	})
}

func registerEscalation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "escalation-status",
		Method:      http.MethodGet,
		Path:        "/participants/{id}/escalation",
		Summary:     "Escalation status",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.EscalationState `json:"body"`
	}, error) {
		st, err := e.EscalationStatus(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.EscalationState `json:"body"`
		}{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-review",
		Method:      http.MethodPost,
		Path:        "/participants/{id}/review",
		Summary:     "Resolve mandatory review",
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		p, err := e.ResolveReview(ctx, input.ID, input.Body.Outcome, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-document",
		Method:        http.MethodPost,
		Path:          "/participants/{id}/document",
		Summary:       "Submit system document",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DocumentRequest `json:"body"`
	}) (*struct {
		Body domain.SystemDocument `json:"body"`
	}, error) {
		d, err := e.SubmitSystemDocument(ctx, input.ID, input.Body.Sections, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SystemDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-document",
		Method:      http.MethodPost,
		Path:        "/participants/{id}/document/approve",
		Summary:     "Approve system document",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.SystemDocument `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		d, err := e.ApproveSystemDocument(ctx, input.ID, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SystemDocument `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-exit-interview",
		Method:      http.MethodPost,
		Path:        "/participants/{id}/exit-interview",
		Summary:     "Record exit interview",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		p, err := e.RecordExitInterview(ctx, input.ID, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})
}

func registerOps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "tick",
		Method:      http.MethodPost,
		Path:        "/tick",
		Summary:     "Run the deadline sweep now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.TickResult `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		res, err := e.Tick(ctx, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TickResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "drain-intents",
		Method:      http.MethodPost,
		Path:        "/intents/drain",
		Summary:     "Drain pending notification intents",
	}, func(ctx context.Context, input *struct {
		Body DrainRequest `json:"body"`
	}) (*struct {
		Body []domain.NotificationIntent `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		intents, err := e.DrainNotificationIntents(ctx, input.Body.Limit, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		if intents == nil {
			intents = []domain.NotificationIntent{}
		}
		return &struct {
			Body []domain.NotificationIntent `json:"body"`
		}{Body: intents}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log",
	}, func(ctx context.Context, input *struct {
		Limit         int    `query:"limit" default:"50"`
		Type          string `query:"type"`
		ParticipantID string `query:"participant_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if err := requireMentor(ctx); err != nil {
			return nil, err
		}
		events, err := e.Repo.LatestEvents(ctx, input.Limit, e.Config.Program.ID, input.Type, "", input.ParticipantID)
		if err != nil {
			return nil, handleError(err)
		}
		if events == nil {
			events = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
}
