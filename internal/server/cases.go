package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/repo"
)

type casePath struct {
	CaseID string `path:"case_id"`
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Register an incident case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCase(ctx, engine.CaseInput{
			Type:          domain.CaseType(input.Body.Type),
			IncidentDate:  input.Body.IncidentDate,
			CategoryID:    input.Body.CategoryID,
			OtherCategory: input.Body.OtherCategory,
			RoomName:      input.Body.RoomName,
			ClassroomID:   input.Body.ClassroomID,
			StudentName:   input.Body.StudentName,
			ImageURL:      input.Body.ImageURL,
			Description:   input.Body.Description,
			CreatedBy:     p.ActorID,
			Role:          p.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, p.Role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases visible to the caller, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"registered,read,attention,resolved"`
		Type       string `query:"type" enum:"student,classroom,general"`
		CategoryID string `query:"category_id"`
		RoomName   string `query:"room_name"`
		From       string `query:"from" doc:"Earliest incident date (YYYY-MM-DD)"`
		To         string `query:"to" doc:"Latest incident date (YYYY-MM-DD)"`
		Query      string `query:"q" doc:"Search correlative, description and student name"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedCases `json:"body"`
	}, error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListCases(ctx, repo.CaseFilters{
			Status:          domain.Status(input.Status),
			Type:            domain.CaseType(input.Type),
			CategoryID:      input.CategoryID,
			RoomName:        input.RoomName,
			From:            input.From,
			To:              input.To,
			Search:          input.Query,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		}, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedCases{}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapCases(items, p.Role)
		return &struct {
			Body paginatedCases `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.GetCase(ctx, input.CaseID, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, p.Role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/open",
		Summary:     "Open a case; reviewers mark registered cases as read",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *casePath) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.OpenCase(ctx, input.CaseID, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, p.Role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-case",
		Method:      http.MethodPatch,
		Path:        "/cases/{case_id}",
		Summary:     "Edit the description of a registered case",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   UpdateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.EditDescription(ctx, input.CaseID, input.Body.Description, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, p.Role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-case",
		Method:        http.MethodDelete,
		Path:          "/cases/{case_id}",
		Summary:       "Delete a case and its log",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *casePath) (*struct{}, error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCase(ctx, input.CaseID, p.ActorID, p.Role); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/transitions",
		Summary:     "Request a status transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID string            `path:"case_id"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.RequestTransition(ctx, engine.TransitionRequest{
			CaseID:          input.CaseID,
			Status:          domain.Status(input.Body.Status),
			Justification:   input.Body.Justification,
			ActorID:         p.ActorID,
			Role:            p.Role,
			ReferCounseling: input.Body.ReferCounseling,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, p.Role)}, nil
	})
}

func registerLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-case-logs",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/logs",
		Summary:     "List a case's audit log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID string `path:"case_id"`
		Order  string `query:"order" enum:"asc,desc" default:"desc"`
	}) (*struct {
		Body LogEntriesResponse `json:"body"`
	}, error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		order := engine.LogOrder(input.Order)
		items, err := e.ListLogEntries(ctx, input.CaseID, order, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LogEntriesResponse `json:"body"`
		}{Body: LogEntriesResponse{CaseID: input.CaseID, Order: string(order), Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "edit-log-entry",
		Method:      http.MethodPatch,
		Path:        "/logs/{log_id}",
		Summary:     "Edit a log entry comment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		LogID string         `path:"log_id"`
		Body  EditLogRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.EditLogComment(ctx, input.LogID, input.Body.Comment, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, p.Role)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-log-entry",
		Method:      http.MethodDelete,
		Path:        "/logs/{log_id}",
		Summary:     "Delete a log entry and reconcile its case",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		LogID string `path:"log_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.DeleteLogEntry(ctx, input.LogID, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c, p.Role)}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Case counts visible to the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats `json:"body"`
	}, error) {
		p, authErr := caller(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.Stats(ctx, p.ActorID, p.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stats `json:"body"`
		}{Body: stats}, nil
	})
}
