package server

import (
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
)

// Request payloads

type CreateCaseRequest struct {
	Type          string `json:"type" enum:"student,classroom,general"`
	IncidentDate  string `json:"incident_date" format:"date" example:"2025-03-09"`
	CategoryID    string `json:"category_id,omitempty"`
	OtherCategory string `json:"other_category,omitempty"`
	RoomName      string `json:"room_name,omitempty"`
	ClassroomID   string `json:"classroom_id,omitempty"`
	StudentName   string `json:"student_name,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
	Description   string `json:"description"`
}

type UpdateCaseRequest struct {
	Description string `json:"description"`
}

type TransitionRequest struct {
	Status          string `json:"status" enum:"registered,read,attention,resolved"`
	Justification   string `json:"justification,omitempty"`
	ReferCounseling bool   `json:"refer_counseling,omitempty"`
}

type EditLogRequest struct {
	Comment string `json:"comment"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty" example:"docente"`
}

// Response payloads

type CaseResponse struct {
	domain.Case
	// AllowedTransitions lists the statuses the caller may request next.
	AllowedTransitions []domain.Status `json:"allowed_transitions"`
}

type paginatedCases struct {
	Items      []CaseResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type LogEntriesResponse struct {
	CaseID string            `json:"case_id"`
	Order  string            `json:"order"`
	Items  []domain.LogEntry `json:"items"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
	Reviews bool   `json:"reviews"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func caseResponse(c domain.Case, role domain.Role) CaseResponse {
	return CaseResponse{
		Case:               c,
		AllowedTransitions: nonNilSlice(auth.AllowedTargets(role, c.Status)),
	}
}

func mapCases(items []domain.Case, role domain.Role) []CaseResponse {
	out := make([]CaseResponse, 0, len(items))
	for _, c := range items {
		out = append(out, caseResponse(c, role))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
