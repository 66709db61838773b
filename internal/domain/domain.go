package domain

// Status is the lifecycle state of a case.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusRead       Status = "read"
	StatusAttention  Status = "attention"
	StatusResolved   Status = "resolved"
)

// Statuses lists every lifecycle state in graph order.
var Statuses = []Status{StatusRegistered, StatusRead, StatusAttention, StatusResolved}

func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusRead, StatusAttention, StatusResolved:
		return true
	}
	return false
}

// CaseType classifies what an incident concerns.
type CaseType string

const (
	CaseTypeStudent   CaseType = "student"
	CaseTypeClassroom CaseType = "classroom"
	CaseTypeGeneral   CaseType = "general"
)

func (t CaseType) Valid() bool {
	switch t {
	case CaseTypeStudent, CaseTypeClassroom, CaseTypeGeneral:
		return true
	}
	return false
}

type Case struct {
	ID            string   `json:"id"`
	Correlative   string   `json:"correlative"`
	Type          CaseType `json:"type" enum:"student,classroom,general"`
	Status        Status   `json:"status" enum:"registered,read,attention,resolved"`
	Justification string   `json:"justification,omitempty"`
	IncidentDate  string   `json:"incident_date" format:"date"`
	CategoryID    string   `json:"category_id,omitempty"`
	OtherCategory string   `json:"other_category,omitempty"`
	RoomName      string   `json:"room_name,omitempty"`
	ClassroomID   string   `json:"classroom_id,omitempty"`
	StudentName   string   `json:"student_name,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	Description   string   `json:"description"`
	CreatedBy     string   `json:"created_by"`
	Version       int64    `json:"version"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

// LogEntry is one audit record of a status change.
type LogEntry struct {
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	CaseID    string `json:"case_id"`
	Status    Status `json:"status" enum:"registered,read,attention,resolved"`
	Comment   string `json:"comment"`
	System    bool   `json:"system"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Stats summarizes the cases visible to an actor.
type Stats struct {
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	Resolved  int            `json:"resolved"`
	ThisMonth int            `json:"this_month"`
	ByStatus  map[string]int `json:"by_status"`
	ByRoom    map[string]int `json:"by_room"`
}

// Role is the canonical capability set an actor acts under. Deployment
// specific role names are mapped onto these through configuration.
type Role string

const (
	RoleTeacher       Role = "teacher"
	RoleSecretary     Role = "secretary"
	RoleSupervisor    Role = "supervisor"
	RoleCounselor     Role = "counselor"
	RoleAdministrator Role = "administrator"
)

var Roles = []Role{RoleTeacher, RoleSecretary, RoleSupervisor, RoleCounselor, RoleAdministrator}

func (r Role) Valid() bool {
	switch r {
	case RoleTeacher, RoleSecretary, RoleSupervisor, RoleCounselor, RoleAdministrator:
		return true
	}
	return false
}
