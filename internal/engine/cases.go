package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"caseline/internal/correlative"
	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// CaseInput are the fields an actor supplies when registering an incident.
type CaseInput struct {
	Type          domain.CaseType
	IncidentDate  string
	CategoryID    string
	OtherCategory string
	RoomName      string
	ClassroomID   string
	StudentName   string
	ImageURL      string
	Description   string
	CreatedBy     string
	Role          domain.Role
}

func (in CaseInput) validate() error {
	switch {
	case strings.TrimSpace(in.CreatedBy) == "":
		return ValidationError{Field: "created_by", Message: "is required"}
	case !in.Type.Valid():
		return ValidationError{Field: "type", Message: fmt.Sprintf("must be one of student, classroom, general (got %q)", in.Type)}
	case strings.TrimSpace(in.Description) == "":
		return ValidationError{Field: "description", Message: "is required"}
	}
	if _, err := time.Parse(time.DateOnly, in.IncidentDate); err != nil {
		return ValidationError{Field: "incident_date", Message: "must be a date (YYYY-MM-DD)"}
	}
	if strings.TrimSpace(in.CategoryID) == "" && strings.TrimSpace(in.OtherCategory) == "" {
		return ValidationError{Field: "category_id", Message: "a category or other_category is required"}
	}
	switch in.Type {
	case domain.CaseTypeStudent:
		if strings.TrimSpace(in.StudentName) == "" {
			return ValidationError{Field: "student_name", Message: "is required for student incidents"}
		}
	case domain.CaseTypeClassroom:
		if strings.TrimSpace(in.ClassroomID) == "" && strings.TrimSpace(in.RoomName) == "" {
			return ValidationError{Field: "classroom_id", Message: "a classroom or room_name is required for classroom incidents"}
		}
	case domain.CaseTypeGeneral:
		if strings.TrimSpace(in.RoomName) == "" {
			return ValidationError{Field: "room_name", Message: "is required for general incidents"}
		}
	}
	return nil
}

func (e Engine) location() *time.Location {
	if e.Config == nil || e.Config.School.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(e.Config.School.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (e Engine) generator() correlative.Generator {
	prefix, pattern := e.Config.CorrelativeFormat()
	g := correlative.Generator{Prefix: prefix, Pattern: pattern}
	if e.Config != nil {
		g.MaxAttempts = e.Config.Correlative.MaxAttempts
	}
	return g
}

// CreateCase registers a new incident with status registered and no log
// entries. The correlative is drawn inside the same transaction, so a failed
// creation leaves no case behind. When every candidate collided, the counter
// is still moved past the taken codes so the next attempt draws fresh ones.
func (e Engine) CreateCase(ctx context.Context, in CaseInput) (c domain.Case, err error) {
	ctx, done := e.Ops.Start(ctx, "CreateCase", attribute.String("caseline.case_type", string(in.Type)))
	defer func() { done(err) }()

	if err := in.validate(); err != nil {
		return domain.Case{}, err
	}
	if !auth.CanRegister(in.Role) {
		return domain.Case{}, auth.ForbiddenError{Action: "register case", Reason: fmt.Sprintf("unknown role %q", in.Role)}
	}
	now := e.now()
	ts := repo.FormatTime(now)
	c = domain.Case{
		ID:            uuid.NewString(),
		Type:          in.Type,
		Status:        domain.StatusRegistered,
		IncidentDate:  in.IncidentDate,
		CategoryID:    strings.TrimSpace(in.CategoryID),
		OtherCategory: strings.TrimSpace(in.OtherCategory),
		RoomName:      strings.TrimSpace(in.RoomName),
		ClassroomID:   strings.TrimSpace(in.ClassroomID),
		StudentName:   strings.TrimSpace(in.StudentName),
		ImageURL:      strings.TrimSpace(in.ImageURL),
		Description:   strings.TrimSpace(in.Description),
		CreatedBy:     in.CreatedBy,
		Version:       1,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	year := now.In(e.location()).Year()
	gen := e.generator()

	var drawn int64
	err = e.withCaseRetry(ctx, "CreateCase", func(tx *sql.Tx) error {
		drawn = 0
		next := func(ctx context.Context, year int) (int64, error) {
			seq, err := e.Repo.NextCorrelativeSeq(ctx, tx, year)
			if err == nil && seq > drawn {
				drawn = seq
			}
			return seq, err
		}
		try := func(ctx context.Context, code string) error {
			c.Correlative = code
			err := e.Repo.InsertCase(ctx, tx, c)
			if errors.Is(err, repo.ErrDuplicate) {
				return fmt.Errorf("%w: %v", correlative.ErrCollision, err)
			}
			return err
		}
		if _, err := gen.Assign(ctx, year, next, try); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.CaseCreated, "case", c.ID, in.CreatedBy, events.EventPayload{
			"correlative": c.Correlative,
			"type":        c.Type,
		})
	})
	if errors.Is(err, correlative.ErrGenerationExhausted) && drawn > 0 {
		skip := e.inTx(ctx, func(tx *sql.Tx) error {
			return e.Repo.RaiseCorrelativeSeq(ctx, tx, year, drawn)
		})
		if skip != nil {
			e.logger().WarnContext(ctx, "correlative counter not advanced", "year", year, "seq", drawn, "err", skip)
		}
	}
	if err != nil {
		return domain.Case{}, err
	}
	e.logger().InfoContext(ctx, "case registered", "case_id", c.ID, "correlative", c.Correlative)
	return c, nil
}

// visibleCase loads a case the actor may see. Cases outside the actor's
// scope are reported as not found.
func (e Engine) visibleCase(ctx context.Context, tx *sql.Tx, id, actorID string, role domain.Role) (domain.Case, error) {
	c, err := e.findCase(ctx, tx, id)
	if err != nil {
		return domain.Case{}, fmt.Errorf("case %s: %w", id, err)
	}
	if !auth.CanAccess(role, actorID, c) {
		return domain.Case{}, fmt.Errorf("case %s: %w", id, repo.ErrNotFound)
	}
	return c, nil
}

// findCase accepts either the case id or its correlative.
func (e Engine) findCase(ctx context.Context, tx *sql.Tx, ref string) (domain.Case, error) {
	c, err := e.Repo.GetCase(ctx, tx, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetCaseByCorrelative(ctx, tx, ref)
	}
	return c, err
}

func (e Engine) GetCase(ctx context.Context, id, actorID string, role domain.Role) (domain.Case, error) {
	return e.visibleCase(ctx, nil, id, actorID, role)
}

// EditDescription rewrites the free-text description. Only the owner may do
// so and only while the case is still registered.
func (e Engine) EditDescription(ctx context.Context, caseID, description, actorID string, role domain.Role) (c domain.Case, err error) {
	ctx, done := e.Ops.Start(ctx, "EditDescription")
	defer func() { done(err) }()

	description = strings.TrimSpace(description)
	if description == "" {
		return domain.Case{}, ValidationError{Field: "description", Message: "is required"}
	}
	err = e.withCaseRetry(ctx, "EditDescription", func(tx *sql.Tx) error {
		cur, err := e.visibleCase(ctx, tx, caseID, actorID, role)
		if err != nil {
			return err
		}
		if cur.CreatedBy != actorID {
			return auth.ForbiddenError{Action: "edit description", Reason: "only the case owner may edit it"}
		}
		if cur.Status != domain.StatusRegistered {
			return auth.ForbiddenError{Action: "edit description", Reason: fmt.Sprintf("case is %s", cur.Status)}
		}
		now := repo.FormatTime(e.now())
		if err := e.Repo.UpdateCaseDescription(ctx, tx, cur.ID, description, cur.Version, now); err != nil {
			return err
		}
		if err := e.journal().Append(ctx, tx, events.CaseDescriptionUpdated, "case", cur.ID, actorID, nil); err != nil {
			return err
		}
		cur.Description = description
		cur.Version++
		cur.UpdatedAt = now
		c = cur
		return nil
	})
	if err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// DeleteCase removes a case and, by cascade, its whole log.
func (e Engine) DeleteCase(ctx context.Context, caseID, actorID string, role domain.Role) (err error) {
	ctx, done := e.Ops.Start(ctx, "DeleteCase")
	defer func() { done(err) }()

	if !auth.CanDeleteCase(role) {
		return auth.ForbiddenError{Action: "delete case", Reason: "administrator only"}
	}
	return e.withCaseRetry(ctx, "DeleteCase", func(tx *sql.Tx) error {
		cur, err := e.findCase(ctx, tx, caseID)
		if err != nil {
			return fmt.Errorf("case %s: %w", caseID, err)
		}
		if err := e.Repo.DeleteCase(ctx, tx, cur.ID); err != nil {
			return err
		}
		return e.journal().Append(ctx, tx, events.CaseDeleted, "case", cur.ID, actorID, events.EventPayload{
			"correlative": cur.Correlative,
			"status":      cur.Status,
		})
	})
}

// scope narrows filters to the cases the actor may see.
func scope(f repo.CaseFilters, actorID string, role domain.Role) repo.CaseFilters {
	if !auth.CanViewAll(role) {
		f.CreatedBy = actorID
	}
	return f
}

// ListCases returns matching cases newest first, scoped to the actor.
func (e Engine) ListCases(ctx context.Context, f repo.CaseFilters, actorID string, role domain.Role) ([]domain.Case, error) {
	if !auth.CanViewAll(role) && actorID == "" {
		return []domain.Case{}, nil
	}
	cases, err := e.Repo.ListCases(ctx, scope(f, actorID, role))
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []domain.Case{}
	}
	return cases, nil
}

// Stats summarizes the cases the actor may see.
func (e Engine) Stats(ctx context.Context, actorID string, role domain.Role) (domain.Stats, error) {
	if !auth.CanViewAll(role) && actorID == "" {
		return domain.Stats{ByStatus: map[string]int{}, ByRoom: map[string]int{}}, nil
	}
	now := e.now().In(e.location())
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return e.Repo.CaseStats(ctx, scope(repo.CaseFilters{}, actorID, role),
		repo.FormatTime(start), repo.FormatTime(start.AddDate(0, 1, 0)))
}
