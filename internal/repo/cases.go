package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"caseline/internal/domain"
)

const caseColumns = `id,correlative,type,status,COALESCE(justification,''),incident_date,COALESCE(category_id,''),COALESCE(other_category,''),COALESCE(room_name,''),COALESCE(classroom_id,''),COALESCE(student_name,''),COALESCE(image_url,''),description,created_by,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	err := row.Scan(&c.ID, &c.Correlative, &c.Type, &c.Status, &c.Justification, &c.IncidentDate, &c.CategoryID,
		&c.OtherCategory, &c.RoomName, &c.ClassroomID, &c.StudentName, &c.ImageURL, &c.Description, &c.CreatedBy,
		&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

// InsertCase stores a new case. A taken correlative yields ErrDuplicate.
func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO cases(id,correlative,type,status,justification,incident_date,category_id,other_category,room_name,classroom_id,student_name,image_url,description,created_by,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Correlative, c.Type, c.Status, nullable(c.Justification), c.IncidentDate, nullable(c.CategoryID),
		nullable(c.OtherCategory), nullable(c.RoomName), nullable(c.ClassroomID), nullable(c.StudentName),
		nullable(c.ImageURL), c.Description, c.CreatedBy, c.Version, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err, "cases.correlative") {
		return fmt.Errorf("%w: correlative %s", ErrDuplicate, c.Correlative)
	}
	return err
}

func (r Repo) GetCase(ctx context.Context, tx *sql.Tx, id string) (domain.Case, error) {
	return scanCase(r.q(tx).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id=?`, id))
}

func (r Repo) GetCaseByCorrelative(ctx context.Context, tx *sql.Tx, correlative string) (domain.Case, error) {
	return scanCase(r.q(tx).QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE correlative=?`, correlative))
}

// UpdateCaseStatus writes status and justification when the row is still at
// expectedVersion, bumping the version. A stale version yields ErrConflict.
func (r Repo) UpdateCaseStatus(ctx context.Context, tx *sql.Tx, id string, status domain.Status, justification string, expectedVersion int64, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE cases SET status=?, justification=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		status, nullable(justification), now, id, expectedVersion)
	if err != nil {
		return err
	}
	return r.checkVersioned(ctx, tx, res, id)
}

func (r Repo) UpdateCaseDescription(ctx context.Context, tx *sql.Tx, id, description string, expectedVersion int64, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE cases SET description=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		description, now, id, expectedVersion)
	if err != nil {
		return err
	}
	return r.checkVersioned(ctx, tx, res, id)
}

func (r Repo) checkVersioned(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = r.q(tx).QueryRowContext(ctx, `SELECT 1 FROM cases WHERE id=?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

// DeleteCase removes a case; its log entries go with it (ON DELETE CASCADE).
func (r Repo) DeleteCase(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM cases WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

type CaseFilters struct {
	Status     domain.Status
	Type       domain.CaseType
	CategoryID string
	RoomName   string
	CreatedBy  string
	// From and To bound incident_date (YYYY-MM-DD, inclusive).
	From            string
	To              string
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (f CaseFilters) where() (string, []any) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.CategoryID != "" {
		clauses = append(clauses, "category_id=?")
		args = append(args, f.CategoryID)
	}
	if f.RoomName != "" {
		clauses = append(clauses, "room_name=?")
		args = append(args, f.RoomName)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.From != "" {
		clauses = append(clauses, "incident_date>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "incident_date<=?")
		args = append(args, f.To)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		clauses = append(clauses, "(lower(correlative) LIKE ? OR lower(description) LIKE ? OR lower(COALESCE(student_name,'')) LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	where, args := f.where()
	query := `SELECT ` + caseColumns + ` FROM cases ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CaseStats aggregates cases matching f. Cases created in [monthStart,
// monthEnd) count towards ThisMonth.
func (r Repo) CaseStats(ctx context.Context, f CaseFilters, monthStart, monthEnd string) (domain.Stats, error) {
	f.Limit, f.CursorCreatedAt, f.CursorID = 0, "", ""
	where, args := f.where()
	stats := domain.Stats{ByStatus: map[string]int{}, ByRoom: map[string]int{}}
	for _, s := range domain.Statuses {
		stats.ByStatus[string(s)] = 0
	}

	args = append([]any{monthStart, monthEnd}, args...)
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COALESCE(room_name,''), count(*),
SUM(CASE WHEN created_at >= ? AND created_at < ? THEN 1 ELSE 0 END)
FROM cases `+where+` GROUP BY 1,2`, args...)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var status, room string
		var n, inMonth int
		if err := rows.Scan(&status, &room, &n, &inMonth); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByStatus[status] += n
		if status == string(domain.StatusResolved) {
			stats.Resolved += n
		} else {
			stats.Pending += n
		}
		stats.ThisMonth += inMonth
		if room != "" {
			stats.ByRoom[room] += n
		}
	}
	return stats, rows.Err()
}
