package repo

import (
	"context"
	"database/sql"
	"errors"

	"caseline/internal/domain"
)

const logColumns = `seq,id,case_id,status,comment,system,actor_id,created_at,COALESCE(updated_at,'')`

func scanLog(row rowScanner) (domain.LogEntry, error) {
	var l domain.LogEntry
	err := row.Scan(&l.Seq, &l.ID, &l.CaseID, &l.Status, &l.Comment, &l.System, &l.ActorID, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	return l, err
}

// InsertLog appends an entry and returns it with its sequence number.
func (r Repo) InsertLog(ctx context.Context, tx *sql.Tx, l domain.LogEntry) (domain.LogEntry, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO case_logs(id,case_id,status,comment,system,actor_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.CaseID, l.Status, l.Comment, l.System, l.ActorID, l.CreatedAt)
	if err != nil {
		return l, err
	}
	l.Seq, err = res.LastInsertId()
	return l, err
}

func (r Repo) GetLog(ctx context.Context, tx *sql.Tx, id string) (domain.LogEntry, error) {
	return scanLog(r.q(tx).QueryRowContext(ctx, `SELECT `+logColumns+` FROM case_logs WHERE id=?`, id))
}

// LatestLog returns the entry that determines a case's status, or ErrNotFound
// when the case has no entries.
func (r Repo) LatestLog(ctx context.Context, tx *sql.Tx, caseID string) (domain.LogEntry, error) {
	return scanLog(r.q(tx).QueryRowContext(ctx, `SELECT `+logColumns+` FROM case_logs WHERE case_id=? ORDER BY created_at DESC, seq DESC LIMIT 1`, caseID))
}

// UpdateLogComment rewrites the comment only; status and created_at stay.
func (r Repo) UpdateLogComment(ctx context.Context, tx *sql.Tx, id, comment, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE case_logs SET comment=?, system=0, updated_at=? WHERE id=?`, comment, now, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteLog(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM case_logs WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

// ListLogs returns a case's entries chronologically, or newest first when
// desc is set.
func (r Repo) ListLogs(ctx context.Context, tx *sql.Tx, caseID string, desc bool) ([]domain.LogEntry, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+logColumns+` FROM case_logs WHERE case_id=? ORDER BY created_at `+order+`, seq `+order, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.LogEntry{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) CountLogs(ctx context.Context, tx *sql.Tx, caseID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM case_logs WHERE case_id=?`, caseID).Scan(&n)
	return n, err
}
