package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// LogOrder selects chronological (export) or newest-first (display) order.
type LogOrder string

const (
	OrderAsc  LogOrder = "asc"
	OrderDesc LogOrder = "desc"
)

func (o LogOrder) Valid() bool {
	return o == OrderAsc || o == OrderDesc
}

// ListLogEntries returns a visible case's audit log.
func (e Engine) ListLogEntries(ctx context.Context, caseID string, order LogOrder, actorID string, role domain.Role) ([]domain.LogEntry, error) {
	if order == "" {
		order = OrderDesc
	}
	if !order.Valid() {
		return nil, ValidationError{Field: "order", Message: "must be asc or desc"}
	}
	if _, err := e.visibleCase(ctx, nil, caseID, actorID, role); err != nil {
		return nil, err
	}
	return e.Repo.ListLogs(ctx, nil, caseID, order == OrderDesc)
}

// logTarget loads an entry and its case for maintenance by a reviewer.
func (e Engine) logTarget(ctx context.Context, tx *sql.Tx, entryID, actorID string, role domain.Role) (domain.LogEntry, domain.Case, error) {
	entry, err := e.Repo.GetLog(ctx, tx, entryID)
	if err != nil {
		return entry, domain.Case{}, fmt.Errorf("log entry %s: %w", entryID, err)
	}
	c, err := e.visibleCase(ctx, tx, entry.CaseID, actorID, role)
	if err != nil {
		return entry, c, err
	}
	return entry, c, nil
}

// EditLogComment rewrites an entry's comment in place and reconciles the
// case, since the entry may be the one its justification comes from.
func (e Engine) EditLogComment(ctx context.Context, entryID, comment, actorID string, role domain.Role) (c domain.Case, err error) {
	ctx, done := e.Ops.Start(ctx, "EditLogComment")
	defer func() { done(err) }()

	if !auth.IsReviewer(role) {
		return domain.Case{}, auth.ForbiddenError{Action: "edit log entry", Reason: "reviewers only"}
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return domain.Case{}, ErrEmptyComment
	}
	err = e.withCaseRetry(ctx, "EditLogComment", func(tx *sql.Tx) error {
		entry, cur, err := e.logTarget(ctx, tx, entryID, actorID, role)
		if err != nil {
			return err
		}
		if err := e.Repo.UpdateLogComment(ctx, tx, entry.ID, comment, repo.FormatTime(e.now())); err != nil {
			return err
		}
		if err := e.journal().Append(ctx, tx, events.LogEdited, "log", entry.ID, actorID, events.EventPayload{"case_id": cur.ID}); err != nil {
			return err
		}
		c, err = e.reconcileTx(ctx, tx, cur, actorID)
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// DeleteLogEntry removes an entry and reconciles the case from what is left.
func (e Engine) DeleteLogEntry(ctx context.Context, entryID, actorID string, role domain.Role) (c domain.Case, err error) {
	ctx, done := e.Ops.Start(ctx, "DeleteLogEntry")
	defer func() { done(err) }()

	if !auth.IsReviewer(role) {
		return domain.Case{}, auth.ForbiddenError{Action: "delete log entry", Reason: "reviewers only"}
	}
	err = e.withCaseRetry(ctx, "DeleteLogEntry", func(tx *sql.Tx) error {
		entry, cur, err := e.logTarget(ctx, tx, entryID, actorID, role)
		if err != nil {
			return err
		}
		if err := e.Repo.DeleteLog(ctx, tx, entry.ID); err != nil {
			return err
		}
		if err := e.journal().Append(ctx, tx, events.LogDeleted, "log", entry.ID, actorID, events.EventPayload{
			"case_id": cur.ID,
			"status":  entry.Status,
		}); err != nil {
			return err
		}
		c, err = e.reconcileTx(ctx, tx, cur, actorID)
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	return c, nil
}
