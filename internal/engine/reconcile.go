package engine

import (
	"context"
	"database/sql"
	"errors"

	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/repo"
)

// reconcileTx derives the case's status and justification from its newest
// surviving log entry, or registered with no justification when the log is
// empty. It is a repair step and never consults the authorizer. The write is
// guarded by the version read in cur, like any other case mutation.
func (e Engine) reconcileTx(ctx context.Context, tx *sql.Tx, cur domain.Case, actorID string) (domain.Case, error) {
	status, justification := domain.StatusRegistered, ""
	head, err := e.Repo.LatestLog(ctx, tx, cur.ID)
	switch {
	case err == nil:
		status, justification = head.Status, head.Comment
	case errors.Is(err, repo.ErrNotFound):
	default:
		return cur, err
	}
	now := repo.FormatTime(e.now())
	if err := e.Repo.UpdateCaseStatus(ctx, tx, cur.ID, status, justification, cur.Version, now); err != nil {
		return cur, err
	}
	if status != cur.Status || justification != cur.Justification {
		if err := e.journal().Append(ctx, tx, events.CaseReconciled, "case", cur.ID, actorID, events.EventPayload{
			"from": cur.Status,
			"to":   status,
		}); err != nil {
			return cur, err
		}
	}
	out := cur
	out.Status = status
	out.Justification = justification
	out.Version++
	out.UpdatedAt = now
	return out, nil
}
