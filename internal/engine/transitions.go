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

	"caseline/internal/domain"
	"caseline/internal/engine/auth"
	"caseline/internal/events"
	"caseline/internal/notify"
	"caseline/internal/repo"
)

const referralTimeout = 10 * time.Second

// TransitionRequest asks to move a case to Status on behalf of ActorID.
type TransitionRequest struct {
	CaseID        string
	Status        domain.Status
	Justification string
	ActorID       string
	Role          domain.Role
	// ReferCounseling asks for a psychological-attention referral when the
	// case moves to attention.
	ReferCounseling bool
}

// RequestTransition authorizes and applies a status change. The log entry,
// the case row and the journal event are written in one transaction guarded
// by the case version; a concurrent writer makes the whole unit rerun
// against the fresh status.
func (e Engine) RequestTransition(ctx context.Context, req TransitionRequest) (c domain.Case, err error) {
	ctx, done := e.Ops.Start(ctx, "RequestTransition",
		attribute.String("caseline.status", string(req.Status)),
		attribute.String("caseline.role", string(req.Role)))
	defer func() { done(err) }()

	var entry domain.LogEntry
	err = e.withCaseRetry(ctx, "RequestTransition", func(tx *sql.Tx) error {
		cur, err := e.visibleCase(ctx, tx, req.CaseID, req.ActorID, req.Role)
		if err != nil {
			return err
		}
		c, entry, err = e.transitionTx(ctx, tx, cur, req)
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	if req.ReferCounseling && c.Status == domain.StatusAttention {
		e.refer(ctx, c, entry)
	}
	return c, nil
}

// OpenCase is the first-open path: a reviewer opening a registered case marks
// it read. Anyone else, or any other status, just gets the case.
func (e Engine) OpenCase(ctx context.Context, caseID, actorID string, role domain.Role) (c domain.Case, err error) {
	ctx, done := e.Ops.Start(ctx, "OpenCase")
	defer func() { done(err) }()

	err = e.withCaseRetry(ctx, "OpenCase", func(tx *sql.Tx) error {
		cur, err := e.visibleCase(ctx, tx, caseID, actorID, role)
		if err != nil {
			return err
		}
		if !auth.IsReviewer(role) || cur.Status != domain.StatusRegistered {
			c = cur
			return nil
		}
		c, _, err = e.transitionTx(ctx, tx, cur, TransitionRequest{
			CaseID:  cur.ID,
			Status:  domain.StatusRead,
			ActorID: actorID,
			Role:    role,
		})
		return err
	})
	if err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

func (e Engine) systemComment(from, to domain.Status) string {
	if from == domain.StatusResolved {
		if e.Config != nil && e.Config.Lifecycle.ReopenComment != "" {
			return e.Config.Lifecycle.ReopenComment
		}
		return "Resolution reverted by administrator"
	}
	if e.Config != nil && e.Config.Lifecycle.ReadComment != "" {
		return e.Config.Lifecycle.ReadComment
	}
	return "Case opened by reviewer"
}

// transitionTx applies req to cur inside tx.
func (e Engine) transitionTx(ctx context.Context, tx *sql.Tx, cur domain.Case, req TransitionRequest) (domain.Case, domain.LogEntry, error) {
	comment := strings.TrimSpace(req.Justification)
	d := auth.Decide(req.Role, cur.Status, req.Status, comment)
	if !d.Allowed {
		if d.Rule == auth.RuleJustificationRequired {
			return cur, domain.LogEntry{}, fmt.Errorf("%w: %s", ErrEmptyComment, d.Reason)
		}
		return cur, domain.LogEntry{}, d.Err()
	}
	system := false
	if comment == "" {
		comment = e.systemComment(cur.Status, req.Status)
		system = true
	}
	now, err := e.entryTime(ctx, tx, cur.ID)
	if err != nil {
		return cur, domain.LogEntry{}, err
	}
	entry, err := e.Repo.InsertLog(ctx, tx, domain.LogEntry{
		ID:        uuid.NewString(),
		CaseID:    cur.ID,
		Status:    req.Status,
		Comment:   comment,
		System:    system,
		ActorID:   req.ActorID,
		CreatedAt: now,
	})
	if err != nil {
		return cur, domain.LogEntry{}, fmt.Errorf("append log: %w", err)
	}
	if err := e.Repo.UpdateCaseStatus(ctx, tx, cur.ID, req.Status, comment, cur.Version, now); err != nil {
		return cur, domain.LogEntry{}, err
	}
	payload := events.EventPayload{
		"from":        cur.Status,
		"to":          req.Status,
		"log_id":      entry.ID,
		"correlative": cur.Correlative,
		"system":      system,
	}
	if err := e.journal().Append(ctx, tx, events.CaseTransitioned, "case", cur.ID, req.ActorID, payload); err != nil {
		return cur, domain.LogEntry{}, err
	}
	if req.ReferCounseling && req.Status == domain.StatusAttention {
		if err := e.journal().Append(ctx, tx, events.CaseReferred, "case", cur.ID, req.ActorID, events.EventPayload{"log_id": entry.ID}); err != nil {
			return cur, domain.LogEntry{}, err
		}
	}
	out := cur
	out.Status = req.Status
	out.Justification = comment
	out.Version++
	out.UpdatedAt = now
	return out, entry, nil
}

// entryTime returns the timestamp for a new log entry, never earlier than
// the case's newest entry so the new entry is always the head.
func (e Engine) entryTime(ctx context.Context, tx *sql.Tx, caseID string) (string, error) {
	now := repo.FormatTime(e.now())
	head, err := e.Repo.LatestLog(ctx, tx, caseID)
	if errors.Is(err, repo.ErrNotFound) {
		return now, nil
	}
	if err != nil {
		return "", err
	}
	if head.CreatedAt > now {
		return head.CreatedAt, nil
	}
	return now, nil
}

// refer hands the referral to the notifier in the background. Delivery
// failures are logged and never reach the caller.
func (e Engine) refer(ctx context.Context, c domain.Case, entry domain.LogEntry) {
	if e.Notifier == nil {
		return
	}
	r := notify.Referral{
		CaseID:      c.ID,
		Correlative: c.Correlative,
		StudentName: c.StudentName,
		RoomName:    c.RoomName,
		Comment:     entry.Comment,
		RequestedBy: entry.ActorID,
		RequestedAt: entry.CreatedAt,
	}
	logger := e.logger()
	if e.pending != nil {
		e.pending.Add(1)
	}
	go func() {
		if e.pending != nil {
			defer e.pending.Done()
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), referralTimeout)
		defer cancel()
		if err := e.Notifier.Notify(ctx, r); err != nil {
			logger.WarnContext(ctx, "referral delivery failed", "case_id", r.CaseID, "err", err)
		}
	}()
}
