package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"caseline/internal/config"
	"caseline/internal/events"
	"caseline/internal/notify"
	"caseline/internal/repo"
	"caseline/internal/telemetry"
)

const defaultConflictRetries = 3

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Config   *config.Config
	Notifier notify.Notifier
	Logger   *slog.Logger
	Ops      *telemetry.Ops
	Now      func() time.Time

	// pending tracks referral deliveries still in flight.
	pending *sync.WaitGroup
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Config:  cfg,
		Logger:  slog.Default(),
		Ops:     telemetry.NewOps(),
		Now:     time.Now,
		pending: &sync.WaitGroup{},
	}
	e.Notifier = referralNotifier(cfg, e.Logger)
	return e
}

func referralNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	n := notify.Multi{notify.LogNotifier{Logger: logger}}
	if cfg != nil && cfg.Referrals.URL != "" {
		n = append(n, notify.WebhookNotifier{
			URL:     cfg.Referrals.URL,
			Secret:  cfg.Referrals.Secret,
			Timeout: time.Duration(cfg.Referrals.TimeoutSeconds) * time.Second,
		})
	}
	return n
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) journal() events.Writer {
	return events.Writer{Now: e.now}
}

// Wait blocks until in-flight referral deliveries finish.
func (e Engine) Wait() {
	if e.pending != nil {
		e.pending.Wait()
	}
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) conflictRetries() uint64 {
	if e.Config == nil || e.Config.Lifecycle.MaxConflictRetries <= 0 {
		return defaultConflictRetries
	}
	return uint64(e.Config.Lifecycle.MaxConflictRetries)
}

// withCaseRetry runs fn in its own transaction and reruns the whole unit when
// the case row changed underneath it or SQLite reported lock contention.
// Other errors are returned as is.
func (e Engine) withCaseRetry(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	attempt := func() error {
		err := e.inTx(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, repo.ErrConflict) || repo.IsBusy(err) {
			e.Ops.Conflict(ctx, op)
			e.logger().DebugContext(ctx, "case conflict, retrying", slog.String("op", op), slog.Any("err", err))
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, e.conflictRetries()), ctx))
	if err != nil && repo.IsBusy(err) && !errors.Is(err, repo.ErrConflict) {
		return fmt.Errorf("%w: %v", repo.ErrConflict, err)
	}
	return err
}
