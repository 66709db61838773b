// Package notify delivers psychological-attention referrals raised while a
// case moves to attention. Delivery is best effort and never part of the
// case transaction.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Referral struct {
	CaseID      string `json:"case_id"`
	Correlative string `json:"correlative"`
	StudentName string `json:"student_name,omitempty"`
	RoomName    string `json:"room_name,omitempty"`
	Comment     string `json:"comment"`
	RequestedBy string `json:"requested_by"`
	RequestedAt string `json:"requested_at"`
}

type Notifier interface {
	Notify(ctx context.Context, r Referral) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, r Referral) error

func (f Func) Notify(ctx context.Context, r Referral) error { return f(ctx, r) }

// LogNotifier writes referrals to a structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, r Referral) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "referral requested",
		slog.String("case_id", r.CaseID),
		slog.String("correlative", r.Correlative),
		slog.String("requested_by", r.RequestedBy))
	return nil
}

// Multi fans a referral out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, r Referral) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier POSTs referrals as JSON, retrying 5xx and transport errors.
type WebhookNotifier struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries uint64
	Client     *http.Client
}

func (n WebhookNotifier) client() *http.Client {
	if n.Client != nil {
		return n.Client
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (n WebhookNotifier) Notify(ctx context.Context, r Referral) error {
	if strings.TrimSpace(n.URL) == "" {
		return errors.New("referral webhook url not configured")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	client := n.client()
	retries := n.MaxRetries
	if retries == 0 {
		retries = 3
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Caseline-Event", "case.referral.requested")
		if strings.TrimSpace(n.Secret) != "" {
			req.Header.Set("X-Caseline-Secret", n.Secret)
		}
		res, err := client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err = fmt.Errorf("referral webhook status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if res.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
}
