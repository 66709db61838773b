// Package correlative builds the human-readable case codes (INC-2025-00042)
// shown next to every incident.
package correlative

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrGenerationExhausted is returned when every candidate collided.
	ErrGenerationExhausted = errors.New("correlative generation exhausted")
	// ErrCollision is returned by a Try func when the candidate is taken.
	ErrCollision = errors.New("correlative already in use")
)

const DefaultMaxAttempts = 5

var placeholder = regexp.MustCompile(`\{(prefix|year|seq)(?::(\d+))?\}`)

// Format renders pattern, e.g. "{prefix}-{year}-{seq:05}". A width after the
// colon zero-pads the number.
func Format(pattern, prefix string, year int, seq int64) string {
	return placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		var v string
		switch parts[1] {
		case "prefix":
			return prefix
		case "year":
			v = strconv.Itoa(year)
		case "seq":
			v = strconv.FormatInt(seq, 10)
		}
		if parts[2] != "" {
			width, _ := strconv.Atoi(parts[2])
			if len(v) < width {
				v = strings.Repeat("0", width-len(v)) + v
			}
		}
		return v
	})
}

// NextFunc draws the next sequence number for a year.
type NextFunc func(ctx context.Context, year int) (int64, error)

// TryFunc attempts to claim a candidate; it returns ErrCollision (possibly
// wrapped) when the code already exists.
type TryFunc func(ctx context.Context, code string) error

type Generator struct {
	Prefix      string
	Pattern     string
	MaxAttempts int
}

func (g Generator) attempts() int {
	if g.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return g.MaxAttempts
}

func (g Generator) pattern() string {
	if g.Pattern == "" {
		return "{prefix}-{year}-{seq:05}"
	}
	return g.Pattern
}

// Assign draws candidates until try accepts one. Other errors from next or
// try abort immediately.
func (g Generator) Assign(ctx context.Context, year int, next NextFunc, try TryFunc) (string, error) {
	var last string
	for i := 0; i < g.attempts(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seq, err := next(ctx, year)
		if err != nil {
			return "", fmt.Errorf("next sequence: %w", err)
		}
		code := Format(g.pattern(), g.Prefix, year, seq)
		err = try(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, ErrCollision) {
			return "", err
		}
		last = code
	}
	return "", fmt.Errorf("%w after %d attempts (last candidate %s)", ErrGenerationExhausted, g.attempts(), last)
}
