package correlative

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "INC-2025-00042", Format("{prefix}-{year}-{seq:05}", "INC", 2025, 42))
	assert.Equal(t, "INC-2025-123456", Format("{prefix}-{year}-{seq:05}", "INC", 2025, 123456))
	assert.Equal(t, "2024/7", Format("{year}/{seq}", "X", 2024, 7))
	assert.Equal(t, "SCH-000003", Format("{prefix}-{seq:06}", "SCH", 2024, 3))
}

func counter() NextFunc {
	var n int64
	return func(context.Context, int) (int64, error) {
		n++
		return n, nil
	}
}

func TestAssignRetriesOnCollision(t *testing.T) {
	taken := map[string]bool{"INC-2025-00001": true, "INC-2025-00002": true}
	var tried []string
	g := Generator{Prefix: "INC", MaxAttempts: 5}
	code, err := g.Assign(context.Background(), 2025, counter(), func(_ context.Context, c string) error {
		tried = append(tried, c)
		if taken[c] {
			return fmt.Errorf("insert: %w", ErrCollision)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "INC-2025-00003", code)
	assert.Len(t, tried, 3)
}

func TestAssignExhausted(t *testing.T) {
	g := Generator{Prefix: "INC", MaxAttempts: 3}
	calls := 0
	_, err := g.Assign(context.Background(), 2025, counter(), func(context.Context, string) error {
		calls++
		return ErrCollision
	})
	require.ErrorIs(t, err, ErrGenerationExhausted)
	assert.Equal(t, 3, calls)
}

func TestAssignStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("disk full")
	g := Generator{}
	_, err := g.Assign(context.Background(), 2025, counter(), func(context.Context, string) error { return boom })
	require.ErrorIs(t, err, boom)

	_, err = g.Assign(context.Background(), 2025, func(context.Context, int) (int64, error) { return 0, boom }, nil)
	require.ErrorIs(t, err, boom)
}

func TestAssignHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generator{}.Assign(ctx, 2025, counter(), func(context.Context, string) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
