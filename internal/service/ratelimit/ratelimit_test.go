package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWindowAllowIsReadOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewMemoryWindow(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		ok, err := w.Allow(ctx, "biz", 2)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 0, w.Count("biz"))

	require.NoError(t, w.Increment(ctx, "biz"))
	require.NoError(t, w.Increment(ctx, "biz"))
	ok, _ := w.Allow(ctx, "biz", 2)
	assert.False(t, ok)

	ok, _ = w.Allow(ctx, "other", 2)
	assert.True(t, ok)
}

func TestMemoryWindowResetsAfterPeriod(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewMemoryWindow(func() time.Time { return now })

	require.NoError(t, w.Increment(ctx, "biz"))
	ok, _ := w.Allow(ctx, "biz", 1)
	assert.False(t, ok)

	now = now.Add(Period)
	ok, _ = w.Allow(ctx, "biz", 1)
	assert.True(t, ok)
	assert.Equal(t, 0, w.Count("biz"))
}

func TestMemoryConcurrency(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryConcurrency()

	ok, _ := c.Acquire(ctx, "biz", 2)
	assert.True(t, ok)
	ok, _ = c.Acquire(ctx, "biz", 2)
	assert.True(t, ok)
	ok, _ = c.Acquire(ctx, "biz", 2)
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, "biz"))
	assert.Equal(t, 1, c.Active("biz"))
	require.NoError(t, c.Release(ctx, "biz"))
	require.NoError(t, c.Release(ctx, "biz"))
	assert.Equal(t, 0, c.Active("biz"))
}
