package ledger

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosum/internal/cache"
	"zerosum/internal/core"
)

type countingSource struct {
	in    Input
	calls atomic.Int32
}

func (s *countingSource) LedgerInput() Input {
	s.calls.Add(1)
	return s.in
}

func TestServiceCachesUntilInvalidated(t *testing.T) {
	src := &countingSource{in: seededInput()}
	svc := NewService(src, cache.NewLRUCache[MonthView](4, 0), 0)
	ctx := context.Background()

	v, err := svc.View(ctx, month)
	require.NoError(t, err)
	assert.Equal(t, int64(1515000), v.Totals.ReadyToAssign)

	_, err = svc.View(ctx, month)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	svc.Invalidate()
	assert.False(t, svc.Cached(month))
	v2, err := svc.View(ctx, month)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
	assert.Greater(t, v2.Version, v.Version)
}

func TestServiceBoundedCache(t *testing.T) {
	src := &countingSource{in: seededInput()}
	views := cache.NewLRUCache[MonthView](2, 0)
	svc := NewService(src, views, 0)
	ctx := context.Background()

	for _, m := range []core.Month{"2024-03", "2024-04", "2024-05"} {
		_, err := svc.View(ctx, m)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, views.Size())
	assert.False(t, svc.Cached("2024-03"))
	assert.True(t, svc.Cached("2024-05"))
}

func TestServicePrefetchNow(t *testing.T) {
	svc := NewService(&countingSource{in: seededInput()}, cache.NewLRUCache[MonthView](8, 0), 0)
	svc.PrefetchNow(context.Background(), month)
	assert.True(t, svc.Cached("2024-04"))
	assert.True(t, svc.Cached("2024-06"))
	assert.False(t, svc.Cached(month))
}

func TestServiceRejectsInvalidMonth(t *testing.T) {
	svc := NewService(&countingSource{}, cache.NewLRUCache[MonthView](1, 0), 0)
	_, err := svc.View(context.Background(), "2024-5")
	assert.ErrorIs(t, err, core.ErrInvalidMonth)
}
