package quality

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReviewTracker(t *testing.T, threshold int) (*ReviewTracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewReviewTracker(client, threshold, nil), mr
}

func TestReviewTracker_FlagsAtThreshold(t *testing.T) {
	rt, mr := newReviewTracker(t, 3)
	ctx := context.Background()
	id := uuid.New()

	for i := 0; i < 2; i++ {
		flagged, err := rt.Observe(ctx, id, true)
		require.NoError(t, err)
		assert.False(t, flagged)
	}
	flagged, err := rt.Observe(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, flagged)

	list, err := rt.Flagged(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, list)
	assert.True(t, mr.TTL(unknownKeyPrefix+id.String()) > 0)

	streak, err := rt.Streak(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), streak)
}

func TestReviewTracker_DefiniteVerdictResets(t *testing.T) {
	rt, mr := newReviewTracker(t, 2)
	ctx := context.Background()
	id := uuid.New()

	_, _ = rt.Observe(ctx, id, true)
	_, _ = rt.Observe(ctx, id, true)
	flagged, err := rt.Observe(ctx, id, false)
	require.NoError(t, err)
	assert.False(t, flagged)

	assert.False(t, mr.Exists(unknownKeyPrefix+id.String()))
	list, err := rt.Flagged(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	streak, err := rt.Streak(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, streak)
}

func TestReviewTracker_DefaultThreshold(t *testing.T) {
	rt, _ := newReviewTracker(t, 0)
	assert.Equal(t, int64(DefaultReviewThreshold), rt.threshold)
}
