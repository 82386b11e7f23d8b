package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shinypull/backend/internal/platform"
)

type fakeClient struct {
	max   int
	mu    sync.Mutex
	calls map[string]int // first id of batch -> calls
	check func(ctx context.Context, ids []string, attempt int) (map[string]platform.Verdict, error)
}

func (f *fakeClient) Platform() string  { return "twitch" }
func (f *fakeClient) MaxBatchSize() int { return f.max }
func (f *fakeClient) CheckLive(ctx context.Context, ids []string) (map[string]platform.Verdict, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[ids[0]]++
	attempt := f.calls[ids[0]]
	f.mu.Unlock()
	return f.check(ctx, ids, attempt)
}

func (f *fakeClient) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func allLive(ids []string) map[string]platform.Verdict {
	out := map[string]platform.Verdict{}
	for _, id := range ids {
		out[id] = platform.Live(platform.Stream{ExternalStreamID: "s-" + id, Viewers: platform.Observed(10)})
	}
	return out
}

func targets(n int) []Target {
	out := make([]Target, n)
	for i := range out {
		out[i] = Target{CreatorID: uuid.New(), PlatformID: fmt.Sprint(i)}
	}
	return out
}

func fastConfig() Config {
	return Config{Workers: 2, BatchTimeout: 50 * time.Millisecond, RetryBackoff: time.Millisecond}
}

func TestBatches(t *testing.T) {
	got := Batches(targets(7), 3)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 3)
	assert.Len(t, got[1], 3)
	assert.Len(t, got[2], 1)
	assert.Empty(t, Batches(nil, 3))
	assert.Panics(t, func() { Batches(targets(1), 0) })
}

func TestPoll_AllResolved(t *testing.T) {
	var maxSeen atomic.Int32
	client := &fakeClient{max: 2, check: func(_ context.Context, ids []string, _ int) (map[string]platform.Verdict, error) {
		if n := int32(len(ids)); n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		return allLive(ids), nil
	}}
	ts := targets(5)
	got := New(client, fastConfig(), zap.NewNop(), nil).Poll(context.Background(), ts)

	require.Len(t, got, 5)
	for _, tg := range ts {
		assert.True(t, got[tg.CreatorID].IsLive())
		assert.Equal(t, "s-"+tg.PlatformID, got[tg.CreatorID].Stream.ExternalStreamID)
	}
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestPoll_ConfiguredBatchSizeBelowClientMax(t *testing.T) {
	var batches atomic.Int32
	client := &fakeClient{max: 100, check: func(_ context.Context, ids []string, _ int) (map[string]platform.Verdict, error) {
		batches.Add(1)
		return allLive(ids), nil
	}}
	cfg := fastConfig()
	cfg.BatchSize = 2
	New(client, cfg, nil, nil).Poll(context.Background(), targets(5))
	assert.Equal(t, int32(3), batches.Load())
}

func TestPoll_RetriesOnceThenUnknown(t *testing.T) {
	client := &fakeClient{max: 2, check: func(_ context.Context, ids []string, _ int) (map[string]platform.Verdict, error) {
		if ids[0] == "0" {
			return nil, &platform.StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return allLive(ids), nil
	}}
	ts := targets(4)
	got := New(client, fastConfig(), zap.NewNop(), nil).Poll(context.Background(), ts)

	assert.Equal(t, 2, client.callsFor("0"), "failed batch is retried exactly once")
	assert.Equal(t, 1, client.callsFor("2"))
	for _, tg := range ts[:2] {
		assert.Equal(t, platform.StatusUnknown, got[tg.CreatorID].Status)
		assert.NotEmpty(t, got[tg.CreatorID].Reason)
	}
	for _, tg := range ts[2:] {
		assert.True(t, got[tg.CreatorID].IsLive(), "other batches are unaffected")
	}
}

func TestPoll_RetrySucceeds(t *testing.T) {
	client := &fakeClient{max: 10, check: func(_ context.Context, ids []string, attempt int) (map[string]platform.Verdict, error) {
		if attempt == 1 {
			return nil, errors.New("connection reset")
		}
		return allLive(ids), nil
	}}
	ts := targets(3)
	got := New(client, fastConfig(), nil, nil).Poll(context.Background(), ts)
	assert.Equal(t, 2, client.callsFor("0"))
	for _, tg := range ts {
		assert.True(t, got[tg.CreatorID].IsLive())
	}
}

func TestPoll_NonRetryableStatusNotRetried(t *testing.T) {
	client := &fakeClient{max: 10, check: func(context.Context, []string, int) (map[string]platform.Verdict, error) {
		return nil, &platform.StatusError{StatusCode: http.StatusBadRequest}
	}}
	ts := targets(2)
	got := New(client, fastConfig(), nil, nil).Poll(context.Background(), ts)
	assert.Equal(t, 1, client.callsFor("0"))
	assert.Equal(t, platform.StatusUnknown, got[ts[0].CreatorID].Status)
}

func TestPoll_StalledBatchTimesOut(t *testing.T) {
	client := &fakeClient{max: 10, check: func(ctx context.Context, _ []string, _ int) (map[string]platform.Verdict, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ts := targets(2)
	start := time.Now()
	got := New(client, fastConfig(), nil, nil).Poll(context.Background(), ts)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, platform.StatusUnknown, got[ts[0].CreatorID].Status)
	assert.Equal(t, platform.StatusUnknown, got[ts[1].CreatorID].Status)
	assert.Equal(t, 1, client.callsFor("0"), "a timed out batch is not retried past its deadline")
}

func TestPoll_DeadlineCoversRetry(t *testing.T) {
	cfg := Config{Workers: 1, BatchTimeout: 80 * time.Millisecond, RetryBackoff: time.Millisecond}
	client := &fakeClient{max: 10, check: func(ctx context.Context, _ []string, attempt int) (map[string]platform.Verdict, error) {
		if attempt == 1 {
			time.Sleep(60 * time.Millisecond)
			return nil, &platform.StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		// The retry only has what is left of the batch budget.
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.Less(t, time.Until(deadline), 40*time.Millisecond)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ts := targets(1)
	start := time.Now()
	got := New(client, cfg, nil, nil).Poll(context.Background(), ts)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, platform.StatusUnknown, got[ts[0].CreatorID].Status)
}

func TestPoll_MissingFromResponseIsUnknown(t *testing.T) {
	client := &fakeClient{max: 10, check: func(_ context.Context, ids []string, _ int) (map[string]platform.Verdict, error) {
		out := allLive(ids[:1])
		return out, nil
	}}
	ts := targets(2)
	got := New(client, fastConfig(), nil, nil).Poll(context.Background(), ts)
	assert.True(t, got[ts[0].CreatorID].IsLive())
	assert.Equal(t, platform.StatusUnknown, got[ts[1].CreatorID].Status)
}
