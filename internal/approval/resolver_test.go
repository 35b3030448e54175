package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type countingSource struct {
	calls atomic.Int32
	gate  chan struct{}
	cfg   Configuration
}

func (s *countingSource) LoadConfiguration(_ context.Context, orgID int64) (Configuration, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	cfg := s.cfg
	cfg.OrganizationID = orgID
	return cfg, nil
}

func sampleConfiguration() Configuration {
	return Configuration{Features: map[string]FeatureConfig{"bills": chain(StateReviewed, StateApproved1)}}
}

func TestMemoryCacheExpiresAfterTTL(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(time.Minute).WithNow(func() time.Time { return now })
	ctx := context.Background()

	cfg := sampleConfiguration()
	cfg.OrganizationID = 5
	require.NoError(t, cache.Set(ctx, cfg))

	got, ok, err := cache.Get(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Features["bills"].Enabled(StateApproved1))

	now = now.Add(time.Minute)
	_, ok, err = cache.Get(ctx, 5)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolverCachesAndInvalidates(t *testing.T) {
	src := &countingSource{cfg: sampleConfiguration()}
	r := NewResolver(src, NewMemoryCache(time.Hour), nil)
	ctx := context.Background()

	fc, err := r.Feature(ctx, 1, "bills")
	require.NoError(t, err)
	require.True(t, fc.Enabled(StateReviewed))
	_, err = r.Feature(ctx, 1, "bills")
	require.NoError(t, err)
	require.Equal(t, int32(1), src.calls.Load())

	_, err = r.Feature(ctx, 1, "expense")
	require.ErrorIs(t, err, ErrConfigurationMissing)

	require.NoError(t, r.Invalidate(ctx, 1))
	_, err = r.Feature(ctx, 1, "bills")
	require.NoError(t, err)
	require.Equal(t, int32(2), src.calls.Load())
}

func TestResolverCollapsesConcurrentLoads(t *testing.T) {
	src := &countingSource{cfg: sampleConfiguration(), gate: make(chan struct{})}
	r := NewResolver(src, nil, nil)

	var started sync.WaitGroup
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		started.Add(1)
		g.Go(func() error {
			started.Done()
			_, err := r.Configuration(context.Background(), 3)
			return err
		})
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	require.NoError(t, g.Wait())
	require.Less(t, src.calls.Load(), int32(8))
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCache(client, 30*time.Second)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	cfg := sampleConfiguration()
	cfg.OrganizationID = 2
	require.NoError(t, cache.Set(ctx, cfg))
	require.True(t, mr.Exists("approval:config:2"))

	got, ok, err := cache.Get(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	next, found := NextLevel(StateReviewed, got.Features["bills"])
	require.True(t, found)
	require.Equal(t, StateApproved1, next)

	mr.FastForward(31 * time.Second)
	_, ok, err = cache.Get(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Set(ctx, cfg))
	require.NoError(t, cache.Invalidate(ctx, 2))
	require.False(t, mr.Exists("approval:config:2"))
}
