package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenCache struct{}

func (brokenCache) Get(context.Context, string, interface{}) error {
	return errors.New("connection refused")
}
func (brokenCache) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) Delete(context.Context, ...string) error       { return errors.New("connection refused") }
func (brokenCache) DeleteByPattern(context.Context, string) error { return errors.New("connection refused") }

func TestCacheServiceRememberLoadsOnceAndNamespacesKeys(t *testing.T) {
	repo := &memoryCache{}
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, zap.NewNop(), true)
	loads := 0
	load := func(dest *int) func(context.Context) error {
		return func(context.Context) error {
			loads++
			*dest = 7
			return nil
		}
	}

	var first int
	hit, err := svc.Remember(context.Background(), "unread:u1", 0, &first, load(&first))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 7, first)
	assert.Contains(t, repo.store, "lms:unread:u1")

	var second int
	hit, err = svc.Remember(context.Background(), "unread:u1", 0, &second, load(&second))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 7, second)
	assert.Equal(t, 1, loads)
	assert.Equal(t, 0.5, metrics.Snapshot().CacheHitRatio)

	svc.Forget(context.Background(), "unread:u1")
	assert.NotContains(t, repo.store, "lms:unread:u1")
}

func TestCacheServiceRememberDoesNotCacheLoadErrors(t *testing.T) {
	repo := &memoryCache{}
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	var out int
	_, err := svc.Remember(context.Background(), "k", 0, &out, func(context.Context) error { return errors.New("db down") })
	assert.EqualError(t, err, "db down")
	assert.Empty(t, repo.store)
}

func TestCacheServiceDegradesWhenRedisFails(t *testing.T) {
	svc := NewCacheService(brokenCache{}, nil, time.Minute, zap.NewNop(), true)

	var out string
	hit, err := svc.Remember(context.Background(), "k", 0, &out, func(context.Context) error {
		out = "fresh"
		return nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "fresh", out)
	svc.Invalidate(context.Background(), "dashboard:*")
	svc.Forget(context.Background(), "k")
}

func TestCacheServiceNilAndDisabled(t *testing.T) {
	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())

	disabled := NewCacheService(&memoryCache{}, nil, 0, nil, false)
	for _, svc := range []*CacheService{nilSvc, disabled} {
		calls := 0
		var out int
		for i := 0; i < 2; i++ {
			hit, err := svc.Remember(context.Background(), "k", 0, &out, func(context.Context) error {
				calls++
				return nil
			})
			require.NoError(t, err)
			assert.False(t, hit)
		}
		assert.Equal(t, 2, calls)
	}
}

func TestCacheServiceVersions(t *testing.T) {
	repo := &memoryCache{}
	svc := NewCacheService(repo, nil, time.Minute, nil, true)
	ctx := context.Background()

	assert.Zero(t, svc.Version(ctx, "gen:u1"))
	svc.BumpVersion(ctx, "gen:u1", time.Hour)
	first := svc.Version(ctx, "gen:u1")
	assert.NotZero(t, first)
	assert.Contains(t, repo.store, "lms:gen:u1")

	svc.BumpVersion(ctx, "gen:u1", time.Hour)
	assert.NotEqual(t, first, svc.Version(ctx, "gen:u1"))

	broken := NewCacheService(brokenCache{}, nil, time.Minute, zap.NewNop(), true)
	broken.BumpVersion(ctx, "gen:u1", time.Hour)
	assert.Zero(t, broken.Version(ctx, "gen:u1"))
	var nilSvc *CacheService
	nilSvc.BumpVersion(ctx, "gen:u1", time.Hour)
	assert.Zero(t, nilSvc.Version(ctx, "gen:u1"))
}
