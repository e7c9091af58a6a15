package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/lms-api/pkg/errors"
)

func TestCacheRepositoryDisabledIsNoop(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	assert.False(t, repo.Enabled())
	var v int
	assert.ErrorIs(t, repo.Get(ctx, "k", &v), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "k", 1, time.Minute))
	assert.NoError(t, repo.Delete(ctx, "k"))
	assert.NoError(t, repo.DeleteByPattern(ctx, "k*"))
	assert.NoError(t, repo.Ping(ctx))

	release, ok, err := repo.TryLock(ctx, "reconcile-seats", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	release()

	count, resetIn, err := repo.Hit(ctx, "lms:ratelimit:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, time.Minute, resetIn)
	assert.NoError(t, repo.Close())
}

func TestCacheRepositoryUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	repo := NewCacheRepository(client, nil)
	defer repo.Close()
	ctx := context.Background()

	var v int
	err := repo.Get(ctx, "k", &v)
	require.Error(t, err)
	assert.False(t, errors.Is(err, appErrors.ErrCacheMiss))
	assert.Error(t, repo.Set(ctx, "k", 1, time.Minute))
	assert.Error(t, repo.DeleteByPattern(ctx, "lms:*"))

	release, ok, err := repo.TryLock(ctx, "reconcile-seats", time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)
	require.NotNil(t, release)
	release()

	_, _, err = repo.Hit(ctx, "lms:ratelimit:10.0.0.1", time.Minute)
	assert.Error(t, err)
}
