//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/pkg/testutil/containers"
)

func TestRedisStoreSlidingWindow(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushAll(context.Background()))
	ctx := context.Background()
	store := NewRedisStore(rc.Client)

	for i := range 2 {
		res, err := store.Allow(ctx, "prompt:10.0.0.1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1-i, res.Remaining)
	}

	res, err := store.Allow(ctx, "prompt:10.0.0.1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.GreaterOrEqual(t, res.RetryAfter, 1)

	res, err = store.Allow(ctx, "prompt:10.0.0.2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
