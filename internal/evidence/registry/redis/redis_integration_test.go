//go:build integration

package redis_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"didvault/internal/evidence/registry"
	registryredis "didvault/internal/evidence/registry/redis"
	"didvault/internal/evidence/registry/registrytest"
	"didvault/pkg/testutil/containers"
)

func TestRedisRegistry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	require.NoError(t, rc.FlushPrefix(context.Background(), "test:anchor:"))
	reg := registryredis.New(rc.Client, registryredis.WithPrefix("test:anchor:"))
	registrytest.Run(t, reg)

	var _ registry.AnchoredIssuer = reg
}
