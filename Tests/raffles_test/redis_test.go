package raffles_test

import (
	"context"
	raffleredis "ms-raffle/internal/raffle/redis"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRedisIntegration exercises the raffle lock against a real Redis container
func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)

	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port.Port(),
		Password: "",
		DB:       0,
	})

	lock := raffleredis.NewRedis(client, 5*time.Second)

	// Take the mutation lock for a raffle
	locked, err := lock.AcquireRaffleLock(1, "holder-a")
	require.NoError(t, err)
	assert.True(t, locked, "Expected lock to be free")

	// A second caller is refused while the lock is held
	locked, err = lock.AcquireRaffleLock(1, "holder-b")
	require.NoError(t, err)
	assert.False(t, locked, "Expected lock to be held")

	// A different raffle locks independently
	locked, err = lock.AcquireRaffleLock(2, "holder-b")
	require.NoError(t, err)
	assert.True(t, locked, "Expected other raffle's lock to be free")

	// A non-holder's release does not free the lock
	err = lock.ReleaseRaffleLock(1, "holder-b")
	require.NoError(t, err)
	locked, err = lock.AcquireRaffleLock(1, "holder-c")
	require.NoError(t, err)
	assert.False(t, locked, "Expected stale release to be a no-op")

	// The holder's release does
	err = lock.ReleaseRaffleLock(1, "holder-a")
	require.NoError(t, err)
	locked, err = lock.AcquireRaffleLock(1, "holder-c")
	require.NoError(t, err)
	assert.True(t, locked, "Expected lock to be free after release")
}

// TestDrawTimeoutKeys exercises the arm/disarm cycle for the draw deadline key
func TestDrawTimeoutKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:latest",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)

	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	lock := raffleredis.NewRedis(client, 5*time.Second)

	require.NoError(t, lock.ArmDrawTimeout(7, "req-abc", time.Minute))

	val, err := client.Get(ctx, raffleredis.DrawPendingPrefix+"7").Result()
	require.NoError(t, err)
	assert.Equal(t, "req-abc", val)

	ttl, err := client.TTL(ctx, raffleredis.DrawPendingPrefix+"7").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, lock.DisarmDrawTimeout(7))

	_, err = client.Get(ctx, raffleredis.DrawPendingPrefix+"7").Result()
	assert.ErrorIs(t, err, redis.Nil)

	// Disarming an absent key is a no-op.
	require.NoError(t, lock.DisarmDrawTimeout(7))
}
