package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	client, err := NewClient(ctx, Config{Host: host, Port: port.Int()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := startRedis(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	t.Run("second acquire fails while held", func(t *testing.T) {
		lock, err := locker.Acquire(ctx, "job-1", time.Minute)
		require.NoError(t, err)

		_, err = locker.Acquire(ctx, "job-1", time.Minute)
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		require.NoError(t, lock.Extend(ctx, 2*time.Minute))
		require.NoError(t, lock.Release(ctx))
		assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

		again, err := locker.Acquire(ctx, "job-1", time.Minute)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("with lock releases after fn", func(t *testing.T) {
		boom := errors.New("boom")
		err := locker.WithLock(ctx, "job-2", time.Minute, func(ctx context.Context) error {
			_, err := locker.Acquire(ctx, "job-2", time.Minute)
			assert.ErrorIs(t, err, ErrLockNotAcquired)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		lock, err := locker.Acquire(ctx, "job-2", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lock.Release(ctx))
	})

	t.Run("expired lock can be taken", func(t *testing.T) {
		_, err := locker.Acquire(ctx, "job-3", 50*time.Millisecond)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			lock, err := locker.Acquire(ctx, "job-3", time.Minute)
			if err != nil {
				return false
			}
			_ = lock.Release(ctx)
			return true
		}, 2*time.Second, 25*time.Millisecond)
	})

	t.Run("with lock keeps the lock alive past its ttl", func(t *testing.T) {
		err := locker.WithLock(ctx, "job-4", 300*time.Millisecond, func(ctx context.Context) error {
			time.Sleep(time.Second)
			_, err := locker.Acquire(ctx, "job-4", time.Minute)
			assert.ErrorIs(t, err, ErrLockNotAcquired)
			return ctx.Err()
		})
		require.NoError(t, err)
	})

	t.Run("lost lock cancels fn", func(t *testing.T) {
		err := locker.WithLock(ctx, "job-5", 300*time.Millisecond, func(ctx context.Context) error {
			require.NoError(t, client.rdb.Del(ctx, "fern:lock:job-5").Err())
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-time.After(2 * time.Second):
				return nil
			}
		})
		assert.ErrorIs(t, err, ErrLockNotHeld)
	})

	require.NoError(t, client.Ping(ctx))
}
