package service

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisClientForTest starts a miniredis bound to the test and a client
// with retries disabled so injected failures surface on the first call.
func newRedisClientForTest(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

// failRedis makes every command fail until the returned restore func runs.
func failRedis(t *testing.T, server *miniredis.Miniredis) (restore func()) {
	t.Helper()
	server.SetError("LOADING redis is down")
	restore = func() { server.SetError("") }
	t.Cleanup(restore)
	return restore
}
