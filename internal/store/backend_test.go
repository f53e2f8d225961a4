package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/db"
)

// Backend tests run against live servers only when pointed at one.

func exerciseBlob(t *testing.T, blob Blob) {
	t.Helper()
	ctx := context.Background()
	name := "test-" + time.Now().UTC().Format("150405.000000000") + ".json"

	_, err := blob.Get(ctx, name)
	require.ErrorIs(t, err, ErrNotExist)

	require.NoError(t, blob.Put(ctx, name, []byte(`{"1":{"wallet":100}}`)))
	require.NoError(t, blob.Put(ctx, name, []byte(`{"2":{"wallet":5}}`)))
	got, err := blob.Get(ctx, name)
	require.NoError(t, err)
	assert.JSONEq(t, `{"2":{"wallet":5}}`, string(got))
}

func TestRedisBlob(t *testing.T) {
	addr := os.Getenv("COINBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COINBOT_TEST_REDIS_ADDR not set")
	}
	rb := NewRedisBlob(addr, os.Getenv("COINBOT_TEST_REDIS_PASSWORD"), 15)
	t.Cleanup(func() { _ = rb.Close() })
	require.NoError(t, rb.Ping(context.Background()))
	exerciseBlob(t, rb)
}

func TestPostgresBlob(t *testing.T) {
	url := os.Getenv("COINBOT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("COINBOT_TEST_DATABASE_URL not set")
	}
	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	exerciseBlob(t, NewPostgresBlob(pool))
}
