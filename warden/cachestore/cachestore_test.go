package cachestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testCacheBasics(t *testing.T, c CacheStore) {
	assert := assert.New(t)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "host", "alice")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(c.Set(ctx, "host", "alice", "alice.example.net"))
	v, ok, err := c.Get(ctx, "host", "alice")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("alice.example.net", v)

	// names are separate namespaces
	_, ok, err = c.Get(ctx, "other", "alice")
	assert.NoError(err)
	assert.False(ok)

	assert.NoError(Move(ctx, c, "host", "alice", "alice_"))
	_, ok, err = c.Get(ctx, "host", "alice")
	assert.NoError(err)
	assert.False(ok)
	v, ok, err = c.Get(ctx, "host", "alice_")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("alice.example.net", v)

	// moving a missing entry is a no-op
	assert.NoError(Move(ctx, c, "host", "nobody", "alice_"))
	v, _, _ = c.Get(ctx, "host", "alice_")
	assert.Equal("alice.example.net", v)

	assert.NoError(c.Purge(ctx, "host", "alice_"))
	assert.NoError(c.Purge(ctx, "host", "alice_"))
	_, ok, err = c.Get(ctx, "host", "alice_")
	assert.NoError(err)
	assert.False(ok)
}

func TestMemCacheStore(t *testing.T) {
	testCacheBasics(t, NewMemCacheStore(10, time.Hour))
}

func TestMemCacheStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	c := NewMemCacheStore(10, 50*time.Millisecond)
	assert.NoError(c.Set(ctx, "host", "bob", "bob.example.net"))
	time.Sleep(120 * time.Millisecond)
	_, ok, err := c.Get(ctx, "host", "bob")
	assert.NoError(err)
	assert.False(ok)
}

func TestRedisCacheStore(t *testing.T) {
	redisURL := os.Getenv("WARDEN_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("WARDEN_TEST_REDIS_URL not set")
	}
	c, err := NewRedisCacheStore(redisURL, "warden-test/", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	testCacheBasics(t, c)
}

func TestNetworkPrefix(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("warden/", NetworkPrefix(nil))
	assert.Equal("warden/irc.libera.chat/", NetworkPrefix([]string{"IRC.Libera.Chat:6697", "other:6667"}))
	assert.Equal("warden/irc.example.net/", NetworkPrefix([]string{"irc.example.net"}))
	assert.Equal("warden/::1/", NetworkPrefix([]string{"[::1]:6667"}))
}
