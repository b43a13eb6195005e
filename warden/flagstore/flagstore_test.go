package flagstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testFlagStoreBasics(t *testing.T, fs FlagStore) {
	assert := assert.New(t)
	ctx := context.Background()

	l, err := fs.Get(ctx, "#test1")
	assert.NoError(err)
	assert.Empty(l)

	assert.NoError(fs.Add(ctx, "#test1", []string{"*!*@a.example", "bob!*@*"}))
	assert.NoError(fs.Add(ctx, "#test1", []string{"*!*@a.example", "carl!*@*"}))
	l, err = fs.Get(ctx, "#test1")
	assert.NoError(err)
	assert.Equal(3, len(l))

	ok, err := Contains(ctx, fs, "#test1", "bob!*@*")
	assert.NoError(err)
	assert.True(ok)

	assert.NoError(fs.Remove(ctx, "#test1", []string{"*!*@a.example", "bob!*@*"}))
	l, err = fs.Get(ctx, "#test1")
	assert.NoError(err)
	assert.Equal([]string{"carl!*@*"}, l)

	// removing absent flags is fine
	assert.NoError(fs.Remove(ctx, "#test1", []string{"nobody!*@*"}))
	assert.NoError(fs.Remove(ctx, "#absent", []string{"nobody!*@*"}))

	assert.NoError(fs.Remove(ctx, "#test1", []string{"carl!*@*"}))
	ok, err = Contains(ctx, fs, "#test1", "carl!*@*")
	assert.NoError(err)
	assert.False(ok)
}

func TestMemFlagStoreBasics(t *testing.T) {
	testFlagStoreBasics(t, NewMemFlagStore())
}

func TestRedisFlagStoreBasics(t *testing.T) {
	redisURL := os.Getenv("WARDEN_TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("WARDEN_TEST_REDIS_URL not set")
	}
	fs, err := NewRedisFlagStore(redisURL)
	if err != nil {
		t.Fatal(err)
	}
	testFlagStoreBasics(t, fs)
}
