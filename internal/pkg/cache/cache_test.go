package cache

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func miniOptions(t *testing.T) (Options, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Options{Host: host, Port: p}, mr
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("CACHE_HOST", "redis.internal")
	t.Setenv("CACHE_PORT", "6380")
	t.Setenv("CACHE_DB", "2")

	o := OptionsFromEnv()
	assert.Equal(t, "redis.internal:6380", o.Addr())
	assert.Equal(t, 2, o.Database)
}

func TestNewClientAndPing(t *testing.T) {
	o, mr := miniOptions(t)
	c := NewClient(o)
	t.Cleanup(func() {
		SetClient(nil)
		_ = c.Close()
	})
	SetClient(c)

	require.NoError(t, Ping(context.Background()))
	require.NoError(t, c.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	mr.Close()
	assert.Error(t, Ping(context.Background()))
}

func TestNewLimiterStorage(t *testing.T) {
	o, mr := miniOptions(t)
	store := NewLimiterStorage(o)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Set("limiter:1.2.3.4", []byte("3"), 0))
	assert.True(t, mr.DB(limiterDatabase).Exists("limiter:1.2.3.4"))

	val, err := store.Get("limiter:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), val)
}
