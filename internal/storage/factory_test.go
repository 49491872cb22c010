package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	b, kind, err := Open(context.Background(), Options{Backend: "memory"})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "memory", kind)
}

func TestOpenAutoPrefersRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	b, kind, err := Open(context.Background(), Options{Backend: "auto", RedisAddr: mr.Addr(), BaseDir: t.TempDir()})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "redis", kind)

	require.NoError(t, b.Set(context.Background(), "k", []byte("v")))
	assert.True(t, mr.Exists("poolproxy:k"))
}

func TestOpenAutoFallsBackToFile(t *testing.T) {
	b, kind, err := Open(context.Background(), Options{RedisAddr: "127.0.0.1:1", BaseDir: t.TempDir()})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "file", kind)
}

func TestOpenAutoWithoutDirUsesMemory(t *testing.T) {
	b, kind, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "memory", kind)
}

func TestOpenRejectsUnknownAndIncomplete(t *testing.T) {
	_, _, err := Open(context.Background(), Options{Backend: "git"})
	assert.Error(t, err)
	_, _, err = Open(context.Background(), Options{Backend: "postgres"})
	assert.Error(t, err)
	_, _, err = Open(context.Background(), Options{Backend: "mongodb"})
	assert.Error(t, err)
}
