package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
)

func seedFileStore(t *testing.T) (configPath, dataDir string) {
	t.Helper()
	dir := t.TempDir()
	dataDir = filepath.Join(dir, "data")
	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("storage_backend: file\nstorage_base_dir: "+dataDir+"\n"), 0o600))

	ctx := context.Background()
	b, _, err := storage.Open(ctx, storage.Options{Backend: "file", BaseDir: dataDir})
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.ApplyBatch(ctx, []storage.Mutation{
		{Key: storage.KeySharedConfig, Value: []byte(`{"schema_version":2,"model_pool":["m1"]}`)},
		{Key: storage.PrefixCredential + "c1", Value: []byte(`{"id":"c1","secret":"csk-x","status":"active"}`)},
	}))
	return configPath, dataDir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestExportThenVerify(t *testing.T) {
	cfgPath, dataDir := seedFileStore(t)
	snapPath := filepath.Join(t.TempDir(), "snap.json")

	out, err := run(t, "", "--config", cfgPath, "export", "-f", snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 2 entries")

	out, err = run(t, "", "--config", cfgPath, "verify", "-f", snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "storage matches snapshot")

	ctx := context.Background()
	b, _, err := storage.Open(ctx, storage.Options{Backend: "file", BaseDir: dataDir})
	require.NoError(t, err)
	require.NoError(t, b.ApplyBatch(ctx, []storage.Mutation{{Key: storage.PrefixCredential + "c1", Delete: true}}))
	require.NoError(t, b.Close())

	out, err = run(t, "", "--config", cfgPath, "verify", "-f", snapPath)
	require.Error(t, err)
	assert.Contains(t, out, "differs: "+storage.PrefixCredential+"c1")

	out, err = run(t, "", "--config", cfgPath, "import", "-f", snapPath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 entries")
	_, err = run(t, "", "--config", cfgPath, "verify", "-f", snapPath)
	require.NoError(t, err)
}

func TestImportFromStdin(t *testing.T) {
	cfgPath, _ := seedFileStore(t)
	snap := `{"exported_at":"2026-01-01T00:00:00Z","entries":{"accesskey:k1":"eyJpZCI6ImsxIn0="}}`

	out, err := run(t, snap, "--config", cfgPath, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 entries")
}

func TestCopyRejectsSameBackend(t *testing.T) {
	cfgPath, _ := seedFileStore(t)
	_, err := run(t, "", "--config", cfgPath, "copy", "--from", "file", "--to", "file")
	require.Error(t, err)

	out, err := run(t, "", "--config", cfgPath, "copy", "--from", "file", "--to", "memory", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would copy 2 entries from file to memory")
}
