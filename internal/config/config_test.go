package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typedkv.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
product = "memkv"
env_home = "/tmp/env"
lock_timeout = 1.5
run_checkpointer = true
checkpoint_threshold_kb = 2048
`), 0o644))

	opts, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "memkv", opts.Product)
	require.Equal(t, "/tmp/env", opts.EnvHome)
	require.Equal(t, "/tmp/env", opts.DataHome, "DataHome defaults to EnvHome")
	require.Equal(t, 1500*time.Millisecond, opts.LockTimeout)
	require.True(t, opts.RunCheckpointer)
	require.Equal(t, int64(2048), opts.CheckpointThresholdKB)
	require.Equal(t, 10*time.Second, opts.CheckpointInterval, "unset field keeps its default")
	require.NoError(t, opts.Validate())
}

func TestOptions_ValidateRequiresProduct(t *testing.T) {
	var opts Options
	require.Error(t, opts.Validate())
}

func TestOptions_ValidateRejectsNegativeCache(t *testing.T) {
	opts := Default()
	opts.Product = "memkv"
	opts.CacheSize = -1
	require.Error(t, opts.Validate())
}

func TestOptions_ValidateRejectsOutOfRangeThrottle(t *testing.T) {
	opts := Default()
	opts.Product = "memkv"
	opts.IndexRepairThrottle = 1.5
	require.Error(t, opts.Validate())
}
