package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, SplitLines, cfg.Split.Mode)
	assert.Equal(t, SchemeRank, cfg.Naming.Scheme)
	assert.True(t, cfg.UseRootPrefix())
	assert.Equal(t, 8, cfg.Naming.HashWidth)
	assert.Equal(t, DefaultTxtExtensions, cfg.Naming.TxtExtensions)
	assert.Equal(t, 2, cfg.Archive.MaxDepth)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	require.NoError(t, cfg.Validate())

	n, err := cfg.SplitBytes()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MGFLAT_TEST_OUT", "/tmp/flat")

	path := filepath.Join(dir, "mgflat.yaml")
	content := `
source: bundle.tar.gz
output: $MGFLAT_TEST_OUT
consolidate: true
split:
  size: 1MiB
  mode: bytes
naming:
  scheme: hash
  root_prefix: false
filter:
  exclude:
    - "**/*.pcap"
archive:
  disable: [rar]
workers: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "bundle.tar.gz", cfg.Source)
	assert.Equal(t, "/tmp/flat", cfg.Output)
	assert.True(t, cfg.Consolidate)
	assert.Equal(t, SplitBytes, cfg.Split.Mode)
	assert.Equal(t, SchemeHash, cfg.Naming.Scheme)
	assert.False(t, cfg.UseRootPrefix())
	assert.Equal(t, []string{"**/*.pcap"}, cfg.Filter.Exclude)
	assert.Equal(t, []string{"rar"}, cfg.Archive.Disable)
	assert.Equal(t, DefaultMaxDepth, cfg.Archive.MaxDepth)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, DefaultTxtExtensions, cfg.Naming.TxtExtensions)

	n, err := cfg.SplitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024), n)
}

func TestLoadFromFile_ExplicitZeroValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mgflat.yaml")
	content := `
archive:
  max_depth: 0
naming:
  txt_extensions: [conf]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Archive.MaxDepth)
	assert.Equal(t, []string{"conf"}, cfg.Naming.TxtExtensions)
	assert.Equal(t, SplitLines, cfg.Split.Mode)
	assert.True(t, cfg.UseRootPrefix())
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("split: [oops"), 0o644))
		_, err := LoadFromFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad split mode", func(c *Config) { c.Split.Mode = "words" }},
		{"bad split size", func(c *Config) { c.Split.Size = "lots" }},
		{"bad scheme", func(c *Config) { c.Naming.Scheme = "random" }},
		{"hash too narrow", func(c *Config) { c.Naming.HashWidth = 2 }},
		{"negative depth", func(c *Config) { c.Archive.MaxDepth = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
