package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Store.Type)
	assert.Equal(t, 10, cfg.Search.K)
	assert.Equal(t, "LFU", cfg.Cache.Policy)
	require.NoError(t, cfg.Validate())
}

func TestLoadAppliesDefaultsToZeroFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vecshard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  type: minio
  minio:
    endpoint: localhost:9000
    bucket: shards
search:
  k: 3
  strategy: query
cache:
  capacity: 2
  policy: LRU
rank_store:
  type: badger
  dir: /tmp/ranks
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Search.K)
	assert.Equal(t, 4, cfg.Search.NProbe)
	assert.Equal(t, "query", cfg.Search.Strategy)
	assert.Equal(t, 2, cfg.Cache.Capacity)
	assert.Equal(t, "LRU", cfg.Cache.Policy)
	assert.Equal(t, "MINIO_ACCESS_KEY", cfg.Store.MinIO.AccessKeyEnv)
	require.NoError(t, cfg.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vecshard.yaml")

	cfg := Default()
	cfg.Search.K = 7

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Store.Type = "s3" }},
		{"minio without endpoint", func(c *Config) { c.Store.Type = "minio"; c.Store.MinIO = &MinIOConfig{} }},
		{"negative k", func(c *Config) { c.Search.K = -1 }},
		{"negative nprobe", func(c *Config) { c.Search.NProbe = -1 }},
		{"zero batch", func(c *Config) { c.Search.BatchSize = -1 }},
		{"negative capacity", func(c *Config) { c.Cache.Capacity = -2 }},
		{"badger without dir", func(c *Config) { c.RankStore.Type = "badger" }},
		{"dynamodb without table", func(c *Config) { c.RankStore.Type = "dynamodb" }},
		{"unknown rank store", func(c *Config) { c.RankStore.Type = "redis" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("VECSHARD_TEST_SECRET=s3cr3t\nVECSHARD_TEST_ACCESS=key\n"), 0o600))

	t.Cleanup(func() {
		os.Unsetenv("VECSHARD_TEST_SECRET")
		os.Unsetenv("VECSHARD_TEST_ACCESS")
	})

	require.NoError(t, LoadEnv(path, filepath.Join(dir, "missing.env")))

	m := &MinIOConfig{AccessKeyEnv: "VECSHARD_TEST_ACCESS", SecretKeyEnv: "VECSHARD_TEST_SECRET"}
	access, secret := m.Credentials()
	assert.Equal(t, "key", access)
	assert.Equal(t, "s3cr3t", secret)
}
