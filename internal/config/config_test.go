package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clonecore/internal/locus"
	"clonecore/pkg/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "ig", cfg.Metadata.Locus)
	assert.Equal(t, domain.DefaultCloneKey, cfg.Metadata.CloneKey)
	assert.True(t, cfg.Metadata.Split)
	assert.True(t, cfg.Metadata.Collapse)
	assert.True(t, cfg.Metadata.Combine)
	assert.False(t, cfg.Metadata.SplitLocus)
	assert.True(t, cfg.Metadata.CollapseAlleles)
	assert.Equal(t, "blob", cfg.Snapshot.Driver)
	assert.Equal(t, "fs", cfg.Snapshot.Blob.Driver)
	assert.Equal(t, "none", cfg.Metrics.Backend)

	opts := cfg.UpdateOptions()
	assert.Equal(t, domain.DefaultCloneKey, opts.CloneKey)
	assert.True(t, opts.CollapseAlleles)
	assert.Empty(t, opts.Retrieve)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLONECORE_METADATA_CLONE_KEY", "clone_x")
	t.Setenv("CLONECORE_METADATA_SPLIT_LOCUS", "true")
	t.Setenv("CLONECORE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "clone_x", cfg.Metadata.CloneKey)
	assert.True(t, cfg.Metadata.SplitLocus)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FileRegistersSchemes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clonecore.yaml")
	doc := `
metadata:
  locus: tr-config
  retrieve: [umi_count, junction_aa]
  split: false
snapshot:
  driver: sqlite
  sqlite_path: /tmp/clonecore-test.db
metrics:
  backend: prometheus
locus:
  schemes:
    - name: tr-config
      heavy: TRB
      light: [TRA]
      heavy_label: VDJ
      light_label: VJ
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"umi_count", "junction_aa"}, cfg.Metadata.Retrieve)
	assert.False(t, cfg.Metadata.Split)
	assert.Equal(t, "sqlite", cfg.Snapshot.Driver)
	assert.Equal(t, "prometheus", cfg.Metrics.Backend)

	s, err := locus.Lookup("tr-config")
	require.NoError(t, err)
	assert.Equal(t, "TRB", s.Heavy)
	assert.Equal(t, []string{"TRA"}, s.Light)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Metadata: MetadataConfig{CloneKey: "clone_id"},
			Snapshot: SnapshotConfig{Driver: "blob", Blob: BlobConfig{Driver: "fs", Root: "x"}},
			Metrics:  MetricsConfig{Backend: "none"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		option string
	}{
		{"valid", func(*Config) {}, ""},
		{"blank clone key", func(c *Config) { c.Metadata.CloneKey = "  " }, "metadata.clone_key"},
		{"unknown snapshot driver", func(c *Config) { c.Snapshot.Driver = "redis" }, "snapshot.driver"},
		{"unknown blob driver", func(c *Config) { c.Snapshot.Blob.Driver = "gcs" }, "snapshot.blob.driver"},
		{"s3 without bucket", func(c *Config) { c.Snapshot.Blob.Driver = "s3" }, "snapshot.blob.bucket"},
		{"sqlite without path", func(c *Config) { c.Snapshot.Driver = "sqlite" }, "snapshot.sqlite_path"},
		{"postgres without dsn", func(c *Config) { c.Snapshot.Driver = "postgres" }, "snapshot.postgres_dsn"},
		{"unknown metrics", func(c *Config) { c.Metrics.Backend = "statsd" }, "metrics.backend"},
		{"bad scheme", func(c *Config) { c.Locus.Schemes = []locus.Scheme{{Name: "bad"}} }, "locus scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.option == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))
			var ce domain.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.option, ce.Option)
		})
	}
}
