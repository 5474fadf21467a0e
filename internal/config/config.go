// Package config provides configuration management for clonecore.
//
// Configuration is loaded from:
// 1. clonecore.yaml (optional, or an explicit --config path)
// 2. Environment variables prefixed CLONECORE_ (metadata.clone_key → CLONECORE_METADATA_CLONE_KEY)
// 3. Default values
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"clonecore/internal/core"
	"clonecore/internal/locus"
	"clonecore/pkg/domain"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CLONECORE"

// Config is the root configuration structure.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Locus    LocusConfig    `mapstructure:"locus"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// MetadataConfig mirrors core.UpdateOptions.
type MetadataConfig struct {
	Locus           string   `mapstructure:"locus"`
	CloneKey        string   `mapstructure:"clone_key"`
	Retrieve        []string `mapstructure:"retrieve"`
	Split           bool     `mapstructure:"split"`
	Collapse        bool     `mapstructure:"collapse"`
	Combine         bool     `mapstructure:"combine"`
	SplitLocus      bool     `mapstructure:"split_locus"`
	CollapseAlleles bool     `mapstructure:"collapse_alleles"`
	Parallel        bool     `mapstructure:"parallel"`
}

// LocusConfig registers extra locus schemes next to the built-in ig scheme.
type LocusConfig struct {
	Schemes []locus.Scheme `mapstructure:"schemes"`
}

// SnapshotConfig selects where repository snapshots are written.
type SnapshotConfig struct {
	Driver      string     `mapstructure:"driver"` // blob, sqlite or postgres
	Blob        BlobConfig `mapstructure:"blob"`
	SQLitePath  string     `mapstructure:"sqlite_path"`
	PostgresDSN string     `mapstructure:"postgres_dsn"`
}

// BlobConfig configures the blob snapshot backend.
type BlobConfig struct {
	Driver    string `mapstructure:"driver"` // fs, memory or s3
	Root      string `mapstructure:"root"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// MetricsConfig picks the repository metrics recorder.
type MetricsConfig struct {
	Backend string `mapstructure:"backend"` // none, expvar or prometheus
}

// Load reads configuration from path (or the default search locations when
// path is empty) and the environment, then validates it. Extra locus schemes
// are registered as a side effect.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("clonecore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.clonecore")
		v.AddConfigPath("/etc/clonecore")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	for _, s := range cfg.Locus.Schemes {
		if err := locus.Register(s); err != nil {
			return nil, fmt.Errorf("register locus scheme %q: %w", s.Name, err)
		}
	}
	return &cfg, nil
}

// Validate checks for configuration errors that would only surface later.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Metadata.CloneKey) == "" {
		return domain.ConfigurationError{Option: "metadata.clone_key", Value: c.Metadata.CloneKey, Reason: "must not be blank"}
	}
	for _, s := range c.Locus.Schemes {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	switch c.Snapshot.Driver {
	case "blob":
		switch c.Snapshot.Blob.Driver {
		case "fs", "memory":
		case "s3":
			if c.Snapshot.Blob.Bucket == "" {
				return domain.ConfigurationError{Option: "snapshot.blob.bucket", Reason: "required for the s3 driver"}
			}
		default:
			return domain.ConfigurationError{Option: "snapshot.blob.driver", Value: c.Snapshot.Blob.Driver, Reason: "expected fs, memory or s3"}
		}
	case "sqlite":
		if c.Snapshot.SQLitePath == "" {
			return domain.ConfigurationError{Option: "snapshot.sqlite_path", Reason: "required for the sqlite driver"}
		}
	case "postgres":
		if c.Snapshot.PostgresDSN == "" {
			return domain.ConfigurationError{Option: "snapshot.postgres_dsn", Reason: "required for the postgres driver"}
		}
	default:
		return domain.ConfigurationError{Option: "snapshot.driver", Value: c.Snapshot.Driver, Reason: "expected blob, sqlite or postgres"}
	}
	switch c.Metrics.Backend {
	case "none", "expvar", "prometheus":
	default:
		return domain.ConfigurationError{Option: "metrics.backend", Value: c.Metrics.Backend, Reason: "expected none, expvar or prometheus"}
	}
	return nil
}

// UpdateOptions converts the metadata section into repository options.
func (c *Config) UpdateOptions() core.UpdateOptions {
	m := c.Metadata
	return core.UpdateOptions{
		Retrieve:        append([]string(nil), m.Retrieve...),
		Locus:           m.Locus,
		CloneKey:        m.CloneKey,
		Split:           m.Split,
		Collapse:        m.Collapse,
		Combine:         m.Combine,
		SplitLocus:      m.SplitLocus,
		CollapseAlleles: m.CollapseAlleles,
	}
}

func setDefaults(v *viper.Viper) {
	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Metadata
	v.SetDefault("metadata.locus", locus.Immunoglobulin.Name)
	v.SetDefault("metadata.clone_key", domain.DefaultCloneKey)
	v.SetDefault("metadata.retrieve", []string{})
	v.SetDefault("metadata.split", true)
	v.SetDefault("metadata.collapse", true)
	v.SetDefault("metadata.combine", true)
	v.SetDefault("metadata.split_locus", false)
	v.SetDefault("metadata.collapse_alleles", true)
	v.SetDefault("metadata.parallel", false)

	// Snapshot
	v.SetDefault("snapshot.driver", "blob")
	v.SetDefault("snapshot.blob.driver", "fs")
	v.SetDefault("snapshot.blob.root", "./snapshots")
	v.SetDefault("snapshot.blob.region", "us-east-1")
	v.SetDefault("snapshot.blob.path_style", false)
	v.SetDefault("snapshot.sqlite_path", "clonecore.db")

	// Metrics
	v.SetDefault("metrics.backend", "none")
}
