// Package config provides configuration loading and validation for mgflat.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned (wrapped) by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// SplitMode selects how oversized files are divided into parts.
type SplitMode string

const (
	SplitLines SplitMode = "lines"
	SplitBytes SplitMode = "bytes"
)

// IDScheme selects how directory identifiers are derived.
type IDScheme string

const (
	SchemeRank IDScheme = "rank"
	SchemeHash IDScheme = "hash"
)

// DefaultTxtExtensions are the extensions that get ".txt" appended.
var DefaultTxtExtensions = []string{"yaml", "yml", "list", "log", "descr", "status", "labels"}

// Config represents the complete mgflat configuration.
type Config struct {
	Source      string        `yaml:"source"`
	Output      string        `yaml:"output"`
	Consolidate bool          `yaml:"consolidate"`
	Split       SplitConfig   `yaml:"split"`
	Naming      NamingConfig  `yaml:"naming"`
	Filter      FilterConfig  `yaml:"filter"`
	Archive     ArchiveConfig `yaml:"archive"`
	Workers     int           `yaml:"workers"`
	Tree        bool          `yaml:"tree"`
	MetricsFile string        `yaml:"metrics_file"`
}

// SplitConfig configures the splitter. An empty or zero Size disables it.
type SplitConfig struct {
	// Size is a human readable byte budget per part, e.g. "512KiB" or "10MiB".
	Size string    `yaml:"size"`
	Mode SplitMode `yaml:"mode"`
}

// NamingConfig configures output name allocation.
type NamingConfig struct {
	Scheme        IDScheme `yaml:"scheme"`
	RootPrefix    *bool    `yaml:"root_prefix"`
	HashWidth     int      `yaml:"hash_width"`
	TxtExtensions []string `yaml:"txt_extensions"`
}

// FilterConfig configures additional exclusions on top of the built-in
// OS metadata filter.
type FilterConfig struct {
	Exclude    []string `yaml:"exclude"`
	IgnoreFile string   `yaml:"ignore_file"`
}

// ArchiveConfig configures archive extraction.
type ArchiveConfig struct {
	MaxDepth int      `yaml:"max_depth"`
	Disable  []string `yaml:"disable"`
}

// DefaultMaxDepth is the default archive nesting depth.
const DefaultMaxDepth = 2

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{Archive: ArchiveConfig{MaxDepth: DefaultMaxDepth}}
	cfg.applyDefaults()
	return cfg
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
// Keys absent from the file keep their default values, so an explicit zero
// such as "max_depth: 0" is honored.
func LoadFromFile(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv expands environment variables in path-valued fields.
func (c *Config) expandEnv() {
	c.Source = os.ExpandEnv(c.Source)
	c.Output = os.ExpandEnv(c.Output)
	c.Filter.IgnoreFile = os.ExpandEnv(c.Filter.IgnoreFile)
	c.MetricsFile = os.ExpandEnv(c.MetricsFile)
}

// applyDefaults fills in zero-value fields.
func (c *Config) applyDefaults() {
	if c.Split.Mode == "" {
		c.Split.Mode = SplitLines
	}
	if c.Naming.Scheme == "" {
		c.Naming.Scheme = SchemeRank
	}
	if c.Naming.RootPrefix == nil {
		rootPrefix := true
		c.Naming.RootPrefix = &rootPrefix
	}
	if c.Naming.HashWidth == 0 {
		c.Naming.HashWidth = 8
	}
	if len(c.Naming.TxtExtensions) == 0 {
		c.Naming.TxtExtensions = append([]string(nil), DefaultTxtExtensions...)
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

// Validate checks the configuration for errors. Source and Output are not
// required here because they may still be supplied by flags.
func (c *Config) Validate() error {
	switch c.Split.Mode {
	case SplitLines, SplitBytes:
	default:
		return fmt.Errorf("%w: split.mode must be %q or %q, got %q", ErrInvalidConfig, SplitLines, SplitBytes, c.Split.Mode)
	}
	if _, err := c.SplitBytes(); err != nil {
		return err
	}
	switch c.Naming.Scheme {
	case SchemeRank, SchemeHash:
	default:
		return fmt.Errorf("%w: naming.scheme must be %q or %q, got %q", ErrInvalidConfig, SchemeRank, SchemeHash, c.Naming.Scheme)
	}
	if c.Naming.HashWidth < 4 || c.Naming.HashWidth > 64 {
		return fmt.Errorf("%w: naming.hash_width must be between 4 and 64, got %d", ErrInvalidConfig, c.Naming.HashWidth)
	}
	if c.Archive.MaxDepth < 0 {
		return fmt.Errorf("%w: archive.max_depth must not be negative", ErrInvalidConfig)
	}
	return nil
}

// SplitBytes parses Split.Size. Zero means splitting is disabled.
func (c *Config) SplitBytes() (int64, error) {
	size := strings.TrimSpace(c.Split.Size)
	if size == "" || size == "0" {
		return 0, nil
	}
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, fmt.Errorf("%w: split.size: %v", ErrInvalidConfig, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: split.size must not be negative", ErrInvalidConfig)
	}
	return n, nil
}

// UseRootPrefix reports whether root files carry the root identifier prefix.
func (c *Config) UseRootPrefix() bool {
	return c.Naming.RootPrefix == nil || *c.Naming.RootPrefix
}
