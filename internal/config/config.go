package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/davidzhou73/convnetlog/internal/device"
	"github.com/davidzhou73/convnetlog/internal/snapshot"
	"github.com/davidzhou73/convnetlog/internal/transcript"
)

type Config struct {
	Snapshot        Snapshot `yaml:"snapshot"`
	MetadataPattern string   `yaml:"metadata_pattern,omitempty"`
	CapturePattern  string   `yaml:"capture_pattern,omitempty"`
	// Exclude holds doublestar globs relative to the collection root
	Exclude []string `yaml:"exclude,omitempty"`
	// Duplicates is "first" (default) or "latest"
	Duplicates string        `yaml:"duplicates,omitempty"`
	Workers    int           `yaml:"workers,omitempty"`
	OutputDir  string        `yaml:"output_dir,omitempty"`
	CacheTTL   time.Duration `yaml:"cache_ttl,omitempty"`
	Database   Database      `yaml:"database"`
	Log        Log           `yaml:"log"`
}

// Snapshot configures how snapshot directories are recognised and dated
type Snapshot struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
	Offset  int    `yaml:"offset"`
	Width   int    `yaml:"width"`
	Layout  string `yaml:"layout"`
	// ExtraDirs registers more directory names with the same selection rule
	ExtraDirs []string `yaml:"extra_dirs,omitempty"`
}

type Database struct {
	Path string `yaml:"path,omitempty"`
}

type Log struct {
	Level  string `yaml:"level,omitempty"`
	Output string `yaml:"output,omitempty"`
	Debug  bool   `yaml:"debug,omitempty"`
	// JSON writes JSON lines even when the output is a terminal
	JSON bool `yaml:"json,omitempty"`
}

// defaultConfig matches the layout written by the BrainCollect collector
var defaultConfig = Config{
	Snapshot: Snapshot{
		Dir:     snapshot.DefaultSnapshotDir,
		Pattern: snapshot.DefaultSnapshotPattern,
		Offset:  snapshot.DefaultOffset,
		Width:   snapshot.DefaultWidth,
		Layout:  snapshot.DefaultLayout,
	},
	MetadataPattern: device.DefaultMetadataPattern,
	CapturePattern:  transcript.DefaultCapturePattern,
	Duplicates:      string(device.KeepFirst),
	Workers:         1,
	CacheTTL:        5 * time.Minute,
	Log: Log{
		Level:  "info",
		Output: "stderr",
	},
}

// Default returns a copy of the built-in configuration
func Default() *Config {
	cfg := defaultConfig
	cfg.Database.Path = defaultDatabasePath()
	return &cfg
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "inventory.db"
	}
	return filepath.Join(home, ".local", "share", "convnetlog", "inventory.db")
}

func Load(path string) (*Config, error) {
	if path == "" {
		// Try default locations
		candidates := []string{
			"/etc/convnetlog/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/convnetlog/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	// Decoding over the defaults keeps explicit zero values such as
	// snapshot.offset: 0
	cfg := *Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills every unset field from defaultConfig
func (c *Config) applyDefaults() {
	d := Default()

	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = d.Snapshot.Dir
	}
	if c.Snapshot.Pattern == "" {
		c.Snapshot.Pattern = d.Snapshot.Pattern
	}
	if c.Snapshot.Width == 0 {
		c.Snapshot.Width = d.Snapshot.Width
	}
	if c.Snapshot.Layout == "" {
		c.Snapshot.Layout = d.Snapshot.Layout
	}
	if c.MetadataPattern == "" {
		c.MetadataPattern = d.MetadataPattern
	}
	if c.CapturePattern == "" {
		c.CapturePattern = d.CapturePattern
	}
	if c.Duplicates == "" {
		c.Duplicates = d.Duplicates
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Output == "" {
		c.Log.Output = d.Log.Output
	}
}

// Validate checks patterns, globs and the snapshot timestamp settings
func (c *Config) Validate() error {
	for name, p := range map[string]string{
		"snapshot.pattern": c.Snapshot.Pattern,
		"metadata_pattern": c.MetadataPattern,
		"capture_pattern":  c.CapturePattern,
	} {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Snapshot.Offset < 0 || c.Snapshot.Width <= 0 {
		return fmt.Errorf("invalid snapshot offset/width %d/%d", c.Snapshot.Offset, c.Snapshot.Width)
	}
	// The layout must at least round-trip a known time
	sample := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(c.Snapshot.Layout)
	if _, err := time.Parse(c.Snapshot.Layout, sample); err != nil || sample == c.Snapshot.Layout {
		return fmt.Errorf("invalid snapshot layout %q", c.Snapshot.Layout)
	}

	for _, g := range c.Exclude {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid exclude pattern %q", g)
		}
	}

	if _, err := device.ParseDuplicatePolicy(c.Duplicates); err != nil {
		return err
	}

	return nil
}

// Policies builds the snapshot selection policies keyed by directory name
func (c *Config) Policies() map[string]snapshot.Policy {
	p := &snapshot.LatestSnapshot{
		Pattern: regexp.MustCompile(c.Snapshot.Pattern),
		Offset:  c.Snapshot.Offset,
		Width:   c.Snapshot.Width,
		Layout:  c.Snapshot.Layout,
	}

	policies := map[string]snapshot.Policy{c.Snapshot.Dir: p}
	for _, dir := range c.Snapshot.ExtraDirs {
		policies[dir] = p
	}
	return policies
}

// Resolver returns a snapshot resolver configured from c
func (c *Config) Resolver() *snapshot.Resolver {
	return &snapshot.Resolver{
		Policies:        c.Policies(),
		MetadataPattern: regexp.MustCompile(c.MetadataPattern),
		Exclude:         c.Exclude,
	}
}

// CaptureRegexp returns the compiled capture file pattern
func (c *Config) CaptureRegexp() *regexp.Regexp {
	return regexp.MustCompile(c.CapturePattern)
}

// DuplicatePolicy returns the parsed duplicate policy
func (c *Config) DuplicatePolicy() device.DuplicatePolicy {
	p, err := device.ParseDuplicatePolicy(c.Duplicates)
	if err != nil {
		return device.KeepFirst
	}
	return p
}
