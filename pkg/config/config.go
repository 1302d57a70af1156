package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-snap/pkg/buildinfo"
	"github.com/paulschiretz/pgl-snap/pkg/flagparse"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
	"github.com/paulschiretz/pgl-snap/pkg/retention"
	"github.com/paulschiretz/pgl-snap/pkg/taskerr"
	"github.com/paulschiretz/pgl-snap/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-snap.config.json"

// DefaultConfigPath is used when no -config flag is given.
var DefaultConfigPath = filepath.Join("/etc/pgl-snap", ConfigFileName)

// DefaultEngine is the engine assigned to tasks that do not name one.
const DefaultEngine = "btrfs-snapshot"

// DefaultStagingSubdir holds source-side snapshots, relative to the source.
const DefaultStagingSubdir = ".pgl-snap"

var taskNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// envPattern matches $(VAR_NAME) placeholders in the raw config file.
var envPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

type HooksConfig struct {
	// Note: omitempty is intentionally not used so that the hook fields
	// appear in the generated config file for better discoverability.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	Pre  []string `json:"pre" yaml:"pre"`
	Post []string `json:"post" yaml:"post"`
}

type TaskConfig struct {
	Name        string `json:"name" yaml:"name"`
	Engine      string `json:"engine" yaml:"engine"`
	Source      string `json:"source" yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
	// StagingDir holds the source-side snapshots that seed incremental
	// transfers. Defaults to <source>/.pgl-snap.
	StagingDir string `json:"stagingDir,omitempty" yaml:"stagingDir,omitempty"`
	// SnapshotName is the base name of the snapshots. Defaults to the last
	// element of the source path, or "root" for "/".
	SnapshotName string      `json:"snapshotName,omitempty" yaml:"snapshotName,omitempty"`
	Policy       string      `json:"policy" yaml:"policy"`
	Disabled     bool        `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	// RequireMount refuses to run unless the destination lives on a
	// mounted volume other than "/".
	RequireMount bool        `json:"requireMount,omitempty" yaml:"requireMount,omitempty"`
	Hooks        HooksConfig `json:"hooks" yaml:"hooks"`
}

type EngineConfig struct {
	Workers  int  `json:"workers" yaml:"workers"`
	FailFast bool `json:"failFast" yaml:"failFast"`
	Metrics  bool `json:"metrics" yaml:"metrics"`
}

type BtrfsConfig struct {
	Binary  string `json:"binary" yaml:"binary"`
	Findmnt string `json:"findmnt" yaml:"findmnt"`
	// IdentityAttempts bounds the retries of the filesystem identifier query.
	IdentityAttempts      int `json:"identityAttempts" yaml:"identityAttempts"`
	IdentityBackoffMillis int `json:"identityBackoffMillis" yaml:"identityBackoffMillis"`
}

type RuntimeConfig struct {
	DryRun bool
	// TaskPatterns selects tasks by glob. Empty selects all.
	TaskPatterns []string
	ReportPath   string
}

type Config struct {
	Version  string        `json:"version" yaml:"version"`
	Path     string        `json:"-" yaml:"-"` // Never added to config file
	Runtime  RuntimeConfig `json:"-" yaml:"-"` // Never added to config file
	LogLevel string        `json:"logLevel" yaml:"logLevel"`
	LockDir  string        `json:"lockDir" yaml:"lockDir"`
	Engine   EngineConfig  `json:"engine" yaml:"engine"`
	Btrfs    BtrfsConfig   `json:"btrfs" yaml:"btrfs"`
	Tasks    []TaskConfig  `json:"tasks" yaml:"tasks"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		Path:     DefaultConfigPath,
		LogLevel: "info",
		LockDir:  "/run/lock/pgl-snap",
		Engine: EngineConfig{
			Workers:  1, // Tasks usually share disks; run them one after another by default.
			FailFast: false,
			Metrics:  true,
		},
		Btrfs: BtrfsConfig{
			Binary:                "btrfs",
			Findmnt:               "findmnt",
			IdentityAttempts:      5,
			IdentityBackoffMillis: 100,
		},
		Tasks: []TaskConfig{},
	}
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// expandEnvVars replaces $(VAR) with the value of the environment variable VAR.
func expandEnvVars(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(envPattern.FindSubmatch(m)[1])))
	})
}

// Load reads the configuration at path. JSON is used unless the file ends in
// .yaml or .yml. If the file doesn't exist, it returns the default config
// without an error.
func Load(path string) (Config, error) {
	absPath, err := util.AbsPath(path)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.Path = absPath
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}

	plog.Info("Loading configuration", "path", absPath)
	// Start with default values, then overwrite with the file's content.
	config := NewDefault()
	data = expandEnvVars(data)
	if isYAML(absPath) {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = json.NewDecoder(bytes.NewReader(data)).Decode(&config)
	}
	if err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
	}

	config.Path = absPath
	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate writes configToGenerate to its Path, creating parent directories.
func Generate(configToGenerate Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(configToGenerate.Path) {
		data, err = yaml.Marshal(configToGenerate)
	} else {
		data, err = json.MarshalIndent(configToGenerate, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configToGenerate.Path), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configToGenerate.Path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configToGenerate.Path)
	return nil
}

// Validate checks the configuration for logical errors, fills in per-task
// defaults and cleans all paths. Every problem is reported as a
// taskerr.ConfigError.
func (c *Config) Validate() error {
	if c.LockDir == "" {
		return taskerr.NewConfigError("lockDir", "must not be empty")
	}
	lockDir, err := util.AbsPath(c.LockDir)
	if err != nil {
		return &taskerr.ConfigError{Field: "lockDir", Err: err}
	}
	c.LockDir = lockDir

	if c.Engine.Workers < 1 {
		return taskerr.NewConfigError("engine.workers", "must be at least 1, got %d", c.Engine.Workers)
	}
	if c.Btrfs.IdentityAttempts < 1 {
		return taskerr.NewConfigError("btrfs.identityAttempts", "must be at least 1, got %d", c.Btrfs.IdentityAttempts)
	}
	if c.Btrfs.IdentityBackoffMillis < 0 {
		return taskerr.NewConfigError("btrfs.identityBackoffMillis", "must not be negative, got %d", c.Btrfs.IdentityBackoffMillis)
	}

	for _, pattern := range c.Runtime.TaskPatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return taskerr.NewConfigError("tasks", "invalid task pattern %q: %v", pattern, err)
		}
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if err := t.validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return taskerr.NewConfigError("tasks", "duplicate task name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

func (t *TaskConfig) validate() error {
	if !taskNamePattern.MatchString(t.Name) {
		return taskerr.NewConfigError("tasks.name", "invalid task name %q", t.Name)
	}
	field := func(name string) string { return fmt.Sprintf("tasks[%s].%s", t.Name, name) }

	if t.Engine == "" {
		t.Engine = DefaultEngine
	}
	if t.Source == "" {
		return taskerr.NewConfigError(field("source"), "must not be empty")
	}
	if t.Destination == "" {
		return taskerr.NewConfigError(field("destination"), "must not be empty")
	}

	var err error
	if t.Source, err = util.AbsPath(t.Source); err != nil {
		return &taskerr.ConfigError{Field: field("source"), Err: err}
	}
	if t.Destination, err = util.AbsPath(t.Destination); err != nil {
		return &taskerr.ConfigError{Field: field("destination"), Err: err}
	}
	if t.Source == t.Destination {
		return taskerr.NewConfigError(field("destination"), "must differ from the source")
	}

	if t.StagingDir == "" {
		t.StagingDir = filepath.Join(t.Source, DefaultStagingSubdir)
	} else if t.StagingDir, err = util.AbsPath(t.StagingDir); err != nil {
		return &taskerr.ConfigError{Field: field("stagingDir"), Err: err}
	}

	if t.SnapshotName == "" {
		t.SnapshotName = filepath.Base(t.Source)
		if t.SnapshotName == string(filepath.Separator) {
			t.SnapshotName = "root"
		}
	}
	if strings.ContainsAny(t.SnapshotName, `/\`) {
		return taskerr.NewConfigError(field("snapshotName"), "must not contain path separators")
	}

	p, err := retention.ParsePolicy(t.Policy)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.Name, err)
	}
	if _, err := retention.BuildPlan(p, time.Now()); err != nil {
		return fmt.Errorf("task %s: %w", t.Name, err)
	}
	return nil
}

// SelectedTasks returns the enabled tasks matching the runtime task patterns.
func (c *Config) SelectedTasks() []TaskConfig {
	var selected []TaskConfig
	for _, t := range c.Tasks {
		if t.Disabled {
			plog.Debug("Skipping disabled task", "task", t.Name)
			continue
		}
		if util.MatchAnyPattern(c.Runtime.TaskPatterns, t.Name) {
			selected = append(selected, t)
		}
	}
	return selected
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	plog.Info("Configuration",
		"path", c.Path,
		"log_level", c.LogLevel,
		"lock_dir", c.LockDir,
		"dry_run", c.Runtime.DryRun,
		"workers", c.Engine.Workers,
		"fail_fast", c.Engine.FailFast,
		"metrics", c.Engine.Metrics,
		"tasks", len(c.Tasks),
	)
	for _, t := range c.SelectedTasks() {
		plog.Info("Task",
			"name", t.Name,
			"engine", t.Engine,
			"source", t.Source,
			"destination", t.Destination,
			"staging", t.StagingDir,
			"policy", t.Policy,
		)
	}
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "config":
			// Consumed before loading.
		case "log-level":
			merged.LogLevel = value.(string)
		case "lock-dir":
			merged.LockDir = value.(string)
		case "fail-fast":
			merged.Engine.FailFast = value.(bool)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "workers":
			merged.Engine.Workers = value.(int)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "tasks":
			merged.Runtime.TaskPatterns = value.([]string)
		case "report":
			switch command {
			case flagparse.Inspect, flagparse.Create:
				merged.Runtime.ReportPath = value.(string)
			default:
			}
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
