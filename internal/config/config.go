package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete automaker configuration
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine" yaml:"engine"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Suggestions SuggestionsConfig `mapstructure:"suggestions" yaml:"suggestions"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// EngineConfig controls scheduling
type EngineConfig struct {
	// MaxConcurrency is the concurrency budget: how many agent runs may be active at once (1-10)
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	// DependencyBlocking refuses to start features whose dependencies are not verified or completed
	DependencyBlocking bool `mapstructure:"dependency_blocking" yaml:"dependency_blocking"`
	// AutoMode starts the auto-mode driver when a project is opened
	AutoMode bool `mapstructure:"auto_mode" yaml:"auto_mode"`
	// AncestorDepth bounds how many dependency hops are included as prompt context
	AncestorDepth int `mapstructure:"ancestor_depth" yaml:"ancestor_depth"`
	// RunTimeoutMinutes cancels a run that exceeds it (0 = no limit)
	RunTimeoutMinutes int `mapstructure:"run_timeout_minutes" yaml:"run_timeout_minutes"`
}

// AgentConfig controls how feature runs invoke the coding agent
type AgentConfig struct {
	// Command is the agent CLI executable
	Command string `mapstructure:"command" yaml:"command"`
	// Model is used when a feature does not set one
	Model string `mapstructure:"model" yaml:"model"`
	// ThinkingLevel is used when a feature does not set one
	ThinkingLevel string `mapstructure:"thinking_level" yaml:"thinking_level"`
	// PermissionMode is passed through to the agent
	PermissionMode string   `mapstructure:"permission_mode" yaml:"permission_mode"`
	AllowedTools   []string `mapstructure:"allowed_tools" yaml:"allowed_tools"`
	// MaxTurns limits agent turns per run (0 = agent default)
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns"`
}

// SuggestionsConfig controls the project analysis run
type SuggestionsConfig struct {
	Model          string   `mapstructure:"model" yaml:"model"`
	MaxTurns       int      `mapstructure:"max_turns" yaml:"max_turns"`
	AllowedTools   []string `mapstructure:"allowed_tools" yaml:"allowed_tools"`
	PermissionMode string   `mapstructure:"permission_mode" yaml:"permission_mode"`
}

// StorageConfig selects where features are persisted
type StorageConfig struct {
	// Backend is "json" (feature_list.json) or "sqlite" (automaker.db)
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Dir is the project-relative state directory
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled writes debug.log under {storage.dir}/logs; otherwise nothing is logged
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address for /metrics, e.g. ":9464". Empty disables the endpoint.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Storage backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Concurrency budget bounds
const (
	MinConcurrency = 1
	MaxConcurrency = 10
)

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrency:     3,
			DependencyBlocking: true,
			AutoMode:           false,
			AncestorDepth:      10,
			RunTimeoutMinutes:  0,
		},
		Agent: AgentConfig{
			Command:        "claude",
			Model:          "opus",
			ThinkingLevel:  "none",
			PermissionMode: "acceptEdits",
			AllowedTools:   []string{"Read", "Write", "Edit", "Glob", "Grep", "Bash"},
			MaxTurns:       0,
		},
		Suggestions: SuggestionsConfig{
			Model:          "claude-sonnet-4-20250514",
			MaxTurns:       50,
			AllowedTools:   []string{"Read", "Glob", "Grep", "Bash"},
			PermissionMode: "acceptEdits",
		},
		Storage: StorageConfig{
			Backend: BackendJSON,
			Dir:     ".automaker",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// RunTimeout returns the per-run timeout (0 means none)
func (c *EngineConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// StateDir resolves the storage directory against a project root
func (c *StorageConfig) StateDir(projectDir string) string {
	if filepath.IsAbs(c.Dir) {
		return c.Dir
	}
	dir := c.Dir
	if dir == "" {
		dir = ".automaker"
	}
	return filepath.Join(projectDir, dir)
}

// SetDefaults registers default values with viper
func SetDefaults() {
	setDefaultsOn(viper.GetViper())
}

// setDefaultsOn registers default values on a specific viper instance
func setDefaultsOn(v *viper.Viper) {
	d := Default()

	v.SetDefault("engine.max_concurrency", d.Engine.MaxConcurrency)
	v.SetDefault("engine.dependency_blocking", d.Engine.DependencyBlocking)
	v.SetDefault("engine.auto_mode", d.Engine.AutoMode)
	v.SetDefault("engine.ancestor_depth", d.Engine.AncestorDepth)
	v.SetDefault("engine.run_timeout_minutes", d.Engine.RunTimeoutMinutes)

	v.SetDefault("agent.command", d.Agent.Command)
	v.SetDefault("agent.model", d.Agent.Model)
	v.SetDefault("agent.thinking_level", d.Agent.ThinkingLevel)
	v.SetDefault("agent.permission_mode", d.Agent.PermissionMode)
	v.SetDefault("agent.allowed_tools", d.Agent.AllowedTools)
	v.SetDefault("agent.max_turns", d.Agent.MaxTurns)

	v.SetDefault("suggestions.model", d.Suggestions.Model)
	v.SetDefault("suggestions.max_turns", d.Suggestions.MaxTurns)
	v.SetDefault("suggestions.allowed_tools", d.Suggestions.AllowedTools)
	v.SetDefault("suggestions.permission_mode", d.Suggestions.PermissionMode)

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.dir", d.Storage.Dir)

	v.SetDefault("logging.enabled", d.Logging.Enabled)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return loadFrom(viper.GetViper())
}

// loadFrom is Load against a specific viper instance
func loadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when it
// cannot be loaded
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "automaker")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".automaker"
	}
	return filepath.Join(home, ".config", "automaker")
}

// ConfigFile returns the path to the user config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ProjectConfigFile returns the per-project config file, which takes
// precedence over the user config file
func ProjectConfigFile(projectDir string) string {
	return filepath.Join(projectDir, ".automaker", "config.yaml")
}
