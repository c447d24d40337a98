// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteConfig names one version-control remote to push accepted changes to.
type RemoteConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// HealthConfig controls the layered health verification.
type HealthConfig struct {
	// CriticalFiles must exist (relative to project root) for the system to
	// be considered healthy. Source-like entries also get a brace balance
	// scan.
	CriticalFiles []string `yaml:"critical_files"`
	// BundlePath, when present on disk, marks a compiled deployment; the
	// compile and test checks are then skipped with a neutral pass.
	BundlePath string `yaml:"bundle_path"`
	// SourceEntry is the expected entry point when running from source.
	SourceEntry string `yaml:"source_entry"`
	// EngineEntry is the safety engine's own entry point, verified for
	// presence and non-emptiness.
	EngineEntry string `yaml:"engine_entry"`
	// CompileCommand and TestCommand are run as bounded subprocesses.
	// Empty slices disable the respective check.
	CompileCommand []string      `yaml:"compile_command"`
	TestCommand    []string      `yaml:"test_command"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Config holds the full engine configuration. Zero-value fields are filled
// from defaults by Load.
type Config struct {
	ProjectRoot string `yaml:"project_root"`
	StateDir    string `yaml:"state_dir"`

	AllowedRoots   []string `yaml:"allowed_roots"`
	ProtectedPaths []string `yaml:"protected_paths"`

	MaxContentBytes   int     `yaml:"max_content_bytes"`
	MinContentBytes   int     `yaml:"min_content_bytes"`
	MaxReductionRatio float64 `yaml:"max_reduction_ratio"`
	ReductionMinSize  int     `yaml:"reduction_min_size"`

	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	RateLimitMaxFiles int           `yaml:"rate_limit_max_files"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`

	Health HealthConfig `yaml:"health"`

	Remotes     []RemoteConfig `yaml:"remotes"`
	Branch      string         `yaml:"branch"`
	SSHKeyPath  string         `yaml:"ssh_key_path"`
	AuthorName  string         `yaml:"author_name"`
	AuthorEmail string         `yaml:"author_email"`

	CheckpointCron         string        `yaml:"checkpoint_cron"`
	RetentionHorizon       time.Duration `yaml:"retention_horizon"`
	MaxCheckpointFileBytes int64         `yaml:"max_checkpoint_file_bytes"`

	DevMode            bool   `yaml:"dev_mode"`
	RestartTriggerFile string `yaml:"restart_trigger_file"`
}

// Default returns the configuration used when no file is supplied. The
// protected list covers the engine's own source, credentials, schema and
// dependency manifests, secrets, kill-switch and billing logic.
func Default(projectRoot string) *Config {
	return &Config{
		ProjectRoot: projectRoot,
		StateDir:    ".modguard",
		AllowedRoots: []string{
			"src", "app", "lib",
		},
		ProtectedPaths: []string{
			"internal/engine",
			"internal/pathguard",
			"internal/guardrail",
			"internal/snapshot",
			"src/server/auth",
			"src/server/billing",
			"src/server/killswitch",
			"src/server/replication",
			"db/schema.sql",
			"go.mod",
			"go.sum",
			"package.json",
			"package-lock.json",
			".env",
			".env.local",
			".env.production",
		},
		MaxContentBytes:   512 * 1024,
		MinContentBytes:   10,
		MaxReductionRatio: 0.85,
		ReductionMinSize:  100,
		RateLimitWindow:   5 * time.Minute,
		RateLimitMaxFiles: 10,
		BreakerThreshold:  3,
		BreakerCooldown:   15 * time.Minute,
		Health: HealthConfig{
			CriticalFiles:  []string{"src/app.ts", "src/server/index.ts"},
			BundlePath:     "dist",
			SourceEntry:    "src/server/index.ts",
			EngineEntry:    "src/server/selfmod/engine.ts",
			CompileCommand: []string{"npx", "tsc", "--noEmit"},
			TestCommand:    []string{"npm", "test", "--", "--reporter=dot"},
			CommandTimeout: 2 * time.Minute,
		},
		Branch:                 "main",
		AuthorName:             "modguard",
		AuthorEmail:            "modguard@localhost",
		CheckpointCron:         "0 */6 * * *",
		RetentionHorizon:       14 * 24 * time.Hour,
		MaxCheckpointFileBytes: 1 << 20,
		RestartTriggerFile:     "tmp/restart.trigger",
	}
}

// Load reads a YAML config file and merges it over the defaults. An empty
// path yields the defaults rooted at the current directory.
func Load(path string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	cfg := Default(cwd)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize resolves paths and backfills zero values so callers never have to
// re-check them.
func (c *Config) finalize() error {
	if c.ProjectRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		c.ProjectRoot = cwd
	}
	abs, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		return err
	}
	c.ProjectRoot = abs

	def := Default(c.ProjectRoot)
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	if len(c.AllowedRoots) == 0 {
		c.AllowedRoots = def.AllowedRoots
	}
	if len(c.ProtectedPaths) == 0 {
		c.ProtectedPaths = def.ProtectedPaths
	}
	if c.MaxContentBytes == 0 {
		c.MaxContentBytes = def.MaxContentBytes
	}
	if c.MinContentBytes == 0 {
		c.MinContentBytes = def.MinContentBytes
	}
	if c.MaxReductionRatio == 0 {
		c.MaxReductionRatio = def.MaxReductionRatio
	}
	if c.ReductionMinSize == 0 {
		c.ReductionMinSize = def.ReductionMinSize
	}
	if c.RateLimitWindow == 0 {
		c.RateLimitWindow = def.RateLimitWindow
	}
	if c.RateLimitMaxFiles == 0 {
		c.RateLimitMaxFiles = def.RateLimitMaxFiles
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	if c.Health.CommandTimeout == 0 {
		c.Health.CommandTimeout = def.Health.CommandTimeout
	}
	if c.Branch == "" {
		c.Branch = def.Branch
	}
	if c.AuthorName == "" {
		c.AuthorName = def.AuthorName
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = def.AuthorEmail
	}
	if c.CheckpointCron == "" {
		c.CheckpointCron = def.CheckpointCron
	}
	if c.RetentionHorizon == 0 {
		c.RetentionHorizon = def.RetentionHorizon
	}
	if c.MaxCheckpointFileBytes == 0 {
		c.MaxCheckpointFileBytes = def.MaxCheckpointFileBytes
	}
	if c.RestartTriggerFile == "" {
		c.RestartTriggerFile = def.RestartTriggerFile
	}

	// Ensure the state directory exists up front.
	if err := os.MkdirAll(c.StateDirPath(), 0755); err != nil {
		return err
	}
	return nil
}

// StateDirPath returns the absolute state directory.
func (c *Config) StateDirPath() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.ProjectRoot, c.StateDir)
}

// DatabasePath returns the sqlite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDirPath(), "modguard.db")
}

// RestartTriggerPath returns the absolute dev-mode restart trigger file.
func (c *Config) RestartTriggerPath() string {
	if filepath.IsAbs(c.RestartTriggerFile) {
		return c.RestartTriggerFile
	}
	return filepath.Join(c.ProjectRoot, c.RestartTriggerFile)
}
