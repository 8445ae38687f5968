package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator caches struct metadata per type.
var validate = validator.New()

// Config holds application configuration.
type Config struct {
	// ArtifactFile is the capability artifact file name, relative to the base directory.
	ArtifactFile string `json:"artifact_file,omitempty" validate:"required,excludesall=/\\"`

	// BackupFile is the backup of the pre-extension artifact, relative to the base directory.
	BackupFile string `json:"backup_file,omitempty" validate:"required,excludesall=/\\,nefield=ArtifactFile"`

	// DirectoryFile is the YAML directory fixture, relative to the base directory
	// unless absolute.
	DirectoryFile string `json:"directory_file,omitempty" validate:"required"`

	// ExecTimeoutMS bounds each capability execution (wall clock). 0 disables the timeout.
	ExecTimeoutMS int `json:"exec_timeout_ms,omitempty" validate:"gte=0"`

	// MaxExecutionSteps bounds each capability execution in interpreter steps.
	// 0 means unlimited.
	MaxExecutionSteps uint64 `json:"max_execution_steps,omitempty"`

	// MaxResultBytes caps the rendered result of a capability execution.
	// Larger results fail the execution. 0 means unlimited.
	MaxResultBytes int `json:"max_result_bytes,omitempty" validate:"gte=0"`

	// PreserveOnStart keeps previously synthesized capabilities when the MCP server
	// starts. By default the server resets to the baseline on every start.
	PreserveOnStart bool `json:"preserve_on_start,omitempty"`

	// SkipPreflight disables the dry-run load that runs before a capability is
	// appended. With it disabled, a capability that does not load is still
	// persisted and reported as a reload failure.
	SkipPreflight bool `json:"skip_preflight,omitempty"`

	// ExtraDenyTokens are appended to the built-in capability body denylist.
	// Matching is case-insensitive substring.
	ExtraDenyTokens []string `json:"extra_deny_tokens,omitempty" validate:"dive,required"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside ~/.lichen/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// When true, any directory is allowed (but symlink and extension checks still apply).
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open ledger database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" validate:"gte=0"`

	// DBMaxIdleConns limits the maximum number of idle ledger database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" validate:"gte=0"`

	// DisabledTools is a list of tool names to hide from the MCP surface.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ArtifactFile:      "capabilities.star",
		BackupFile:        "capabilities.star.bak",
		DirectoryFile:     "directory.yaml",
		ExecTimeoutMS:     5000,
		MaxExecutionSteps: 1_000_000,
		MaxResultBytes:    1 << 20,
	}
}

// Validate checks field constraints after defaults and overlays are merged.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// ExecTimeout returns ExecTimeoutMS as a duration (0 = no timeout).
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutMS) * time.Millisecond
}

// ArtifactPath resolves the artifact file against baseDir.
func (c *Config) ArtifactPath(baseDir string) string {
	return filepath.Join(baseDir, c.ArtifactFile)
}

// BackupPath resolves the backup file against baseDir.
func (c *Config) BackupPath(baseDir string) string {
	return filepath.Join(baseDir, c.BackupFile)
}

// DirectoryPath resolves the directory fixture against baseDir.
// Absolute paths are returned unchanged.
func (c *Config) DirectoryPath(baseDir string) string {
	if filepath.IsAbs(c.DirectoryFile) {
		return c.DirectoryFile
	}
	return filepath.Join(baseDir, c.DirectoryFile)
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.lichen.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.lichen) and repo (.lichen) directories.
// Repo config is found by walking upward from startDir to find the nearest .lichen/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .lichen/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".lichen", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.ArtifactFile = firstNonEmpty(overlay.ArtifactFile, base.ArtifactFile)
	result.BackupFile = firstNonEmpty(overlay.BackupFile, base.BackupFile)
	result.DirectoryFile = firstNonEmpty(overlay.DirectoryFile, base.DirectoryFile)

	result.ExecTimeoutMS = overlay.ExecTimeoutMS
	if result.ExecTimeoutMS == 0 {
		result.ExecTimeoutMS = base.ExecTimeoutMS
	}

	result.MaxExecutionSteps = overlay.MaxExecutionSteps
	if result.MaxExecutionSteps == 0 {
		result.MaxExecutionSteps = base.MaxExecutionSteps
	}

	result.MaxResultBytes = overlay.MaxResultBytes
	if result.MaxResultBytes == 0 {
		result.MaxResultBytes = base.MaxResultBytes
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Booleans: overlay wins if true, else base
	result.PreserveOnStart = base.PreserveOnStart || overlay.PreserveOnStart
	result.SkipPreflight = base.SkipPreflight || overlay.SkipPreflight
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.ExtraDenyTokens = mergeStringSlice(base.ExtraDenyTokens, overlay.ExtraDenyTokens)
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
