package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0600))
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.ArtifactFile, cfg.ArtifactFile)
	assert.Equal(t, def.BackupFile, cfg.BackupFile)
	assert.Equal(t, def.ExecTimeoutMS, cfg.ExecTimeoutMS)
	assert.Equal(t, def.MaxExecutionSteps, cfg.MaxExecutionSteps)
	assert.Equal(t, 1<<20, cfg.MaxResultBytes)
	assert.False(t, cfg.PreserveOnStart)
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"exec_timeout_ms": 250, "artifact_file": "tools.star", "skip_preflight": true}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.ExecTimeoutMS)
	assert.Equal(t, 250*time.Millisecond, cfg.ExecTimeout())
	assert.Equal(t, "tools.star", cfg.ArtifactFile)
	assert.Equal(t, filepath.Join(tmpDir, "tools.star"), cfg.ArtifactPath(tmpDir))
	assert.True(t, cfg.SkipPreflight)
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{not json}`)

	_, err := Load(tmpDir)
	require.Error(t, err)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative timeout", `{"exec_timeout_ms": -1}`},
		{"artifact with separator", `{"artifact_file": "../escape.star"}`},
		{"backup equals artifact", `{"artifact_file": "a.star", "backup_file": "a.star"}`},
		{"negative pool", `{"db_max_open_conns": -3}`},
		{"negative result cap", `{"max_result_bytes": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			writeConfig(t, tmpDir, tt.body)

			_, err := Load(tmpDir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"disabled_tools": ["list_all_users", "search_privileged_accounts"]}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"list_all_users", "search_privileged_accounts"}, cfg.DisabledTools)
}

func TestLoad_DisabledToolsEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Empty(t, cfg.DisabledTools)
}

func TestDirectoryPath(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("/base", "directory.yaml"), cfg.DirectoryPath("/base"))

	cfg.DirectoryFile = "/etc/lichen/directory.yaml"
	assert.Equal(t, "/etc/lichen/directory.yaml", cfg.DirectoryPath("/base"))
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	writeConfig(t, globalDir, `{"exec_timeout_ms": 8000, "extra_deny_tokens": ["getattr("]}`)
	writeConfig(t, filepath.Join(repoRoot, ".lichen"), `{"exec_timeout_ms": 500, "extra_deny_tokens": ["struct("]}`)

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.ExecTimeoutMS, "repo overrides scalar")
	assert.ElementsMatch(t, []string{"getattr(", "struct("}, cfg.ExtraDenyTokens)
}

func TestLoadWithRepo_OnlyGlobal(t *testing.T) {
	globalDir := t.TempDir()
	writeConfig(t, globalDir, `{"preserve_on_start": true, "disabled_tools": ["list_all_users"]}`)

	cfg, err := LoadWithRepo(globalDir, t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.PreserveOnStart)
	assert.Equal(t, []string{"list_all_users"}, cfg.DisabledTools)
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().ExecTimeoutMS, cfg.ExecTimeoutMS)
	assert.Empty(t, cfg.DisabledTools)
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, filepath.Join(tmpDir, ".lichen"), `{"disabled_tools": ["generate_and_run_tool"]}`)

	subdir := filepath.Join(tmpDir, "subdir", "deeper")
	require.NoError(t, os.MkdirAll(subdir, 0755))

	cfg, err := LoadWithRepo(t.TempDir(), subdir)
	require.NoError(t, err)
	assert.Equal(t, []string{"generate_and_run_tool"}, cfg.DisabledTools)
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{ExecTimeoutMS: 10000, DBMaxOpenConns: 5, ArtifactFile: "a.star", MaxResultBytes: 100}
	overlay := &Config{ExecTimeoutMS: 5000}

	result := Merge(base, overlay)

	assert.Equal(t, 5000, result.ExecTimeoutMS)
	assert.Equal(t, 100, result.MaxResultBytes)
	assert.Equal(t, 5, result.DBMaxOpenConns, "base kept when overlay is zero")
	assert.Equal(t, "a.star", result.ArtifactFile)
}

func TestMerge_BooleanOr(t *testing.T) {
	result := Merge(&Config{AllowUnsafePaths: true}, &Config{SkipPreflight: true})

	assert.True(t, result.AllowUnsafePaths)
	assert.True(t, result.SkipPreflight)
	assert.False(t, result.PreserveOnStart)
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTools: []string{"a", "b"}}
	overlay := &Config{DisabledTools: []string{" b ", "c", ""}}

	result := Merge(base, overlay)

	assert.Equal(t, []string{"a", "b", "c"}, result.DisabledTools)
}

func TestFindRepoConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configDir := filepath.Join(tmpDir, ".lichen")
	writeConfig(t, configDir, `{}`)
	configPath := filepath.Join(configDir, "config.json")

	assert.Equal(t, configPath, FindRepoConfig(tmpDir))

	subdir := filepath.Join(tmpDir, "a", "b")
	require.NoError(t, os.MkdirAll(subdir, 0755))
	assert.Equal(t, configPath, FindRepoConfig(subdir))

	assert.Equal(t, "", FindRepoConfig(""))
}
