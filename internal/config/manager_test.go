package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	tmpDir := t.TempDir()
	m, err := New(
		filepath.Join(tmpDir, "plugins"),
		filepath.Join(tmpDir, "claude", "settings.json"),
	)
	require.NoError(t, err)
	return m
}

func TestNewCreatesDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	pluginsDir := filepath.Join(tmpDir, "plugins")
	settingsPath := filepath.Join(tmpDir, "claude", "settings.json")

	_, err := New(pluginsDir, settingsPath)
	require.NoError(t, err)

	assert.DirExists(t, pluginsDir)
	assert.DirExists(t, filepath.Join(pluginsDir, "backups"))
	assert.DirExists(t, filepath.Dir(settingsPath))
}

func TestNewPermissionError(t *testing.T) {
	tmpDir := t.TempDir()
	// A file where the plugins directory should go makes MkdirAll fail.
	blocked := filepath.Join(tmpDir, "plugins")
	require.NoError(t, os.WriteFile(blocked, []byte("in the way"), 0o644))

	_, err := New(blocked, filepath.Join(tmpDir, "settings.json"))
	require.Error(t, err)
	var permErr *PermissionError
	assert.ErrorAs(t, err, &permErr)
}

func TestAddRepositoryRoundTrip(t *testing.T) {
	m := newTestManager(t)

	err := m.AddRepository("acme", "tools", map[string]any{
		"plugins":   []string{"lint", "format"},
		"url":       "https://github.com/acme/tools",
		"commitSha": "abc123",
		"channel":   "stable",
	})
	require.NoError(t, err)

	repos, err := m.Repositories()
	require.NoError(t, err)
	entry, ok := repos["acme/tools"]
	require.True(t, ok, "entry must be keyed by owner/repo")

	assert.Equal(t, []string{"lint", "format"}, entry.Plugins)
	assert.Equal(t, "https://github.com/acme/tools", entry.URL)
	assert.Equal(t, "abc123", entry.CommitSHA)
	assert.False(t, entry.LastUpdated.IsZero(), "lastUpdated auto-populated")

	var channel string
	require.NoError(t, json.Unmarshal(entry.Extra["channel"], &channel))
	assert.Equal(t, "stable", channel, "caller-supplied keys survive the round-trip")

	// The persisted document carries the extension key too.
	data, err := os.ReadFile(m.RegistryPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel"`)
}

func TestAddRepositoryValidatesTokens(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.AddRepository("", "tools", nil))
	assert.Error(t, m.AddRepository("acme", "", nil))
	assert.Error(t, m.AddRepository("ac/me", "tools", nil))
	assert.Error(t, m.AddRepository("acme", "to/ols", nil))
	assert.Error(t, m.AddRepository("   ", "tools", nil))
}

func TestRemoveRepositoryIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddRepository("acme", "tools", nil))

	require.NoError(t, m.RemoveRepository("acme", "tools"))
	require.NoError(t, m.RemoveRepository("acme", "tools"), "second remove is a no-op")

	repos, err := m.Repositories()
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestEnablePluginIdempotent(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.EnablePlugin("acme/tools", "lint"))
	require.NoError(t, m.EnablePlugin("acme/tools", "lint"))

	enabled, err := m.EnabledPlugins()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, enabled["acme/tools"], "exactly one occurrence")
}

func TestDisableLastPluginRemovesKey(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnablePlugin("acme/tools", "lint"))

	require.NoError(t, m.DisablePlugin("acme/tools", "lint"))

	enabled, err := m.EnabledPlugins()
	require.NoError(t, err)
	_, present := enabled["acme/tools"]
	assert.False(t, present, "key must be absent, never an empty list")
}

func TestDisableUnknownPluginNoOp(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.EnablePlugin("acme/tools", "lint"))

	require.NoError(t, m.DisablePlugin("acme/tools", "never-enabled"))
	require.NoError(t, m.DisablePlugin("other/repo", "lint"))

	enabled, err := m.EnabledPlugins()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, enabled["acme/tools"])
}

func TestScenarioAddEnableDisable(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.AddRepository("acme", "tools", map[string]any{
		"plugins": []string{"lint", "format"},
	}))
	require.NoError(t, m.EnablePlugin("acme/tools", "lint"))

	repos, err := m.Repositories()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint", "format"}, repos["acme/tools"].Plugins)

	enabled, err := m.EnabledPlugins()
	require.NoError(t, err)
	assert.Equal(t, []string{"lint"}, enabled["acme/tools"])

	require.NoError(t, m.DisablePlugin("acme/tools", "lint"))
	enabled, err = m.EnabledPlugins()
	require.NoError(t, err)
	_, present := enabled["acme/tools"]
	assert.False(t, present)
}

func TestUnrelatedSettingsKeysSurvive(t *testing.T) {
	m := newTestManager(t)

	// Seed settings.json with application keys this manager knows nothing
	// about.
	seed := `{
  "theme": "dark",
  "editor": {"fontSize": 14, "tabWidth": 2},
  "enabledPlugins": {}
}`
	require.NoError(t, os.WriteFile(m.SettingsPath(), []byte(seed), 0o644))

	require.NoError(t, m.EnablePlugin("acme/tools", "lint"))
	require.NoError(t, m.DisablePlugin("acme/tools", "lint"))

	data, err := os.ReadFile(m.SettingsPath())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "dark", doc["theme"])
	editor, ok := doc["editor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(14), editor["fontSize"])
	assert.Equal(t, float64(2), editor["tabWidth"])
}

func TestCorruptRegistryIsFatalOnRead(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.RegistryPath(), []byte("{not json"), 0o644))

	err := m.AddRepository("acme", "tools", nil)
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = m.Repositories()
	var cfgErr2 *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr2)
}

func TestCorruptSettingsIsFatalOnRead(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, os.WriteFile(m.SettingsPath(), []byte("[]"), 0o644))

	err := m.EnablePlugin("acme/tools", "lint")
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestConcurrentAddRepository(t *testing.T) {
	m := newTestManager(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.AddRepository(fmt.Sprintf("owner%d", i), fmt.Sprintf("repo%d", i), nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	repos, err := m.Repositories()
	require.NoError(t, err)
	assert.Len(t, repos, n, "no lost updates")
}

func TestBackupAndRestoreConfig(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddRepository("acme", "tools", nil))

	before, err := os.ReadFile(m.RegistryPath())
	require.NoError(t, err)

	_, err = m.BackupConfig(m.RegistryPath(), map[string]string{"reason": "test"})
	require.NoError(t, err)

	require.NoError(t, m.AddRepository("other", "repo", nil))

	ok, err := m.RestoreConfig(m.RegistryPath())
	require.NoError(t, err)
	require.True(t, ok)

	after, err := os.ReadFile(m.RegistryPath())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestCleanupBackups(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddRepository("acme", "tools", nil))

	for i := 0; i < 3; i++ {
		_, err := m.BackupConfig(m.RegistryPath(), nil)
		require.NoError(t, err)
	}

	// Nothing is old enough to prune.
	removed, err := m.CleanupBackups(1, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	records, err := m.ListBackups(m.RegistryPath())
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRepositoriesReturnsCopy(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.AddRepository("acme", "tools", map[string]any{
		"plugins": []string{"lint"},
	}))

	repos, err := m.Repositories()
	require.NoError(t, err)
	repos["acme/tools"].Plugins[0] = "mutated"
	delete(repos, "acme/tools")

	again, err := m.Repositories()
	require.NoError(t, err)
	require.Contains(t, again, "acme/tools")
	assert.Equal(t, []string{"lint"}, again["acme/tools"].Plugins)
}
