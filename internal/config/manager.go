// Package config is the persistence and transaction core of the plugin
// manager. It owns two on-disk JSON documents, the repository registry
// (config.json) and the enabled-plugin settings (settings.json), and is the
// only writer for either. Every mutation runs a full read, mutate, atomic
// write cycle under one lock; the documents are whole-document replaced, so
// interleaved unsynchronized read-modify-write would lose updates.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"plugin/manager/internal/atomicfile"
	"plugin/manager/internal/backup"
	"plugin/manager/internal/paths"
)

const registryFileName = "config.json"

// Manager is the single authority for the registry and settings documents.
// All methods are safe for concurrent use.
type Manager struct {
	pluginsDir   string
	registryPath string
	settingsPath string

	mu      sync.Mutex
	log     *slog.Logger
	backups *backup.Store
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates a manager rooted at pluginsDir with settings at settingsPath.
// Both directories are created eagerly; an uncreatable or unwritable
// directory fails here with a PermissionError rather than on first use.
func New(pluginsDir, settingsPath string, opts ...Option) (*Manager, error) {
	if pluginsDir == "" {
		return nil, fmt.Errorf("plugins directory cannot be empty")
	}
	if settingsPath == "" {
		return nil, fmt.Errorf("settings path cannot be empty")
	}

	m := &Manager{
		pluginsDir:   pluginsDir,
		registryPath: filepath.Join(pluginsDir, registryFileName),
		settingsPath: settingsPath,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := paths.Ensure(pluginsDir); err != nil {
		return nil, &PermissionError{Dir: pluginsDir, Err: err}
	}
	settingsDir := filepath.Dir(settingsPath)
	if err := paths.Ensure(settingsDir); err != nil {
		return nil, &PermissionError{Dir: settingsDir, Err: err}
	}
	backupsDir, err := paths.BackupsDir(pluginsDir)
	if err != nil {
		return nil, &PermissionError{Dir: pluginsDir, Err: err}
	}
	store, err := backup.NewStore(backupsDir, m.log)
	if err != nil {
		return nil, &PermissionError{Dir: backupsDir, Err: err}
	}
	m.backups = store
	return m, nil
}

// RegistryPath returns the registry document location.
func (m *Manager) RegistryPath() string { return m.registryPath }

// SettingsPath returns the settings document location.
func (m *Manager) SettingsPath() string { return m.settingsPath }

// AddRepository registers owner/repo, merging caller metadata into a fresh
// entry. Well-known metadata keys (lastUpdated, commitSha, url, plugins) map
// to typed fields; unknown keys are preserved verbatim. lastUpdated defaults
// to now and plugins to an empty list.
func (m *Manager) AddRepository(owner, repo string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addRepository(owner, repo, metadata)
}

// RemoveRepository deletes the owner/repo entry. Removing an absent
// repository is a no-op.
func (m *Manager) RemoveRepository(owner, repo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeRepository(owner, repo)
}

// EnablePlugin adds name under repoKey in enabledPlugins with set semantics.
func (m *Manager) EnablePlugin(repoKey, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enablePlugin(repoKey, name)
}

// DisablePlugin removes name from repoKey's list; when the list empties the
// key is removed entirely. Disabling a plugin that was never enabled is a
// no-op.
func (m *Manager) DisablePlugin(repoKey, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disablePlugin(repoKey, name)
}

// Repositories returns a deep copy of the current registry entries.
func (m *Manager) Repositories() (map[string]*RepositoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, err := m.loadRegistry()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*RepositoryEntry, len(reg.Repositories))
	for k, v := range reg.Repositories {
		out[k] = v.clone()
	}
	return out, nil
}

// EnabledPlugins returns a copy of the current enabledPlugins map.
func (m *Manager) EnabledPlugins() (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, err := m.loadSettings()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(doc.enabled))
	for k, v := range doc.enabled {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

// BackupConfig snapshots path into the backup store.
func (m *Manager) BackupConfig(path string, metadata map[string]string) (*backup.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backups.Create(path, metadata)
}

// RestoreConfig restores path from its most recent backup, verifying the
// checksum. Returns false when the backup fails verification.
func (m *Manager) RestoreConfig(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records, err := m.backups.List(path)
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, fmt.Errorf("no backups found for %s", path)
	}
	return m.backups.Restore(records[0], true)
}

// ListBackups returns backup records newest-first, optionally filtered to
// one original file.
func (m *Manager) ListBackups(path string) ([]*backup.Record, error) {
	return m.backups.List(path)
}

// CleanupBackups prunes the backup store, always keeping the keepCount
// newest backups per file. Returns the number removed.
func (m *Manager) CleanupBackups(keepCount int, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backups.CleanupOld(keepCount, maxAge)
}

// --- unexported mutation cycle, caller holds m.mu ---

func (m *Manager) addRepository(owner, repo string, metadata map[string]any) error {
	if err := validateToken(owner, "owner"); err != nil {
		return err
	}
	if err := validateToken(repo, "repo"); err != nil {
		return err
	}

	entry := &RepositoryEntry{
		LastUpdated: time.Now().UTC(),
		Plugins:     []string{},
	}
	if err := applyMetadata(entry, metadata); err != nil {
		return err
	}

	reg, err := m.loadRegistry()
	if err != nil {
		return err
	}
	key := owner + "/" + repo
	reg.Repositories[key] = entry
	if err := m.saveRegistry(reg); err != nil {
		return err
	}
	m.log.Debug("added repository", "key", key, "plugins", len(entry.Plugins))
	return nil
}

func (m *Manager) removeRepository(owner, repo string) error {
	reg, err := m.loadRegistry()
	if err != nil {
		return err
	}
	key := owner + "/" + repo
	if _, ok := reg.Repositories[key]; !ok {
		return nil
	}
	delete(reg.Repositories, key)
	if err := m.saveRegistry(reg); err != nil {
		return err
	}
	m.log.Debug("removed repository", "key", key)
	return nil
}

func (m *Manager) enablePlugin(repoKey, name string) error {
	if repoKey == "" || name == "" {
		return fmt.Errorf("repository key and plugin name cannot be empty")
	}
	doc, err := m.loadSettings()
	if err != nil {
		return err
	}
	if slices.Contains(doc.enabled[repoKey], name) {
		return nil
	}
	doc.enabled[repoKey] = append(doc.enabled[repoKey], name)
	if err := m.saveSettings(doc); err != nil {
		return err
	}
	m.log.Debug("enabled plugin", "key", repoKey, "plugin", name)
	return nil
}

func (m *Manager) disablePlugin(repoKey, name string) error {
	doc, err := m.loadSettings()
	if err != nil {
		return err
	}
	list := doc.enabled[repoKey]
	idx := slices.Index(list, name)
	if idx < 0 {
		return nil
	}
	list = slices.Delete(list, idx, idx+1)
	if len(list) == 0 {
		// Never leave an empty list behind.
		delete(doc.enabled, repoKey)
	} else {
		doc.enabled[repoKey] = list
	}
	if err := m.saveSettings(doc); err != nil {
		return err
	}
	m.log.Debug("disabled plugin", "key", repoKey, "plugin", name)
	return nil
}

// --- document IO ---

func (m *Manager) loadRegistry() (*Registry, error) {
	data, err := os.ReadFile(m.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, &ConfigurationError{Path: m.registryPath, Err: err}
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, &ConfigurationError{Path: m.registryPath, Err: err}
	}
	if reg.Repositories == nil {
		reg.Repositories = map[string]*RepositoryEntry{}
	}
	return &reg, nil
}

func (m *Manager) saveRegistry(reg *Registry) error {
	if reg.Version == "" {
		reg.Version = registryVersion
	}
	w := &atomicfile.Writer{Path: m.registryPath, BackupOnWrite: true}
	if err := w.WriteJSON(reg); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

func (m *Manager) loadSettings() (*settingsDoc, error) {
	data, err := os.ReadFile(m.settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return newSettingsDoc(), nil
		}
		return nil, &ConfigurationError{Path: m.settingsPath, Err: err}
	}
	doc, err := parseSettingsDoc(data)
	if err != nil {
		return nil, &ConfigurationError{Path: m.settingsPath, Err: err}
	}
	return doc, nil
}

func (m *Manager) saveSettings(doc *settingsDoc) error {
	encoded, err := doc.encode()
	if err != nil {
		return &ConfigurationError{Path: m.settingsPath, Err: err}
	}
	w := &atomicfile.Writer{Path: m.settingsPath, BackupOnWrite: true}
	if err := w.WriteJSON(encoded); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// --- metadata handling ---

func validateToken(s, what string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	if strings.Contains(s, "/") {
		return fmt.Errorf("%s cannot contain '/': %q", what, s)
	}
	return nil
}

func applyMetadata(entry *RepositoryEntry, metadata map[string]any) error {
	for k, v := range metadata {
		switch k {
		case "lastUpdated":
			switch t := v.(type) {
			case time.Time:
				entry.LastUpdated = t
			case string:
				parsed, err := time.Parse(time.RFC3339, t)
				if err != nil {
					return fmt.Errorf("invalid lastUpdated metadata: %w", err)
				}
				entry.LastUpdated = parsed
			default:
				return fmt.Errorf("invalid lastUpdated metadata type %T", v)
			}
		case "commitSha":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("invalid commitSha metadata type %T", v)
			}
			entry.CommitSHA = s
		case "url":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("invalid url metadata type %T", v)
			}
			entry.URL = s
		case "plugins":
			names, err := toStringSlice(v)
			if err != nil {
				return fmt.Errorf("invalid plugins metadata: %w", err)
			}
			entry.Plugins = names
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("unserializable metadata key %q: %w", k, err)
			}
			if entry.Extra == nil {
				entry.Extra = map[string]json.RawMessage{}
			}
			entry.Extra[k] = raw
		}
	}
	return nil
}

func toStringSlice(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", v)
	}
}
