package config

import (
	"fmt"
	"sort"
	"strings"
)

// SyncResult reports the outcome of a team-config sync. Success is true only
// when no entry failed.
type SyncResult struct {
	Success        bool     `json:"success"`
	InstalledCount int      `json:"installed_count"`
	FailedCount    int      `json:"failed_count"`
	Errors         []string `json:"errors,omitempty"`
}

// SyncTeamConfig applies a team configuration mapping "owner/repo" keys to
// plugin name lists. Each entry is registered and its plugins enabled; a
// malformed key or a failed write is recorded per entry and never aborts the
// rest of the batch.
func (m *Manager) SyncTeamConfig(teamConfig map[string][]string) *SyncResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &SyncResult{}

	keys := make([]string, 0, len(teamConfig))
	for k := range teamConfig {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		owner, repo, err := splitRepoKey(key)
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		if err := m.applyTeamEntry(owner, repo, key, teamConfig[key]); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		result.InstalledCount++
	}

	result.Success = result.FailedCount == 0
	m.log.Info("team config sync finished",
		"installed", result.InstalledCount, "failed", result.FailedCount)
	return result
}

func (m *Manager) applyTeamEntry(owner, repo, key string, plugins []string) error {
	if err := m.addRepository(owner, repo, nil); err != nil {
		return err
	}
	for _, name := range plugins {
		if err := m.enablePlugin(key, name); err != nil {
			return err
		}
	}
	return nil
}

// splitRepoKey parses an "owner/repo" key, requiring exactly one slash and
// two non-empty tokens.
func splitRepoKey(key string) (owner, repo string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("key must be exactly \"owner/repo\"")
	}
	owner, repo = parts[0], parts[1]
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return "", "", fmt.Errorf("owner and repo cannot be empty")
	}
	return owner, repo, nil
}
