package config

import (
	"errors"
	"fmt"
	"os"

	"plugin/manager/internal/atomicfile"
)

// Tx exposes the manager's mutations inside a transaction scope. The manager
// lock is held for the whole scope, so a transaction is also a critical
// section against concurrent callers.
type Tx struct {
	m *Manager
}

func (t *Tx) AddRepository(owner, repo string, metadata map[string]any) error {
	return t.m.addRepository(owner, repo, metadata)
}

func (t *Tx) RemoveRepository(owner, repo string) error {
	return t.m.removeRepository(owner, repo)
}

func (t *Tx) EnablePlugin(repoKey, name string) error {
	return t.m.enablePlugin(repoKey, name)
}

func (t *Tx) DisablePlugin(repoKey, name string) error {
	return t.m.disablePlugin(repoKey, name)
}

// Repositories returns a deep copy of the registry as currently persisted
// inside the transaction.
func (t *Tx) Repositories() (map[string]*RepositoryEntry, error) {
	reg, err := t.m.loadRegistry()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*RepositoryEntry, len(reg.Repositories))
	for k, v := range reg.Repositories {
		out[k] = v.clone()
	}
	return out, nil
}

// EnabledPlugins returns a copy of enabledPlugins as currently persisted
// inside the transaction.
func (t *Tx) EnabledPlugins() (map[string][]string, error) {
	doc, err := t.m.loadSettings()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(doc.enabled))
	for k, v := range doc.enabled {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

// snapshot captures a document's raw bytes, or its absence, at transaction
// start.
type snapshot struct {
	path    string
	content []byte
	exists  bool
}

func takeSnapshot(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot{path: path}, nil
		}
		return snapshot{}, &ConfigurationError{Path: path, Err: err}
	}
	return snapshot{path: path, content: data, exists: true}, nil
}

// restore puts the document back exactly as captured: prior bytes verbatim,
// or removed if it did not exist.
func (s snapshot) restore() error {
	if !s.exists {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s during rollback: %w", s.path, err)
		}
		return nil
	}
	if err := atomicfile.New(s.path).WriteBytes(s.content); err != nil {
		return fmt.Errorf("failed to restore %s during rollback: %w", s.path, err)
	}
	return nil
}

// Transaction runs fn with all-or-nothing semantics across both documents.
// Each mutation inside the scope persists normally; if fn returns a non-nil
// error or panics, both documents are restored verbatim to their
// pre-transaction state before the error (or panic) propagates. On success
// the snapshots are discarded and the applied changes stay committed.
func (m *Manager) Transaction(fn func(tx *Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	regSnap, err := takeSnapshot(m.registryPath)
	if err != nil {
		return err
	}
	setSnap, err := takeSnapshot(m.settingsPath)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := m.rollback(regSnap, setSnap); rbErr != nil {
				m.log.Error("rollback after panic failed", "error", rbErr)
			}
			panic(p)
		}
		if err != nil {
			if rbErr := m.rollback(regSnap, setSnap); rbErr != nil {
				err = errors.Join(err, rbErr)
			} else {
				m.log.Info("transaction rolled back", "cause", err)
			}
		}
	}()

	return fn(&Tx{m: m})
}

func (m *Manager) rollback(snaps ...snapshot) error {
	var errs []error
	for _, s := range snaps {
		if err := s.restore(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
