// Package paths creates and probes the directories the manager writes to.
// All locations are injected by the caller; nothing here consults the home
// directory or any other process-wide state.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// Ensure creates dir if needed and verifies it is writable by creating and
// removing a probe file. An unwritable directory fails here rather than on
// first use.
func Ensure(dir string) error {
	if dir == "" {
		return fmt.Errorf("directory path cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("failed to remove probe file in %s: %w", dir, err)
	}
	return nil
}

// BackupsDir returns the backup store directory under pluginsDir, creating
// it if needed.
func BackupsDir(pluginsDir string) (string, error) {
	p := filepath.Join(pluginsDir, "backups")
	if err := Ensure(p); err != nil {
		return "", err
	}
	return p, nil
}
