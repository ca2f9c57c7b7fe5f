// Package atomicfile writes files so the target is never observed partially
// written. A write lands in a uniquely named temp file in the target's
// directory, is fsynced, and is renamed over the target; a crash or error at
// any step leaves the target exactly as it was.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer persists content to Path atomically. When BackupOnWrite is set, the
// existing target is copied aside before the rename and restored if the write
// fails partway.
type Writer struct {
	Path          string
	BackupOnWrite bool
}

// New returns a Writer for the given target path.
func New(path string) *Writer {
	return &Writer{Path: path}
}

// WriteJSON serializes v as pretty-printed JSON and writes it atomically.
func (w *Writer) WriteJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return w.WriteWith(func(tmp *os.File) error {
		_, err := tmp.Write(data)
		return err
	})
}

// WriteBytes writes raw content atomically.
func (w *Writer) WriteBytes(data []byte) error {
	return w.WriteWith(func(tmp *os.File) error {
		_, err := tmp.Write(data)
		return err
	})
}

// WriteWith hands a temp file to fn for the caller to populate, then applies
// the fsync+rename protocol. If fn or any later step fails, the temp file is
// removed and the target keeps its prior content (or stays absent).
func (w *Writer) WriteWith(fn func(tmp *os.File) error) (err error) {
	dir := filepath.Dir(w.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Temp file lives next to the target so the rename stays on one
	// filesystem. CreateTemp names are unique per process and thread.
	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(w.Path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	// Clean up temp file on any error, including a panic in fn.
	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	var backupPath string
	if w.BackupOnWrite {
		if _, statErr := os.Stat(w.Path); statErr == nil {
			backupPath = tempPath + ".bak"
			if copyErr := copyFile(w.Path, backupPath); copyErr != nil {
				return fmt.Errorf("failed to back up existing target: %w", copyErr)
			}
		}
	}
	defer func() {
		if backupPath == "" {
			return
		}
		if err != nil {
			// The rename never happened or failed; put the original
			// back if it went missing.
			if _, statErr := os.Stat(w.Path); os.IsNotExist(statErr) {
				_ = copyFile(backupPath, w.Path)
			}
		}
		os.Remove(backupPath)
	}()

	if err := fn(tempFile); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, w.Path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	// Successfully renamed - don't remove temp file in defer
	tempFile = nil
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
