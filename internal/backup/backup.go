// Package backup keeps checksummed, timestamped copies of config files.
// Each backup is a verbatim copy plus a JSON sidecar record; restores verify
// the checksum before touching the original.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"plugin/manager/internal/atomicfile"
	"plugin/manager/internal/paths"
)

const metaSuffix = ".meta"

// Record describes one stored backup. The checksum is the hex SHA-256 of the
// backup file's content at creation time.
type Record struct {
	ID           string            `json:"id"`
	OriginalPath string            `json:"originalPath"`
	BackupPath   string            `json:"backupPath"`
	Timestamp    time.Time         `json:"timestamp"`
	Checksum     string            `json:"checksum"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Store is a backup archive rooted at a single directory. The store is
// append-mostly; files are removed only by CleanupOld.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore opens (creating if needed) a backup store at dir.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := paths.Ensure(dir); err != nil {
		return nil, err
	}
	return &Store{dir: dir, log: log}, nil
}

// Create copies the current content of path into the store and writes a
// sidecar record carrying checksum, timestamp, and caller metadata.
func (s *Store) Create(path string, metadata map[string]string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	sum := sha256.Sum256(data)
	now := time.Now().UTC()
	// Unix timestamp plus a uuid fragment so same-second backups of one
	// file never collide.
	id := fmt.Sprintf("%d.%s", now.Unix(), uuid.NewString()[:8])
	backupPath := filepath.Join(s.dir, fmt.Sprintf("%s.backup.%s", filepath.Base(path), id))

	rec := &Record{
		ID:           id,
		OriginalPath: path,
		BackupPath:   backupPath,
		Timestamp:    now,
		Checksum:     hex.EncodeToString(sum[:]),
		Metadata:     metadata,
	}

	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := atomicfile.New(backupPath + metaSuffix).WriteJSON(rec); err != nil {
		os.Remove(backupPath)
		return nil, fmt.Errorf("failed to write backup record: %w", err)
	}

	s.log.Debug("created backup", "original", path, "backup", backupPath)
	return rec, nil
}

// Restore copies the backup content back over the original path. With
// verifyChecksum set, a content mismatch aborts the restore and returns
// false with the original untouched.
func (s *Store) Restore(rec *Record, verifyChecksum bool) (bool, error) {
	if rec == nil {
		return false, fmt.Errorf("backup record cannot be nil")
	}
	data, err := os.ReadFile(rec.BackupPath)
	if err != nil {
		return false, fmt.Errorf("failed to read backup file: %w", err)
	}
	if verifyChecksum {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != rec.Checksum {
			s.log.Warn("backup checksum mismatch, refusing restore",
				"backup", rec.BackupPath)
			return false, nil
		}
	}
	if err := atomicfile.New(rec.OriginalPath).WriteBytes(data); err != nil {
		return false, fmt.Errorf("failed to restore %s: %w", rec.OriginalPath, err)
	}
	s.log.Info("restored backup", "original", rec.OriginalPath, "backup", rec.BackupPath)
	return true, nil
}

// List returns records newest-first. A non-empty originalPath filters to
// backups of that file.
func (s *Store) List(originalPath string) ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}

	var records []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("skipping unreadable backup record", "file", e.Name(), "error", err)
			continue
		}
		if originalPath != "" && rec.OriginalPath != originalPath {
			continue
		}
		records = append(records, &rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

// CleanupOld prunes the store. The keepCount newest backups of each original
// file always survive; older ones are removed once past maxAge. Returns the
// number of backups removed.
func (s *Store) CleanupOld(keepCount int, maxAge time.Duration) (int, error) {
	if keepCount < 0 {
		keepCount = 0
	}
	all, err := s.List("")
	if err != nil {
		return 0, err
	}

	perFile := make(map[string][]*Record)
	for _, rec := range all {
		perFile[rec.OriginalPath] = append(perFile[rec.OriginalPath], rec)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, recs := range perFile {
		// recs are already newest-first from List.
		for i, rec := range recs {
			if i < keepCount {
				continue
			}
			if rec.Timestamp.After(cutoff) {
				continue
			}
			if err := os.Remove(rec.BackupPath); err != nil && !os.IsNotExist(err) {
				s.log.Warn("failed to remove backup", "backup", rec.BackupPath, "error", err)
				continue
			}
			if err := os.Remove(rec.BackupPath + metaSuffix); err != nil && !os.IsNotExist(err) {
				s.log.Warn("failed to remove backup record", "backup", rec.BackupPath, "error", err)
			}
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("pruned old backups", "removed", removed)
	}
	return removed, nil
}
