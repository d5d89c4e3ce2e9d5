package state

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
)

const latestFileName = "latest.json"

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to create state directory", err)
	}
	return nil
}

// DefaultStateDir picks the on-disk location for persisted revisions: the
// system-wide location when running as root, otherwise an XDG-compliant
// per-user location, falling back to a temp directory as a last resort.
func DefaultStateDir() string {
	if unix.Geteuid() == 0 {
		return "/var/lib/sysconfig"
	}
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "sysconfig")
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "sysconfig")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "state", "sysconfig")
	}
	return filepath.Join(os.TempDir(), "sysconfig-state")
}

func revisionFileName(rev *StateRevision) string {
	return fmt.Sprintf("%d-%s.json", rev.Timestamp.UnixNano()/int64(1e6), rev.ID)
}

// writeAtomic writes data to path by writing to a temp file in the same
// directory and renaming it into place, so readers never observe a
// partially-written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := ioutil.TempFile(dir, ".tmp-*")
	if err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to rename temp file into place", err)
	}
	return nil
}

func (m *RevisionManager) persistRevision(rev *StateRevision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to marshal revision", err)
	}
	path := filepath.Join(m.stateDir, revisionFileName(rev))
	return writeAtomic(path, data)
}

func (m *RevisionManager) saveLatest(rev *StateRevision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to marshal revision", err)
	}
	return writeAtomic(filepath.Join(m.stateDir, latestFileName), data)
}

func (m *RevisionManager) loadLatestState() (*StateRevision, error) {
	path := filepath.Join(m.stateDir, latestFileName)
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.Internal, "failed to read latest state", err)
	}
	var rev StateRevision
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.Integrity, "latest state file is corrupt", err)
	}
	if err := rev.VerifyIntegrity(); err != nil {
		return nil, err
	}
	return &rev, nil
}

func (m *RevisionManager) loadRevisionFromDisk(id string) (*StateRevision, error) {
	entries, err := ioutil.ReadDir(m.stateDir)
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.Internal, "failed to list state directory", err)
	}
	for _, e := range entries {
		if e.IsDir() || e.Name() == latestFileName {
			continue
		}
		if !containsID(e.Name(), id) {
			continue
		}
		data, err := ioutil.ReadFile(filepath.Join(m.stateDir, e.Name()))
		if err != nil {
			continue
		}
		var rev StateRevision
		if err := json.Unmarshal(data, &rev); err != nil {
			continue
		}
		if rev.ID == id {
			return &rev, nil
		}
	}
	return nil, sysconfigerr.NotFoundPath("revision:" + id)
}

func containsID(filename, id string) bool {
	return len(filename) >= len(id) && filepath.Ext(filename) == ".json" && indexOf(filename, id) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// cleanupOldRevisions removes the oldest revision files on disk once the
// count exceeds MaxDiskRevisions, sorted by modification time. latest.json
// is never a candidate for removal.
func (m *RevisionManager) cleanupOldRevisions() {
	entries, err := ioutil.ReadDir(m.stateDir)
	if err != nil {
		m.log.WithError(err).Warn("failed to list state directory during cleanup")
		return
	}

	type fileInfo struct {
		name    string
		modTime int64
	}
	var files []fileInfo
	for _, e := range entries {
		if e.IsDir() || e.Name() == latestFileName {
			continue
		}
		files = append(files, fileInfo{name: e.Name(), modTime: e.ModTime().UnixNano()})
	}
	if len(files) <= MaxDiskRevisions {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime < files[j].modTime })
	excess := len(files) - MaxDiskRevisions
	for i := 0; i < excess; i++ {
		path := filepath.Join(m.stateDir, files[i].name)
		if err := os.Remove(path); err != nil {
			m.log.WithError(err).WithField("file", path).Warn("failed to remove old revision file")
		}
	}
}

// ExportHistory writes the full in-memory revision cache to a single JSON
// file, newest first, for backup or service-shutdown flush purposes.
func (m *RevisionManager) ExportHistory(path string) error {
	revs := m.History(0)
	data, err := json.MarshalIndent(revs, "", "  ")
	if err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to marshal history", err)
	}
	return writeAtomic(path, data)
}

// ImportHistory loads a history file written by ExportHistory and merges
// it into the in-memory cache and disk store without changing the current
// state document.
func (m *RevisionManager) ImportHistory(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "failed to read history file", err)
	}
	var revs []*StateRevision
	if err := json.Unmarshal(data, &revs); err != nil {
		return sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "invalid history file", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rev := range revs {
		if err := rev.VerifyIntegrity(); err != nil {
			m.log.WithError(err).WithField("revision", rev.ID).Warn("skipping corrupt revision during import")
			continue
		}
		m.pushCache(rev)
		if err := m.persistRevision(rev); err != nil {
			return err
		}
	}
	return nil
}
