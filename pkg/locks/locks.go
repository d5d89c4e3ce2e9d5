// Package locks implements the advisory Lock Manager (C5): plugins take
// exact-match path locks before mutating state, and apply_state rejects
// writes that touch a path locked by a different plugin.
package locks

import (
	"sync"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
)

// Lock records that a plugin holds an advisory lock on a path.
type Lock struct {
	Path     string `json:"path"`
	PluginID string `json:"plugin_id"`
}

// Manager tracks the set of held locks. Matching is exact: a lock on
// "/storage" does not cover "/storage/pools", and vice versa — callers
// that need coarser coverage must lock every path they intend to touch.
type Manager struct {
	mu    sync.Mutex
	locks []Lock
}

// New returns an empty lock manager.
func New() *Manager {
	return &Manager{}
}

// Lock grants pluginID a lock on path. Locking the same path twice by the
// same plugin is a no-op; locking it from a different plugin fails.
func (m *Manager) Lock(path, pluginID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.locks {
		if l.Path == path {
			if l.PluginID == pluginID {
				return nil
			}
			return sysconfigerr.LockConflictPath(path)
		}
	}
	m.locks = append(m.locks, Lock{Path: path, PluginID: pluginID})
	return nil
}

// Unlock releases pluginID's lock on path. Unlocking a path not held by
// pluginID is a no-op.
func (m *Manager) Unlock(path, pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.locks[:0]
	for _, l := range m.locks {
		if l.Path == path && l.PluginID == pluginID {
			continue
		}
		out = append(out, l)
	}
	m.locks = out
}

// IsLockedBy reports whether path is currently locked by pluginID.
func (m *Manager) IsLockedBy(path, pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.locks {
		if l.Path == path && l.PluginID == pluginID {
			return true
		}
	}
	return false
}

// IsLockedByOther reports whether path is locked by some plugin other
// than pluginID.
func (m *Manager) IsLockedByOther(path, pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.locks {
		if l.Path == path && l.PluginID != pluginID {
			return true
		}
	}
	return false
}

// ConflictingPaths returns every currently-locked path (from m.locks)
// that is locked by a plugin other than pluginID, restricted to the set
// of candidate paths an incoming apply_state would touch. An empty
// candidates slice conservatively checks every held lock, matching
// apply_state's full-document-overwrite semantics (spec.md §9).
func (m *Manager) ConflictingPaths(candidates []string, pluginID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var conflicts []string
	if len(candidates) == 0 {
		for _, l := range m.locks {
			if l.PluginID != pluginID {
				conflicts = append(conflicts, l.Path)
			}
		}
		return conflicts
	}

	candidateSet := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		candidateSet[c] = struct{}{}
	}
	for _, l := range m.locks {
		if l.PluginID == pluginID {
			continue
		}
		if _, ok := candidateSet[l.Path]; ok {
			conflicts = append(conflicts, l.Path)
		}
	}
	return conflicts
}

// Held returns a snapshot of all currently held locks.
func (m *Manager) Held() []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lock, len(m.locks))
	copy(out, m.locks)
	return out
}
