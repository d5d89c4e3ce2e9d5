// Package state implements the State Store and Revision Manager (C6): a
// single in-memory document of dynamic JSON, versioned as a chain of
// integrity-hashed revisions with bounded in-memory and on-disk retention.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
	"github.com/toasterson/sysconfig/pkg/schema"
)

// MaxMemoryRevisions bounds the in-memory revision cache.
const MaxMemoryRevisions = 100

// MaxDiskRevisions bounds how many revision files are kept on disk; the
// oldest (by mtime) are pruned once the cap is exceeded. latest.json is
// never counted against this cap.
const MaxDiskRevisions = 1000

// StateRevision is one immutable, hash-verified snapshot of the managed
// state document.
type StateRevision struct {
	ID                 string          `json:"id"`
	Timestamp          time.Time       `json:"timestamp"`
	State              json.RawMessage `json:"state"`
	Description        string          `json:"description"`
	ChangedBy          string          `json:"changed_by"`
	PreviousRevisionID *string         `json:"previous_revision_id,omitempty"`
	StateHash          string          `json:"state_hash"`
}

// VerifyIntegrity recomputes the hash of State and compares it to StateHash.
func (r *StateRevision) VerifyIntegrity() error {
	h, err := hashState(r.State)
	if err != nil {
		return err
	}
	if h != r.StateHash {
		return sysconfigerr.Newf(sysconfigerr.Integrity, "revision %s failed integrity check", r.ID)
	}
	return nil
}

func hashState(state json.RawMessage) (string, error) {
	canon, err := schema.CanonicalizeJSON(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// ChangeType classifies one entry in a ChangeList.
type ChangeType string

const (
	ChangeCreate ChangeType = "CREATE"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is one differing path between two state documents. OldValue and
// NewValue are the canonical JSON encoding of the respective value,
// empty string when the path is absent on that side (spec.md §4.6/§6).
type Change struct {
	Type     ChangeType `json:"type"`
	Path     string     `json:"path"`
	OldValue string     `json:"old_value"`
	NewValue string     `json:"new_value"`
	Verbose  string     `json:"verbose,omitempty"`
}

// ChangeList is the ordered, deterministic (depth-first, lexicographic
// key order) set of differing paths between two state documents. Objects
// are compared key-wise; arrays and scalars are compared wholesale.
type ChangeList []Change

// IsEmpty reports whether the documents were structurally identical.
func (c ChangeList) IsEmpty() bool { return len(c) == 0 }

// Summary renders a one-line human-readable description for log lines.
func (c ChangeList) Summary() string {
	if c.IsEmpty() {
		return "no changes"
	}
	var created, updated, deleted int
	for _, ch := range c {
		switch ch.Type {
		case ChangeCreate:
			created++
		case ChangeUpdate:
			updated++
		case ChangeDelete:
			deleted++
		}
	}
	return fmt.Sprintf("%d created, %d updated, %d deleted", created, updated, deleted)
}

// Diff computes the ChangeList between two JSON documents.
func Diff(oldState, newState json.RawMessage) (ChangeList, error) {
	var oldVal, newVal interface{}
	if len(oldState) > 0 {
		if err := json.Unmarshal(oldState, &oldVal); err != nil {
			return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "invalid old state", err)
		}
	}
	if len(newState) > 0 {
		if err := json.Unmarshal(newState, &newVal); err != nil {
			return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "invalid new state", err)
		}
	}
	var cl ChangeList
	diffRecursive("", oldVal, newVal, &cl)
	return cl, nil
}

func marshalOrEmpty(v interface{}, present bool) string {
	if !present {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func diffRecursive(path string, oldVal, newVal interface{}, cl *ChangeList) {
	oldMap, oldIsMap := oldVal.(map[string]interface{})
	newMap, newIsMap := newVal.(map[string]interface{})

	if oldIsMap && newIsMap {
		keys := make(map[string]struct{})
		for k := range oldMap {
			keys[k] = struct{}{}
		}
		for k := range newMap {
			keys[k] = struct{}{}
		}
		sorted := make([]string, 0, len(keys))
		for k := range keys {
			sorted = append(sorted, k)
		}
		sort.Strings(sorted)
		for _, k := range sorted {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			ov, inOld := oldMap[k]
			nv, inNew := newMap[k]
			switch {
			case inOld && !inNew:
				*cl = append(*cl, Change{Type: ChangeDelete, Path: childPath, OldValue: marshalOrEmpty(ov, true)})
			case !inOld && inNew:
				*cl = append(*cl, Change{Type: ChangeCreate, Path: childPath, NewValue: marshalOrEmpty(nv, true)})
			default:
				diffRecursive(childPath, ov, nv, cl)
			}
		}
		return
	}

	if !valuesEqual(oldVal, newVal) {
		*cl = append(*cl, Change{
			Type:     ChangeUpdate,
			Path:     path,
			OldValue: marshalOrEmpty(oldVal, true),
			NewValue: marshalOrEmpty(newVal, true),
		})
	}
}

func valuesEqual(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	ac, errA := schema.CanonicalizeJSON(ab)
	bc, errB := schema.CanonicalizeJSON(bb)
	if errA != nil || errB != nil {
		return string(ab) == string(bb)
	}
	return string(ac) == string(bc)
}

// RevisionManager owns the current state document and its revision
// history, persisting each update to stateDir and keeping a bounded
// in-memory cache for fast rollback/history access.
type RevisionManager struct {
	mu                sync.Mutex
	stateDir          string
	current           json.RawMessage
	currentRevisionID string
	cache             []*StateRevision
	clock             clock.Clock
	log               logrus.FieldLogger
	autoPersist       bool
}

// NewRevisionManager loads the latest persisted state (if any) from
// stateDir and returns a manager seeded with it. A missing or corrupt
// latest.json degrades to an empty document with a warning rather than
// failing startup, matching state_manager.rs's load_latest_state.
func NewRevisionManager(stateDir string, clk clock.Clock, log logrus.FieldLogger) (*RevisionManager, error) {
	if err := ensureDir(stateDir); err != nil {
		return nil, err
	}
	m := &RevisionManager{
		stateDir:    stateDir,
		clock:       clk,
		log:         log,
		autoPersist: true,
		current:     json.RawMessage(`{}`),
	}
	if rev, err := m.loadLatestState(); err != nil {
		log.WithError(err).Warn("failed to load latest persisted state, starting from empty state")
	} else if rev != nil {
		m.current = rev.State
		m.currentRevisionID = rev.ID
		m.cache = append(m.cache, rev)
	}
	return m, nil
}

// Current returns the current state document.
func (m *RevisionManager) Current() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CurrentRevisionID returns the ID of the revision backing the current
// state, or "" if no revision has been created yet.
func (m *RevisionManager) CurrentRevisionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentRevisionID
}

// UpdateState replaces the current state document wholesale, links the
// new revision to the previous one, and persists it if auto-persist is
// enabled. Per spec.md §5, the lock only guards the in-memory swap and
// cache push; disk persistence runs after it is released so a slow write
// never stalls concurrent readers (Current/History) or unrelated writers.
func (m *RevisionManager) UpdateState(newState json.RawMessage, description, changedBy string) (*StateRevision, error) {
	hash, err := hashState(newState)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.Internal, "failed to generate revision id", err)
	}

	m.mu.Lock()

	var prev *string
	if m.currentRevisionID != "" {
		p := m.currentRevisionID
		prev = &p
	}

	rev := &StateRevision{
		ID:                 id.String(),
		Timestamp:          m.clock.Now().UTC(),
		State:              newState,
		Description:        description,
		ChangedBy:          changedBy,
		PreviousRevisionID: prev,
		StateHash:          hash,
	}

	m.current = newState
	m.currentRevisionID = rev.ID
	m.pushCache(rev)

	m.mu.Unlock()

	if m.autoPersist {
		if err := m.persistRevision(rev); err != nil {
			return nil, err
		}
		if err := m.saveLatest(rev); err != nil {
			return nil, err
		}
		m.cleanupOldRevisions()
	}

	return rev, nil
}

func (m *RevisionManager) pushCache(rev *StateRevision) {
	m.cache = append(m.cache, rev)
	if len(m.cache) > MaxMemoryRevisions {
		m.cache = m.cache[len(m.cache)-MaxMemoryRevisions:]
	}
}

// GetRevision returns a revision by ID, checking the in-memory cache
// before falling back to disk.
func (m *RevisionManager) GetRevision(id string) (*StateRevision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRevisionLocked(id)
}

func (m *RevisionManager) getRevisionLocked(id string) (*StateRevision, error) {
	for _, rev := range m.cache {
		if rev.ID == id {
			return rev, nil
		}
	}
	rev, err := m.loadRevisionFromDisk(id)
	if err != nil {
		return nil, sysconfigerr.NotFoundPath("revision:" + id)
	}
	return rev, nil
}

// Rollback creates a new revision whose state is copied from a past
// revision, verifying that past revision's integrity first.
func (m *RevisionManager) Rollback(id string) (*StateRevision, error) {
	m.mu.Lock()
	target, err := m.getRevisionLocked(id)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := target.VerifyIntegrity(); err != nil {
		return nil, err
	}
	return m.UpdateState(target.State, fmt.Sprintf("Rollback to revision %s", id), "system")
}

// History returns up to limit revisions, most recent first. limit <= 0
// means unlimited.
func (m *RevisionManager) History(limit int) []*StateRevision {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*StateRevision, len(m.cache))
	for i, rev := range m.cache {
		out[len(m.cache)-1-i] = rev
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}
