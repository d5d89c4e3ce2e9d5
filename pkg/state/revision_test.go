package state

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *RevisionManager {
	t.Helper()
	dir, err := ioutil.TempDir("", "sysconfig-state-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	m, err := NewRevisionManager(dir, clock.NewMock(), log)
	require.NoError(t, err)
	return m
}

func TestNewManagerStartsEmpty(t *testing.T) {
	m := newTestManager(t)
	require.JSONEq(t, `{}`, string(m.Current()))
	require.Empty(t, m.CurrentRevisionID())
}

func TestUpdateStateCreatesRevision(t *testing.T) {
	m := newTestManager(t)
	rev, err := m.UpdateState(json.RawMessage(`{"hostname":"vm0"}`), "initial", "test")
	require.NoError(t, err)
	require.NotEmpty(t, rev.ID)
	require.Nil(t, rev.PreviousRevisionID)
	require.JSONEq(t, `{"hostname":"vm0"}`, string(m.Current()))
	require.Equal(t, rev.ID, m.CurrentRevisionID())

	rev2, err := m.UpdateState(json.RawMessage(`{"hostname":"vm1"}`), "update", "test")
	require.NoError(t, err)
	require.NotNil(t, rev2.PreviousRevisionID)
	require.Equal(t, rev.ID, *rev2.PreviousRevisionID)
}

func TestDiffDetectsAddedRemovedModified(t *testing.T) {
	old := json.RawMessage(`{"a":1,"b":2,"c":{"d":3}}`)
	newS := json.RawMessage(`{"a":1,"c":{"d":4},"e":5}`)

	cl, err := Diff(old, newS)
	require.NoError(t, err)
	require.False(t, cl.IsEmpty())

	byPath := make(map[string]Change, len(cl))
	for _, ch := range cl {
		byPath[ch.Path] = ch
	}

	require.Equal(t, ChangeCreate, byPath["e"].Type)
	require.Equal(t, "5", byPath["e"].NewValue)
	require.Equal(t, ChangeDelete, byPath["b"].Type)
	require.Equal(t, "2", byPath["b"].OldValue)
	require.Equal(t, ChangeUpdate, byPath["c.d"].Type)
	require.Equal(t, "3", byPath["c.d"].OldValue)
	require.Equal(t, "4", byPath["c.d"].NewValue)
}

func TestDiffEmptyStartScenario(t *testing.T) {
	cl, err := Diff(json.RawMessage(`{}`), json.RawMessage(`{"hostname":"h1"}`))
	require.NoError(t, err)
	require.Len(t, cl, 1)
	require.Equal(t, Change{Type: ChangeCreate, Path: "hostname", OldValue: "", NewValue: `"h1"`}, cl[0])
}

func TestDiffEmptyWhenIdentical(t *testing.T) {
	cl, err := Diff(json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	require.True(t, cl.IsEmpty())
	require.Equal(t, "no changes", cl.Summary())
}

func TestRollback(t *testing.T) {
	m := newTestManager(t)
	first, err := m.UpdateState(json.RawMessage(`{"v":1}`), "first", "test")
	require.NoError(t, err)
	_, err = m.UpdateState(json.RawMessage(`{"v":2}`), "second", "test")
	require.NoError(t, err)

	rolled, err := m.Rollback(first.ID)
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(rolled.State))
	require.JSONEq(t, `{"v":1}`, string(m.Current()))
	require.Equal(t, "system", rolled.ChangedBy)
}

func TestRollbackUnknownRevision(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Rollback("does-not-exist")
	require.Error(t, err)
}

func TestHistoryNewestFirst(t *testing.T) {
	m := newTestManager(t)
	_, err := m.UpdateState(json.RawMessage(`{"v":1}`), "r1", "test")
	require.NoError(t, err)
	second, err := m.UpdateState(json.RawMessage(`{"v":2}`), "r2", "test")
	require.NoError(t, err)

	hist := m.History(0)
	require.Len(t, hist, 2)
	require.Equal(t, second.ID, hist[0].ID)
}

func TestExportImportHistory(t *testing.T) {
	m := newTestManager(t)
	_, err := m.UpdateState(json.RawMessage(`{"v":1}`), "r1", "test")
	require.NoError(t, err)

	dir, err := ioutil.TempDir("", "sysconfig-export-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	exportPath := dir + "/history.json"
	require.NoError(t, m.ExportHistory(exportPath))

	m2 := newTestManager(t)
	require.NoError(t, m2.ImportHistory(exportPath))
	require.Len(t, m2.History(0), 1)
}

func TestIntegrityFailureIsDetected(t *testing.T) {
	rev := &StateRevision{ID: "x", State: json.RawMessage(`{"a":1}`), StateHash: "bogus"}
	require.Error(t, rev.VerifyIntegrity())
}
