package locks

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/toasterson/sysconfig/internal/sysconfigerr"
)

func TestLockAndUnlock(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock("/storage", "plugin-a"))
	require.True(t, m.IsLockedBy("/storage", "plugin-a"))
	m.Unlock("/storage", "plugin-a")
	require.False(t, m.IsLockedBy("/storage", "plugin-a"))
}

func TestLockConflict(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock("/storage", "plugin-a"))
	err := m.Lock("/storage", "plugin-b")
	require.Error(t, err)
	require.Equal(t, sysconfigerr.LockConflict, sysconfigerr.KindOf(err))
}

func TestReentrantLockIsNoop(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock("/storage", "plugin-a"))
	require.NoError(t, m.Lock("/storage", "plugin-a"))
}

func TestIsLockedByOther(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock("/storage", "plugin-a"))
	require.True(t, m.IsLockedByOther("/storage", "plugin-b"))
	require.False(t, m.IsLockedByOther("/storage", "plugin-a"))
}

func TestExactMatchSemantics(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock("/storage", "plugin-a"))
	require.False(t, m.IsLockedBy("/storage/pools", "plugin-a"))
	require.False(t, m.IsLockedByOther("/storage/pools", "plugin-b"))
}

func TestConflictingPaths(t *testing.T) {
	m := New()
	require.NoError(t, m.Lock("/storage", "plugin-a"))
	require.NoError(t, m.Lock("/networking", "plugin-b"))

	conflicts := m.ConflictingPaths([]string{"/storage", "/users"}, "plugin-a")
	require.ElementsMatch(t, []string{}, conflicts)

	conflicts = m.ConflictingPaths([]string{"/networking"}, "plugin-a")
	require.ElementsMatch(t, []string{"/networking"}, conflicts)

	conflicts = m.ConflictingPaths(nil, "plugin-a")
	require.ElementsMatch(t, []string{"/networking"}, conflicts)
}
