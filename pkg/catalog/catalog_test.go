package catalog

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(preload HCLPluginConfigMap) *Registry {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return New(log, &GlobalConfig{}, preload)
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register("storage-plugin", "Storage", "manages ZFS pools", "/tmp/storage.sock", []string{"storage"}, time.Unix(0, 0))

	info, err := r.Get("storage-plugin")
	require.NoError(t, err)
	require.Equal(t, "/tmp/storage.sock", info.SocketPath)
	require.Equal(t, []string{"storage"}, info.ManagedPaths)
}

func TestGetUnknownPlugin(t *testing.T) {
	r := newTestRegistry(nil)
	_, err := r.Get("nope")
	require.Error(t, err)
}

func TestReregisterReplacesSocket(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register("storage-plugin", "Storage", "", "/tmp/old.sock", nil, time.Unix(0, 0))
	r.Register("storage-plugin", "Storage", "", "/tmp/new.sock", nil, time.Unix(1, 0))

	info, err := r.Get("storage-plugin")
	require.NoError(t, err)
	require.Equal(t, "/tmp/new.sock", info.SocketPath)
}

func TestDeregister(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register("storage-plugin", "Storage", "", "/tmp/storage.sock", nil, time.Unix(0, 0))
	r.Deregister("storage-plugin")

	_, err := r.Get("storage-plugin")
	require.Error(t, err)
}

func TestListSortedByID(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register("zeta", "Zeta", "", "/tmp/z.sock", nil, time.Unix(0, 0))
	r.Register("alpha", "Alpha", "", "/tmp/a.sock", nil, time.Unix(0, 0))

	list := r.List()
	require.Len(t, list, 2)
	require.Equal(t, "alpha", list[0].ID)
	require.Equal(t, "zeta", list[1].ID)
}

func TestMissingRequired(t *testing.T) {
	r := newTestRegistry(HCLPluginConfigMap{
		"storage-plugin":  {PluginName: "storage-plugin", Required: true},
		"optional-plugin": {PluginName: "optional-plugin", Required: false},
	})
	require.Equal(t, []string{"storage-plugin"}, r.MissingRequired())

	r.Register("storage-plugin", "Storage", "", "/tmp/storage.sock", nil, time.Unix(0, 0))
	require.Empty(t, r.MissingRequired())
}

func TestMatchingManagedPath(t *testing.T) {
	r := newTestRegistry(nil)
	r.Register("storage-plugin", "Storage", "", "/tmp/storage.sock", []string{"storage"}, time.Unix(0, 0))
	r.Register("network-plugin", "Network", "", "/tmp/net.sock", []string{"networking"}, time.Unix(0, 0))

	matches := r.MatchingManagedPath("storage.pools")
	require.Len(t, matches, 1)
	require.Equal(t, "storage-plugin", matches[0].ID)

	require.Empty(t, r.MatchingManagedPath("users"))
}
