package cloudinit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toasterson/sysconfig/pkg/provisioning/merge"
)

func TestDetectFalseWithNoSeedAndNoMetadataService(t *testing.T) {
	s := New()
	s.SeedPath = filepath.Join(t.TempDir(), "absent")
	s.MetadataURL = "http://127.0.0.1:1"
	require.False(t, s.Detect(context.Background()))
}

func TestLoadFromSeedDirectory(t *testing.T) {
	seed := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seed, "meta-data"), []byte("instance-id: i-abc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "user-data"), []byte("#!/bin/sh\necho hi\n"), 0o644))

	s := New()
	s.SeedPath = seed

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "i-abc", doc["hostname"])
	require.Contains(t, doc["user_data_raw"], "echo hi")

	cfg, err := merge.Normalize(doc)
	require.NoError(t, err)
	require.Equal(t, "i-abc", *cfg.System.Hostname)
}

func TestLoadFromMetadataServiceFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/meta-data/hostname", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("web-01"))
	})
	mux.HandleFunc("/latest/meta-data/public-keys", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0=my-key"))
	})
	mux.HandleFunc("/latest/meta-data/public-keys/0/openssh-key", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ssh-rsa AAAA...\n"))
	})
	mux.HandleFunc("/latest/user-data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.SeedPath = filepath.Join(t.TempDir(), "absent")
	s.MetadataURL = server.URL

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "web-01", doc["hostname"])
	require.Equal(t, []interface{}{"ssh-rsa AAAA..."}, doc["ssh_authorized_keys"])
}
