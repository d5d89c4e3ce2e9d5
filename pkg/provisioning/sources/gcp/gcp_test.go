package gcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectRequiresMetadataFlavorHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/computeMetadata/v1/instance/id", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Metadata-Flavor") != "Google" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("1234567890"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL
	require.True(t, s.Detect(context.Background()))
}

func TestLoadExtractsZoneSuffix(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/computeMetadata/v1/instance/hostname", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("instance-1.c.project.internal"))
	})
	mux.HandleFunc("/computeMetadata/v1/instance/id", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("123"))
	})
	mux.HandleFunc("/computeMetadata/v1/instance/zone", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("projects/123/zones/us-central1-a"))
	})
	mux.HandleFunc("/computeMetadata/v1/project/attributes/sshKeys", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/computeMetadata/v1/instance/attributes/startup-script", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "us-central1-a", doc["region"])
}
