package azure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectRequiresMetadataHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata/instance", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Metadata") != "true" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"compute":{"name":"vm1"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL
	require.True(t, s.Detect(context.Background()))
}

func TestLoadExtractsHostnameAndNetwork(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata/instance", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"compute": {"name": "vm1", "location": "eastus", "vmId": "abc-123"},
			"network": {"interface": [{"macAddress": "00-11-22-33-44-55", "ipv4": {"ipAddress": [{"privateIpAddress": "10.1.0.4"}], "subnet": [{"address": "10.1.0.1"}]}}]}
		}`))
	})
	mux.HandleFunc("/metadata/instance/compute/publicKeys", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "vm1", doc["hostname"])
	require.Equal(t, "eastus", doc["region"])
	net := doc["networking"].(map[string]interface{})
	eth := net["ethernets"].(map[string]interface{})
	require.Contains(t, eth, "eth0")
}
