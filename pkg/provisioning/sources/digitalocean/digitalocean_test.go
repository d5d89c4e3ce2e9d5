package digitalocean

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadExtractsHostnameAndInterfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata/v1.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"droplet_id": 123,
			"hostname": "web-1",
			"region": "nyc3",
			"public_keys": ["ssh-rsa AAAA..."],
			"interfaces": {"public": [{"mac": "aa:bb", "ipv4": {"ip_address": "203.0.113.5", "gateway": "203.0.113.1"}}]}
		}`))
	})
	mux.HandleFunc("/metadata/v1/user-data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL

	require.True(t, s.Detect(context.Background()))

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "web-1", doc["hostname"])
	require.Equal(t, "nyc3", doc["region"])
	net := doc["networking"].(map[string]interface{})
	eth := net["ethernets"].(map[string]interface{})
	require.Contains(t, eth, "public")
}
