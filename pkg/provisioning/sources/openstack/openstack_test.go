package openstack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadExtractsHostnameAndNetwork(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/openstack/latest/meta_data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"uuid": "abc", "hostname": "node1.novalocal", "public_keys": {"mykey": "ssh-rsa AAAA..."}}`))
	})
	mux.HandleFunc("/openstack/latest/network_data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"links": [{"id": "tap0", "ethernet_mac_address": "aa:bb:cc"}],
			"networks": [{"link": "tap0", "type": "ipv4", "ip_address": "10.0.0.5", "netmask": "255.255.255.0", "routes": [{"network": "0.0.0.0", "gateway": "10.0.0.1"}]}]
		}`))
	})
	mux.HandleFunc("/openstack/latest/user_data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL
	require.True(t, s.Detect(context.Background()))

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "node1.novalocal", doc["hostname"])
	net := doc["networking"].(map[string]interface{})
	eth := net["ethernets"].(map[string]interface{})
	tap0 := eth["tap0"].(map[string]interface{})
	require.Equal(t, "10.0.0.1", tap0["gateway4"])
	require.Equal(t, []interface{}{"10.0.0.5/24"}, tap0["addresses"])
}
