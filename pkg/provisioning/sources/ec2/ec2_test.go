package ec2

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/latest/api/token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("test-token"))
	})
	mux.HandleFunc("/latest/meta-data/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hostname\ninstance-id\n"))
	})
	mux.HandleFunc("/latest/meta-data/hostname", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ip-10-0-0-1"))
	})
	mux.HandleFunc("/latest/meta-data/instance-id", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("i-0123456789"))
	})
	mux.HandleFunc("/latest/meta-data/placement/region", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("us-east-1"))
	})
	mux.HandleFunc("/latest/meta-data/public-keys/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/latest/meta-data/public-keys/" {
			w.Write([]byte("0=mykey"))
			return
		}
		w.Write([]byte("ssh-rsa AAAA...\n"))
	})
	mux.HandleFunc("/latest/user-data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	t.Cleanup(func() {})
	server := httptest.NewServer(mux)
	return server
}

func TestDetectWithTokenHandshake(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL
	require.True(t, s.Detect(context.Background()))
}

func TestLoad(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	s := New()
	s.MetadataURL = server.URL

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "ip-10-0-0-1", doc["hostname"])
	require.Equal(t, "i-0123456789", doc["instance-id"])
	require.Equal(t, "us-east-1", doc["region"])
}
