package smartos

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeMdataGet writes a small shell script standing in for mdata-get: it
// echoes canned values for the keys this test cares about and exits
// non-zero for anything else, just as the real tool does for an unset key.
func fakeMdataGet(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "mdata-get")
	script := `#!/bin/sh
case "$1" in
  -l) exit 0 ;;
  hostname) echo "zone1"; exit 0 ;;
  sdc:nics) echo '[{"interface":"net0","mac":"aa:bb:cc:dd:ee:ff","ip":"10.0.0.5","netmask":"255.255.255.0","gateway":"10.0.0.1"}]'; exit 0 ;;
  *) exit 1 ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestDetectAndLoad(t *testing.T) {
	s := &Source{MdataGetPath: fakeMdataGet(t)}
	require.True(t, s.Detect(context.Background()))

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "zone1", doc["hostname"])

	net := doc["networking"].(map[string]interface{})
	eth := net["ethernets"].(map[string]interface{})
	net0 := eth["net0"].(map[string]interface{})
	require.Equal(t, []interface{}{"10.0.0.5/24"}, net0["addresses"])
	require.Equal(t, "10.0.0.1", net0["gateway4"])
}

func TestDetectFalseWhenMdataGetMissing(t *testing.T) {
	s := &Source{MdataGetPath: filepath.Join(t.TempDir(), "missing")}
	require.False(t, s.Detect(context.Background()))
}
