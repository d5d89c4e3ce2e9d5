package provisioning

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVendorFromSysVendor(t *testing.T) {
	cases := []struct {
		raw  string
		want Vendor
		ok   bool
	}{
		{"amazon ec2", VendorEC2, true},
		{"microsoft corporation", VendorAzure, true},
		{"google", VendorGCP, true},
		{"digitalocean", VendorDigitalOcean, true},
		{"openstack foundation", VendorOpenStack, true},
		{"generic hardware inc", "", false},
	}
	for _, c := range cases {
		v, ok := vendorFromSysVendor(c.raw)
		require.Equal(t, c.ok, ok, c.raw)
		require.Equal(t, c.want, v, c.raw)
	}
}

func TestVendorFromProductName(t *testing.T) {
	v, ok := vendorFromProductName("openstack nova")
	require.True(t, ok)
	require.Equal(t, VendorOpenStack, v)

	v, ok = vendorFromProductName("droplet")
	require.True(t, ok)
	require.Equal(t, VendorDigitalOcean, v)

	_, ok = vendorFromProductName("standard pc")
	require.False(t, ok)
}

func TestVendorFromSMBIOSType1(t *testing.T) {
	v, ok := vendorFromSMBIOSType1("Manufacturer: Joyent\nProduct: SmartDC HVM")
	require.True(t, ok)
	require.Equal(t, VendorSmartOS, v)

	_, ok = vendorFromSMBIOSType1("Manufacturer: Dell Inc.")
	require.False(t, ok)
}

func TestDetectVendorFallsBackToUnknown(t *testing.T) {
	sysVendorPath = "/nonexistent/sys_vendor"
	productNamePath = "/nonexistent/product_name"
	smbiosCandidates = []string{"/nonexistent/smbios"}
	require.Equal(t, VendorUnknown, DetectVendor(context.Background()))
}

func TestDetectVendorReadsSysVendorFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sys_vendor"
	require.NoError(t, os.WriteFile(path, []byte("Amazon EC2\n"), 0o644))

	sysVendorPath = path
	productNamePath = "/nonexistent/product_name"
	smbiosCandidates = []string{"/nonexistent/smbios"}
	require.Equal(t, VendorEC2, DetectVendor(context.Background()))
}
