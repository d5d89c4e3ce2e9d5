package provisioning

import (
	"context"
	"os"
	"os/exec"
	"strings"
)

// Vendor identifies the cloud platform a host is running on, as reported
// by DMI/SMBIOS data.
type Vendor string

const (
	VendorEC2          Vendor = "ec2"
	VendorAzure        Vendor = "azure"
	VendorGCP          Vendor = "gcp"
	VendorDigitalOcean Vendor = "digitalocean"
	VendorOpenStack    Vendor = "openstack"
	VendorSmartOS      Vendor = "smartos"
	VendorUnknown      Vendor = "unknown"
)

// DetectVendor inspects DMI/SMBIOS identification strings to name the
// cloud platform a host is running on, without making any network
// calls. Collect does not call it: every configured source runs its own
// Detect regardless of the vendor reported here.
func DetectVendor(ctx context.Context) Vendor {
	if v, ok := detectVendorFromDMI(); ok {
		return v
	}
	if v, ok := detectVendorFromSMBIOS(ctx); ok {
		return v
	}
	return VendorUnknown
}

// sysVendorPath and productNamePath are the Linux sysfs DMI identification
// files; overridden in tests so detection never depends on the host
// actually running this test suite.
var (
	sysVendorPath   = "/sys/class/dmi/id/sys_vendor"
	productNamePath = "/sys/class/dmi/id/product_name"
)

// detectVendorFromDMI reads the Linux sysfs DMI identification files.
func detectVendorFromDMI() (Vendor, bool) {
	if vendor, ok := readDMIField(sysVendorPath); ok {
		if v, ok := vendorFromSysVendor(vendor); ok {
			return v, true
		}
	}
	if product, ok := readDMIField(productNamePath); ok {
		if v, ok := vendorFromProductName(product); ok {
			return v, true
		}
	}
	return "", false
}

// vendorFromSysVendor classifies an already-lowercased sys_vendor string.
func vendorFromSysVendor(vendor string) (Vendor, bool) {
	switch {
	case strings.Contains(vendor, "amazon"), strings.Contains(vendor, "ec2"):
		return VendorEC2, true
	case strings.Contains(vendor, "microsoft"):
		return VendorAzure, true
	case strings.Contains(vendor, "google"):
		return VendorGCP, true
	case strings.Contains(vendor, "digitalocean"):
		return VendorDigitalOcean, true
	case strings.Contains(vendor, "openstack"):
		return VendorOpenStack, true
	}
	return "", false
}

// vendorFromProductName classifies an already-lowercased product_name string.
func vendorFromProductName(product string) (Vendor, bool) {
	switch {
	case strings.Contains(product, "openstack"):
		return VendorOpenStack, true
	case strings.Contains(product, "droplet"):
		return VendorDigitalOcean, true
	}
	return "", false
}

func readDMIField(path string) (string, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(string(raw))), true
}

// smbiosCandidates are the paths illumos/SmartOS's smbios(8) is typically
// installed under.
var smbiosCandidates = []string{"/usr/sbin/smbios"}

// detectVendorFromSMBIOS shells out to smbios(8) for platforms (illumos,
// SmartOS) with no sysfs DMI tree.
func detectVendorFromSMBIOS(ctx context.Context) (Vendor, bool) {
	var path string
	for _, candidate := range smbiosCandidates {
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return "", false
	}

	out, err := exec.CommandContext(ctx, path, "-t", "1").Output()
	if err != nil {
		return "", false
	}
	return vendorFromSMBIOSType1(string(out))
}

// vendorFromSMBIOSType1 classifies the text output of `smbios -t 1`
// (SMBIOS type 1, system information).
func vendorFromSMBIOSType1(raw string) (Vendor, bool) {
	text := strings.ToLower(raw)
	switch {
	case strings.Contains(text, "joyent"), strings.Contains(text, "smartdc"):
		return VendorSmartOS, true
	case strings.Contains(text, "amazon"), strings.Contains(text, "ec2"):
		return VendorEC2, true
	case strings.Contains(text, "digitalocean"):
		return VendorDigitalOcean, true
	case strings.Contains(text, "google"):
		return VendorGCP, true
	}
	return "", false
}
