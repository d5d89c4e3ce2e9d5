// Package smartos implements the SmartOS zone metadata source. Unlike
// every other collector, SmartOS exposes its metadata through a local
// setuid helper (mdata-get) talking to the host over a zone console
// socket, not an HTTP endpoint, so Detect/Load shell out instead of
// dialing a network address.
package smartos

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

// mdataGetCandidates are the paths mdata-get is typically installed
// under; the global zone and a non-global zone's /native lofs mount both
// need to be checked.
var mdataGetCandidates = []string{"/usr/sbin/mdata-get", "/native/usr/sbin/mdata-get"}

type Source struct {
	MdataGetPath string
}

func New() *Source {
	path := "mdata-get"
	for _, candidate := range mdataGetCandidates {
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	return &Source{MdataGetPath: path}
}

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string              { return "smartos" }
func (s *Source) Priority() sources.Priority { return sources.PrioritySmartOS }

func (s *Source) Detect(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, s.MdataGetPath, "-l")
	return cmd.Run() == nil
}

func (s *Source) get(ctx context.Context, key string) (string, bool) {
	cmd := exec.CommandContext(ctx, s.MdataGetPath, key)
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", false
	}
	return value, true
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	doc := map[string]interface{}{}

	if hostname, ok := s.get(ctx, "hostname"); ok {
		doc["hostname"] = hostname
	} else if hostname, ok := s.get(ctx, "sdc:hostname"); ok {
		doc["hostname"] = hostname
	}

	if nicsJSON, ok := s.get(ctx, "sdc:nics"); ok {
		if net, err := convertNics(nicsJSON); err == nil {
			doc["networking"] = net
		}
	}

	if script, ok := s.get(ctx, "user-script"); ok {
		doc["user_data_raw"] = script
	} else if script, ok := s.get(ctx, "sdc:user-script"); ok {
		doc["user_data_raw"] = script
	}

	if keysJSON, ok := s.get(ctx, "root_authorized_keys"); ok {
		var keys []interface{}
		for _, line := range strings.Split(keysJSON, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				keys = append(keys, line)
			}
		}
		if len(keys) > 0 {
			doc["ssh_authorized_keys"] = keys
		}
	}

	if len(doc) == 0 {
		return nil, sysconfigerr.New(sysconfigerr.NotFound, "no SmartOS metadata available")
	}
	return doc, nil
}

// convertNics reshapes sdc:nics (a JSON array of {interface, mac, ip,
// netmask, gateway, primary, vlan_id}) into the network-config-v2-like
// "ethernets" shape the normalizer expects.
func convertNics(nicsJSON string) (map[string]interface{}, error) {
	var nics []map[string]interface{}
	if err := json.Unmarshal([]byte(nicsJSON), &nics); err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "parsing sdc:nics", err)
	}

	out := map[string]interface{}{"version": float64(2), "ethernets": map[string]interface{}{}}
	eth := out["ethernets"].(map[string]interface{})

	for idx, nic := range nics {
		name, _ := nic["interface"].(string)
		if name == "" {
			name = "net" + strconv.Itoa(idx)
		}
		cfg := map[string]interface{}{}
		if mac, ok := nic["mac"].(string); ok {
			cfg["match"] = map[string]interface{}{"macaddress": mac}
		}

		ip, hasIP := nic["ip"].(string)
		if hasIP {
			netmask, _ := nic["netmask"].(string)
			if netmask == "" {
				netmask = "255.255.255.0"
			}
			prefix := netmaskToPrefix(netmask)
			cfg["addresses"] = []interface{}{ip + "/" + strconv.Itoa(prefix)}
			if gw, ok := nic["gateway"].(string); ok {
				cfg["gateway4"] = gw
			}
		}
		eth[name] = cfg
	}
	return out, nil
}

func netmaskToPrefix(mask string) int {
	ip := net.ParseIP(mask)
	if ip == nil {
		return 24
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 24
	}
	ones, _ := net.IPMask(ip4).Size()
	return ones
}
