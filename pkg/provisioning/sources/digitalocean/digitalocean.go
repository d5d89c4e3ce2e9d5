// Package digitalocean implements the DigitalOcean droplet metadata
// service data source: a single JSON document at /metadata/v1.json
// describing the whole droplet, no per-field endpoints or auth headers
// required.
package digitalocean

import (
	"context"
	"strings"

	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

const DefaultMetadataURL = "http://169.254.169.254"

type Source struct {
	MetadataURL string
}

func New() *Source { return &Source{MetadataURL: DefaultMetadataURL} }

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string              { return "digitalocean" }
func (s *Source) Priority() sources.Priority { return sources.PriorityDigitalOcean }

func (s *Source) metadataURL() string { return s.MetadataURL + "/metadata/v1.json" }

func (s *Source) Detect(ctx context.Context) bool {
	return sources.Probe(ctx, s.metadataURL(), nil, sources.DefaultTimeout)
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	meta, err := sources.FetchJSON(ctx, s.metadataURL(), nil, sources.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	doc := map[string]interface{}{}
	if hostname, ok := meta["hostname"].(string); ok {
		doc["hostname"] = hostname
	}
	if id, ok := meta["droplet_id"]; ok {
		doc["instance-id"] = id
	}
	if region, ok := meta["region"].(string); ok {
		doc["region"] = region
	}
	if keys, ok := meta["public_keys"].([]interface{}); ok {
		doc["ssh_authorized_keys"] = keys
	}

	if net, ok := meta["interfaces"].(map[string]interface{}); ok {
		doc["networking"] = convertInterfaces(net)
	}

	if userData, err := sources.FetchText(ctx, s.MetadataURL+"/metadata/v1/user-data", nil, sources.DefaultTimeout); err == nil {
		if text := strings.TrimSpace(userData); text != "" {
			doc["user_data_raw"] = text
		}
	}

	return doc, nil
}

// convertInterfaces reshapes DigitalOcean's public/private interface
// arrays (each entry carrying an ipv4/ipv6 block with address, netmask,
// gateway) into the same network-config-v2-like "ethernets" shape the
// other cloud sources produce, keyed by the interface's role.
func convertInterfaces(interfaces map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"version": float64(2), "ethernets": map[string]interface{}{}}
	eth := out["ethernets"].(map[string]interface{})

	for role, raw := range interfaces {
		entries, ok := raw.([]interface{})
		if !ok {
			continue
		}
		for i, rawEntry := range entries {
			entry, ok := rawEntry.(map[string]interface{})
			if !ok {
				continue
			}
			name := role + strconvItoa(i)
			cfg := map[string]interface{}{}
			var addrs []interface{}

			if ipv4, ok := entry["ipv4"].(map[string]interface{}); ok {
				if addr, ok := ipv4["ip_address"].(string); ok {
					addrs = append(addrs, addr)
				}
				if gw, ok := ipv4["gateway"].(string); ok {
					cfg["gateway4"] = gw
				}
			}
			if mac, ok := entry["mac"].(string); ok {
				cfg["match"] = map[string]interface{}{"macaddress": mac}
			}
			cfg["addresses"] = addrs
			eth[name] = cfg
		}
	}
	return out
}

func strconvItoa(i int) string {
	if i == 0 {
		return ""
	}
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return "n"
}
