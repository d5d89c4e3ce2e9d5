// Package azure implements the Azure Instance Metadata Service (IMDS)
// data source. Azure refuses every request lacking the "Metadata: true"
// header, which doubles as a cheap way to tell an Azure VM apart from
// any other metadata service living at the same link-local address.
package azure

import (
	"context"
	"strconv"
	"strings"

	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

const (
	DefaultMetadataURL = "http://169.254.169.254"
	apiVersion         = "2021-02-01"
)

type Source struct {
	MetadataURL string
}

func New() *Source { return &Source{MetadataURL: DefaultMetadataURL} }

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string              { return "azure" }
func (s *Source) Priority() sources.Priority { return sources.PriorityAzure }

func (s *Source) headers() []sources.Header {
	return []sources.Header{{Key: "Metadata", Value: "true"}}
}

func (s *Source) instanceURL() string {
	return s.MetadataURL + "/metadata/instance?api-version=" + apiVersion
}

func (s *Source) Detect(ctx context.Context) bool {
	return sources.Probe(ctx, s.instanceURL(), s.headers(), sources.DefaultTimeout)
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	instance, err := sources.FetchJSON(ctx, s.instanceURL(), s.headers(), sources.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	doc := map[string]interface{}{}
	compute, _ := instance["compute"].(map[string]interface{})
	if compute != nil {
		if name, ok := compute["name"].(string); ok {
			doc["hostname"] = name
		}
		if location, ok := compute["location"].(string); ok {
			doc["region"] = location
		}
		if vmID, ok := compute["vmId"].(string); ok {
			doc["instance-id"] = vmID
		}
	}

	network, _ := instance["network"].(map[string]interface{})
	if network != nil {
		doc["networking"] = convertNetwork(network)
	}

	keysURL := s.MetadataURL + "/metadata/instance/compute/publicKeys?api-version=" + apiVersion + "&format=json"
	if raw, err := sources.FetchText(ctx, keysURL, s.headers(), sources.DefaultTimeout); err == nil {
		doc["ssh_authorized_keys_raw"] = strings.TrimSpace(raw)
	}

	return doc, nil
}

// convertNetwork reshapes Azure IMDS's network/interface/ipv4 nesting
// into the cloud-init network-config-v2-like shape Normalize expects:
// an "ethernets" map keyed by a synthetic interface name.
func convertNetwork(network map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"version": float64(2), "ethernets": map[string]interface{}{}}
	eth := out["ethernets"].(map[string]interface{})

	ifaces, _ := network["interface"].([]interface{})
	for i, raw := range ifaces {
		iface, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name := "eth" + strconv.Itoa(i)
		cfg := map[string]interface{}{}

		if mac, ok := iface["macAddress"].(string); ok {
			cfg["match"] = map[string]interface{}{"macaddress": mac}
		}

		var addrs []interface{}
		ipv4, _ := iface["ipv4"].(map[string]interface{})
		if ipv4 != nil {
			ipAddrs, _ := ipv4["ipAddress"].([]interface{})
			for _, rawAddr := range ipAddrs {
				addrMap, ok := rawAddr.(map[string]interface{})
				if !ok {
					continue
				}
				if ip, ok := addrMap["privateIpAddress"].(string); ok {
					addrs = append(addrs, ip+"/24")
				}
			}
			if subnet, ok := ipv4["subnet"].([]interface{}); ok && len(subnet) > 0 {
				if subnetMap, ok := subnet[0].(map[string]interface{}); ok {
					if gw, ok := subnetMap["address"].(string); ok {
						cfg["gateway4"] = gw
					}
				}
			}
		}
		cfg["addresses"] = addrs
		eth[name] = cfg
	}
	return out
}
