// Package openstack implements the OpenStack metadata-service data
// source: meta_data.json plus an optional network_data.json describing
// interfaces by link/network, fetched over HTTP from Nova's metadata
// service. A mounted config drive is not read.
package openstack

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

const DefaultMetadataURL = "http://169.254.169.254"

type Source struct {
	MetadataURL string
}

func New() *Source { return &Source{MetadataURL: DefaultMetadataURL} }

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string              { return "openstack" }
func (s *Source) Priority() sources.Priority { return sources.PriorityOpenStack }

func (s *Source) metaDataURL() string    { return s.MetadataURL + "/openstack/latest/meta_data.json" }
func (s *Source) networkDataURL() string { return s.MetadataURL + "/openstack/latest/network_data.json" }
func (s *Source) userDataURL() string    { return s.MetadataURL + "/openstack/latest/user_data" }

func (s *Source) Detect(ctx context.Context) bool {
	return sources.Probe(ctx, s.metaDataURL(), nil, sources.DefaultTimeout)
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	meta, err := sources.FetchJSON(ctx, s.metaDataURL(), nil, sources.DefaultTimeout)
	if err != nil {
		return nil, err
	}

	doc := map[string]interface{}{}
	if hostname, ok := meta["hostname"].(string); ok {
		doc["hostname"] = hostname
	}
	if id, ok := meta["uuid"].(string); ok {
		doc["instance-id"] = id
	}
	if keys, ok := meta["public_keys"].(map[string]interface{}); ok {
		var out []interface{}
		for _, v := range keys {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		doc["ssh_authorized_keys"] = out
	}

	if netData, err := sources.FetchJSON(ctx, s.networkDataURL(), nil, sources.DefaultTimeout); err == nil {
		doc["networking"] = convertNetworkData(netData)
	}
	if userData, err := sources.FetchText(ctx, s.userDataURL(), nil, sources.DefaultTimeout); err == nil {
		if text := strings.TrimSpace(userData); text != "" {
			doc["user_data_raw"] = text
		}
	}

	return doc, nil
}

// convertNetworkData maps OpenStack's "links"+"networks" pair (a link is
// a physical/bond/vlan NIC; a network references a link by id and
// carries the actual address assignment) into the network-config-v2-like
// "ethernets" shape, keyed by link id.
func convertNetworkData(netData map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{"version": float64(2), "ethernets": map[string]interface{}{}}
	eth := out["ethernets"].(map[string]interface{})

	links, _ := netData["links"].([]interface{})
	macByID := map[string]string{}
	for _, raw := range links {
		link, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		id, _ := link["id"].(string)
		mac, _ := link["ethernet_mac_address"].(string)
		if id != "" {
			macByID[id] = mac
		}
	}

	networks, _ := netData["networks"].([]interface{})
	for _, raw := range networks {
		netw, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		linkID, _ := netw["link"].(string)
		if linkID == "" {
			continue
		}
		cfg, ok := eth[linkID].(map[string]interface{})
		if !ok {
			cfg = map[string]interface{}{}
			if mac := macByID[linkID]; mac != "" {
				cfg["match"] = map[string]interface{}{"macaddress": mac}
			}
			eth[linkID] = cfg
		}

		netType, _ := netw["type"].(string)
		switch netType {
		case "ipv4_dhcp":
			cfg["dhcp4"] = true
		case "ipv6_dhcp":
			cfg["dhcp6"] = true
		case "ipv4", "ipv6":
			addrs, _ := cfg["addresses"].([]interface{})
			ip, _ := netw["ip_address"].(string)
			netmask, _ := netw["netmask"].(string)
			if ip != "" {
				addrs = append(addrs, ip+"/"+netmaskToPrefix(netmask))
			}
			cfg["addresses"] = addrs
			if gw, ok := netw["routes"].([]interface{}); ok {
				for _, rawRoute := range gw {
					route, ok := rawRoute.(map[string]interface{})
					if !ok {
						continue
					}
					if dest, _ := route["network"].(string); dest == "0.0.0.0" || dest == "::" {
						if gateway, ok := route["gateway"].(string); ok {
							cfg["gateway4"] = gateway
						}
					}
				}
			}
		}
	}
	return out
}

// netmaskToPrefix converts a dotted-decimal netmask (network_data.json's
// only format) to its CIDR prefix length.
func netmaskToPrefix(mask string) string {
	ip := net.ParseIP(mask)
	if ip == nil {
		return "32"
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return "32"
	}
	ones, _ := net.IPMask(ip4).Size()
	return strconv.Itoa(ones)
}
