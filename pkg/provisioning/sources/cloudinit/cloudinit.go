// Package cloudinit implements the cloud-init NoCloud data source: a
// seed directory of meta-data/user-data/network-config files, the most
// common way a hypervisor (not a cloud API) hands configuration to a
// guest. The EC2-style metadata-service fallback it also tries mirrors
// cloud-init's own datasource probing order.
package cloudinit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

// DefaultSeedPath is cloud-init's own default NoCloud seed directory.
const DefaultSeedPath = "/var/lib/cloud/seed/nocloud"

// DefaultMetadataURL is the link-local address cloud-init's EC2-style
// datasource falls back to when no local seed is present.
const DefaultMetadataURL = "http://169.254.169.254"

type Source struct {
	SeedPath    string
	MetadataURL string
}

func New() *Source {
	return &Source{SeedPath: DefaultSeedPath, MetadataURL: DefaultMetadataURL}
}

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string                { return "cloud-init" }
func (s *Source) Priority() sources.Priority   { return sources.PriorityCloudInit }

func (s *Source) Detect(ctx context.Context) bool {
	if _, err := os.Stat(s.SeedPath); err == nil {
		return true
	}
	return sources.Probe(ctx, s.MetadataURL+"/latest/meta-data/", nil, sources.DefaultTimeout)
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	if _, err := os.Stat(s.SeedPath); err == nil {
		doc, err := s.loadFromSeed()
		if err == nil {
			return doc, nil
		}
	}
	return s.loadFromMetadataService(ctx)
}

func (s *Source) loadFromSeed() (map[string]interface{}, error) {
	doc := map[string]interface{}{}

	metaPath := filepath.Join(s.SeedPath, "meta-data")
	if content, err := os.ReadFile(metaPath); err == nil {
		meta, err := parseYAMLOrJSON(content)
		if err != nil {
			return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "parsing cloud-init meta-data", err)
		}
		parseMetadataInto(meta, doc)
	}

	userDataPath := filepath.Join(s.SeedPath, "user-data")
	if content, err := os.ReadFile(userDataPath); err == nil {
		if text := strings.TrimSpace(string(content)); text != "" {
			doc["user_data_raw"] = text
			if strings.HasPrefix(text, "#cloud-config") {
				cloudConfig, err := parseYAMLOrJSON(content)
				if err == nil {
					for k, v := range cloudConfig {
						doc[k] = v
					}
				}
			}
		}
	}

	netConfigPath := filepath.Join(s.SeedPath, "network-config")
	if content, err := os.ReadFile(netConfigPath); err == nil {
		net, err := parseYAMLOrJSON(content)
		if err == nil {
			doc["networking"] = net
		}
	}

	if len(doc) == 0 {
		return nil, sysconfigerr.New(sysconfigerr.NotFound, "no cloud-init seed data found")
	}
	return doc, nil
}

func (s *Source) loadFromMetadataService(ctx context.Context) (map[string]interface{}, error) {
	base := s.MetadataURL + "/latest"
	doc := map[string]interface{}{}

	if hostname, err := sources.FetchText(ctx, base+"/meta-data/hostname", nil, sources.DefaultTimeout); err == nil {
		doc["hostname"] = strings.TrimSpace(hostname)
	}

	if keysText, err := sources.FetchText(ctx, base+"/meta-data/public-keys", nil, sources.DefaultTimeout); err == nil {
		var keys []string
		for _, line := range strings.Split(keysText, "\n") {
			idx := strings.Index(line, "=")
			if idx < 0 {
				continue
			}
			keyIndex := line[:idx]
			key, err := sources.FetchText(ctx, base+"/meta-data/public-keys/"+keyIndex+"/openssh-key", nil, sources.DefaultTimeout)
			if err == nil {
				keys = append(keys, strings.TrimSpace(key))
			}
		}
		if len(keys) > 0 {
			doc["ssh_authorized_keys"] = toInterfaceSlice(keys)
		}
	}

	if userData, err := sources.FetchText(ctx, base+"/user-data", nil, sources.DefaultTimeout); err == nil {
		if text := strings.TrimSpace(userData); text != "" && !strings.Contains(userData, "404") {
			doc["user_data_raw"] = text
		}
	}

	if len(doc) == 0 {
		return nil, sysconfigerr.New(sysconfigerr.NotFound, "cloud-init metadata service returned no data")
	}
	return doc, nil
}

// parseMetadataInto normalizes the handful of meta-data key spellings
// cloud-init datasources use (hostname, instance-id, name) down to the
// single "hostname" key the merger expects, and carries public-keys
// through under the array shape Normalize understands.
func parseMetadataInto(meta map[string]interface{}, doc map[string]interface{}) {
	if hostname, ok := meta["hostname"].(string); ok {
		doc["hostname"] = hostname
	} else if id, ok := meta["instance-id"].(string); ok {
		doc["hostname"] = id
	} else if name, ok := meta["name"].(string); ok {
		doc["hostname"] = name
	}

	switch keys := meta["public-keys"].(type) {
	case []interface{}:
		doc["ssh_authorized_keys"] = keys
	case map[string]interface{}:
		var out []interface{}
		for _, v := range keys {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		doc["ssh_authorized_keys"] = out
	case string:
		var out []interface{}
		for _, line := range strings.Split(keys, "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				out = append(out, line)
			}
		}
		doc["ssh_authorized_keys"] = out
	}
}

func parseYAMLOrJSON(content []byte) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(string(content))
	trimmed = strings.TrimPrefix(trimmed, "#cloud-config")
	var doc map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(trimmed), "{") {
		if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, err
	}
	return normalizeYAMLMap(doc), nil
}

// normalizeYAMLMap rewrites map[string]interface{} nested values that
// yaml.v3 decodes as map[interface{}]interface{}-equivalent (it actually
// already decodes string-keyed maps as map[string]interface{}, but
// nested nodes still need a recursive pass so []interface{} elements
// that are themselves maps come out JSON-shaped too).
func normalizeYAMLMap(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for k, val := range v {
		out[k] = normalizeYAMLValue(val)
	}
	return out
}

func normalizeYAMLValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return normalizeYAMLMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeYAMLValue(e)
		}
		return out
	default:
		return v
	}
}

func toInterfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
