// Package gcp implements the Google Compute Engine metadata server data
// source. Every request must carry "Metadata-Flavor: Google" or the
// server refuses it, the same marker GCP's own guest agent uses to avoid
// being fooled by an unrelated service on the link-local address.
package gcp

import (
	"context"
	"strings"

	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

const DefaultMetadataURL = "http://metadata.google.internal"

type Source struct {
	MetadataURL string
}

func New() *Source { return &Source{MetadataURL: DefaultMetadataURL} }

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string              { return "gcp" }
func (s *Source) Priority() sources.Priority { return sources.PriorityGCP }

func (s *Source) headers() []sources.Header {
	return []sources.Header{{Key: "Metadata-Flavor", Value: "Google"}}
}

func (s *Source) Detect(ctx context.Context) bool {
	return sources.Probe(ctx, s.MetadataURL+"/computeMetadata/v1/instance/id", s.headers(), sources.DefaultTimeout)
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	doc := map[string]interface{}{}

	if hostname, err := sources.FetchText(ctx, s.MetadataURL+"/computeMetadata/v1/instance/hostname", s.headers(), sources.DefaultTimeout); err == nil {
		doc["hostname"] = strings.TrimSpace(hostname)
	}
	if id, err := sources.FetchText(ctx, s.MetadataURL+"/computeMetadata/v1/instance/id", s.headers(), sources.DefaultTimeout); err == nil {
		doc["instance-id"] = strings.TrimSpace(id)
	}
	if zone, err := sources.FetchText(ctx, s.MetadataURL+"/computeMetadata/v1/instance/zone", s.headers(), sources.DefaultTimeout); err == nil {
		// zone comes back as "projects/123/zones/us-central1-a".
		parts := strings.Split(strings.TrimSpace(zone), "/")
		doc["region"] = parts[len(parts)-1]
	}
	if keysText, err := sources.FetchText(ctx, s.MetadataURL+"/computeMetadata/v1/project/attributes/sshKeys", s.headers(), sources.DefaultTimeout); err == nil {
		var keys []interface{}
		for _, line := range strings.Split(keysText, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if idx := strings.Index(line, ":"); idx >= 0 {
				line = line[idx+1:]
			}
			keys = append(keys, strings.TrimSpace(line))
		}
		if len(keys) > 0 {
			doc["ssh_authorized_keys"] = keys
		}
	}
	if startup, err := sources.FetchText(ctx, s.MetadataURL+"/computeMetadata/v1/instance/attributes/startup-script", s.headers(), sources.DefaultTimeout); err == nil {
		if text := strings.TrimSpace(startup); text != "" {
			doc["startup_script"] = text
		}
	}

	return doc, nil
}
