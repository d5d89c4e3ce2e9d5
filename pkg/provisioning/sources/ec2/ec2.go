// Package ec2 implements the AWS EC2 instance metadata service (IMDS)
// data source. It first attempts the IMDSv2 session-token handshake and
// falls back to tokenless IMDSv1 requests when the token PUT fails.
package ec2

import (
	"context"
	"net/http"
	"strings"

	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

const DefaultMetadataURL = "http://169.254.169.254"

type Source struct {
	MetadataURL string
}

func New() *Source { return &Source{MetadataURL: DefaultMetadataURL} }

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string              { return "ec2" }
func (s *Source) Priority() sources.Priority { return sources.PriorityEC2 }

func (s *Source) Detect(ctx context.Context) bool {
	return sources.Probe(ctx, s.MetadataURL+"/latest/meta-data/", s.tokenHeader(ctx), sources.DefaultTimeout)
}

// tokenHeader performs the IMDSv2 PUT /latest/api/token handshake and
// returns the resulting session token as a request header, falling back
// to an empty header set (IMDSv1) if the PUT fails or times out.
func (s *Source) tokenHeader(ctx context.Context) []sources.Header {
	ctx, cancel := context.WithTimeout(ctx, sources.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.MetadataURL+"/latest/api/token", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("X-aws-ec2-metadata-token-ttl-seconds", "21600")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	token := strings.TrimSpace(string(buf[:n]))
	if token == "" {
		return nil
	}
	return []sources.Header{{Key: "X-aws-ec2-metadata-token", Value: token}}
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	headers := s.tokenHeader(ctx)
	base := s.MetadataURL + "/latest"
	doc := map[string]interface{}{}

	if hostname, err := sources.FetchText(ctx, base+"/meta-data/hostname", headers, sources.DefaultTimeout); err == nil {
		doc["hostname"] = strings.TrimSpace(hostname)
	}
	if instanceID, err := sources.FetchText(ctx, base+"/meta-data/instance-id", headers, sources.DefaultTimeout); err == nil {
		doc["instance-id"] = strings.TrimSpace(instanceID)
	}
	if az, err := sources.FetchText(ctx, base+"/meta-data/placement/region", headers, sources.DefaultTimeout); err == nil {
		doc["region"] = strings.TrimSpace(az)
	}
	if keysText, err := sources.FetchText(ctx, base+"/meta-data/public-keys/", headers, sources.DefaultTimeout); err == nil {
		var keys []interface{}
		for _, line := range strings.Split(keysText, "\n") {
			idx := strings.Index(line, "=")
			if idx < 0 {
				continue
			}
			keyIndex := line[:idx]
			key, err := sources.FetchText(ctx, base+"/meta-data/public-keys/"+keyIndex+"/openssh-key", headers, sources.DefaultTimeout)
			if err == nil {
				keys = append(keys, strings.TrimSpace(key))
			}
		}
		if len(keys) > 0 {
			doc["ssh_authorized_keys"] = keys
		}
	}
	if userData, err := sources.FetchText(ctx, base+"/user-data", headers, sources.DefaultTimeout); err == nil {
		if text := strings.TrimSpace(userData); text != "" {
			doc["user_data_raw"] = text
		}
	}

	return doc, nil
}
