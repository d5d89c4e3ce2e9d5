// Package local implements the highest-precedence provisioning source
// (PriorityLocalFile): a single JSON or YAML document dropped on disk by
// an operator or an image build step. Collect reads it after every cloud
// source, so its values override theirs.
package local

import (
	"context"
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
)

// DefaultPath is where sysconfig-provisioning looks for a local override
// document by default.
const DefaultPath = "/etc/sysconfig/provisioning.json"

// Source reads a local provisioning document, unconditionally present on
// any host that was given one, with no network or DMI probing required.
type Source struct {
	Path string
}

// New returns a local Source reading from path, or DefaultPath if empty.
func New(path string) *Source {
	if path == "" {
		path = DefaultPath
	}
	return &Source{Path: path}
}

var _ sources.Source = (*Source)(nil)

func (s *Source) Name() string            { return "local" }
func (s *Source) Priority() sources.Priority { return sources.PriorityLocalFile }

func (s *Source) Detect(ctx context.Context) bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

func (s *Source) Load(ctx context.Context) (map[string]interface{}, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.Transport, "reading local provisioning document", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		if yerr := yaml.Unmarshal(data, &doc); yerr != nil || doc == nil {
			return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "local provisioning document is neither valid JSON nor YAML", err)
		}
	}
	return doc, nil
}
