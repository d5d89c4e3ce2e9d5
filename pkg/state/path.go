package state

import (
	"encoding/json"
	"strings"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
)

// GetPath extracts the value at a dotted path (e.g. "networking.hostname")
// from a JSON document, returning it re-encoded as its own JSON value. An
// empty path returns the whole document. get_state (spec.md §4.9/§6) uses
// this to serve a scoped read without requiring the caller to parse the
// full state document.
func GetPath(doc json.RawMessage, path string) (json.RawMessage, error) {
	if path == "" {
		return doc, nil
	}

	var root interface{}
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "invalid state document", err)
	}

	cur := root
	for _, segment := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, sysconfigerr.NotFoundPath(path)
		}
		v, ok := m[segment]
		if !ok {
			return nil, sysconfigerr.NotFoundPath(path)
		}
		cur = v
	}

	out, err := json.Marshal(cur)
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.Internal, "failed to encode path value", err)
	}
	return out, nil
}

// HasPath reports whether a dotted path is reachable within doc. Used by
// apply_state's lock-conflict check (spec.md §4.6 point 2): a lock on a
// path blocks any apply whose new document still contains that path,
// regardless of whether the value there actually changes.
func HasPath(doc json.RawMessage, path string) bool {
	_, err := GetPath(doc, path)
	return err == nil
}
