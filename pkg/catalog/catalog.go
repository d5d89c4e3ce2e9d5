// Package catalog implements the Plugin Registry (C4): the authoritative
// map of plugin IDs to the Unix socket each registered plugin process is
// listening on.
//
// Unlike the teacher's pkg/server/catalog, plugins here are independent,
// pre-spawned processes that call register_plugin over the wire — this
// catalog never starts a subprocess or loads a Go plugin symbol. It keeps
// the teacher's GlobalConfig/HCLPluginConfigMap-shaped bootstrap
// declaration (what the operator expects to see register) separate from
// the live registry (what has actually registered), the same separation
// catalog.Load draws between declared PluginConfig and the filled
// Repository.
package catalog

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
)

// GlobalConfig carries daemon-wide settings passed to New, mirroring the
// teacher's catalog.GlobalConfig parameter. New accepts it but does not
// read it; no plugin preload entry is checked against it.
type GlobalConfig struct {
	LogLevel string
}

// HCLPluginConfig is one entry in the daemon's bootstrap "expected
// plugins" preload list — not a live registration, just an operator
// declaration of which plugin IDs are expected to eventually register,
// used to log a warning if one never shows up.
type HCLPluginConfig struct {
	PluginName string
	Required   bool
}

// HCLPluginConfigMap is the full preload declaration, keyed by plugin ID.
type HCLPluginConfigMap map[string]HCLPluginConfig

// PluginInfo is a single live registration.
type PluginInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	SocketPath   string    `json:"socket_path"`
	ManagedPaths []string  `json:"managed_paths"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Registry is the live, runtime plugin catalog. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	log      logrus.FieldLogger
	plugins  map[string]*PluginInfo
	preload  HCLPluginConfigMap
	required map[string]struct{}
}

// New returns an empty registry. preload declares the plugin IDs the
// operator expects to see register; it is advisory only — Register never
// rejects an ID that isn't in preload, matching spec.md's plugins being
// independent, dynamically-started processes rather than catalog-managed
// ones.
func New(log logrus.FieldLogger, globalConfig *GlobalConfig, preload HCLPluginConfigMap) *Registry {
	required := make(map[string]struct{})
	for id, cfg := range preload {
		if cfg.Required {
			required[id] = struct{}{}
		}
	}
	return &Registry{
		log:      log,
		plugins:  make(map[string]*PluginInfo),
		preload:  preload,
		required: required,
	}
}

// Register records that pluginID is listening at socketPath, replacing
// any prior registration for the same ID (a plugin that restarts on a new
// socket re-registers under the same ID). managedPaths declares the state
// subtree(s) the plugin owns, used by pkg/service to decide which plugins
// to forward an apply_state's touched paths to.
func (r *Registry) Register(pluginID, name, description, socketPath string, managedPaths []string, now time.Time) *PluginInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := &PluginInfo{
		ID:           pluginID,
		Name:         name,
		Description:  description,
		SocketPath:   socketPath,
		ManagedPaths: managedPaths,
		RegisteredAt: now,
	}
	r.plugins[pluginID] = info
	delete(r.required, pluginID)
	r.log.WithFields(logrus.Fields{"plugin_id": pluginID, "socket_path": socketPath}).Info("plugin registered")
	return info
}

// Deregister removes a plugin's registration, e.g. on RPC dial failure.
func (r *Registry) Deregister(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, pluginID)
}

// Get returns the registration for pluginID, if any.
func (r *Registry) Get(pluginID string) (*PluginInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.plugins[pluginID]
	if !ok {
		return nil, sysconfigerr.New(sysconfigerr.NotFound, "plugin not registered: "+pluginID)
	}
	return info, nil
}

// List returns every registered plugin, sorted by ID.
func (r *Registry) List() []*PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*PluginInfo, 0, len(r.plugins))
	for _, info := range r.plugins {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MatchingManagedPath returns every registered plugin that declared path
// (or a prefix of it) among its managed paths, sorted by ID. Used by
// pkg/service to decide which plugins to forward a changed subtree to
// after a successful apply_state.
func (r *Registry) MatchingManagedPath(path string) []*PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*PluginInfo
	for _, info := range r.plugins {
		for _, managed := range info.ManagedPaths {
			if path == managed || strings.HasPrefix(path, managed+".") {
				out = append(out, info)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MissingRequired returns the IDs declared Required in the preload map
// that have not yet registered. Intended for a periodic health-check log
// line, not an enforcement gate — spec.md never requires a plugin to be
// present for the service to start.
func (r *Registry) MissingRequired() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for id := range r.required {
		missing = append(missing, id)
	}
	sort.Strings(missing)
	return missing
}
