// Package daemonconfig implements sysconfigd's own HCL bootstrap
// configuration: the socket path, log level, state directory, and the
// list of plugin IDs the operator expects to see register. This is a
// distinct document from the managed state sysconfigd serves — that
// stays dynamic JSON, this is fixed at startup and never touched again.
package daemonconfig

import (
	"os"

	"github.com/hashicorp/hcl"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
	"github.com/toasterson/sysconfig/pkg/catalog"
	"github.com/toasterson/sysconfig/pkg/state"
	"github.com/toasterson/sysconfig/pkg/transport"
)

// PluginBlock declares one entry of the bootstrap "expected plugins"
// preload list:
//
//	plugin "com.example.provisioning" {
//	    name     = "provisioning"
//	    required = true
//	}
type PluginBlock struct {
	ID       string `hcl:",key"`
	Name     string `hcl:"name"`
	Required bool   `hcl:"required"`
}

// Config is sysconfigd's full bootstrap document.
type Config struct {
	SocketPath string        `hcl:"socket_path"`
	LogLevel   string        `hcl:"log_level"`
	StateDir   string        `hcl:"state_dir"`
	Plugins    []PluginBlock `hcl:"plugin"`
}

// DefaultLogLevel is used when a Config doesn't set log_level.
const DefaultLogLevel = "info"

// Default returns a Config with every field set to its default, for a
// daemon started with no config file at all.
func Default() *Config {
	return &Config{
		SocketPath: transport.DefaultSocketPath(),
		LogLevel:   DefaultLogLevel,
		StateDir:   state.DefaultStateDir(),
	}
}

// Load reads and decodes the HCL document at path, filling in any field
// left unset with its default.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.Internal, "reading daemon config file", err)
	}

	cfg := Default()
	if err := hcl.Decode(cfg, string(raw)); err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "parsing daemon config file", err)
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = transport.DefaultSocketPath()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.StateDir == "" {
		cfg.StateDir = state.DefaultStateDir()
	}
	return cfg, nil
}

// GlobalConfig projects Config down to the catalog.GlobalConfig shape
// Registry construction needs.
func (c *Config) GlobalConfig() *catalog.GlobalConfig {
	return &catalog.GlobalConfig{LogLevel: c.LogLevel}
}

// PluginPreload projects the declared plugin blocks into the
// catalog.HCLPluginConfigMap Registry construction needs.
func (c *Config) PluginPreload() catalog.HCLPluginConfigMap {
	preload := make(catalog.HCLPluginConfigMap, len(c.Plugins))
	for _, p := range c.Plugins {
		preload[p.ID] = catalog.HCLPluginConfig{
			PluginName: p.Name,
			Required:   p.Required,
		}
	}
	return preload
}
