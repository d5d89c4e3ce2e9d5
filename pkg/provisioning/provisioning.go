// Package provisioning implements the Provisioning Orchestrator (C10): a
// C8 plugin that collects raw configuration from every data source
// available on the current host, merges and normalizes the result into a
// pkg/schema.UnifiedConfig, and serves it to the sysconfig service on
// request (get_config). It does not push the result to the service's
// apply_state.
//
// Sources are collected lowest-precedence first: the cloud vendors'
// metadata services, then cloud-init, then the local file, each
// overlaying the last, so the local file wins any conflict (see New).
package provisioning

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/sirupsen/logrus"

	"github.com/toasterson/sysconfig/pkg/provisioning/merge"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
	"github.com/toasterson/sysconfig/pkg/pluginrpc"
	"github.com/toasterson/sysconfig/pkg/schema"
	"github.com/toasterson/sysconfig/pkg/state"
)

// Plugin implements pluginrpc.PluginService by running the collect/
// merge/normalize pipeline over a fixed set of data sources.
type Plugin struct {
	log     logrus.FieldLogger
	clock   clock.Clock
	sources []sources.Source

	pluginID  string
	lastState json.RawMessage
}

// New returns a Plugin over srcs, sorted so that Collect feeds
// merge.Documents in the order it needs: spec.md §4.3 defines a lower
// Priority number as higher precedence, and merge.Documents overlays
// each later document onto the accumulated result (last-appended wins).
// So sources are sorted highest-Priority-number first, lowest last — the
// lowest-numbered (highest-precedence) source is collected last and
// overlays everything collected before it.
func New(log logrus.FieldLogger, clk clock.Clock, srcs []sources.Source) *Plugin {
	sorted := append([]sources.Source(nil), srcs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() > sorted[j].Priority() })
	if clk == nil {
		clk = clock.New()
	}
	return &Plugin{log: log, clock: clk, sources: sorted}
}

var _ pluginrpc.PluginService = (*Plugin)(nil)

// Collect runs Detect/Load across every configured source in p.sources
// order (lowest-precedence source first, highest-precedence source
// last, see New), merges the results, and normalizes them into a
// UnifiedConfig. A source whose Detect returns false, or whose Load
// fails, is skipped and logged rather than aborting the whole pass — one
// unreachable cloud API should never block every other source's
// contribution.
func (p *Plugin) Collect(ctx context.Context) (*schema.UnifiedConfig, []string, error) {
	var docs []map[string]interface{}
	var loaded []string

	for _, src := range p.sources {
		if !src.Detect(ctx) {
			continue
		}
		doc, err := src.Load(ctx)
		if err != nil {
			p.log.WithError(err).WithField("source", src.Name()).Warn("provisioning source failed to load")
			continue
		}
		docs = append(docs, doc)
		loaded = append(loaded, src.Name())
	}

	merged := merge.Documents(docs...)
	cfg, err := merge.Normalize(merged)
	if err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

func (p *Plugin) Initialize(req *pluginrpc.InitializeRequest, resp *pluginrpc.InitializeResponse) error {
	p.pluginID = req.PluginID
	ctx := context.Background()
	cfg, loaded, err := p.Collect(ctx)
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		return nil
	}
	stateJSON, err := cfg.ToCanonicalJSON()
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		return nil
	}
	p.lastState = stateJSON
	p.log.WithField("sources", loaded).Info("provisioning plugin initialized")
	resp.Success = true
	return nil
}

func (p *Plugin) GetConfig(req *pluginrpc.GetConfigRequest, resp *pluginrpc.GetConfigResponse) error {
	if p.lastState == nil {
		cfg, _, err := p.Collect(context.Background())
		if err != nil {
			return err
		}
		stateJSON, err := cfg.ToCanonicalJSON()
		if err != nil {
			return err
		}
		p.lastState = stateJSON
	}
	resp.ConfigJSON = p.lastState
	return nil
}

func (p *Plugin) DiffState(req *pluginrpc.DiffStateRequest, resp *pluginrpc.DiffStateResponse) error {
	changes, err := state.Diff(req.CurrentJSON, req.DesiredJSON)
	if err != nil {
		return err
	}
	resp.Different = !changes.IsEmpty()
	resp.Changes = changes
	return nil
}

// ApplyState validates the proposed document but never mutates host
// state: a provisioning plugin only ever produces state, it never
// applies configuration another plugin owns. A real apply would belong
// to whichever plugin actually manages the affected paths.
func (p *Plugin) ApplyState(req *pluginrpc.ApplyStateRequest, resp *pluginrpc.ApplyStateResponse) error {
	var probe interface{}
	if err := json.Unmarshal(req.StateJSON, &probe); err != nil {
		resp.Success = false
		resp.Error = "invalid state JSON: " + err.Error()
		return nil
	}
	resp.Success = true
	return nil
}

// ExecuteAction supports a single action, "reload": it forces a fresh
// Collect pass and replaces the cached state document.
func (p *Plugin) ExecuteAction(req *pluginrpc.ExecuteActionRequest, resp *pluginrpc.ExecuteActionResponse) error {
	switch req.Action {
	case "reload":
		cfg, loaded, err := p.Collect(context.Background())
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
			return nil
		}
		stateJSON, err := cfg.ToCanonicalJSON()
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
			return nil
		}
		p.lastState = stateJSON
		result, _ := json.Marshal(map[string]interface{}{"sources": loaded})
		resp.Success = true
		resp.Result = result
		return nil
	default:
		resp.Success = false
		resp.Error = "unknown action: " + req.Action
		return nil
	}
}

func (p *Plugin) NotifyStateChange(req *pluginrpc.NotifyStateChangeRequest, resp *pluginrpc.NotifyStateChangeResponse) error {
	p.log.WithField("path", req.Event.Path).Debug("provisioning plugin observed external state change")
	return nil
}

// CollectOnce runs a single Collect pass and returns the resulting
// canonical JSON document, for the one-shot orchestrator mode.
func (p *Plugin) CollectOnce(ctx context.Context) (json.RawMessage, []string, error) {
	cfg, loaded, err := p.Collect(ctx)
	if err != nil {
		return nil, loaded, err
	}
	out, err := cfg.ToCanonicalJSON()
	if err != nil {
		return nil, loaded, err
	}
	return out, loaded, nil
}

// PeriodicCollect calls fn every interval until ctx is canceled,
// matching the orchestrator's "periodic mode" (spec.md's provisioning
// loop re-running detection so a NoCloud seed directory that appears later or a
// metadata-service that only becomes reachable after network bring-up is
// eventually picked up).
func PeriodicCollect(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
