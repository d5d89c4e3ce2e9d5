// Package service implements the SysConfig Service (C9): the external
// RPC-facing coordinator that wires the state store, lock manager, plugin
// registry, change broadcaster, and plugin dispatcher together behind
// pkg/transport's SysConfigServiceServer interface.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
	"github.com/toasterson/sysconfig/internal/telemetry"
	"github.com/toasterson/sysconfig/pkg/broadcast"
	"github.com/toasterson/sysconfig/pkg/catalog"
	"github.com/toasterson/sysconfig/pkg/locks"
	"github.com/toasterson/sysconfig/pkg/pluginrpc"
	"github.com/toasterson/sysconfig/pkg/state"
	"github.com/toasterson/sysconfig/pkg/transport"
)

// Dispatcher is the narrow surface Service needs from pkg/pluginrpc's
// Dispatcher — kept as an interface so tests can substitute a fake
// plugin without dialing a real socket. *pluginrpc.Dispatcher satisfies
// this directly.
type Dispatcher interface {
	ExecuteAction(ctx context.Context, pluginID, socketPath, action string, params json.RawMessage) (*pluginrpc.ExecuteActionResponse, error)
	NotifyStateChange(ctx context.Context, pluginID, socketPath string, evt broadcast.ChangeEvent) error
}

// Service implements transport.SysConfigServiceServer.
type Service struct {
	log         logrus.FieldLogger
	state       *state.RevisionManager
	locks       *locks.Manager
	catalog     *catalog.Registry
	broadcaster *broadcast.Broadcaster
	dispatcher  Dispatcher
	clock       clock.Clock
	metrics     telemetry.Sink
}

// Config bundles the dependencies a Service needs. Every field is
// required except Metrics and Clock, which default to a no-op sink and
// the real wall clock.
type Config struct {
	Log         logrus.FieldLogger
	State       *state.RevisionManager
	Locks       *locks.Manager
	Catalog     *catalog.Registry
	Broadcaster *broadcast.Broadcaster
	Dispatcher  Dispatcher
	Clock       clock.Clock
	Metrics     telemetry.Sink
}

// New wires a Service from its component parts.
func New(cfg Config) *Service {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	m := cfg.Metrics
	if m == nil {
		m = telemetry.Noop{}
	}
	return &Service{
		log:         cfg.Log,
		state:       cfg.State,
		locks:       cfg.Locks,
		catalog:     cfg.Catalog,
		broadcaster: cfg.Broadcaster,
		dispatcher:  cfg.Dispatcher,
		clock:       clk,
		metrics:     m,
	}
}

var _ transport.SysConfigServiceServer = (*Service)(nil)

// RegisterPlugin implements register_plugin (spec.md §4.9/§6).
func (s *Service) RegisterPlugin(ctx context.Context, req *transport.RegisterPluginRequest) (*transport.RegisterPluginResponse, error) {
	if req.PluginID == "" {
		return &transport.RegisterPluginResponse{Success: false, Error: "plugin_id is required"}, nil
	}
	if req.SocketPath == "" {
		return &transport.RegisterPluginResponse{Success: false, Error: "socket_path is required"}, nil
	}
	s.catalog.Register(req.PluginID, req.Name, req.Description, req.SocketPath, req.ManagedPaths, s.clock.Now())
	return &transport.RegisterPluginResponse{Success: true}, nil
}

// GetState implements get_state (spec.md §4.9/§6). Unlike the other
// methods, a missing path is surfaced as a genuine gRPC error rather than
// a success:false response, matching the §7 Errors column ("NotFound").
func (s *Service) GetState(ctx context.Context, req *transport.GetStateRequest) (*transport.GetStateResponse, error) {
	doc := s.state.Current()
	val, err := state.GetPath(doc, req.Path)
	if err != nil {
		return nil, statusFromErr(err)
	}
	return &transport.GetStateResponse{StateJSON: string(val)}, nil
}

// ApplyState implements apply_state (spec.md §4.6/§4.9/§6): validates the
// incoming JSON, rejects writes that touch a path locked by another
// plugin, computes the diff against the current document, commits it
// (unless dry_run), broadcasts the change to watch_state subscribers,
// and best-effort notifies plugins whose managed paths were touched.
func (s *Service) ApplyState(ctx context.Context, req *transport.ApplyStateRequest) (*transport.ApplyStateResponse, error) {
	defer s.metrics.MeasureSince(telemetry.KeyApplyDuration, s.clock.Now())

	pluginID, _ := transport.PluginIDFromContext(ctx)
	newDoc := json.RawMessage(req.StateJSON)

	var probe interface{}
	if err := json.Unmarshal(newDoc, &probe); err != nil {
		return &transport.ApplyStateResponse{Success: false, Error: "invalid JSON: " + err.Error()}, nil
	}

	if conflict := s.conflictingLock(newDoc, pluginID); conflict != nil {
		s.metrics.IncrCounter(telemetry.KeyLockConflict, 1)
		return &transport.ApplyStateResponse{
			Success: false,
			Error:   fmt.Sprintf("path %q is locked by plugin %q", conflict.Path, conflict.PluginID),
		}, nil
	}

	cl, err := state.Diff(s.state.Current(), newDoc)
	if err != nil {
		return &transport.ApplyStateResponse{Success: false, Error: err.Error()}, nil
	}
	wireChanges := toWireChanges(cl)

	if req.DryRun {
		return &transport.ApplyStateResponse{Success: true, Changes: wireChanges}, nil
	}

	changedBy := pluginID
	if changedBy == "" {
		changedBy = "unknown"
	}
	rev, err := s.state.UpdateState(newDoc, "apply_state", changedBy)
	if err != nil {
		return &transport.ApplyStateResponse{Success: false, Error: err.Error()}, nil
	}

	s.metrics.IncrCounter(telemetry.KeyApplyState, 1)
	s.broadcaster.Publish(broadcast.ChangeEvent{
		Value:     rev.State,
		PluginID:  pluginID,
		Timestamp: rev.Timestamp,
	})
	s.notifyManagedPlugins(ctx, cl, pluginID)

	return &transport.ApplyStateResponse{Success: true, Changes: wireChanges}, nil
}

// conflictingLock returns the first lock held by a plugin other than
// pluginID whose path is reachable within newDoc, or nil if there is no
// conflict.
func (s *Service) conflictingLock(newDoc json.RawMessage, pluginID string) *locks.Lock {
	held := s.locks.Held()
	var touched []string
	byPath := make(map[string]locks.Lock, len(held))
	for _, l := range held {
		byPath[l.Path] = l
		if state.HasPath(newDoc, l.Path) {
			touched = append(touched, l.Path)
		}
	}
	conflicts := s.locks.ConflictingPaths(touched, pluginID)
	if len(conflicts) == 0 {
		return nil
	}
	l := byPath[conflicts[0]]
	return &l
}

// notifyManagedPlugins forwards each changed path to every plugin whose
// declared managed paths cover it, skipping the plugin that originated
// the change. Best-effort: failures are logged, not propagated, since
// apply_state has already committed by the time this runs (spec.md §4.8
// describes this forwarding as optional).
func (s *Service) notifyManagedPlugins(ctx context.Context, cl state.ChangeList, originPluginID string) {
	notified := make(map[string]struct{})
	for _, ch := range cl {
		for _, info := range s.catalog.MatchingManagedPath(ch.Path) {
			if info.ID == originPluginID {
				continue
			}
			if _, done := notified[info.ID]; done {
				continue
			}
			notified[info.ID] = struct{}{}
			s.metrics.IncrCounter(telemetry.KeyPluginDispatch, 1)
			evt := broadcast.ChangeEvent{PluginID: originPluginID, Timestamp: s.clock.Now()}
			if err := s.dispatcher.NotifyStateChange(ctx, info.ID, info.SocketPath, evt); err != nil {
				s.log.WithError(err).WithField("plugin_id", info.ID).Warn("failed to notify plugin of state change")
			}
		}
	}
}

// WatchState implements watch_state (spec.md §4.7/§4.9/§6): streams every
// subsequent ApplyState commit to the caller until the stream's context
// is canceled or the subscriber lags and is dropped.
func (s *Service) WatchState(req *transport.WatchStateRequest, stream transport.SysConfigService_WatchStateServer) error {
	s.metrics.IncrCounter(telemetry.KeyWatchSubscribe, 1)
	sub := s.broadcaster.Subscribe()
	defer sub.Close(s.broadcaster)

	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				select {
				case <-sub.Lagged:
					return status.Error(codes.Internal, "watch_state subscriber lagged behind, reconnect and call get_state")
				default:
					return nil
				}
			}
			out := &transport.StateChangeEvent{
				Path:      evt.Path,
				Value:     string(evt.Value),
				PluginID:  evt.PluginID,
				Timestamp: evt.Timestamp.UTC().Format(time.RFC3339),
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-sub.Lagged:
			return status.Error(codes.Internal, "watch_state subscriber lagged behind, reconnect and call get_state")
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// LockState implements lock_state (spec.md §4.5/§4.9/§6).
func (s *Service) LockState(ctx context.Context, req *transport.LockStateRequest) (*transport.LockStateResponse, error) {
	if err := s.locks.Lock(req.Path, req.PluginID); err != nil {
		return &transport.LockStateResponse{Success: false, Error: err.Error()}, nil
	}
	return &transport.LockStateResponse{Success: true}, nil
}

// UnlockState implements unlock_state (spec.md §4.5/§4.9/§6).
func (s *Service) UnlockState(ctx context.Context, req *transport.UnlockStateRequest) (*transport.UnlockStateResponse, error) {
	s.locks.Unlock(req.Path, req.PluginID)
	return &transport.UnlockStateResponse{Success: true}, nil
}

// ExecuteAction implements execute_action (spec.md §4.8/§4.9/§6): routes
// to whichever plugin req.PluginID names via the dispatcher.
func (s *Service) ExecuteAction(ctx context.Context, req *transport.ExecuteActionRequest) (*transport.ExecuteActionResponse, error) {
	if req.PluginID == "" {
		return &transport.ExecuteActionResponse{Success: false, Error: "plugin_id is required"}, nil
	}
	info, err := s.catalog.Get(req.PluginID)
	if err != nil {
		return &transport.ExecuteActionResponse{Success: false, Error: err.Error()}, nil
	}

	s.metrics.IncrCounter(telemetry.KeyPluginDispatch, 1)
	resp, err := s.dispatcher.ExecuteAction(ctx, req.PluginID, info.SocketPath, req.Action, json.RawMessage(req.Parameters))
	if err != nil {
		return &transport.ExecuteActionResponse{Success: false, Error: err.Error()}, nil
	}
	if resp.Error != "" {
		return &transport.ExecuteActionResponse{Success: false, Error: resp.Error}, nil
	}
	return &transport.ExecuteActionResponse{Success: true, Result: string(resp.Result)}, nil
}

func toWireChanges(cl state.ChangeList) []transport.StateChange {
	out := make([]transport.StateChange, len(cl))
	for i, c := range cl {
		var kind transport.ChangeKind
		switch c.Type {
		case state.ChangeCreate:
			kind = transport.ChangeKindCreate
		case state.ChangeUpdate:
			kind = transport.ChangeKindUpdate
		case state.ChangeDelete:
			kind = transport.ChangeKindDelete
		}
		out[i] = transport.StateChange{
			Type:     kind,
			Path:     c.Path,
			OldValue: c.OldValue,
			NewValue: c.NewValue,
			Verbose:  c.Verbose,
		}
	}
	return out
}

func statusFromErr(err error) error {
	switch sysconfigerr.KindOf(err) {
	case sysconfigerr.NotFound:
		return status.Error(codes.NotFound, err.Error())
	case sysconfigerr.InvalidArgument:
		return status.Error(codes.InvalidArgument, err.Error())
	case sysconfigerr.LockConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
