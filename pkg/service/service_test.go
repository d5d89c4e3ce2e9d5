package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/toasterson/sysconfig/internal/telemetry"
	"github.com/toasterson/sysconfig/pkg/broadcast"
	"github.com/toasterson/sysconfig/pkg/catalog"
	"github.com/toasterson/sysconfig/pkg/locks"
	"github.com/toasterson/sysconfig/pkg/pluginrpc"
	"github.com/toasterson/sysconfig/pkg/state"
	"github.com/toasterson/sysconfig/pkg/transport"
)

// fakeDispatcher is a test double for Dispatcher.
type fakeDispatcher struct {
	mu             sync.Mutex
	executeResp    *pluginrpc.ExecuteActionResponse
	executeErr     error
	notifiedPaths  []string
	notifyErr      error
}

func (f *fakeDispatcher) ExecuteAction(ctx context.Context, pluginID, socketPath, action string, params json.RawMessage) (*pluginrpc.ExecuteActionResponse, error) {
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return f.executeResp, nil
}

func (f *fakeDispatcher) NotifyStateChange(ctx context.Context, pluginID, socketPath string, evt broadcast.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiedPaths = append(f.notifiedPaths, pluginID)
	return f.notifyErr
}

func newTestService(t *testing.T) (*Service, *fakeDispatcher) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	mgr, err := state.NewRevisionManager(t.TempDir(), clock.NewMock(), log)
	require.NoError(t, err)

	disp := &fakeDispatcher{}
	svc := New(Config{
		Log:         log,
		State:       mgr,
		Locks:       locks.New(),
		Catalog:     catalog.New(log, &catalog.GlobalConfig{}, nil),
		Broadcaster: broadcast.New(),
		Dispatcher:  disp,
		Clock:       clock.NewMock(),
		Metrics:     telemetry.Noop{},
	})
	return svc, disp
}

func TestRegisterPluginRequiresID(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.RegisterPlugin(context.Background(), &transport.RegisterPluginRequest{SocketPath: "/tmp/x.sock"})
	require.NoError(t, err)
	require.False(t, resp.Success)
}

func TestRegisterPluginSucceeds(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.RegisterPlugin(context.Background(), &transport.RegisterPluginRequest{
		PluginID: "p1", SocketPath: "/tmp/p1.sock", ManagedPaths: []string{"storage"},
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestGetStateEmptyDocument(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.GetState(context.Background(), &transport.GetStateRequest{})
	require.NoError(t, err)
	require.JSONEq(t, `{}`, resp.StateJSON)
}

func TestGetStateMissingPathIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetState(context.Background(), &transport.GetStateRequest{Path: "networking.hostname"})
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
}

func TestApplyStateEmptyStartScenario(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.ApplyState(context.Background(), &transport.ApplyStateRequest{StateJSON: `{"hostname":"h1"}`})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Changes, 1)
	require.Equal(t, transport.ChangeKindCreate, resp.Changes[0].Type)
	require.Equal(t, "hostname", resp.Changes[0].Path)
	require.Equal(t, "", resp.Changes[0].OldValue)
	require.Equal(t, `"h1"`, resp.Changes[0].NewValue)

	getResp, err := svc.GetState(context.Background(), &transport.GetStateRequest{})
	require.NoError(t, err)
	require.JSONEq(t, `{"hostname":"h1"}`, getResp.StateJSON)
}

func TestApplyStateInvalidJSON(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.ApplyState(context.Background(), &transport.ApplyStateRequest{StateJSON: `not json`})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "invalid JSON")
}

func TestApplyStateDryRunDoesNotCommit(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.ApplyState(context.Background(), &transport.ApplyStateRequest{StateJSON: `{"hostname":"h1"}`, DryRun: true})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Changes, 1)

	getResp, err := svc.GetState(context.Background(), &transport.GetStateRequest{})
	require.NoError(t, err)
	require.JSONEq(t, `{}`, getResp.StateJSON)
}

func TestApplyStateLockConflict(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.locks.Lock("hostname", "owner-plugin"))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(transport.PluginIDMetadataKey, "other-plugin"))
	resp, err := svc.ApplyState(ctx, &transport.ApplyStateRequest{StateJSON: `{"hostname":"h1"}`})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "locked")
}

func TestApplyStateOwnLockIsNotAConflict(t *testing.T) {
	svc, _ := newTestService(t)
	require.NoError(t, svc.locks.Lock("hostname", "owner-plugin"))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(transport.PluginIDMetadataKey, "owner-plugin"))
	resp, err := svc.ApplyState(ctx, &transport.ApplyStateRequest{StateJSON: `{"hostname":"h1"}`})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestApplyStateNotifiesManagedPlugins(t *testing.T) {
	svc, disp := newTestService(t)
	svc.catalog.Register("storage-plugin", "Storage", "", "/tmp/storage.sock", []string{"storage"}, time.Unix(0, 0))

	resp, err := svc.ApplyState(context.Background(), &transport.ApplyStateRequest{StateJSON: `{"storage":{"pools":[]}}`})
	require.NoError(t, err)
	require.True(t, resp.Success)

	require.Eventually(t, func() bool {
		disp.mu.Lock()
		defer disp.mu.Unlock()
		return len(disp.notifiedPaths) == 1
	}, time.Second, time.Millisecond)
}

func TestLockAndUnlockState(t *testing.T) {
	svc, _ := newTestService(t)
	lockResp, err := svc.LockState(context.Background(), &transport.LockStateRequest{Path: "storage", PluginID: "p1"})
	require.NoError(t, err)
	require.True(t, lockResp.Success)

	conflictResp, err := svc.LockState(context.Background(), &transport.LockStateRequest{Path: "storage", PluginID: "p2"})
	require.NoError(t, err)
	require.False(t, conflictResp.Success)

	unlockResp, err := svc.UnlockState(context.Background(), &transport.UnlockStateRequest{Path: "storage", PluginID: "p1"})
	require.NoError(t, err)
	require.True(t, unlockResp.Success)
}

func TestExecuteActionRequiresPluginID(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.ExecuteAction(context.Background(), &transport.ExecuteActionRequest{Action: "reload"})
	require.NoError(t, err)
	require.False(t, resp.Success)
}

func TestExecuteActionUnknownPlugin(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.ExecuteAction(context.Background(), &transport.ExecuteActionRequest{Action: "reload", PluginID: "nope"})
	require.NoError(t, err)
	require.False(t, resp.Success)
}

func TestExecuteActionSuccess(t *testing.T) {
	svc, disp := newTestService(t)
	svc.catalog.Register("p1", "P1", "", "/tmp/p1.sock", nil, time.Unix(0, 0))
	disp.executeResp = &pluginrpc.ExecuteActionResponse{Success: true, Result: json.RawMessage(`{"ok":true}`)}

	resp, err := svc.ExecuteAction(context.Background(), &transport.ExecuteActionRequest{Action: "reload", PluginID: "p1"})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.JSONEq(t, `{"ok":true}`, resp.Result)
}

func TestExecuteActionPropagatesPluginError(t *testing.T) {
	svc, disp := newTestService(t)
	svc.catalog.Register("p1", "P1", "", "/tmp/p1.sock", nil, time.Unix(0, 0))
	disp.executeResp = &pluginrpc.ExecuteActionResponse{Success: false, Error: "boom"}

	resp, err := svc.ExecuteAction(context.Background(), &transport.ExecuteActionRequest{Action: "reload", PluginID: "p1"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Equal(t, "boom", resp.Error)
}

// fakeWatchStream is a minimal grpc.ServerStream fake for unit-testing
// WatchState without a real network connection.
type fakeWatchStream struct {
	ctx      context.Context
	mu       sync.Mutex
	received []*transport.StateChangeEvent
	block    chan struct{}
	blocked  bool
}

func (f *fakeWatchStream) Send(m *transport.StateChangeEvent) error {
	if f.block != nil && !f.blocked {
		f.blocked = true
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, m)
	return nil
}

func (f *fakeWatchStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeWatchStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeWatchStream) SetTrailer(metadata.MD)       {}
func (f *fakeWatchStream) Context() context.Context     { return f.ctx }
func (f *fakeWatchStream) SendMsg(m interface{}) error   { return nil }
func (f *fakeWatchStream) RecvMsg(m interface{}) error   { return nil }

var _ grpc.ServerStream = (*fakeWatchStream)(nil)

func TestWatchStateStreamsPublishedEvents(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	stream := &fakeWatchStream{ctx: ctx}

	done := make(chan error, 1)
	go func() { done <- svc.WatchState(&transport.WatchStateRequest{}, stream) }()

	require.Eventually(t, func() bool { return svc.broadcaster.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	svc.broadcaster.Publish(broadcast.ChangeEvent{Value: json.RawMessage(`{"a":1}`), PluginID: "p1", Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return len(stream.received) == 1
	}, time.Second, time.Millisecond)

	cancel()
	err := <-done
	require.True(t, errors.Is(err, context.Canceled))
}

func TestWatchStateTerminatesOnLag(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	stream := &fakeWatchStream{ctx: ctx, block: make(chan struct{})}

	done := make(chan error, 1)
	go func() { done <- svc.WatchState(&transport.WatchStateRequest{}, stream) }()

	require.Eventually(t, func() bool { return svc.broadcaster.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	// First event is consumed by the loop and blocks inside Send.
	svc.broadcaster.Publish(broadcast.ChangeEvent{Value: json.RawMessage(`{"a":1}`), Timestamp: time.Now()})
	require.Eventually(t, func() bool {
		stream.mu.Lock()
		defer stream.mu.Unlock()
		return stream.blocked
	}, time.Second, time.Millisecond)

	// Fill the subscriber's buffer, then overflow it to trigger a drop.
	for i := 0; i < broadcast.Capacity+1; i++ {
		svc.broadcaster.Publish(broadcast.ChangeEvent{Value: json.RawMessage(`{"a":2}`), Timestamp: time.Now()})
	}
	require.Eventually(t, func() bool { return svc.broadcaster.SubscriberCount() == 0 }, time.Second, time.Millisecond)

	close(stream.block)
	err := <-done
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Internal, st.Code())
}
