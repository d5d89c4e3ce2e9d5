package transport

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

type fakeServer struct {
	events []*StateChangeEvent
}

func (f *fakeServer) RegisterPlugin(ctx context.Context, in *RegisterPluginRequest) (*RegisterPluginResponse, error) {
	return &RegisterPluginResponse{Success: in.PluginID != ""}, nil
}

func (f *fakeServer) GetState(ctx context.Context, in *GetStateRequest) (*GetStateResponse, error) {
	return &GetStateResponse{StateJSON: `{"hostname":"h1"}`}, nil
}

func (f *fakeServer) ApplyState(ctx context.Context, in *ApplyStateRequest) (*ApplyStateResponse, error) {
	pluginID, _ := PluginIDFromContext(ctx)
	return &ApplyStateResponse{
		Success: true,
		Changes: []StateChange{{Type: ChangeKindCreate, Path: "hostname", NewValue: `"h1"`, Verbose: pluginID}},
	}, nil
}

func (f *fakeServer) WatchState(req *WatchStateRequest, stream SysConfigService_WatchStateServer) error {
	for _, evt := range f.events {
		if err := stream.Send(evt); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeServer) LockState(ctx context.Context, in *LockStateRequest) (*LockStateResponse, error) {
	return &LockStateResponse{Success: true}, nil
}

func (f *fakeServer) UnlockState(ctx context.Context, in *UnlockStateRequest) (*UnlockStateResponse, error) {
	return &UnlockStateResponse{Success: true}, nil
}

func (f *fakeServer) ExecuteAction(ctx context.Context, in *ExecuteActionRequest) (*ExecuteActionResponse, error) {
	return &ExecuteActionResponse{Success: true, Result: `{"ok":true}`}, nil
}

func startTestServer(t *testing.T, srv SysConfigServiceServer) (SysConfigServiceClient, func()) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "sysconfig.sock")

	lis, err := NewUnixListener(sockPath)
	require.NoError(t, err)

	s := NewServer()
	RegisterSysConfigServiceServer(s, srv)
	go s.Serve(lis)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialUnix(ctx, sockPath, grpc.WithBlock())
	require.NoError(t, err)

	client := NewSysConfigServiceClient(conn)
	return client, func() {
		conn.Close()
		s.Stop()
	}
}

func TestRegisterPluginRoundTrip(t *testing.T) {
	client, closer := startTestServer(t, &fakeServer{})
	defer closer()

	resp, err := client.RegisterPlugin(context.Background(), &RegisterPluginRequest{PluginID: "p1", SocketPath: "/tmp/p1.sock"})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestGetStateRoundTrip(t *testing.T) {
	client, closer := startTestServer(t, &fakeServer{})
	defer closer()

	resp, err := client.GetState(context.Background(), &GetStateRequest{Path: ""})
	require.NoError(t, err)
	require.JSONEq(t, `{"hostname":"h1"}`, resp.StateJSON)
}

func TestApplyStateCarriesPluginIDMetadata(t *testing.T) {
	client, closer := startTestServer(t, &fakeServer{})
	defer closer()

	ctx := WithPluginID(context.Background(), "plugin-a")
	resp, err := client.ApplyState(ctx, &ApplyStateRequest{StateJSON: `{"hostname":"h1"}`})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Changes, 1)
	require.Equal(t, "plugin-a", resp.Changes[0].Verbose)
}

func TestWatchStateStreams(t *testing.T) {
	srv := &fakeServer{events: []*StateChangeEvent{
		{PluginID: "p1", Value: `{"a":1}`, Timestamp: time.Now().UTC().Format(time.RFC3339)},
		{PluginID: "p1", Value: `{"a":2}`, Timestamp: time.Now().UTC().Format(time.RFC3339)},
	}}
	client, closer := startTestServer(t, srv)
	defer closer()

	stream, err := client.WatchState(context.Background(), &WatchStateRequest{})
	require.NoError(t, err)

	var received []*StateChangeEvent
	for {
		evt, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		received = append(received, evt)
	}
	require.Len(t, received, 2)
	require.JSONEq(t, `{"a":2}`, received[1].Value)
}

func TestLockAndUnlockState(t *testing.T) {
	client, closer := startTestServer(t, &fakeServer{})
	defer closer()

	lockResp, err := client.LockState(context.Background(), &LockStateRequest{Path: "/storage", PluginID: "p1"})
	require.NoError(t, err)
	require.True(t, lockResp.Success)

	unlockResp, err := client.UnlockState(context.Background(), &UnlockStateRequest{Path: "/storage", PluginID: "p1"})
	require.NoError(t, err)
	require.True(t, unlockResp.Success)
}

func TestExecuteAction(t *testing.T) {
	client, closer := startTestServer(t, &fakeServer{})
	defer closer()

	resp, err := client.ExecuteAction(context.Background(), &ExecuteActionRequest{Action: "reload", Parameters: `{}`})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.JSONEq(t, `{"ok":true}`, resp.Result)
}

func TestDefaultSocketPathIsNeverEmpty(t *testing.T) {
	require.NotEmpty(t, DefaultSocketPath())
}
