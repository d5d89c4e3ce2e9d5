// Package pluginrpc implements the Plugin RPC Client and Dispatcher (C8):
// the full per-plugin surface from spec.md §4.8 — initialize,
// get_config, diff_state, apply_state, execute_action,
// notify_state_change — bridged to whichever plugin process owns the
// call, by dialing the Unix socket that plugin announced at
// register_plugin time.
//
// Plugins here are independent, already-running processes identified
// only by a socket path — not subprocesses the catalog spawns — so this
// package uses hashicorp/go-plugin's net/rpc transport in "reattach"
// mode (plugin.ClientConfig.Reattach) instead of its usual
// exec.Command-and-handshake flow.
package pluginrpc

import (
	"context"
	"encoding/json"
	"net"
	"net/rpc"
	"os"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	plugin "github.com/hashicorp/go-plugin"
	"github.com/sirupsen/logrus"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
	"github.com/toasterson/sysconfig/pkg/broadcast"
	"github.com/toasterson/sysconfig/pkg/state"
)

// Handshake is the handshake config the Dispatcher passes to each
// plugin.Client it builds. Plugins do not use it: they serve through
// pluginrpc.Serve, not plugin.Serve, and Serve does not consult it.
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SYSCONFIG_PLUGIN",
	MagicCookieValue: "sysconfig-plugin-v1",
}

// PluginMap is the set of net/rpc services a plugin process exposes.
// "plugin" is the only one defined today, covering the full C8 surface.
var PluginMap = map[string]plugin.Plugin{
	"plugin": &RPCPlugin{},
}

// InitializeRequest/Response implement initialize(plugin_id, service_socket_path).
type InitializeRequest struct {
	PluginID          string
	ServiceSocketPath string
}

type InitializeResponse struct {
	Success bool
	Error   string
}

// GetConfigRequest/Response implement get_config() -> JSON.
type GetConfigRequest struct{}

type GetConfigResponse struct {
	ConfigJSON json.RawMessage
}

// DiffStateRequest/Response implement diff_state(current, desired) -> {different, changes[]}.
type DiffStateRequest struct {
	CurrentJSON json.RawMessage
	DesiredJSON json.RawMessage
}

type DiffStateResponse struct {
	Different bool
	Changes   state.ChangeList
}

// ApplyStateRequest/Response implement apply_state(state, dry_run) -> {success, error, changes[]}.
type ApplyStateRequest struct {
	StateJSON json.RawMessage
	DryRun    bool
}

type ApplyStateResponse struct {
	Success bool
	Error   string
	Changes state.ChangeList
}

// ExecuteActionRequest/Response implement execute_action(action, parameters) -> {success, error, result}.
type ExecuteActionRequest struct {
	Action     string
	Parameters json.RawMessage
}

type ExecuteActionResponse struct {
	Success bool
	Error   string
	Result  json.RawMessage
}

// NotifyStateChangeRequest/Response implement notify_state_change(event) -> ok.
type NotifyStateChangeRequest struct {
	Event broadcast.ChangeEvent
}

type NotifyStateChangeResponse struct{}

// PluginService is the interface a plugin process implements on its
// side of the net/rpc connection — the full C8 surface.
type PluginService interface {
	Initialize(req *InitializeRequest, resp *InitializeResponse) error
	GetConfig(req *GetConfigRequest, resp *GetConfigResponse) error
	DiffState(req *DiffStateRequest, resp *DiffStateResponse) error
	ApplyState(req *ApplyStateRequest, resp *ApplyStateResponse) error
	ExecuteAction(req *ExecuteActionRequest, resp *ExecuteActionResponse) error
	NotifyStateChange(req *NotifyStateChangeRequest, resp *NotifyStateChangeResponse) error
}

// RPCPlugin adapts PluginService to hashicorp/go-plugin's net/rpc plugin
// contract.
type RPCPlugin struct {
	Impl PluginService
}

func (p *RPCPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &rpcServer{impl: p.Impl}, nil
}

func (p *RPCPlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &Client{client: c}, nil
}

// rpcServer is the plugin-process side net/rpc registration target.
// Every method matches net/rpc's required (args, *reply) error shape.
type rpcServer struct {
	impl PluginService
}

func (s *rpcServer) Initialize(req *InitializeRequest, resp *InitializeResponse) error {
	return s.impl.Initialize(req, resp)
}

func (s *rpcServer) GetConfig(req *GetConfigRequest, resp *GetConfigResponse) error {
	return s.impl.GetConfig(req, resp)
}

func (s *rpcServer) DiffState(req *DiffStateRequest, resp *DiffStateResponse) error {
	return s.impl.DiffState(req, resp)
}

func (s *rpcServer) ApplyState(req *ApplyStateRequest, resp *ApplyStateResponse) error {
	return s.impl.ApplyState(req, resp)
}

func (s *rpcServer) ExecuteAction(req *ExecuteActionRequest, resp *ExecuteActionResponse) error {
	return s.impl.ExecuteAction(req, resp)
}

func (s *rpcServer) NotifyStateChange(req *NotifyStateChangeRequest, resp *NotifyStateChangeResponse) error {
	return s.impl.NotifyStateChange(req, resp)
}

// Client is the dispatcher-side net/rpc stub for a connected plugin.
// go-plugin's net/rpc transport has no native context support, so every
// method only consults ctx before placing the call.
type Client struct {
	client *rpc.Client
}

func (c *Client) Initialize(ctx context.Context, req *InitializeRequest) (*InitializeResponse, error) {
	var resp InitializeResponse
	if err := c.call(ctx, "Initialize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetConfig(ctx context.Context) (*GetConfigResponse, error) {
	var resp GetConfigResponse
	if err := c.call(ctx, "GetConfig", &GetConfigRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DiffState(ctx context.Context, req *DiffStateRequest) (*DiffStateResponse, error) {
	var resp DiffStateResponse
	if err := c.call(ctx, "DiffState", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ApplyState(ctx context.Context, req *ApplyStateRequest) (*ApplyStateResponse, error) {
	var resp ApplyStateResponse
	if err := c.call(ctx, "ApplyState", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ExecuteAction(ctx context.Context, req *ExecuteActionRequest) (*ExecuteActionResponse, error) {
	var resp ExecuteActionResponse
	if err := c.call(ctx, "ExecuteAction", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) NotifyStateChange(ctx context.Context, req *NotifyStateChangeRequest) (*NotifyStateChangeResponse, error) {
	var resp NotifyStateChangeResponse
	if err := c.call(ctx, "NotifyStateChange", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method string, args, reply interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.Call("Plugin."+method, args, reply); err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Transport, "plugin RPC call failed: "+method, err)
	}
	return nil
}

// Serve runs a plugin process's side of the net/rpc contract: it listens
// on socketPath and serves impl's C8 surface to whichever sysconfigd
// Dispatcher later reattaches to it. Plugins call this directly instead
// of plugin.Serve, since they are independent processes identified by a
// fixed socket path rather than subprocesses the host launched and
// handshakes with over stdout.
func Serve(socketPath string, impl PluginService) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "removing stale plugin socket", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "listening on plugin socket", err)
	}
	defer listener.Close()

	server := rpc.NewServer()
	if err := server.RegisterName("Plugin", &rpcServer{impl: impl}); err != nil {
		return sysconfigerr.Wrap(sysconfigerr.Internal, "registering plugin RPC service", err)
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			return sysconfigerr.Wrap(sysconfigerr.Transport, "accepting plugin RPC connection", err)
		}
		go server.ServeConn(conn)
	}
}

// Dispatcher maintains one hashicorp/go-plugin client per registered
// plugin socket and routes C8 calls to it.
type Dispatcher struct {
	mu      sync.Mutex
	log     logrus.FieldLogger
	clients map[string]*plugin.Client
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		log:     log,
		clients: make(map[string]*plugin.Client),
	}
}

// connect dials (or reuses a cached dial to) the plugin registered at
// socketPath and returns its typed Client.
func (d *Dispatcher) connect(pluginID, socketPath string) (*Client, error) {
	client, err := d.clientFor(pluginID, socketPath)
	if err != nil {
		return nil, err
	}

	rpcClient, err := client.Client()
	if err != nil {
		d.invalidate(pluginID)
		return nil, sysconfigerr.Wrap(sysconfigerr.PluginError, "failed to connect to plugin", err)
	}

	raw, err := rpcClient.Dispense("plugin")
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.PluginError, "failed to dispense plugin RPC service", err)
	}

	pc, ok := raw.(*Client)
	if !ok {
		return nil, sysconfigerr.New(sysconfigerr.PluginError, "plugin did not return an RPC client")
	}
	return pc, nil
}

// Initialize calls the plugin's initialize method.
func (d *Dispatcher) Initialize(ctx context.Context, pluginID, socketPath, serviceSocketPath string) (*InitializeResponse, error) {
	c, err := d.connect(pluginID, socketPath)
	if err != nil {
		return nil, err
	}
	return c.Initialize(ctx, &InitializeRequest{PluginID: pluginID, ServiceSocketPath: serviceSocketPath})
}

// GetConfig calls the plugin's get_config method.
func (d *Dispatcher) GetConfig(ctx context.Context, pluginID, socketPath string) (*GetConfigResponse, error) {
	c, err := d.connect(pluginID, socketPath)
	if err != nil {
		return nil, err
	}
	return c.GetConfig(ctx)
}

// DiffState calls the plugin's diff_state method.
func (d *Dispatcher) DiffState(ctx context.Context, pluginID, socketPath string, current, desired json.RawMessage) (*DiffStateResponse, error) {
	c, err := d.connect(pluginID, socketPath)
	if err != nil {
		return nil, err
	}
	return c.DiffState(ctx, &DiffStateRequest{CurrentJSON: current, DesiredJSON: desired})
}

// ApplyState calls the plugin's apply_state method, honoring the
// plugin's own auto_dry_run behavior (spec.md §4.8) — the plugin itself
// OR-s its unprivileged flag with dryRun, this call just forwards the
// caller's request.
func (d *Dispatcher) ApplyState(ctx context.Context, pluginID, socketPath string, stateJSON json.RawMessage, dryRun bool) (*ApplyStateResponse, error) {
	c, err := d.connect(pluginID, socketPath)
	if err != nil {
		return nil, err
	}
	return c.ApplyState(ctx, &ApplyStateRequest{StateJSON: stateJSON, DryRun: dryRun})
}

// ExecuteAction calls the plugin's execute_action method.
func (d *Dispatcher) ExecuteAction(ctx context.Context, pluginID, socketPath, action string, params json.RawMessage) (*ExecuteActionResponse, error) {
	c, err := d.connect(pluginID, socketPath)
	if err != nil {
		return nil, err
	}
	return c.ExecuteAction(ctx, &ExecuteActionRequest{Action: action, Parameters: params})
}

// NotifyStateChange calls the plugin's notify_state_change method.
func (d *Dispatcher) NotifyStateChange(ctx context.Context, pluginID, socketPath string, evt broadcast.ChangeEvent) error {
	c, err := d.connect(pluginID, socketPath)
	if err != nil {
		return err
	}
	_, err = c.NotifyStateChange(ctx, &NotifyStateChangeRequest{Event: evt})
	return err
}

func (d *Dispatcher) clientFor(pluginID, socketPath string) (*plugin.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.clients[pluginID]; ok {
		return c, nil
	}

	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "invalid plugin socket path", err)
	}

	c := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig: Handshake,
		Plugins:         PluginMap,
		Reattach: &plugin.ReattachConfig{
			Protocol: plugin.ProtocolNetRPC,
			Addr:     addr,
			Pid:      os.Getpid(),
		},
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger: hclog.New(&hclog.LoggerOptions{
			Name:  "sysconfig-plugin." + pluginID,
			Level: hclog.Warn,
		}),
	})
	d.clients[pluginID] = c
	return c, nil
}

func (d *Dispatcher) invalidate(pluginID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, pluginID)
}

// Close disconnects every cached plugin client. Because every client was
// created in Reattach mode, Close never terminates the plugin process
// itself — it only tears down this process's side of the connection.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, c := range d.clients {
		c.Kill()
		delete(d.clients, id)
	}
}
