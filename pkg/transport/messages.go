// Package transport defines the wire-level RPC surface for the
// SysConfig Service (C9): the exact messages from spec.md §6, carried
// over google.golang.org/grpc (HTTP/2 framing, Unix-domain listener,
// server streaming for watch_state) using a hand-registered JSON codec
// in place of protoc-generated protobuf marshaling — see
// SPEC_FULL.md's Open Question Decision #1 for why.
package transport

// RegisterPluginRequest registers or replaces a plugin record.
type RegisterPluginRequest struct {
	PluginID     string   `json:"plugin_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SocketPath   string   `json:"socket_path"`
	ManagedPaths []string `json:"managed_paths"`
}

type RegisterPluginResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type GetStateRequest struct {
	Path string `json:"path"`
}

type GetStateResponse struct {
	StateJSON string `json:"state_json"`
}

type ApplyStateRequest struct {
	StateJSON string `json:"state_json"`
	DryRun    bool   `json:"dry_run"`
}

type ApplyStateResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Changes []StateChange `json:"changes"`
}

// ChangeKind mirrors state.ChangeType numerically, per spec.md §6's
// "type: 0|1|2 (CREATE|UPDATE|DELETE)" wire encoding.
type ChangeKind int32

const (
	ChangeKindCreate ChangeKind = 0
	ChangeKindUpdate ChangeKind = 1
	ChangeKindDelete ChangeKind = 2
)

type StateChange struct {
	Type     ChangeKind `json:"type"`
	Path     string     `json:"path"`
	OldValue string     `json:"old_value"`
	NewValue string     `json:"new_value"`
	Verbose  string     `json:"verbose,omitempty"`
}

type WatchStateRequest struct {
	Path string `json:"path"`
}

type StateChangeEvent struct {
	Path      string `json:"path"`
	Value     string `json:"value"`
	PluginID  string `json:"plugin_id"`
	Timestamp string `json:"timestamp"`
}

type LockStateRequest struct {
	Path     string `json:"path"`
	PluginID string `json:"plugin_id"`
}

type LockStateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type UnlockStateRequest struct {
	Path     string `json:"path"`
	PluginID string `json:"plugin_id"`
}

type UnlockStateResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ExecuteActionRequest struct {
	Action     string `json:"action"`
	Parameters string `json:"parameters"`
	PluginID   string `json:"plugin_id,omitempty"`
}

type ExecuteActionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Result  string `json:"result,omitempty"`
}
