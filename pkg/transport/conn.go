package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"golang.org/x/sys/unix"
)

// PluginIDMetadataKey is the incoming gRPC metadata header apply_state
// callers set to identify themselves for lock arbitration (spec.md
// §4.9/§6).
const PluginIDMetadataKey = "plugin-id"

// WithPluginID attaches the caller's plugin ID to an outgoing client
// context as gRPC metadata.
func WithPluginID(ctx context.Context, pluginID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, PluginIDMetadataKey, pluginID)
}

// PluginIDFromContext extracts the plugin-id metadata header from an
// incoming server context, if present.
func PluginIDFromContext(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	values := md.Get(PluginIDMetadataKey)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// DefaultSocketPath picks the service's well-known Unix-domain socket
// location: the system-wide path when running as root, otherwise a path
// under the user's runtime directory.
func DefaultSocketPath() string {
	if unix.Geteuid() == 0 {
		return "/var/run/sysconfig.sock"
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sysconfig.sock")
	}
	return filepath.Join(os.TempDir(), "sysconfig.sock")
}

// NewUnixListener binds a Unix-domain socket at path, removing a stale
// socket file left behind by an unclean shutdown first.
func NewUnixListener(path string) (net.Listener, error) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	return net.Listen("unix", path)
}

// NewServer returns a grpc.Server configured to accept the JSON
// content-subtype this module registers.
func NewServer(opts ...grpc.ServerOption) *grpc.Server {
	return grpc.NewServer(opts...)
}

// DialUnix connects to a SysConfigService listening on a Unix-domain
// socket, negotiating the JSON content-subtype by default.
func DialUnix(ctx context.Context, socketPath string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	target := fmt.Sprintf("unix:%s", socketPath)
	dialOpts := append([]grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	return grpc.DialContext(ctx, target, dialOpts...)
}
