// Command sysconfigd runs the SysConfig Service (C9): the single-host
// daemon that owns the authoritative state document, arbitrates writers
// through path-scoped locks, dispatches diff/apply work to registered
// plugins, and streams change events to watchers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/andres-erbsen/clock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/toasterson/sysconfig/internal/daemonconfig"
	"github.com/toasterson/sysconfig/internal/telemetry"
	"github.com/toasterson/sysconfig/pkg/broadcast"
	"github.com/toasterson/sysconfig/pkg/catalog"
	"github.com/toasterson/sysconfig/pkg/locks"
	"github.com/toasterson/sysconfig/pkg/pluginrpc"
	"github.com/toasterson/sysconfig/pkg/service"
	"github.com/toasterson/sysconfig/pkg/state"
	"github.com/toasterson/sysconfig/pkg/transport"
)

var (
	configFile string
	socketPath string
	stateDir   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sysconfigd",
	Short: "Host configuration state service",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to the HCL bootstrap config file")
	rootCmd.Flags().StringVar(&socketPath, "socket", "", "Unix-domain socket to listen on (overrides config file)")
	rootCmd.Flags().StringVar(&stateDir, "state-dir", "", "directory holding persisted state revisions (overrides config file)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides config file)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := daemonconfig.Default()
	if configFile != "" {
		loaded, err := daemonconfig.Load(configFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if socketPath != "" {
		cfg.SocketPath = socketPath
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	metricsSink, err := telemetry.Setup("sysconfigd")
	if err != nil {
		return fmt.Errorf("configuring telemetry: %w", err)
	}

	revisions, err := state.NewRevisionManager(cfg.StateDir, clock.New(), log)
	if err != nil {
		return fmt.Errorf("opening state directory %s: %w", cfg.StateDir, err)
	}

	dispatcher := pluginrpc.NewDispatcher(log)
	defer dispatcher.Close()

	svc := service.New(service.Config{
		Log:         log,
		State:       revisions,
		Locks:       locks.New(),
		Catalog:     catalog.New(log, cfg.GlobalConfig(), cfg.PluginPreload()),
		Broadcaster: broadcast.New(),
		Dispatcher:  dispatcher,
		Metrics:     metricsSink,
	})

	listener, err := transport.NewUnixListener(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("binding socket %s: %w", cfg.SocketPath, err)
	}
	defer os.Remove(cfg.SocketPath)

	grpcServer := transport.NewServer()
	transport.RegisterSysConfigServiceServer(grpcServer, svc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(listener) }()

	log.WithField("socket", cfg.SocketPath).Info("sysconfigd listening")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		log.Info("shutting down, flushing pending revisions")
		grpcServer.GracefulStop()
		snapshot := filepath.Join(cfg.StateDir, "history-snapshot.json")
		if err := revisions.ExportHistory(snapshot); err != nil {
			log.WithError(err).Warn("failed to flush revision history on shutdown")
		}
		return nil
	}
}
