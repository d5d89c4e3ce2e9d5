// Command sysconfig-provisioning runs the Provisioning Orchestrator
// (C10) as a standalone plugin process: it collects host configuration
// from every available data source, registers itself with sysconfigd,
// and serves the resulting document over its own plugin RPC socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/toasterson/sysconfig/pkg/pluginrpc"
	"github.com/toasterson/sysconfig/pkg/provisioning"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/azure"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/cloudinit"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/digitalocean"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/ec2"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/gcp"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/local"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/openstack"
	"github.com/toasterson/sysconfig/pkg/provisioning/sources/smartos"
	"github.com/toasterson/sysconfig/pkg/transport"
)

var (
	socketPath     string
	serviceSocket  string
	noRegister     bool
	configFile     string
	debug          bool
	disableSources string
	runOnce        bool
	dryRun         bool
	interval       time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "sysconfig-provisioning",
	Short: "Multi-source provisioning plugin for sysconfig",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&socketPath, "socket", "/var/run/sysconfig-provisioning.sock", "path to the Unix socket this plugin listens on")
	rootCmd.Flags().StringVar(&serviceSocket, "service-socket", "", "path to the sysconfig service Unix socket (defaults to the platform default)")
	rootCmd.Flags().BoolVar(&noRegister, "no-register", false, "do not register with the sysconfig service automatically")
	rootCmd.Flags().StringVar(&configFile, "config-file", local.DefaultPath, "path to the local provisioning override file")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&disableSources, "disable-sources", "", "comma-separated list of source names to skip")
	rootCmd.Flags().BoolVar(&runOnce, "run-once", false, "collect once and exit instead of looping")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "collect and log the result without serving the plugin socket")
	rootCmd.Flags().DurationVar(&interval, "interval", 300*time.Second, "time between re-collection cycles")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}

	disabled := map[string]bool{}
	for _, name := range strings.Split(disableSources, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			disabled[name] = true
		}
	}

	var srcs []sources.Source
	add := func(name string, src sources.Source) {
		if !disabled[name] {
			srcs = append(srcs, src)
		}
	}
	add("local", local.New(configFile))
	add("cloud-init", cloudinit.New())
	add("ec2", ec2.New())
	add("azure", azure.New())
	add("gcp", gcp.New())
	add("digitalocean", digitalocean.New())
	add("openstack", openstack.New())
	add("smartos", smartos.New())

	plugin := provisioning.New(log, clock.New(), srcs)
	pluginID := uuid.NewString()

	if dryRun {
		cfg, loaded, err := plugin.CollectOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("collecting configuration: %w", err)
		}
		log.WithField("sources", loaded).Info("dry run collection complete")
		fmt.Println(string(cfg))
		return nil
	}

	if runOnce {
		_, loaded, err := plugin.CollectOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("collecting configuration: %w", err)
		}
		log.WithField("sources", loaded).Info("one-shot collection complete")
		return nil
	}

	svcSocket := serviceSocket
	if svcSocket == "" {
		svcSocket = transport.DefaultSocketPath()
	}

	if !noRegister {
		if err := registerWithService(cmd.Context(), svcSocket, pluginID, socketPath); err != nil {
			log.WithError(err).Warn("failed to register with sysconfig service, continuing unregistered")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go provisioning.PeriodicCollect(ctx, interval, func(ctx context.Context) {
		var resp pluginrpc.ExecuteActionResponse
		if err := plugin.ExecuteAction(&pluginrpc.ExecuteActionRequest{Action: "reload"}, &resp); err != nil {
			log.WithError(err).Warn("periodic recollection failed")
		}
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- pluginrpc.Serve(socketPath, plugin) }()

	log.WithField("socket", socketPath).Info("sysconfig-provisioning listening")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	}
}

func registerWithService(ctx context.Context, serviceSocket, pluginID, socketPath string) error {
	conn, err := transport.DialUnix(ctx, serviceSocket)
	if err != nil {
		return fmt.Errorf("dialing sysconfig service: %w", err)
	}
	defer conn.Close()

	client := transport.NewSysConfigServiceClient(conn)
	resp, err := client.RegisterPlugin(ctx, &transport.RegisterPluginRequest{
		PluginID:     pluginID,
		Name:         "provisioning",
		Description:  "multi-source provisioning plugin",
		SocketPath:   socketPath,
		ManagedPaths: []string{""},
	})
	if err != nil {
		return fmt.Errorf("calling register_plugin: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("register_plugin rejected: %s", resp.Error)
	}
	return nil
}
