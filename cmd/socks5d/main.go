// Package main provides the CLI entry point for socks5d.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/socks5d/socks5d/internal/config"
	"github.com/socks5d/socks5d/internal/health"
	"github.com/socks5d/socks5d/internal/logging"
	"github.com/socks5d/socks5d/internal/metrics"
	"github.com/socks5d/socks5d/internal/service"
	"github.com/socks5d/socks5d/internal/socks5"
	"github.com/socks5d/socks5d/internal/supervisor"
	"github.com/socks5d/socks5d/internal/sysinfo"
)

// Version is set at build time via ldflags.
var Version = "dev"

func init() {
	if Version != "dev" {
		sysinfo.Version = Version
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "socks5d",
		Short:   "socks5d - a prefork SOCKS5 proxy server",
		Long:    "socks5d is a SOCKS5 proxy server (RFC 1928/1929) with a prefork multi-process supervisor sharing one listening socket across worker processes.",
		Version: sysinfo.Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(hashPasswordCmd())
	rootCmd.AddCommand(serviceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string
	var healthAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy server",
		Long:  "Start the SOCKS5 proxy, forking server.worker_process_num worker processes sharing one listening socket (0 means single-process mode).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if slot, isWorker := supervisor.IsWorker(); isWorker {
				return runWorker(slot, cfg)
			}

			return runMaster(cfg, healthAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	cmd.Flags().StringVar(&healthAddr, "health-addr", "127.0.0.1:9080", "Address for the /healthz and /metrics HTTP endpoint")

	return cmd
}

// supervisorRunner adapts *supervisor.Supervisor to service.Runner so it can
// be handed to a Windows service manager, which expects a non-blocking Start
// and a separate stop call rather than a single blocking Run.
type supervisorRunner struct {
	sup *supervisor.Supervisor

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

func (r *supervisorRunner) Start() error {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan error, 1)
	r.mu.Unlock()

	go func() { r.done <- r.sup.Run(ctx) }()
	return nil
}

func (r *supervisorRunner) StopWithContext(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	r.sup.Stop()
	if cancel != nil {
		cancel()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logTimestampEnvVar carries the master's startup timestamp to workers, so
// every process in the fleet logs under the same logs/<timestamp>/
// directory. Set once by the master and inherited across re-exec.
const logTimestampEnvVar = "SOCKS5D_LOG_TS"

// newProcessLogger builds the per-process log sink (SPEC_FULL §6.1): a
// size-triggered rotating file under logs/<startup-timestamp>/, written to
// synchronously by the master and through an async, block-on-full writer by
// each worker. Falls back to stderr if the log file can't be opened.
func newProcessLogger(role string, async bool) *slog.Logger {
	ts := os.Getenv(logTimestampEnvVar)
	if ts == "" {
		ts = time.Now().UTC().Format("20060102T150405Z")
		os.Setenv(logTimestampEnvVar, ts)
	}

	path := filepath.Join("logs", ts, fmt.Sprintf("socks5d_%s-%d.log", role, os.Getpid()))
	rf, err := logging.NewRotatingFile(path, 10*1024*1024, 5)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log file unavailable, falling back to stderr: %v\n", err)
		return logging.NewLogger("info", "text")
	}

	var w io.Writer = rf
	if async {
		w = logging.NewAsyncWriter(rf, 1024)
	}
	return logging.NewLoggerWithWriter("info", "text", w)
}

// healthStats adapts a supervisor's liveness count to health.StatsProvider.
// The master accepts no connections itself, so sessions are always reported
// as zero; workers_alive reflects how many worker processes are up.
type healthStats struct {
	alive func() int
}

func (h *healthStats) SessionCount() int64 { return 0 }
func (h *healthStats) WorkersAlive() int {
	if h.alive == nil {
		return 1
	}
	return h.alive()
}

func runMaster(cfg *config.Config, healthAddr string) error {
	logger := newProcessLogger("master", false)

	sup := supervisor.New(supervisor.Config{
		Address:     cfg.Addr(),
		WorkerCount: int(cfg.Server.WorkerProcessNum),
		Logger:      logger,
		Metrics:     metrics.Default(),
		Worker: func(ctx context.Context, l net.Listener) error {
			return serveListener(ctx, cfg, l, logger)
		},
	})

	alive := sup.AliveCount
	if cfg.Server.WorkerProcessNum == 0 {
		// Single-process mode forks no workers; this process serves itself.
		alive = nil
	}
	hs := health.New(healthAddr, &healthStats{alive: alive})
	hs.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hs.Stop(shutdownCtx)
	}()

	runner := &supervisorRunner{sup: sup}

	if !service.IsInteractive() {
		logger.Info("running under service manager")
		return service.RunAsService("socks5d", runner)
	}

	if err := runner.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return runner.StopWithContext(stopCtx)
}

func runWorker(slot int, cfg *config.Config) error {
	logger := newProcessLogger("worker", true)
	return supervisor.RunWorker(slot, supervisor.Config{
		Worker: func(ctx context.Context, l net.Listener) error {
			return serveListener(ctx, cfg, l, logger)
		},
	})
}

// serveListener runs one Server over an already-bound listener until ctx is
// cancelled, then stops it gracefully.
func serveListener(ctx context.Context, cfg *config.Config, l net.Listener, logger *slog.Logger) error {
	authenticators := socks5.CreateAuthenticators(socks5.AuthConfig{
		Enabled:     cfg.Server.Protocol.Auth,
		Required:    cfg.Server.Protocol.Auth,
		HashedUsers: cfg.Server.Protocol.HashedCredentialMap(),
	})

	srv := socks5.NewServer(socks5.ServerConfig{
		Address:        cfg.Addr(),
		KeepAlive:      cfg.Server.Protocol.KeepAlive(),
		CheckInterval:  cfg.Server.Protocol.CheckInterval(),
		Authenticators: authenticators,
		Dialer:         &socks5.DirectDialer{},
		Logger:         logger,
		Metrics:        metrics.Default(),
	})

	if err := srv.Serve(l); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.StopWithContext(stopCtx)
}

func hashPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password for server.protocol.credentials",
		Long:  "Reads a password from stdin and prints its bcrypt hash for use as a credential entry in the configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Password: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password := trimNewline(line)
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			hash, err := socks5.HashPassword(password)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			fmt.Println(hash)
			return nil
		},
	}
	return cmd
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "System service management",
		Long:  "Install, uninstall, or check the status of socks5d as a systemd/launchd/Windows service.",
	}

	cmd.AddCommand(serviceInstallCmd())
	cmd.AddCommand(serviceUninstallCmd())
	cmd.AddCommand(serviceStatusCmd())
	return cmd
}

func serviceInstallCmd() *cobra.Command {
	var configPath string
	var serviceName string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install as a system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsSupported() {
				return fmt.Errorf("service management is not supported on this platform")
			}

			absPath, err := filepath.Abs(configPath)
			if err != nil {
				return fmt.Errorf("failed to resolve config path: %w", err)
			}
			if _, err := os.Stat(absPath); os.IsNotExist(err) {
				return fmt.Errorf("config file not found: %s", absPath)
			}
			if service.IsInstalled(serviceName) {
				return fmt.Errorf("service %q is already installed", serviceName)
			}

			cfg := service.DefaultConfig(absPath)
			cfg.Name = serviceName

			if err := service.Install(cfg); err != nil {
				return fmt.Errorf("failed to install service: %w", err)
			}
			fmt.Printf("Service %q installed.\n", serviceName)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (required)")
	cmd.Flags().StringVarP(&serviceName, "name", "n", "socks5d", "Service name")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func serviceUninstallCmd() *cobra.Command {
	var serviceName string
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsInstalled(serviceName) {
				fmt.Printf("Service %q is not installed.\n", serviceName)
				return nil
			}
			if err := service.Uninstall(serviceName); err != nil {
				return fmt.Errorf("failed to uninstall service: %w", err)
			}
			fmt.Printf("Service %q uninstalled.\n", serviceName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&serviceName, "name", "n", "socks5d", "Service name")
	return cmd
}

func serviceStatusCmd() *cobra.Command {
	var serviceName string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsInstalled(serviceName) {
				fmt.Printf("Service %q is not installed.\n", serviceName)
				return nil
			}
			status, err := service.Status(serviceName)
			if err != nil {
				return fmt.Errorf("failed to get service status: %w", err)
			}
			fmt.Printf("Service: %s\nStatus: %s\nPlatform: %s\n", serviceName, status, service.Platform())
			return nil
		},
	}
	cmd.Flags().StringVarP(&serviceName, "name", "n", "socks5d", "Service name")
	return cmd
}
