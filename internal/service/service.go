// Package service provides systemd/launchd/Windows-service installation for socks5d.
package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Runner is the interface a long-running component implements to run under a
// service manager (cmd/socks5d adapts the supervisor to it).
type Runner interface {
	// Start starts the service. Should return quickly after initializing.
	Start() error

	// StopWithContext stops the service gracefully.
	StopWithContext(ctx context.Context) error
}

// Config holds configuration for installing the service.
type Config struct {
	// Name is the service name (used in systemd/Windows service)
	Name string

	// DisplayName is the human-readable name (Windows only)
	DisplayName string

	// Description is the service description
	Description string

	// ConfigPath is the absolute path to the config file
	ConfigPath string

	// WorkingDir is the working directory for the service
	WorkingDir string

	// User is the user to run the service as (Linux only, empty for root)
	User string

	// Group is the group to run the service as (Linux only, empty for root)
	Group string
}

// DefaultConfig returns a default service configuration.
func DefaultConfig(configPath string) Config {
	absPath, _ := filepath.Abs(configPath)
	workDir := filepath.Dir(absPath)

	return Config{
		Name:        "socks5d",
		DisplayName: "socks5d SOCKS5 proxy",
		Description: "Prefork SOCKS5 proxy server",
		ConfigPath:  absPath,
		WorkingDir:  workDir,
	}
}

// IsRoot returns true if the current process is running with elevated privileges.
func IsRoot() bool {
	return isRootImpl()
}

// Install installs the application as a system service.
func Install(cfg Config) error {
	if !IsRoot() {
		return fmt.Errorf("must run as root/administrator to install service")
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return installImpl(cfg, execPath)
}

// Uninstall removes the system service.
func Uninstall(serviceName string) error {
	if !IsRoot() {
		return fmt.Errorf("must run as root/administrator to uninstall service")
	}
	return uninstallImpl(serviceName)
}

// Status returns the current status of the service.
func Status(serviceName string) (string, error) {
	return statusImpl(serviceName)
}

// IsInstalled checks if the service is already installed.
func IsInstalled(serviceName string) bool {
	return isInstalledImpl(serviceName)
}

// Platform returns the current platform type, or "unsupported".
func Platform() string {
	if IsSupported() {
		return runtime.GOOS
	}
	return "unsupported"
}

// IsSupported returns true if service installation is supported on this platform.
func IsSupported() bool {
	return runtime.GOOS == "linux" || runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// IsInteractive returns true if the process is running interactively (not under a
// service manager).
func IsInteractive() bool {
	return isInteractiveImpl()
}

// RunAsService runs the given Runner under the platform's service manager.
// On Linux/macOS this is a no-op: systemd/launchd manage the process lifecycle
// externally and 'run' just runs normally.
func RunAsService(name string, runner Runner) error {
	return runAsServiceImpl(name, runner)
}

// runCommand executes a command and returns combined output.
func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}
