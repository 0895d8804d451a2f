package build

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// DaemonProber checks that the container runtime daemon is reachable.
type DaemonProber interface {
	Ping(ctx context.Context) error
}

// Guard verifies the host can carry a build before any resource is created.
type Guard struct {
	Docker DaemonProber
	// LookPath locates host binaries, exec.LookPath when nil.
	LookPath func(name string) (string, error)
	Logger   *slog.Logger
}

// hostTools are the binaries the packaging and verification stages run on
// the host.
var hostTools = []struct {
	name    string
	purpose string
}{
	{name: "gem", purpose: "rebuild and install the precompiled gem"},
	{name: "ruby", purpose: "verify the installed gem loads"},
}

func (g *Guard) logger() *slog.Logger {
	if g != nil && g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Check probes the daemon and the host Ruby toolchain. Any failure is an
// EnvironmentError; the pipeline must not proceed past one.
func (g *Guard) Check(ctx context.Context) error {
	if g.Docker == nil {
		return &EnvironmentError{Message: "container runtime client is not configured"}
	}
	if err := g.Docker.Ping(ctx); err != nil {
		return &EnvironmentError{Message: "container runtime is not available", Err: err}
	}

	lookPath := g.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, tool := range hostTools {
		if _, err := lookPath(tool.name); err != nil {
			return &EnvironmentError{
				Message: fmt.Sprintf("%s not found on PATH, needed to %s", tool.name, tool.purpose),
				Err:     err,
			}
		}
	}

	g.logger().Debug("environment ready")
	return nil
}
