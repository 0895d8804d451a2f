package simple

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cochaviz/gemkiln/internal/build"
	"github.com/cochaviz/gemkiln/internal/docker"
	"github.com/cochaviz/gemkiln/internal/gem"
	"github.com/cochaviz/gemkiln/internal/logging"
	"github.com/cochaviz/gemkiln/internal/packaging"
	"github.com/cochaviz/gemkiln/internal/profile"
	"github.com/cochaviz/gemkiln/internal/registry"
	"github.com/cochaviz/gemkiln/internal/runner"
	"github.com/cochaviz/gemkiln/internal/verify"
)

var DefaultWorkspace = "./precompiled"
var DefaultRuntimeBinary = "docker"

// Options captures the CLI-level switches for one precompile run.
type Options struct {
	// ProfilePath points at a YAML build profile; empty uses the default.
	ProfilePath string
	// ProfileName selects a built-in starter profile instead of a file.
	ProfileName string
	// Platform overrides the build platform (e.g. linux/amd64).
	Platform string
	// RuntimeBinary is the container runtime command, docker by default.
	RuntimeBinary string
	// Workspace is the transient host directory; DefaultWorkspace when empty.
	Workspace string
	// Keep leaves the packaged output in place during teardown.
	Keep bool
	// Strict escalates the load-verification warning to a failure.
	Strict bool
	// SkipRegistryCheck bypasses the rubygems.org preflight.
	SkipRegistryCheck bool
}

// Precompile builds the requested gem release inside a disposable container,
// repackages it with its compiled objects, installs it on the host, and
// verifies it loads. This is the end-to-end flow behind the CLI.
func Precompile(ctx context.Context, name, version string, opts Options, logger *slog.Logger) (build.Outcome, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	request, err := gem.NewRequest(name, version)
	if err != nil {
		return build.Outcome{}, err
	}

	prof := profile.Default()
	switch {
	case opts.ProfilePath != "" && opts.ProfileName != "":
		return build.Outcome{}, &gem.UsageError{Message: "choose either --config or --profile, not both"}
	case opts.ProfilePath != "":
		prof, err = profile.Load(opts.ProfilePath)
		if err != nil {
			return build.Outcome{}, err
		}
	case opts.ProfileName != "":
		prof, err = profile.Lookup(opts.ProfileName)
		if err != nil {
			return build.Outcome{}, &gem.UsageError{Message: err.Error()}
		}
	}
	plat, err := prof.ResolvePlatform(opts.Platform)
	if err != nil {
		return build.Outcome{}, err
	}

	workspace := opts.Workspace
	if workspace == "" {
		workspace = DefaultWorkspace
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return build.Outcome{}, fmt.Errorf("create workspace %s: %w", workspace, err)
	}

	runtimeBinary := opts.RuntimeBinary
	if runtimeBinary == "" {
		runtimeBinary = DefaultRuntimeBinary
	}
	run := &runner.Local{Logger: logger.With("component", "runner")}
	client := &docker.Client{
		Binary: runtimeBinary,
		Runner: run,
		Logger: logger.With("component", "docker"),
	}

	job := build.NewJob(request, prof, plat, workspace)
	job.Keep = opts.Keep
	job.Strict = opts.Strict

	logger.Info("request resolved",
		"gem", request.Name(),
		"version", request.Version(),
		"container", request.ContainerName(),
		"image", request.ImageTag(),
	)

	service := &build.Service{
		Logger: logger.With("service", "build"),
		Guard: &build.Guard{
			Docker: client,
			Logger: logger.With("component", "guard"),
		},
		Environments: &build.EnvironmentFactory{
			Docker: client,
			Logger: logger.With("component", "environment"),
		},
		Driver: &build.Builder{
			Docker: client,
			Logger: logger.With("component", "builder"),
		},
		Extractor: &build.Extractor{
			Docker: client,
			Logger: logger.With("component", "extractor"),
		},
		Packager: &packaging.Packager{
			Runner: run,
			Logger: logger.With("component", "packaging"),
		},
		Verifier: &verify.Checker{
			Runner: run,
			Logger: logger.With("component", "verify"),
		},
	}
	if !opts.SkipRegistryCheck {
		service.Registry = &registry.Client{
			HTTP:   &http.Client{Timeout: 30 * time.Second},
			Logger: logger.With("component", "registry"),
		}
	}

	return service.Run(ctx, job)
}

// Profiles lists the built-in starter profiles shipped with the binary.
func Profiles() ([]profile.Starter, error) {
	return profile.Starters()
}

// WriteProfile seeds an editable build profile at path, to be passed back
// with --config. starter names a built-in profile to seed from; empty seeds
// the stock default.
func WriteProfile(path, starter string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("profile %s already exists", path)
	}

	prof := profile.Default()
	if starter != "" {
		var err error
		prof, err = profile.Lookup(starter)
		if err != nil {
			return &gem.UsageError{Message: err.Error()}
		}
	}

	data, err := prof.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write build profile: %w", err)
	}
	return nil
}
