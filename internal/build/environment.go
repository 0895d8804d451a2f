package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/cochaviz/gemkiln/internal/docker"
)

// Environment owns the disposable resources of one build: the generated
// build definition, the image, the idle container, and the host workspace.
// Constructing one has no side effects, so teardown can be registered
// before Provision acquires anything.
type Environment struct {
	Docker *docker.Client
	Logger *slog.Logger

	job     Job
	started bool
}

// NewEnvironment binds an environment to a job without creating anything.
func NewEnvironment(client *docker.Client, logger *slog.Logger, job Job) *Environment {
	return &Environment{Docker: client, Logger: logger, job: job}
}

func (e *Environment) logger() *slog.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Job returns the job this environment serves.
func (e *Environment) Job() Job {
	return e.job
}

// Provision acquires the build resources in order: conflict check, host
// workspace, build definition, disposable image, idle container.
func (e *Environment) Provision(ctx context.Context) error {
	if err := e.checkConflicts(ctx); err != nil {
		return err
	}

	e.started = true

	if err := os.MkdirAll(e.job.StageDir(), 0o755); err != nil {
		return &EnvironmentError{Message: "create workspace", Err: err}
	}
	if err := os.WriteFile(e.job.DockerfilePath(), []byte(e.job.Profile.Dockerfile()), 0o644); err != nil {
		return &EnvironmentError{Message: "write build definition", Err: err}
	}

	e.logger().Info("building disposable image",
		"image", e.job.Request.ImageTag(),
		"base", e.job.Profile.BaseImage,
		"platform", e.job.Platform.String(),
	)
	err := e.Docker.BuildImage(ctx, docker.BuildSpec{
		Tag:        e.job.Request.ImageTag(),
		Dockerfile: e.job.DockerfilePath(),
		ContextDir: e.job.Workspace,
		Platform:   e.job.Platform.String(),
		Labels:     e.job.Labels(),
	})
	if err != nil {
		return &BuildError{Step: "image build", Err: err}
	}

	e.logger().Info("starting build container", "container", e.job.Request.ContainerName())
	err = e.Docker.StartIdle(ctx, docker.StartSpec{
		Name:   e.job.Request.ContainerName(),
		Image:  e.job.Request.ImageTag(),
		Labels: e.job.Labels(),
	})
	if err != nil {
		return &BuildError{Step: "container start", Err: err}
	}

	return nil
}

// checkConflicts fails fast when a leftover resource already occupies a
// derived identifier. Nothing is created before this passes, so teardown
// never destroys another run's leftovers.
func (e *Environment) checkConflicts(ctx context.Context) error {
	name := e.job.Request.ContainerName()
	exists, err := e.Docker.ContainerExists(ctx, name)
	if err != nil {
		return &EnvironmentError{Message: "inspect existing containers", Err: err}
	}
	if exists {
		conflict := &ConflictError{
			Resource: "container",
			Name:     name,
			Removal:  fmt.Sprintf("%s rm -f %s", e.Docker.BinaryName(), name),
		}
		if runID, labelErr := e.Docker.ContainerLabel(ctx, name, RunLabel); labelErr == nil {
			conflict.RunID = runID
		}
		return conflict
	}

	tag := e.job.Request.ImageTag()
	exists, err = e.Docker.ImageExists(ctx, tag)
	if err != nil {
		return &EnvironmentError{Message: "inspect existing images", Err: err}
	}
	if exists {
		conflict := &ConflictError{
			Resource: "image",
			Name:     tag,
			Removal:  fmt.Sprintf("%s rmi %s", e.Docker.BinaryName(), tag),
		}
		if runID, labelErr := e.Docker.ImageLabel(ctx, tag, RunLabel); labelErr == nil {
			conflict.RunID = runID
		}
		return conflict
	}

	return nil
}

// Cleanup releases everything Provision acquired: container, image, build
// definition, staging, and the packaged output unless the job keeps it.
// Calling it when nothing was provisioned is a no-op, and resources that
// are already gone are not errors.
func (e *Environment) Cleanup(ctx context.Context) error {
	if !e.started {
		return nil
	}

	var cleanupErr error
	name := e.job.Request.ContainerName()

	if err := e.Docker.Stop(ctx, name); err != nil && !errors.Is(err, docker.ErrNotFound) {
		cleanupErr = errors.Join(cleanupErr, err)
	}
	if err := e.Docker.RemoveContainer(ctx, name); err != nil && !errors.Is(err, docker.ErrNotFound) {
		cleanupErr = errors.Join(cleanupErr, err)
	}
	if err := e.Docker.RemoveImage(ctx, e.job.Request.ImageTag()); err != nil && !errors.Is(err, docker.ErrNotFound) {
		cleanupErr = errors.Join(cleanupErr, err)
	}

	if err := os.Remove(e.job.DockerfilePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cleanupErr = errors.Join(cleanupErr, fmt.Errorf("remove build definition: %w", err))
	}
	if err := os.RemoveAll(e.job.StageDir()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cleanupErr = errors.Join(cleanupErr, fmt.Errorf("remove staging directory: %w", err))
	}

	if e.job.Keep {
		e.logger().Info("keeping packaged output",
			"dir", e.job.OutputDir(),
			"gem", e.job.GemPath(),
		)
	} else {
		if err := os.RemoveAll(e.job.OutputDir()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			cleanupErr = errors.Join(cleanupErr, fmt.Errorf("remove output directory: %w", err))
		}
		for _, path := range []string{e.job.GemPath(), e.job.ReportPath()} {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				cleanupErr = errors.Join(cleanupErr, fmt.Errorf("remove %s: %w", path, err))
			}
		}
	}

	if entries, err := os.ReadDir(e.job.Workspace); err == nil && len(entries) == 0 {
		if err := os.Remove(e.job.Workspace); err != nil && !errors.Is(err, fs.ErrNotExist) {
			cleanupErr = errors.Join(cleanupErr, fmt.Errorf("remove workspace: %w", err))
		}
	}

	if cleanupErr == nil {
		e.started = false
	}
	return cleanupErr
}

// EnvironmentFactory prepares runtime-backed environments for jobs.
type EnvironmentFactory struct {
	Docker *docker.Client
	Logger *slog.Logger
}

// Prepare binds a new environment to the job. No resources are created.
func (f *EnvironmentFactory) Prepare(job Job) (BuildEnvironment, error) {
	if f.Docker == nil {
		return nil, errors.New("container runtime client is not configured")
	}
	if job.Workspace == "" {
		return nil, errors.New("job workspace is not set")
	}
	return NewEnvironment(f.Docker, f.Logger, job), nil
}
