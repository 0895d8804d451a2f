package build

import (
	"context"
	"log/slog"

	"github.com/cochaviz/gemkiln/internal/docker"
	"github.com/cochaviz/gemkiln/internal/runner"
)

// Builder executes the gem build steps inside the idle container.
type Builder struct {
	Docker *docker.Client
	Logger *slog.Logger
}

func (b *Builder) logger() *slog.Logger {
	if b != nil && b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Build fetches, installs, and unpacks the requested gem inside the
// container, in that order. Installation is where native extensions
// compile, so its output is streamed.
func (b *Builder) Build(ctx context.Context, job Job) error {
	container := job.Request.ContainerName()

	steps := []struct {
		name    string
		command []string
		stream  bool
	}{
		{
			name:    "gem fetch",
			command: []string{"gem", "fetch", job.Request.Name(), "--version", job.Request.Version()},
		},
		{
			name:    "gem install",
			command: []string{"gem", "install", "--local", job.Request.Archive(), "--no-document"},
			stream:  true,
		},
		{
			name:    "gem unpack",
			command: []string{"gem", "unpack", job.Request.Archive()},
		},
	}

	for _, step := range steps {
		b.logger().Info("running build step", "step", step.name, "container", container)

		var result runner.Result
		var err error
		if step.stream {
			result, err = b.Docker.ExecStreaming(ctx, container, step.command...)
		} else {
			result, err = b.Docker.Exec(ctx, container, step.command...)
		}
		if err != nil {
			return &BuildError{Step: step.name, Err: err}
		}
		if !result.Succeeded() {
			return &BuildError{Step: step.name, Output: result.Output()}
		}
	}

	return nil
}
