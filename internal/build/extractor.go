package build

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/cochaviz/gemkiln/internal/docker"
)

// Extracted names the artifacts staged on the host, ready for packaging.
type Extracted struct {
	// PackageDir is the installed package tree copied out of the container.
	PackageDir string
	// GemspecPath is the installed manifest copied out of the container.
	GemspecPath string
}

// Extractor locates the installed gem inside the container and copies the
// package tree together with its manifest into the staging directory.
type Extractor struct {
	Docker *docker.Client
	Logger *slog.Logger
}

func (x *Extractor) logger() *slog.Logger {
	if x != nil && x.Logger != nil {
		return x.Logger
	}
	return slog.Default()
}

// Extract asks the container's Ruby runtime where gems land and stages the
// package tree and manifest on the host. The gem root is queried from the
// container, never assumed, so base image changes cannot break the paths.
func (x *Extractor) Extract(ctx context.Context, job Job) (Extracted, error) {
	container := job.Request.ContainerName()

	result, err := x.Docker.Exec(ctx, container, "gem", "environment", "gemdir")
	if err != nil {
		return Extracted{}, &ExtractionError{Message: "query gem directory", Err: err}
	}
	if !result.Succeeded() {
		return Extracted{}, &ExtractionError{Message: "query gem directory: " + result.Output()}
	}
	gemDir := strings.TrimSpace(result.Stdout)
	if gemDir == "" {
		return Extracted{}, &ExtractionError{Message: "gem directory query returned nothing"}
	}

	slug := job.Request.Slug()
	sources := []struct {
		path string
		what string
	}{
		{path: path.Join(gemDir, "gems", slug), what: "installed package tree"},
		{path: path.Join(gemDir, "specifications", slug+".gemspec"), what: "installed manifest"},
	}

	for _, source := range sources {
		exists, err := x.Docker.PathExists(ctx, container, source.path)
		if err != nil {
			return Extracted{}, &ExtractionError{Message: "probe " + source.what, Err: err}
		}
		if !exists {
			return Extracted{}, &ExtractionError{
				Message: fmt.Sprintf("%s not found in container at %s", source.what, source.path),
			}
		}
		x.logger().Info("staging artifact", "what", source.what, "path", source.path)
		if err := x.Docker.CopyOut(ctx, container, source.path, job.StageDir()); err != nil {
			return Extracted{}, &ExtractionError{Message: "copy " + source.what, Err: err}
		}
	}

	return Extracted{
		PackageDir:  job.StagedPackageDir(),
		GemspecPath: job.StagedGemspecPath(),
	}, nil
}
