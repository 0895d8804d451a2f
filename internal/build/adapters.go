package build

import (
	"context"

	"github.com/cochaviz/gemkiln/internal/gem"
	"github.com/cochaviz/gemkiln/internal/packaging"
	"github.com/cochaviz/gemkiln/internal/verify"
)

// EnvironmentGuard checks host prerequisites before any resource is
// created.
type EnvironmentGuard interface {
	Check(ctx context.Context) error
}

// EnvironmentPreparer binds a disposable build environment to a job.
type EnvironmentPreparer interface {
	Prepare(job Job) (BuildEnvironment, error)
}

// BuildEnvironment is the acquire/release pair around one job's Docker
// resources and workspace files. Cleanup must be safe to call whether or
// not Provision ran or succeeded.
type BuildEnvironment interface {
	Provision(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// BuildDriver runs the gem build steps inside the provisioned container.
type BuildDriver interface {
	Build(ctx context.Context, job Job) error
}

// ArtifactExtractor stages the installed gem and its manifest on the host.
type ArtifactExtractor interface {
	Extract(ctx context.Context, job Job) (Extracted, error)
}

// GemPackager rebuilds the staged gem as a precompiled one and installs it.
type GemPackager interface {
	Package(ctx context.Context, spec packaging.Spec) (packaging.Result, error)
}

// LoadVerifier checks that the installed gem loads in the host Ruby.
type LoadVerifier interface {
	Check(ctx context.Context, request gem.Request) (*verify.Warning, error)
}

// VersionChecker asks the gem registry whether the requested release exists.
type VersionChecker interface {
	CheckVersion(ctx context.Context, name, version string) error
}
