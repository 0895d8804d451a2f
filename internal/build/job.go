package build

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cochaviz/gemkiln/internal/gem"
	"github.com/cochaviz/gemkiln/internal/platform"
	"github.com/cochaviz/gemkiln/internal/profile"
)

// RunLabel is the label key stamped on the disposable image and container,
// so a leftover resource can be attributed to the run that created it.
const RunLabel = "io.gemkiln.run"

// Job carries one invocation end to end: the resolved request, the run
// identity, the image profile, and the host workspace layout.
type Job struct {
	// ID uniquely identifies this invocation.
	ID       string
	Request  gem.Request
	Profile  profile.Profile
	Platform platform.Platform
	// Workspace is the transient directory all host-side artifacts live in.
	Workspace string
	// Keep leaves the packaged output in place during teardown.
	Keep bool
	// Strict escalates the load-verification warning to a failure.
	Strict bool
}

// NewJob mints a run id for the request and pins the workspace layout.
func NewJob(request gem.Request, prof profile.Profile, plat platform.Platform, workspace string) Job {
	return Job{
		ID:        uuid.New().String(),
		Request:   request,
		Profile:   prof,
		Platform:  plat,
		Workspace: workspace,
	}
}

// Labels returns the labels stamped on every resource this job creates.
func (j Job) Labels() map[string]string {
	return map[string]string{RunLabel: j.ID}
}

// DockerfilePath is the generated build definition file.
func (j Job) DockerfilePath() string {
	return filepath.Join(j.Workspace, "Dockerfile")
}

// StageDir holds artifacts copied out of the container before packaging.
func (j Job) StageDir() string {
	return filepath.Join(j.Workspace, "stage")
}

// StagedPackageDir is the extracted installed package tree.
func (j Job) StagedPackageDir() string {
	return filepath.Join(j.StageDir(), j.Request.Slug())
}

// StagedGemspecPath is the extracted manifest.
func (j Job) StagedGemspecPath() string {
	return filepath.Join(j.StageDir(), j.Request.Slug()+".gemspec")
}

// OutputDir is the precompiled package tree the gem is rebuilt from.
func (j Job) OutputDir() string {
	return filepath.Join(j.Workspace, j.Request.Slug())
}

// GemPath is the rebuilt precompiled gem archive.
func (j Job) GemPath() string {
	return filepath.Join(j.Workspace, j.Request.Archive())
}

// ReportPath is the build report written next to the rebuilt gem.
func (j Job) ReportPath() string {
	return filepath.Join(j.Workspace, j.Request.Slug()+".json")
}
