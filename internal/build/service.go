package build

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/cochaviz/gemkiln/internal/packaging"
	"github.com/cochaviz/gemkiln/internal/registry"
)

// Service drives a precompile run end to end. Collaborators hang off
// interface fields so the pipeline can run against stubs. Guard, Registry,
// and Verifier are optional; the rest are required.
type Service struct {
	Logger       *slog.Logger
	Guard        EnvironmentGuard
	Registry     VersionChecker
	Environments EnvironmentPreparer
	Driver       BuildDriver
	Extractor    ArtifactExtractor
	Packager     GemPackager
	Verifier     LoadVerifier
}

// Outcome reports what a completed run produced.
type Outcome struct {
	// GemPath is the rebuilt archive. Teardown removes it again unless the
	// job keeps its workspace.
	GemPath string
	// Binaries are the compiled objects shipped inside the gem.
	Binaries []string
	// Warnings are non-fatal degradations, surfaced to the operator after
	// the run.
	Warnings []string
}

// Run executes the pipeline for one job: guard, registry preflight,
// provision, build, extract, package, verify. Teardown always runs once
// the environment is bound, on a context that survives cancellation, and
// any teardown failure joins the returned error.
func (s *Service) Run(ctx context.Context, job Job) (outcome Outcome, err error) {
	if s.Environments == nil || s.Driver == nil || s.Extractor == nil || s.Packager == nil {
		return Outcome{}, errors.New("build service is missing collaborators")
	}

	startedAt := time.Now()
	logger := s.logger().With(
		"gem", job.Request.Name(),
		"version", job.Request.Version(),
		"run", job.ID,
	)
	logger.Info("starting precompile run", "platform", job.Platform.String())

	if s.Guard != nil {
		if err := s.Guard.Check(ctx); err != nil {
			return Outcome{}, err
		}
	}

	var warnings []string
	if s.Registry != nil {
		checkErr := s.Registry.CheckVersion(ctx, job.Request.Name(), job.Request.Version())
		var notFound *registry.NotFoundError
		switch {
		case checkErr == nil:
		case errors.As(checkErr, &notFound):
			return Outcome{}, checkErr
		case ctx.Err() != nil:
			return Outcome{}, checkErr
		default:
			logger.Warn("registry preflight failed, continuing without it", "error", checkErr)
			warnings = append(warnings, "registry preflight failed: "+checkErr.Error())
		}
	}

	env, err := s.Environments.Prepare(job)
	if err != nil {
		return Outcome{}, err
	}
	defer func() {
		if cleanupErr := env.Cleanup(context.WithoutCancel(ctx)); cleanupErr != nil {
			logger.Error("teardown incomplete", "error", cleanupErr)
			err = errors.Join(err, cleanupErr)
		}
	}()

	if err := env.Provision(ctx); err != nil {
		return Outcome{}, err
	}
	logger.Info("build environment provisioned",
		"image", job.Request.ImageTag(),
		"container", job.Request.ContainerName(),
	)

	if err := s.Driver.Build(ctx, job); err != nil {
		return Outcome{}, err
	}
	logger.Info("gem built inside container")

	extracted, err := s.Extractor.Extract(ctx, job)
	if err != nil {
		return Outcome{}, err
	}
	logger.Info("artifacts staged", "package", extracted.PackageDir)

	result, err := s.Packager.Package(ctx, packaging.Spec{
		Request:     job.Request,
		PackageDir:  extracted.PackageDir,
		GemspecPath: extracted.GemspecPath,
		OutputDir:   job.OutputDir(),
		GemPath:     job.GemPath(),
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(result.Binaries) == 0 {
		logger.Warn("no compiled objects found under lib, the gem may have no native extension")
		warnings = append(warnings, "no compiled objects found under lib/; the gem may have no native extension")
	}
	logger.Info("precompiled gem installed", "gem", result.GemPath, "binaries", len(result.Binaries))

	if reportErr := s.writeReport(job, result, startedAt); reportErr != nil {
		logger.Warn("could not write build report", "error", reportErr)
		warnings = append(warnings, "could not write build report: "+reportErr.Error())
	}

	if s.Verifier != nil {
		warning, verifyErr := s.Verifier.Check(ctx, job.Request)
		if verifyErr != nil {
			return Outcome{}, verifyErr
		}
		if warning != nil {
			if job.Strict {
				return Outcome{}, warning
			}
			logger.Warn("installed gem did not load", "error", warning)
			warnings = append(warnings, warning.Error())
		}
	}

	return Outcome{
		GemPath:  result.GemPath,
		Binaries: result.Binaries,
		Warnings: warnings,
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

type buildReport struct {
	Run        string    `json:"run"`
	Gem        string    `json:"gem"`
	Version    string    `json:"version"`
	Platform   string    `json:"platform"`
	Image      string    `json:"image"`
	Container  string    `json:"container"`
	Binaries   []string  `json:"binaries"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Service) writeReport(job Job, result packaging.Result, startedAt time.Time) error {
	report := buildReport{
		Run:        job.ID,
		Gem:        job.Request.Name(),
		Version:    job.Request.Version(),
		Platform:   job.Platform.String(),
		Image:      job.Request.ImageTag(),
		Container:  job.Request.ContainerName(),
		Binaries:   result.Binaries,
		StartedAt:  startedAt.UTC(),
		FinishedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(job.ReportPath(), append(data, '\n'), 0o644)
}
