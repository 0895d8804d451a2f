package build

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/cochaviz/gemkiln/internal/gem"
	"github.com/cochaviz/gemkiln/internal/packaging"
	"github.com/cochaviz/gemkiln/internal/registry"
	"github.com/cochaviz/gemkiln/internal/verify"
)

type stubGuard struct {
	calls int
	err   error
}

func (s *stubGuard) Check(context.Context) error {
	s.calls++
	return s.err
}

type stubRegistry struct {
	calls   int
	name    string
	version string
	err     error
}

func (s *stubRegistry) CheckVersion(_ context.Context, name, version string) error {
	s.calls++
	s.name, s.version = name, version
	return s.err
}

type stubEnvironment struct {
	provisionCalls int
	cleanupCalls   int
	provisionErr   error
	cleanupErr     error
}

func (s *stubEnvironment) Provision(context.Context) error {
	s.provisionCalls++
	return s.provisionErr
}

func (s *stubEnvironment) Cleanup(context.Context) error {
	s.cleanupCalls++
	return s.cleanupErr
}

type stubPreparer struct {
	env  *stubEnvironment
	err  error
	jobs []Job
}

func (s *stubPreparer) Prepare(job Job) (BuildEnvironment, error) {
	s.jobs = append(s.jobs, job)
	if s.err != nil {
		return nil, s.err
	}
	return s.env, nil
}

type stubDriver struct {
	calls int
	err   error
}

func (s *stubDriver) Build(context.Context, Job) error {
	s.calls++
	return s.err
}

type stubExtractor struct {
	calls     int
	extracted Extracted
	err       error
}

func (s *stubExtractor) Extract(context.Context, Job) (Extracted, error) {
	s.calls++
	return s.extracted, s.err
}

type stubPackager struct {
	calls  int
	spec   packaging.Spec
	result packaging.Result
	err    error
}

func (s *stubPackager) Package(_ context.Context, spec packaging.Spec) (packaging.Result, error) {
	s.calls++
	s.spec = spec
	return s.result, s.err
}

type stubVerifier struct {
	calls   int
	warning *verify.Warning
	err     error
}

func (s *stubVerifier) Check(context.Context, gem.Request) (*verify.Warning, error) {
	s.calls++
	return s.warning, s.err
}

func TestServiceRunsPipeline(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	env := &stubEnvironment{}
	preparer := &stubPreparer{env: env}
	guard := &stubGuard{}
	reg := &stubRegistry{}
	driver := &stubDriver{}
	extractor := &stubExtractor{extracted: Extracted{
		PackageDir:  job.StagedPackageDir(),
		GemspecPath: job.StagedGemspecPath(),
	}}
	packager := &stubPackager{result: packaging.Result{
		Binaries: []string{"lib/widget_lib/widget_lib.so"},
		GemPath:  job.GemPath(),
	}}
	verifier := &stubVerifier{}

	service := &Service{
		Guard:        guard,
		Registry:     reg,
		Environments: preparer,
		Driver:       driver,
		Extractor:    extractor,
		Packager:     packager,
		Verifier:     verifier,
	}

	outcome, err := service.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.GemPath != job.GemPath() {
		t.Fatalf("outcome gem = %q, want %q", outcome.GemPath, job.GemPath())
	}
	if !reflect.DeepEqual(outcome.Binaries, packager.result.Binaries) {
		t.Fatalf("outcome binaries = %v, want %v", outcome.Binaries, packager.result.Binaries)
	}
	if len(outcome.Warnings) != 0 {
		t.Fatalf("outcome warnings = %v, want none", outcome.Warnings)
	}

	if guard.calls != 1 || reg.calls != 1 || driver.calls != 1 ||
		extractor.calls != 1 || packager.calls != 1 || verifier.calls != 1 {
		t.Fatalf("collaborator calls guard=%d registry=%d driver=%d extractor=%d packager=%d verifier=%d, want 1 each",
			guard.calls, reg.calls, driver.calls, extractor.calls, packager.calls, verifier.calls)
	}
	if env.provisionCalls != 1 || env.cleanupCalls != 1 {
		t.Fatalf("environment provision=%d cleanup=%d, want 1 each", env.provisionCalls, env.cleanupCalls)
	}
	if reg.name != "widget_lib" || reg.version != "1.2.3" {
		t.Fatalf("registry checked %s %s, want widget_lib 1.2.3", reg.name, reg.version)
	}

	if packager.spec.PackageDir != job.StagedPackageDir() {
		t.Fatalf("packager package dir = %q, want %q", packager.spec.PackageDir, job.StagedPackageDir())
	}
	if packager.spec.GemspecPath != job.StagedGemspecPath() {
		t.Fatalf("packager gemspec = %q, want %q", packager.spec.GemspecPath, job.StagedGemspecPath())
	}
	if packager.spec.OutputDir != job.OutputDir() {
		t.Fatalf("packager output dir = %q, want %q", packager.spec.OutputDir, job.OutputDir())
	}
	if packager.spec.GemPath != job.GemPath() {
		t.Fatalf("packager gem path = %q, want %q", packager.spec.GemPath, job.GemPath())
	}

	data, err := os.ReadFile(job.ReportPath())
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report struct {
		Run      string   `json:"run"`
		Gem      string   `json:"gem"`
		Binaries []string `json:"binaries"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Run != job.ID || report.Gem != "widget_lib" {
		t.Fatalf("report = %+v, want run %s gem widget_lib", report, job.ID)
	}
	if !reflect.DeepEqual(report.Binaries, packager.result.Binaries) {
		t.Fatalf("report binaries = %v, want %v", report.Binaries, packager.result.Binaries)
	}
}

func TestServiceCleansUpAfterBuildFailure(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	env := &stubEnvironment{}
	extractor := &stubExtractor{}
	packager := &stubPackager{}
	service := &Service{
		Environments: &stubPreparer{env: env},
		Driver:       &stubDriver{err: &BuildError{Step: "gem install", Output: "boom"}},
		Extractor:    extractor,
		Packager:     packager,
	}

	_, err := service.Run(context.Background(), job)
	var buildErr *BuildError
	if !errors.As(err, &buildErr) {
		t.Fatalf("Run() error = %v, want *BuildError", err)
	}
	if env.cleanupCalls != 1 {
		t.Fatalf("cleanup calls = %d, want 1", env.cleanupCalls)
	}
	if extractor.calls != 0 || packager.calls != 0 {
		t.Fatalf("later stages ran after failure: extractor=%d packager=%d", extractor.calls, packager.calls)
	}
}

func TestServiceStopsOnGuardFailure(t *testing.T) {
	t.Parallel()

	preparer := &stubPreparer{env: &stubEnvironment{}}
	service := &Service{
		Guard:        &stubGuard{err: &EnvironmentError{Message: "container runtime is not available"}},
		Environments: preparer,
		Driver:       &stubDriver{},
		Extractor:    &stubExtractor{},
		Packager:     &stubPackager{},
	}

	_, err := service.Run(context.Background(), testJob(t, t.TempDir()))
	var envErr *EnvironmentError
	if !errors.As(err, &envErr) {
		t.Fatalf("Run() error = %v, want *EnvironmentError", err)
	}
	if len(preparer.jobs) != 0 {
		t.Fatalf("environment prepared despite guard failure")
	}
}

func TestServiceAbortsWhenReleaseUnknown(t *testing.T) {
	t.Parallel()

	preparer := &stubPreparer{env: &stubEnvironment{}}
	service := &Service{
		Registry:     &stubRegistry{err: &registry.NotFoundError{Name: "widget_lib", Version: "1.2.3"}},
		Environments: preparer,
		Driver:       &stubDriver{},
		Extractor:    &stubExtractor{},
		Packager:     &stubPackager{},
	}

	_, err := service.Run(context.Background(), testJob(t, t.TempDir()))
	var notFound *registry.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Run() error = %v, want *registry.NotFoundError", err)
	}
	if len(preparer.jobs) != 0 {
		t.Fatalf("environment prepared for an unknown release")
	}
}

func TestServiceContinuesThroughRegistryOutage(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	service := &Service{
		Registry:     &stubRegistry{err: errors.New("dial tcp: connection refused")},
		Environments: &stubPreparer{env: &stubEnvironment{}},
		Driver:       &stubDriver{},
		Extractor:    &stubExtractor{},
		Packager: &stubPackager{result: packaging.Result{
			Binaries: []string{"lib/widget_lib/widget_lib.so"},
			GemPath:  job.GemPath(),
		}},
	}

	outcome, err := service.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v, registry outage should not be fatal", err)
	}
	if len(outcome.Warnings) != 1 || !strings.Contains(outcome.Warnings[0], "registry preflight failed") {
		t.Fatalf("warnings = %v, want one registry warning", outcome.Warnings)
	}
}

func TestServiceWarnsWhenNoBinariesFound(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	service := &Service{
		Environments: &stubPreparer{env: &stubEnvironment{}},
		Driver:       &stubDriver{},
		Extractor:    &stubExtractor{},
		Packager:     &stubPackager{result: packaging.Result{GemPath: job.GemPath()}},
	}

	outcome, err := service.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v, zero binaries should not be fatal", err)
	}
	if len(outcome.Warnings) != 1 || !strings.Contains(outcome.Warnings[0], "no compiled objects") {
		t.Fatalf("warnings = %v, want the zero-binary warning", outcome.Warnings)
	}
}

func TestServiceReportsLoadWarning(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	warning := &verify.Warning{Name: "widget_lib", Attempts: []string{"widget_lib", "widget"}}
	env := &stubEnvironment{}
	service := &Service{
		Environments: &stubPreparer{env: env},
		Driver:       &stubDriver{},
		Extractor:    &stubExtractor{},
		Packager: &stubPackager{result: packaging.Result{
			Binaries: []string{"lib/widget_lib/widget_lib.so"},
			GemPath:  job.GemPath(),
		}},
		Verifier: &stubVerifier{warning: warning},
	}

	outcome, err := service.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v, load warning should not be fatal", err)
	}
	if len(outcome.Warnings) != 1 || outcome.Warnings[0] != warning.Error() {
		t.Fatalf("warnings = %v, want the load warning", outcome.Warnings)
	}
}

func TestServiceStrictEscalatesLoadFailure(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	job.Strict = true
	env := &stubEnvironment{}
	service := &Service{
		Environments: &stubPreparer{env: env},
		Driver:       &stubDriver{},
		Extractor:    &stubExtractor{},
		Packager: &stubPackager{result: packaging.Result{
			Binaries: []string{"lib/widget_lib/widget_lib.so"},
			GemPath:  job.GemPath(),
		}},
		Verifier: &stubVerifier{warning: &verify.Warning{Name: "widget_lib", Attempts: []string{"widget_lib"}}},
	}

	_, err := service.Run(context.Background(), job)
	var warning *verify.Warning
	if !errors.As(err, &warning) {
		t.Fatalf("Run() error = %v, want *verify.Warning in strict mode", err)
	}
	if env.cleanupCalls != 1 {
		t.Fatalf("cleanup calls = %d, want 1", env.cleanupCalls)
	}
}

func TestServiceJoinsTeardownFailure(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	leftover := errors.New("image has dependent containers")
	service := &Service{
		Environments: &stubPreparer{env: &stubEnvironment{cleanupErr: leftover}},
		Driver:       &stubDriver{},
		Extractor:    &stubExtractor{},
		Packager: &stubPackager{result: packaging.Result{
			Binaries: []string{"lib/widget_lib/widget_lib.so"},
			GemPath:  job.GemPath(),
		}},
	}

	_, err := service.Run(context.Background(), job)
	if !errors.Is(err, leftover) {
		t.Fatalf("Run() error = %v, want the teardown failure joined in", err)
	}
}

func TestServiceRequiresCollaborators(t *testing.T) {
	t.Parallel()

	service := &Service{}
	if _, err := service.Run(context.Background(), testJob(t, t.TempDir())); err == nil {
		t.Fatalf("Run() with no collaborators should fail")
	}
}
