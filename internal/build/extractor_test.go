package build

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/cochaviz/gemkiln/internal/docker"
	"github.com/cochaviz/gemkiln/internal/runner"
)

func TestExtractStagesArtifacts(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	job := testJob(t, workspace)
	stub := &stubRunner{results: []runner.Result{
		{ExitCode: 0, Stdout: "/usr/local/bundle\n"},
		{ExitCode: 0},
		{ExitCode: 0},
		{ExitCode: 0},
		{ExitCode: 0},
	}}
	extractor := &Extractor{Docker: &docker.Client{Runner: stub}}

	extracted, err := extractor.Extract(context.Background(), job)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if extracted.PackageDir != job.StagedPackageDir() {
		t.Fatalf("package dir = %q, want %q", extracted.PackageDir, job.StagedPackageDir())
	}
	if extracted.GemspecPath != job.StagedGemspecPath() {
		t.Fatalf("gemspec path = %q, want %q", extracted.GemspecPath, job.StagedGemspecPath())
	}

	want := [][]string{
		{"exec", "widget-lib-builder", "gem", "environment", "gemdir"},
		{"exec", "widget-lib-builder", "test", "-e", "/usr/local/bundle/gems/widget_lib-1.2.3"},
		{"cp", "widget-lib-builder:/usr/local/bundle/gems/widget_lib-1.2.3", job.StageDir()},
		{"exec", "widget-lib-builder", "test", "-e", "/usr/local/bundle/specifications/widget_lib-1.2.3.gemspec"},
		{"cp", "widget-lib-builder:/usr/local/bundle/specifications/widget_lib-1.2.3.gemspec", job.StageDir()},
	}
	if len(stub.calls) != len(want) {
		t.Fatalf("runner calls = %d, want %d", len(stub.calls), len(want))
	}
	for i, args := range want {
		if !reflect.DeepEqual(stub.calls[i].Args, args) {
			t.Fatalf("call %d args = %v, want %v", i, stub.calls[i].Args, args)
		}
	}
}

func TestExtractFailsWhenGemdirQueryFails(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	stub := &stubRunner{results: []runner.Result{
		{ExitCode: 1, Stderr: "gem: command not found"},
	}}
	extractor := &Extractor{Docker: &docker.Client{Runner: stub}}

	_, err := extractor.Extract(context.Background(), job)
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("Extract() error = %v, want *ExtractionError", err)
	}
	if !strings.Contains(extractionErr.Message, "query gem directory") {
		t.Fatalf("message = %q, want gem directory query failure", extractionErr.Message)
	}
}

func TestExtractRejectsEmptyGemdir(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	stub := &stubRunner{results: []runner.Result{
		{ExitCode: 0, Stdout: "\n"},
	}}
	extractor := &Extractor{Docker: &docker.Client{Runner: stub}}

	_, err := extractor.Extract(context.Background(), job)
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("Extract() error = %v, want *ExtractionError", err)
	}
}

func TestExtractFailsWhenArtifactMissing(t *testing.T) {
	t.Parallel()

	job := testJob(t, t.TempDir())
	stub := &stubRunner{results: []runner.Result{
		{ExitCode: 0, Stdout: "/usr/local/bundle\n"},
		{ExitCode: 1},
	}}
	extractor := &Extractor{Docker: &docker.Client{Runner: stub}}

	_, err := extractor.Extract(context.Background(), job)
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("Extract() error = %v, want *ExtractionError", err)
	}
	if !strings.Contains(extractionErr.Message, "installed package tree") {
		t.Fatalf("message = %q, want missing package tree", extractionErr.Message)
	}
	if len(stub.calls) != 2 {
		t.Fatalf("runner calls = %d, want 2 (no copy after a failed probe)", len(stub.calls))
	}
}
