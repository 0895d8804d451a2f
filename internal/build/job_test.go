package build

import (
	"path/filepath"
	"testing"
)

func TestJobWorkspaceLayout(t *testing.T) {
	t.Parallel()

	workspace := t.TempDir()
	job := testJob(t, workspace)

	tests := []struct {
		got  string
		want string
	}{
		{got: job.DockerfilePath(), want: filepath.Join(workspace, "Dockerfile")},
		{got: job.StageDir(), want: filepath.Join(workspace, "stage")},
		{got: job.StagedPackageDir(), want: filepath.Join(workspace, "stage", "widget_lib-1.2.3")},
		{got: job.StagedGemspecPath(), want: filepath.Join(workspace, "stage", "widget_lib-1.2.3.gemspec")},
		{got: job.OutputDir(), want: filepath.Join(workspace, "widget_lib-1.2.3")},
		{got: job.GemPath(), want: filepath.Join(workspace, "widget_lib-1.2.3.gem")},
		{got: job.ReportPath(), want: filepath.Join(workspace, "widget_lib-1.2.3.json")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("path = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewJobMintsDistinctRuns(t *testing.T) {
	t.Parallel()

	first := testJob(t, t.TempDir())
	second := testJob(t, t.TempDir())

	if first.ID == "" {
		t.Fatalf("run id is empty")
	}
	if first.ID == second.ID {
		t.Fatalf("two jobs share run id %q", first.ID)
	}

	labels := first.Labels()
	if labels[RunLabel] != first.ID {
		t.Fatalf("labels = %v, want %s=%s", labels, RunLabel, first.ID)
	}
}
