package build

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubProber struct {
	calls int
	err   error
}

func (s *stubProber) Ping(context.Context) error {
	s.calls++
	return s.err
}

func TestGuardPassesOnHealthyHost(t *testing.T) {
	t.Parallel()

	prober := &stubProber{}
	guard := &Guard{
		Docker:   prober,
		LookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil },
	}

	if err := guard.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if prober.calls != 1 {
		t.Fatalf("Ping calls = %d, want 1", prober.calls)
	}
}

func TestGuardRejectsUnreachableDaemon(t *testing.T) {
	t.Parallel()

	guard := &Guard{
		Docker:   &stubProber{err: errors.New("connection refused")},
		LookPath: func(name string) (string, error) { return "/usr/bin/" + name, nil },
	}

	err := guard.Check(context.Background())
	var envErr *EnvironmentError
	if !errors.As(err, &envErr) {
		t.Fatalf("Check() error = %v, want *EnvironmentError", err)
	}
	if !strings.Contains(envErr.Message, "container runtime") {
		t.Fatalf("message = %q, want runtime availability failure", envErr.Message)
	}
}

func TestGuardRejectsMissingHostTool(t *testing.T) {
	t.Parallel()

	missing := errors.New("executable file not found in $PATH")
	tests := []struct {
		tool string
	}{
		{tool: "gem"},
		{tool: "ruby"},
	}
	for _, tt := range tests {
		guard := &Guard{
			Docker: &stubProber{},
			LookPath: func(name string) (string, error) {
				if name == tt.tool {
					return "", missing
				}
				return "/usr/bin/" + name, nil
			},
		}

		err := guard.Check(context.Background())
		var envErr *EnvironmentError
		if !errors.As(err, &envErr) {
			t.Fatalf("Check() with missing %s error = %v, want *EnvironmentError", tt.tool, err)
		}
		if !strings.Contains(envErr.Message, tt.tool) {
			t.Fatalf("message = %q, want it to name %s", envErr.Message, tt.tool)
		}
		if !errors.Is(err, missing) {
			t.Fatalf("lookup failure should be wrapped, got %v", err)
		}
	}
}

func TestGuardRequiresClient(t *testing.T) {
	t.Parallel()

	guard := &Guard{}
	err := guard.Check(context.Background())
	var envErr *EnvironmentError
	if !errors.As(err, &envErr) {
		t.Fatalf("Check() error = %v, want *EnvironmentError", err)
	}
}
