// Package verify confirms a freshly installed gem loads in the host Ruby.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cochaviz/gemkiln/internal/gem"
	"github.com/cochaviz/gemkiln/internal/runner"
)

// Warning reports an installed gem that could not be loaded. Loading is a
// heuristic (the require name is guessed from the gem name), so a failed
// check degrades the run instead of failing it.
type Warning struct {
	// Name is the gem that was installed.
	Name string
	// Attempts are the require names tried, in order.
	Attempts []string
	// Output is the failure output of the last attempt.
	Output string
}

func (w *Warning) Error() string {
	tried := make([]string, 0, len(w.Attempts))
	for _, attempt := range w.Attempts {
		tried = append(tried, fmt.Sprintf("require '%s'", attempt))
	}
	return fmt.Sprintf(
		"gem %s installed but did not load (tried %s); check manually with: ruby -e \"require '%s'\"",
		w.Name, strings.Join(tried, ", "), w.Name,
	)
}

// Checker loads an installed gem in a fresh host Ruby process.
type Checker struct {
	Runner runner.Runner
	// RubyBin overrides the ruby command name.
	RubyBin string
	Logger  *slog.Logger
}

func (c *Checker) rubyBin() string {
	if c != nil && c.RubyBin != "" {
		return c.RubyBin
	}
	return "ruby"
}

func (c *Checker) runner() runner.Runner {
	if c != nil && c.Runner != nil {
		return c.Runner
	}
	return &runner.Local{}
}

func (c *Checker) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Check requires the gem by name and, when that fails, by the base name in
// front of the first separator (rake-compiler loads as rake, for example).
// A gem that loads under neither name yields a Warning, not an error;
// cancellation is the only hard failure.
func (c *Checker) Check(ctx context.Context, request gem.Request) (*Warning, error) {
	attempts := []string{request.Name()}
	if base := request.BaseName(); base != request.Name() {
		attempts = append(attempts, base)
	}

	var lastOutput string
	for _, name := range attempts {
		result, err := c.runner().Run(ctx, runner.Command{
			Name: c.rubyBin(),
			Args: []string{"-e", "require '" + name + "'"},
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastOutput = err.Error()
			continue
		}
		if result.Succeeded() {
			c.logger().Info("installed gem loads", "gem", request.Name(), "require", name)
			return nil, nil
		}
		lastOutput = result.Output()
	}

	return &Warning{
		Name:     request.Name(),
		Attempts: attempts,
		Output:   lastOutput,
	}, nil
}
