package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/cochaviz/gemkiln/internal/runner"
)

// ErrNotFound reports that the named container or image does not exist.
// Teardown treats it the way file cleanup treats fs.ErrNotExist.
var ErrNotFound = errors.New("docker: no such object")

// Client drives the container runtime through its command line interface.
// The runtime binary is the collaborator here; none of its behavior is
// reimplemented.
type Client struct {
	// Binary is the runtime command, "docker" when empty.
	Binary string
	// Runner executes the binary, a local host runner when nil.
	Runner runner.Runner
	Logger *slog.Logger
}

// BuildSpec describes one disposable image build.
type BuildSpec struct {
	Tag        string
	Dockerfile string
	ContextDir string
	Platform   string
	Labels     map[string]string
}

// StartSpec describes a long-lived idle container commands are executed in.
type StartSpec struct {
	Name   string
	Image  string
	Labels map[string]string
}

func (c *Client) binary() string {
	if c != nil && c.Binary != "" {
		return c.Binary
	}
	return "docker"
}

// BinaryName returns the runtime command in use, for operator-facing hints.
func (c *Client) BinaryName() string {
	return c.binary()
}

func (c *Client) runner() runner.Runner {
	if c != nil && c.Runner != nil {
		return c.Runner
	}
	return &runner.Local{Logger: c.Logger}
}

func (c *Client) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) run(ctx context.Context, echo bool, args ...string) (runner.Result, error) {
	return c.runner().Run(ctx, runner.Command{
		Name: c.binary(),
		Args: args,
		Echo: echo,
	})
}

// Ping verifies the runtime daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	result, err := c.run(ctx, false, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return fmt.Errorf("probe %s daemon: %w", c.binary(), err)
	}
	if !result.Succeeded() {
		return fmt.Errorf("%s daemon unreachable: %s", c.binary(), result.Output())
	}
	c.logger().Debug("daemon reachable", "runtime", c.binary(), "version", strings.TrimSpace(result.Stdout))
	return nil
}

// BuildImage builds the image described by spec, streaming build output.
func (c *Client) BuildImage(ctx context.Context, spec BuildSpec) error {
	args := []string{"build", "--tag", spec.Tag}
	if spec.Platform != "" {
		args = append(args, "--platform", spec.Platform)
	}
	for _, label := range renderLabels(spec.Labels) {
		args = append(args, "--label", label)
	}
	if spec.Dockerfile != "" {
		args = append(args, "--file", spec.Dockerfile)
	}
	args = append(args, spec.ContextDir)

	result, err := c.run(ctx, true, args...)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("build image %s: %s", spec.Tag, result.Output())
	}
	return nil
}

// StartIdle starts a detached container that idles until torn down, so the
// build steps can be executed in it one at a time.
func (c *Client) StartIdle(ctx context.Context, spec StartSpec) error {
	args := []string{"run", "--detach", "--name", spec.Name}
	for _, label := range renderLabels(spec.Labels) {
		args = append(args, "--label", label)
	}
	args = append(args, spec.Image, "tail", "-f", "/dev/null")

	result, err := c.run(ctx, false, args...)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("start container %s: %s", spec.Name, result.Output())
	}
	return nil
}

// Exec runs a command inside the named container and captures its output.
// A non-zero exit status is reported through the result, not the error.
func (c *Client) Exec(ctx context.Context, container string, command ...string) (runner.Result, error) {
	return c.exec(ctx, false, container, command...)
}

// ExecStreaming is Exec with the output additionally mirrored to stderr,
// for long compile steps the operator wants to watch.
func (c *Client) ExecStreaming(ctx context.Context, container string, command ...string) (runner.Result, error) {
	return c.exec(ctx, true, container, command...)
}

func (c *Client) exec(ctx context.Context, echo bool, container string, command ...string) (runner.Result, error) {
	if len(command) == 0 {
		return runner.Result{}, errors.New("docker: exec command must not be empty")
	}
	args := append([]string{"exec", container}, command...)
	return c.run(ctx, echo, args...)
}

// PathExists reports whether the path exists inside the container.
func (c *Client) PathExists(ctx context.Context, container, path string) (bool, error) {
	result, err := c.Exec(ctx, container, "test", "-e", path)
	if err != nil {
		return false, err
	}
	switch result.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("probe %s in container %s: %s", path, container, result.Output())
	}
}

// CopyOut copies a path from the container to the host.
func (c *Client) CopyOut(ctx context.Context, container, containerPath, hostPath string) error {
	result, err := c.run(ctx, false, "cp", container+":"+containerPath, hostPath)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("copy %s from container %s: %s", containerPath, container, result.Output())
	}
	return nil
}

// Stop stops the named container. Returns ErrNotFound when it does not exist.
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.simple(ctx, fmt.Sprintf("stop container %s", name), "stop", name)
}

// RemoveContainer removes the named container. Returns ErrNotFound when it
// does not exist.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	return c.simple(ctx, fmt.Sprintf("remove container %s", name), "rm", name)
}

// RemoveImage removes the named image. Returns ErrNotFound when it does not
// exist.
func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	return c.simple(ctx, fmt.Sprintf("remove image %s", tag), "rmi", tag)
}

func (c *Client) simple(ctx context.Context, action string, args ...string) error {
	result, err := c.run(ctx, false, args...)
	if err != nil {
		return err
	}
	if result.Succeeded() {
		return nil
	}
	if isNotFound(result.Output()) {
		return fmt.Errorf("%s: %w", action, ErrNotFound)
	}
	return fmt.Errorf("%s: %s", action, result.Output())
}

// ContainerExists reports whether a container with the given name exists,
// running or not.
func (c *Client) ContainerExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "container", name)
}

// ImageExists reports whether an image with the given tag exists.
func (c *Client) ImageExists(ctx context.Context, tag string) (bool, error) {
	return c.exists(ctx, "image", tag)
}

func (c *Client) exists(ctx context.Context, object, name string) (bool, error) {
	result, err := c.run(ctx, false, object, "inspect", "--format", "{{.Id}}", name)
	if err != nil {
		return false, err
	}
	if result.Succeeded() {
		return true, nil
	}
	if isNotFound(result.Output()) {
		return false, nil
	}
	return false, fmt.Errorf("inspect %s %s: %s", object, name, result.Output())
}

// ContainerLabel returns the value of a label on the named container, or ""
// when unset. Returns ErrNotFound when the container does not exist.
func (c *Client) ContainerLabel(ctx context.Context, name, key string) (string, error) {
	return c.label(ctx, "container", name, key)
}

// ImageLabel returns the value of a label on the named image, or "" when
// unset. Returns ErrNotFound when the image does not exist.
func (c *Client) ImageLabel(ctx context.Context, tag, key string) (string, error) {
	return c.label(ctx, "image", tag, key)
}

func (c *Client) label(ctx context.Context, object, name, key string) (string, error) {
	format := fmt.Sprintf("{{index .Config.Labels %q}}", key)
	result, err := c.run(ctx, false, object, "inspect", "--format", format, name)
	if err != nil {
		return "", err
	}
	if !result.Succeeded() {
		if isNotFound(result.Output()) {
			return "", fmt.Errorf("inspect %s %s: %w", object, name, ErrNotFound)
		}
		return "", fmt.Errorf("inspect %s %s: %s", object, name, result.Output())
	}
	value := strings.TrimSpace(result.Stdout)
	if value == "<no value>" {
		value = ""
	}
	return value, nil
}

func renderLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rendered := make([]string, 0, len(keys))
	for _, key := range keys {
		rendered = append(rendered, key+"="+labels[key])
	}
	return rendered
}

func isNotFound(output string) bool {
	return strings.Contains(strings.ToLower(output), "no such")
}
