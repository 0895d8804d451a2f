package build

import "fmt"

// EnvironmentError reports that the host cannot support a build: the
// container runtime daemon is unreachable or a required tool is missing.
type EnvironmentError struct {
	Message string
	Err     error
}

// Error returns the error message.
func (e *EnvironmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// ConflictError reports a leftover container or image already occupying a
// derived identifier, most likely from an interrupted earlier run.
type ConflictError struct {
	// Resource is "container" or "image".
	Resource string
	Name     string
	// RunID is the run label found on the leftover resource, if any.
	RunID string
	// Removal is the command that releases the identifier.
	Removal string
}

// Error returns the error message.
func (e *ConflictError) Error() string {
	message := fmt.Sprintf("%s %q already exists", e.Resource, e.Name)
	if e.RunID != "" {
		message += fmt.Sprintf(" (left by run %s)", e.RunID)
	}
	return fmt.Sprintf("%s; remove it with %q and retry", message, e.Removal)
}

// BuildError reports a failed step inside the build container.
type BuildError struct {
	// Step names the command that failed, e.g. "gem install".
	Step   string
	Output string
	Err    error
}

// Error returns the error message.
func (e *BuildError) Error() string {
	switch {
	case e.Output != "":
		return fmt.Sprintf("%s failed: %s", e.Step, e.Output)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
	default:
		return fmt.Sprintf("%s failed", e.Step)
	}
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// ExtractionError reports that a compiled artifact could not be located in
// or copied out of the build container.
type ExtractionError struct {
	Message string
	Err     error
}

// Error returns the error message.
func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
