package gem

import (
	"fmt"
	"strings"
)

// Request identifies the gem a single invocation operates on. It is
// immutable once constructed; every identifier the pipeline needs is
// derived from the two fields, so a rerun for the same gem addresses the
// same container and image.
type Request struct {
	name    string
	version string
}

// NewRequest validates the raw command line arguments and resolves them
// into a Request.
func NewRequest(name, version string) (Request, error) {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)

	if name == "" {
		return Request{}, &UsageError{Message: "gem name must not be empty"}
	}
	if strings.ContainsAny(name, " \t\n/\\") {
		return Request{}, &UsageError{Message: fmt.Sprintf("gem name %q contains whitespace or path separators", name)}
	}
	if version == "" {
		return Request{}, &UsageError{Message: "gem version must not be empty"}
	}
	if strings.ContainsAny(version, " \t\n/\\") {
		return Request{}, &UsageError{Message: fmt.Sprintf("gem version %q contains whitespace or path separators", version)}
	}

	return Request{name: name, version: version}, nil
}

// Name returns the gem name exactly as requested.
func (r Request) Name() string {
	return r.name
}

// Version returns the requested gem version.
func (r Request) Version() string {
	return r.version
}

// Slug returns "<name>-<version>", the stem RubyGems uses for the fetched
// archive, the unpacked directory, and the specification file.
func (r Request) Slug() string {
	return r.name + "-" + r.version
}

// Archive returns the file name produced by gem fetch and gem build.
func (r Request) Archive() string {
	return r.Slug() + ".gem"
}

// Gemspec returns the specification file name for this gem.
func (r Request) Gemspec() string {
	return r.name + ".gemspec"
}

// ContainerName derives the build container identity: the gem name with
// every rune outside [A-Za-z0-9] replaced by '-', suffixed with "-builder".
// Names that differ only in replaced runes collide; the provision-time
// conflict check makes that loud instead of silent.
func (r Request) ContainerName() string {
	return sanitizeName(r.name) + "-builder"
}

// ImageTag derives the disposable image tag for this gem.
func (r Request) ImageTag() string {
	return "gemkiln/" + sanitizeName(r.name)
}

// BaseName returns the heuristic require name: the gem name truncated at
// the first hyphen or underscore. "widget-lib" and "widget_lib" both load
// as "widget".
func (r Request) BaseName() string {
	if idx := strings.IndexAny(r.name, "-_"); idx > 0 {
		return r.name[:idx]
	}
	return r.name
}

// String renders the request for log records.
func (r Request) String() string {
	return r.Slug()
}

func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// UsageError reports arguments the resolver rejected. The CLI prints the
// usage text and exits without touching the container runtime when it sees
// one.
type UsageError struct {
	Message string
}

// Error returns the error message.
func (e *UsageError) Error() string {
	return e.Message
}
