package platform

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Platform defines the set of values accepted by the container runtime's
// --platform flag. Builds target exactly one platform per run.
type Platform string

const (
	AMD64   Platform = "linux/amd64"
	ARM64   Platform = "linux/arm64"
	ARMV7   Platform = "linux/arm/v7"
	I386    Platform = "linux/386"
	PPC64LE Platform = "linux/ppc64le"
	S390X   Platform = "linux/s390x"
)

// Supported returns the full list of supported platforms.
func Supported() []Platform {
	return []Platform{
		AMD64,
		ARM64,
		ARMV7,
		I386,
		PPC64LE,
		S390X,
	}
}

// IsValid reports whether p matches a supported platform value.
func (p Platform) IsValid() bool {
	switch p {
	case AMD64, ARM64, ARMV7, I386, PPC64LE, S390X:
		return true
	default:
		return false
	}
}

// String returns the platform as string.
func (p Platform) String() string {
	return string(p)
}

// Arch returns the architecture segment of the platform.
func (p Platform) Arch() string {
	parts := strings.SplitN(string(p), "/", 3)
	if len(parts) < 2 {
		return string(p)
	}
	return parts[1]
}

// Parse returns the canonical Platform for the provided string or an error
// if unsupported.
func Parse(value string) (Platform, error) {
	if p := Normalize(value); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("unsupported platform %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// MustParse is like Parse but panics on error.
func MustParse(value string) Platform {
	p, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return p
}

// Normalize maps a possibly ambiguous string, including bare architecture
// names, into a canonical Platform. Returns "" when the string cannot be
// normalized.
func Normalize(value string) Platform {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case string(AMD64), "amd64", "x86_64", "x86-64":
		return AMD64
	case string(ARM64), "arm64", "aarch64":
		return ARM64
	case string(ARMV7), "linux/arm", "arm", "armv7", "armv7l", "armhf":
		return ARMV7
	case string(I386), "386", "x86", "i386", "i486", "i586", "i686":
		return I386
	case string(PPC64LE), "ppc64le", "ppc64el", "powerpc64le":
		return PPC64LE
	case string(S390X), "s390x":
		return S390X
	default:
		return ""
	}
}

// Host returns the platform matching the machine gemkiln runs on.
func Host() Platform {
	if p := Normalize(runtime.GOARCH); p != "" {
		return p
	}
	return AMD64
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, p := range all {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}
