// Package profile describes the disposable build image: base image, extra
// toolchain packages, gem sources, and the in-container working directory.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/gemkiln/internal/platform"
)

// Profile controls what the disposable image is built from. The zero value
// is not usable; start from Default.
type Profile struct {
	// BaseImage is the Ruby image compilation happens on. Older gems need
	// older toolchains, so the default stays on a legacy line.
	BaseImage string `yaml:"base_image"`
	// Platform optionally pins the image platform; the host platform is
	// used when empty.
	Platform string `yaml:"platform"`
	// Packages are apt packages installed on top of the base image.
	Packages []string `yaml:"packages"`
	// GemSources are additional RubyGems mirrors registered before the
	// build steps run.
	GemSources []string `yaml:"gem_sources"`
	// Workdir is the absolute directory build steps execute in.
	Workdir string `yaml:"workdir"`
}

// Default returns the stock profile: a legacy Ruby base image with the
// native build toolchain and a fetch utility.
func Default() Profile {
	return Profile{
		BaseImage: "ruby:2.6",
		Packages:  []string{"build-essential", "wget"},
		Workdir:   "/build",
	}
}

// Load reads a YAML profile from path, layered over Default.
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read build profile: %w", err)
	}
	prof, err := Parse(data)
	if err != nil {
		return Profile{}, fmt.Errorf("%s: %w", path, err)
	}
	return prof, nil
}

// Parse decodes a YAML profile over the defaults. Unknown keys are
// rejected so typos fail instead of silently building the wrong image.
func Parse(data []byte) (Profile, error) {
	prof := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&prof); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("parse build profile: %w", err)
	}

	prof.normalize()
	if err := prof.validate(); err != nil {
		return Profile{}, err
	}
	return prof, nil
}

func (p *Profile) normalize() {
	p.BaseImage = strings.TrimSpace(p.BaseImage)
	p.Platform = strings.TrimSpace(p.Platform)
	p.Workdir = strings.TrimSpace(p.Workdir)
	p.Packages = trimList(p.Packages)
	p.GemSources = trimList(p.GemSources)
}

func (p Profile) validate() error {
	if p.BaseImage == "" {
		return errors.New("build profile: base_image must not be empty")
	}
	if !strings.HasPrefix(p.Workdir, "/") {
		return fmt.Errorf("build profile: workdir %q must be an absolute path", p.Workdir)
	}
	if p.Platform != "" {
		if _, err := platform.Parse(p.Platform); err != nil {
			return fmt.Errorf("build profile: %w", err)
		}
	}
	return nil
}

// ResolvePlatform picks the build platform: the override when given, the
// profile's pin otherwise, the host platform when neither is set.
func (p Profile) ResolvePlatform(override string) (platform.Platform, error) {
	value := strings.TrimSpace(override)
	if value == "" {
		value = p.Platform
	}
	if value == "" {
		return platform.Host(), nil
	}
	return platform.Parse(value)
}

// Encode renders the profile as YAML, for seeding an editable config file.
func (p Profile) Encode() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode build profile: %w", err)
	}
	return data, nil
}

// Dockerfile renders the build definition for the disposable image.
func (p Profile) Dockerfile() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", p.BaseImage)
	if len(p.Packages) > 0 {
		fmt.Fprintf(&b, "\nRUN apt-get update \\\n && apt-get install -y --no-install-recommends %s \\\n && rm -rf /var/lib/apt/lists/*\n", strings.Join(p.Packages, " "))
	}
	for _, source := range p.GemSources {
		fmt.Fprintf(&b, "\nRUN gem sources --add %s\n", source)
	}
	fmt.Fprintf(&b, "\nWORKDIR %s\n", p.Workdir)
	return b.String()
}

func trimList(values []string) []string {
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	return out
}
