// Package packaging rewrites a staged gem so its compiled artifacts ship
// inside the package instead of being rebuilt at install time. The staged
// tree is copied into the output directory, the extension sources are
// dropped, the manifest is rewritten to match, and the result is rebuilt
// and installed with the host gem command.
package packaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/gemkiln/internal/gem"
	"github.com/cochaviz/gemkiln/internal/gemspec"
	"github.com/cochaviz/gemkiln/internal/runner"
)

// extensionsDir is the package subtree holding native extension sources.
// It is deleted from the output tree because the precompiled gem ships
// objects, not sources.
const extensionsDir = "ext"

// binarySuffixes are the compiled object extensions recorded in the
// rewritten manifest.
var binarySuffixes = []string{".so", ".bundle", ".dll"}

// Spec names the inputs for one packaging pass.
type Spec struct {
	Request gem.Request

	// PackageDir is the staged package tree extracted from the container.
	PackageDir string
	// GemspecPath is the staged installed manifest.
	GemspecPath string
	// OutputDir is the destination for the rewritten package tree.
	OutputDir string
	// GemPath is the destination for the rebuilt gem archive.
	GemPath string
}

// Result reports what a packaging pass produced.
type Result struct {
	// Binaries are the compiled objects recorded in the manifest,
	// slash-separated and relative to the package root.
	Binaries []string
	// GemPath is the rebuilt archive, installed on the host.
	GemPath string
}

// PackagingError reports a failed packaging step.
type PackagingError struct {
	Message string
	Err     error
}

func (e *PackagingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("packaging: %s: %v", e.Message, e.Err)
	}
	return "packaging: " + e.Message
}

func (e *PackagingError) Unwrap() error { return e.Err }

// Packager rebuilds a staged gem into a precompiled one and installs it on
// the host.
type Packager struct {
	Runner runner.Runner
	// GemBin overrides the gem command name, for hosts where the legacy
	// toolchain is installed under another name.
	GemBin string
	Logger *slog.Logger
}

func (p *Packager) gemBin() string {
	if p != nil && p.GemBin != "" {
		return p.GemBin
	}
	return "gem"
}

func (p *Packager) runner() runner.Runner {
	if p != nil && p.Runner != nil {
		return p.Runner
	}
	return &runner.Local{}
}

func (p *Packager) logger() *slog.Logger {
	if p != nil && p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Package copies the staged tree into the output directory, strips the
// extension sources, rewrites the manifest so the compiled objects are
// listed in their place, rebuilds the gem, and installs it on the host.
func (p *Packager) Package(ctx context.Context, spec Spec) (Result, error) {
	if err := p.assemble(spec); err != nil {
		return Result{}, err
	}

	binaries, err := p.rewriteManifest(spec)
	if err != nil {
		return Result{}, err
	}

	if err := p.build(ctx, spec); err != nil {
		return Result{}, err
	}
	if err := p.install(ctx, spec); err != nil {
		return Result{}, err
	}

	return Result{Binaries: binaries, GemPath: spec.GemPath}, nil
}

// assemble mirrors the staged tree into a fresh output directory and drops
// the extension sources.
func (p *Packager) assemble(spec Spec) error {
	if err := os.RemoveAll(spec.OutputDir); err != nil {
		return &PackagingError{Message: "clear output directory", Err: err}
	}
	if err := copyDirectoryContents(spec.PackageDir, spec.OutputDir); err != nil {
		return &PackagingError{Message: "copy package tree", Err: err}
	}
	if err := os.RemoveAll(filepath.Join(spec.OutputDir, extensionsDir)); err != nil {
		return &PackagingError{Message: "remove extension sources", Err: err}
	}
	return nil
}

// rewriteManifest applies the three manifest edits and writes the result
// into the output tree. It returns the compiled objects now listed in the
// manifest.
func (p *Packager) rewriteManifest(spec Spec) ([]string, error) {
	data, err := os.ReadFile(spec.GemspecPath)
	if err != nil {
		return nil, &PackagingError{Message: "read manifest", Err: err}
	}
	doc, err := gemspec.Parse(data)
	if err != nil {
		return nil, &PackagingError{Message: "parse manifest", Err: err}
	}
	if !doc.HasFileList() {
		return nil, &PackagingError{Message: "manifest has no literal file list"}
	}

	binaries, err := discoverBinaries(spec.OutputDir)
	if err != nil {
		return nil, &PackagingError{Message: "discover compiled objects", Err: err}
	}

	doc.RemoveExtensions()
	if removed := doc.RemoveFilesWithPrefix(extensionsDir + "/"); removed > 0 {
		p.logger().Debug("dropped extension sources from manifest", "entries", removed)
	}

	missing := make([]string, 0, len(binaries))
	for _, binary := range binaries {
		if !doc.ContainsFile(binary) {
			missing = append(missing, binary)
		}
	}
	if len(missing) > 0 {
		if err := doc.PrependFiles(missing); err != nil {
			return nil, &PackagingError{Message: "record compiled objects in manifest", Err: err}
		}
	}

	if err := checkFileList(doc, spec.OutputDir); err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(spec.OutputDir, spec.Request.Gemspec())
	if err := os.WriteFile(manifestPath, doc.Render(), 0o644); err != nil {
		return nil, &PackagingError{Message: "write manifest", Err: err}
	}

	p.logger().Info("manifest rewritten",
		"path", manifestPath,
		"binaries", len(binaries),
	)
	return binaries, nil
}

// build rebuilds the gem archive from the rewritten tree and moves it to
// its workspace destination.
func (p *Packager) build(ctx context.Context, spec Spec) error {
	result, err := p.runner().Run(ctx, runner.Command{
		Name: p.gemBin(),
		Args: []string{"build", spec.Request.Gemspec()},
		Dir:  spec.OutputDir,
	})
	if err != nil {
		return &PackagingError{Message: "rebuild gem", Err: err}
	}
	if !result.Succeeded() {
		return &PackagingError{Message: "rebuild gem: " + result.Output()}
	}

	built := filepath.Join(spec.OutputDir, spec.Request.Archive())
	if err := os.Rename(built, spec.GemPath); err != nil {
		return &PackagingError{Message: "move rebuilt gem", Err: err}
	}
	return nil
}

// install replaces any previously installed copy on the host with the
// rebuilt gem. The uninstall is best effort, absence is not a failure.
func (p *Packager) install(ctx context.Context, spec Spec) error {
	uninstall, err := p.runner().Run(ctx, runner.Command{
		Name: p.gemBin(),
		Args: []string{
			"uninstall", spec.Request.Name(),
			"--version", spec.Request.Version(),
			"--force", "--executables",
		},
	})
	if err != nil {
		return &PackagingError{Message: "uninstall previous gem", Err: err}
	}
	if !uninstall.Succeeded() {
		p.logger().Debug("uninstall of previous gem skipped", "output", uninstall.Output())
	}

	install, err := p.runner().Run(ctx, runner.Command{
		Name: p.gemBin(),
		Args: []string{"install", "--local", spec.GemPath, "--no-document"},
		Echo: true,
	})
	if err != nil {
		return &PackagingError{Message: "install rebuilt gem", Err: err}
	}
	if !install.Succeeded() {
		return &PackagingError{Message: "install rebuilt gem: " + install.Output()}
	}
	return nil
}

// discoverBinaries walks the output lib tree for compiled objects. Paths
// come back slash-separated and relative to the package root, sorted for a
// stable manifest. A package without a lib tree simply has none.
func discoverBinaries(outputDir string) ([]string, error) {
	libDir := filepath.Join(outputDir, "lib")
	if _, err := os.Stat(libDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var binaries []string
	err := filepath.WalkDir(libDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isBinary(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		binaries = append(binaries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(binaries)
	return binaries, nil
}

func isBinary(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, suffix := range binarySuffixes {
		if ext == suffix {
			return true
		}
	}
	return false
}

// checkFileList verifies the rewritten manifest only names files that exist
// in the output tree. A mismatch means the edits and the tree diverged.
func checkFileList(doc *gemspec.Document, outputDir string) error {
	for _, file := range doc.Files() {
		target := filepath.Join(outputDir, filepath.FromSlash(file))
		if _, err := os.Stat(target); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return &PackagingError{
					Message: fmt.Sprintf("manifest names %s but the package tree has no such file", file),
				}
			}
			return &PackagingError{Message: "verify file list", Err: err}
		}
	}
	return nil
}

func copyDirectoryContents(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(dstDir, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode()

		if mode&os.ModeSymlink != 0 {
			return fmt.Errorf("symlinks are not supported in gem packages (%s)", path)
		}

		if d.IsDir() {
			if rel == "." {
				return os.MkdirAll(dstDir, mode.Perm())
			}
			return os.MkdirAll(targetPath, mode.Perm())
		}

		if !mode.IsRegular() {
			return fmt.Errorf("unsupported file type %s in %s", mode, path)
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return err
		}

		return copyFile(path, targetPath, mode.Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return nil
}
