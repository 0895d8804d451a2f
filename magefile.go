//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default is what a bare mage invocation runs.
var Default = Build

// Build compiles the gemkiln binary into ./bin.
func Build() error {
	mg.Deps(Vet)
	return sh.RunV("go", "build", "-o", "bin/gemkiln", "./cmd/cli")
}

// Test runs the test suite with the race detector.
func Test() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Vet runs static analysis over the module.
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Tidy aligns go.mod and go.sum with the imports.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// Clean removes the binary and any leftover transient workspace.
func Clean() error {
	for _, path := range []string{"bin", "precompiled"} {
		if err := sh.Rm(path); err != nil {
			return err
		}
	}
	return nil
}
