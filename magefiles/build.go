//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const (
	shaderSourceDir = "shaders"
	shaderOutputDir = "assets/shaders"
	binaryName      = "anima-indirect"
)

// Compiles every GLSL stage under shaders/ to SPIR-V in assets/shaders/.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders, then builds the demo binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	out := filepath.Join("bin", binaryName)
	if _, err := executeCmd("go", withArgs("build", "-o", out, "."), withStream()); err != nil {
		return err
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Builds the demo with the boxed fatal error report of release builds.
func (Build) Release() error {
	mg.Deps(Build.Shaders)
	out := filepath.Join("bin", binaryName)
	_, err := executeCmd("go", withArgs("build", "-tags", "release", "-o", out, "."), withStream())
	return err
}

func buildShaders() error {
	entries, err := os.ReadDir(shaderSourceDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(shaderOutputDir, 0o755); err != nil {
		return err
	}
	compiled := 0
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".vert" && ext != ".frag") {
			continue
		}
		src := filepath.Join(shaderSourceDir, e.Name())
		dst := filepath.Join(shaderOutputDir, e.Name()+".spv")
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.1", src, "-o", dst)); err != nil {
			return err
		}
		compiled++
	}
	if compiled == 0 {
		return fmt.Errorf("no shaders found in %s", shaderSourceDir)
	}
	fmt.Printf("Compiled %d shaders into %s\n", compiled, strings.TrimSuffix(shaderOutputDir, "/"))
	return nil
}
