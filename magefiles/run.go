//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the demo on the Vulkan backend.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "assets/config.toml"), withStream())
	return err
}

// Runs the demo on the software device without a window.
func (Run) Soft() error {
	fmt.Println("Run engine on the software device...")
	_, err := executeCmd("go", withArgs("run", ".", "-config", "assets/headless.toml"), withStream())
	return err
}
