//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

var shaderStages = map[string]bool{
	".vert": true, ".frag": true, ".comp": true,
	".rgen": true, ".rmiss": true, ".rchit": true, ".rahit": true,
}

// Compiles every GLSL source under assets/shaders to "<source>.spv".
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the shader check binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	_, err := executeCmd("go", withArgs("build", "-o", "bin/reflex", "."), withStream())
	return err
}

func buildShaders() error {
	return filepath.WalkDir(shaderDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !shaderStages[filepath.Ext(path)] {
			return err
		}
		args := []string{"--target-env=vulkan1.2", path, "-o", path + ".spv"}
		_, err = executeCmd("glslc", withArgs(args...), withStream())
		return err
	})
}
