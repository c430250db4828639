/*
Checks an engine configuration offline: validates the TOML, indexes the
shader directory and makes sure every module the renderer loads is valid
SPIR-V. The graphics device is owned by the embedding application, so this
is what can be verified without one.
*/
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spaghettifunk/reflex/engine/assets"
	"github.com/spaghettifunk/reflex/engine/config"
	"github.com/spaghettifunk/reflex/engine/core"
)

func main() {
	configPath := flag.String("config", "", "engine TOML configuration, defaults are used when empty")
	flag.Parse()

	if err := run(*configPath); err != nil {
		core.LogError(err.Error())
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	core.SetLogLevel(cfg.LogLevel())

	am := assets.NewAssetManager(nil)
	if err := am.Initialize(cfg.Assets.ShaderDir, false); err != nil {
		return fmt.Errorf("indexing %s: %w", cfg.Assets.ShaderDir, err)
	}
	defer am.Shutdown()

	rt := cfg.RayTracing
	failed := 0
	for _, name := range []string{rt.RaygenShader, rt.MissShader, rt.ShadowMissShader, rt.ClosestHitShader, rt.GeometryVertex, rt.GeometryFragment} {
		code, err := am.LoadShader(name)
		if err != nil {
			core.LogError("%s: %s", name, err)
			failed++
			continue
		}
		info, _ := am.Lookup(name)
		core.LogInfo("%-16s %-12s %6d bytes", name, info.Stage, len(code))
	}
	if failed > 0 {
		return fmt.Errorf("%d of 6 shaders failed to load", failed)
	}
	core.LogInfo("%s: configuration and shaders OK.", cfg.Application.Name)
	return nil
}
