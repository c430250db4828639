package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/reflex/engine/core"
)

type Config struct {
	Application ApplicationConfig `toml:"application"`
	Renderer    RendererConfig    `toml:"renderer"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	RayTracing  RayTracingConfig  `toml:"raytracing"`
	Assets      AssetsConfig      `toml:"assets"`
}

type ApplicationConfig struct {
	Name     string `toml:"name"`
	LogLevel string `toml:"log_level"`
}

type RendererConfig struct {
	Width          uint32 `toml:"width"`
	Height         uint32 `toml:"height"`
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Upper bound for waiting on a frame slot before the frame is abandoned.
	FenceTimeoutMS uint32 `toml:"fence_timeout_ms"`
}

type SchedulerConfig struct {
	// Number of producer slots, one per producing worker.
	MaxSchedules int `toml:"max_schedules"`
	// Items a single producer may push in one frame.
	MaxItemsPerSchedule int `toml:"max_items_per_schedule"`
	Workers             int `toml:"workers"`
	JobQueueSize        int `toml:"job_queue_size"`
}

type RayTracingConfig struct {
	MaxInstances      uint32 `toml:"max_instances"`
	MaxRecursionDepth uint32 `toml:"max_recursion_depth"`
	RaygenShader      string `toml:"raygen_shader"`
	MissShader        string `toml:"miss_shader"`
	ShadowMissShader  string `toml:"shadow_miss_shader"`
	ClosestHitShader  string `toml:"closest_hit_shader"`
	GeometryVertex    string `toml:"geometry_vertex_shader"`
	GeometryFragment  string `toml:"geometry_fragment_shader"`
}

type AssetsConfig struct {
	ShaderDir string `toml:"shader_dir"`
	Watch     bool   `toml:"watch"`
}

func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Name:     "reflex",
			LogLevel: "info",
		},
		Renderer: RendererConfig{
			Width:          1280,
			Height:         720,
			FramesInFlight: 2,
			FenceTimeoutMS: 1000,
		},
		Scheduler: SchedulerConfig{
			MaxSchedules:        8,
			MaxItemsPerSchedule: 4096,
			Workers:             4,
			JobQueueSize:        256,
		},
		RayTracing: RayTracingConfig{
			MaxInstances:      4096,
			MaxRecursionDepth: 2,
			RaygenShader:      "raytrace.rgen",
			MissShader:        "raytrace.rmiss",
			ShadowMissShader:  "shadow.rmiss",
			ClosestHitShader:  "raytrace.rchit",
			GeometryVertex:    "gbuffer.vert",
			GeometryFragment:  "gbuffer.frag",
		},
		Assets: AssetsConfig{
			ShaderDir: "assets/shaders",
			Watch:     false,
		},
	}
}

// Load reads a TOML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Parse decodes TOML on top of the defaults and validates the result. Keys
// absent from data keep their default value.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Renderer.Width == 0 || c.Renderer.Height == 0:
		return invalid("renderer extent must be non-zero, got %dx%d", c.Renderer.Width, c.Renderer.Height)
	case c.Renderer.FramesInFlight == 0 || c.Renderer.FramesInFlight > 3:
		return invalid("renderer.frames_in_flight must be in [1, 3], got %d", c.Renderer.FramesInFlight)
	case c.Renderer.FenceTimeoutMS == 0:
		return invalid("renderer.fence_timeout_ms must be non-zero")
	case c.Scheduler.MaxSchedules <= 0:
		return invalid("scheduler.max_schedules must be positive, got %d", c.Scheduler.MaxSchedules)
	case c.Scheduler.MaxItemsPerSchedule <= 0:
		return invalid("scheduler.max_items_per_schedule must be positive, got %d", c.Scheduler.MaxItemsPerSchedule)
	case c.Scheduler.Workers <= 0:
		return invalid("scheduler.workers must be positive, got %d", c.Scheduler.Workers)
	case c.Scheduler.Workers > c.Scheduler.MaxSchedules:
		return invalid("scheduler.workers (%d) exceeds scheduler.max_schedules (%d)", c.Scheduler.Workers, c.Scheduler.MaxSchedules)
	case c.Scheduler.JobQueueSize < 0:
		return invalid("scheduler.job_queue_size must not be negative")
	case c.RayTracing.MaxInstances == 0:
		return invalid("raytracing.max_instances must be positive")
	case c.RayTracing.MaxRecursionDepth == 0:
		return invalid("raytracing.max_recursion_depth must be positive")
	case c.Assets.ShaderDir == "":
		return invalid("assets.shader_dir must be set")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (c *Config) LogLevel() core.LogLevel {
	return core.ParseLogLevel(c.Application.LogLevel)
}
