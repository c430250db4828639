package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/loov/hrtime"
	"github.com/spaghettifunk/reflex/engine/assets"
	"github.com/spaghettifunk/reflex/engine/config"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer"
	"github.com/spaghettifunk/reflex/engine/renderer/deferred"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
	"github.com/spaghettifunk/reflex/engine/scene"
	"github.com/spaghettifunk/reflex/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owns
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting_down"
	case EngineStageShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

var ErrWrongStage = errors.New("engine is not in the required stage")

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	isRunning     atomic.Bool
	config        *config.Config
	metrics       *core.Metrics
	events        *core.EventBus
	systemManager *systems.SystemManager
	scene         *scene.Context
	renderer      *renderer.Renderer
	clock         *core.Clock
	lastTime      time.Duration
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.Backend == nil {
		return nil, fmt.Errorf("game must provide a renderer backend: %w", core.ErrInvalidConfig)
	}
	cfg := config.Default()
	if g.ApplicationConfig != nil && g.ApplicationConfig.ConfigPath != "" {
		loaded, err := config.Load(g.ApplicationConfig.ConfigPath)
		if err != nil {
			core.LogError(err.Error())
			return nil, err
		}
		cfg = loaded
	}
	if g.ApplicationConfig != nil && g.ApplicationConfig.Name != "" {
		cfg.Application.Name = g.ApplicationConfig.Name
	}
	core.SetLogLevel(cfg.LogLevel())

	metrics := core.NewMetrics()
	events := core.NewEventBus()

	sm, err := systems.NewSystemManager(cfg, events)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	r, err := renderer.NewRenderer(g.Backend, cfg.Renderer.FramesInFlight, metrics)
	if err != nil {
		core.LogError(err.Error())
		_ = sm.Shutdown()
		return nil, err
	}

	return &Engine{
		currentStage:  EngineStageUninitialized,
		gameInstance:  g,
		config:        cfg,
		metrics:       metrics,
		events:        events,
		systemManager: sm,
		scene:         scene.New(cfg.Scheduler.MaxItemsPerSchedule),
		renderer:      r,
		clock:         core.NewClock(),
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("initialize in stage %s: %w", e.currentStage, ErrWrongStage)
	}
	e.currentStage = EngineStageInitializing

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.events.Register(core.EVENT_CODE_ASSET_CHANGED, e, e.onAssetChanged)

	if err := e.systemManager.Initialize(e.config); err != nil {
		return err
	}
	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}

	e.clock.Start()
	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized, %d workers, %d frames in flight.", e.config.Application.Name, len(e.renderer.Workers()), e.config.Renderer.FramesInFlight)
	return nil
}

// AddWorker registers w with the renderer. Mesh workers also get a schedule
// for every job worker and receive the scene's draws from then on.
func (e *Engine) AddWorker(name string, w renderer.WorkerSystem) error {
	if err := e.renderer.AddWorker(name, w); err != nil {
		return err
	}
	if mw, ok := w.(renderer.MeshWorkerSystem); ok {
		if err := e.scene.AttachWorker(mw, e.systemManager.JobSystem.Threads()); err != nil {
			return fmt.Errorf("worker %s: %w", name, err)
		}
	}
	return nil
}

// AddDeferredRayTracer builds the deferred ray tracer from the engine's
// configuration, shaders and metrics, then registers it as a worker. opts
// carries the device side handlers only the application can provide.
func (e *Engine) AddDeferredRayTracer(vc *vulkan.VulkanContext, opts deferred.Options) (*deferred.DeferredRayTracer, error) {
	opts.Config = e.config
	opts.Shaders = e.systemManager.AssetManager
	opts.Metrics = e.metrics
	d, err := deferred.NewDeferredRayTracer(vc, opts)
	if err != nil {
		return nil, err
	}
	if err := e.AddWorker("deferred_raytracer", d); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

// Frame updates the game, fans the scene out to the job workers and draws.
// It returns the semaphores presentation must wait on.
func (e *Engine) Frame(ctx context.Context, wait []vk.Semaphore) ([]vk.Semaphore, error) {
	if e.currentStage != EngineStageInitialized && e.currentStage != EngineStageRunning {
		return nil, fmt.Errorf("frame in stage %s: %w", e.currentStage, ErrWrongStage)
	}
	frameStart := hrtime.Now()

	e.clock.Update()
	current := e.clock.Elapsed()
	delta := (current - e.lastTime).Seconds()
	e.lastTime = current

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return nil, e.frameFailed(err)
		}
	}
	if err := e.scene.Update(ctx, e.systemManager.JobSystem); err != nil {
		return nil, e.frameFailed(err)
	}
	signaled, err := e.renderer.DrawFrame(ctx, wait)
	if err != nil {
		return nil, e.frameFailed(err)
	}

	e.metrics.Update(hrtime.Since(frameStart).Seconds())
	return signaled, nil
}

func (e *Engine) frameFailed(err error) error {
	var data core.EventContext
	data.Data.U32[0] = e.renderer.FrameIndex()
	data.Data.C[0] = err.Error()
	e.events.Fire(core.EVENT_CODE_FRAME_FAILED, e, data)
	return err
}

// Run calls Frame until ctx ends, the quit event fires or a frame fails.
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("run in stage %s: %w", e.currentStage, ErrWrongStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	defer func() {
		e.isRunning.Store(false)
		e.currentStage = EngineStageInitialized
	}()

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var wait []vk.Semaphore
		if e.gameInstance.FnAcquire != nil {
			acquired, err := e.gameInstance.FnAcquire(ctx)
			if err != nil {
				return err
			}
			wait = acquired
		}

		signaled, err := e.Frame(ctx, wait)
		if err != nil {
			core.LogError("Frame failed, shutting down: %s", err)
			return err
		}

		if e.gameInstance.FnPresent != nil {
			if err := e.gameInstance.FnPresent(signaled); err != nil {
				return err
			}
		}
	}
	return nil
}

// Quit stops Run after the current frame.
func (e *Engine) Quit() {
	e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	e.scene.Shutdown()
	e.renderer.Destroy()
	if err := e.systemManager.Shutdown(); err != nil {
		errs = append(errs, err)
	}
	e.events.Shutdown()

	e.currentStage = EngineStageShutdown
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage { return e.currentStage }
func (e *Engine) Config() *config.Config { return e.config }
func (e *Engine) Metrics() *core.Metrics { return e.metrics }
func (e *Engine) Events() *core.EventBus { return e.events }
func (e *Engine) Scene() *scene.Context { return e.scene }
func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }
func (e *Engine) AssetManager() *assets.AssetManager { return e.systemManager.AssetManager }

func (e *Engine) onEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onAssetChanged(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	if data.Data.U32[0] != 0 {
		core.LogWarn("Asset %s was removed.", data.Data.C[0])
	} else {
		// Pipelines keep the module they were built with until recreated.
		core.LogInfo("Asset %s changed, picked up on the next pipeline rebuild.", data.Data.C[0])
	}
	return false
}
