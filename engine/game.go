package engine

import (
	"context"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/renderer"
)

// Game is the application side of the engine. The application owns the
// graphics device: it supplies the backend and registers its workers from
// FnInitialize.
type Game struct {
	ApplicationConfig *ApplicationConfig
	Backend           renderer.RendererBackend
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnAcquire         Acquire
	FnPresent         Present
	FnShutdown        Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime float64) error

// Acquire returns the semaphores the next frame waits on, typically the
// swapchain image acquire semaphore.
type Acquire func(ctx context.Context) ([]vk.Semaphore, error)

// Present receives the semaphores the frame signaled.
type Present func(signaled []vk.Semaphore) error
type Shutdown func() error
