package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/schedule"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

var handleStore [64]uint64

type fakeBackend struct {
	mu        sync.Mutex
	next      int
	live      int
	submitted int
}

func (b *fakeBackend) CreateSemaphore() (vk.Semaphore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := vk.Semaphore(unsafe.Pointer(&handleStore[b.next]))
	b.next++
	b.live++
	return s, nil
}

func (b *fakeBackend) DestroySemaphore(vk.Semaphore) {
	b.mu.Lock()
	b.live--
	b.mu.Unlock()
}

func (b *fakeBackend) Submit(vulkan.QueueFamily, []vk.SubmitInfo, vk.Fence) error {
	b.mu.Lock()
	b.submitted++
	b.mu.Unlock()
	return nil
}

type fakeWorker struct {
	scheduler *schedule.WorkScheduler[metadata.MeshRenderCommand]
	frames    int
	fail      error

	mu   sync.Mutex
	seen [][]metadata.MeshRenderCommand
}

func newFakeWorker(frames int) *fakeWorker {
	return &fakeWorker{
		scheduler: schedule.NewWorkScheduler[metadata.MeshRenderCommand](8, 16, nil),
		frames:    frames,
	}
}

func (w *fakeWorker) RecordSubmit(_ context.Context, _ uint32, wait, signal []vk.Semaphore) ([]renderer.WorkerSubmission, error) {
	work := w.scheduler.AssembleScheduledWork()
	w.mu.Lock()
	w.seen = append(w.seen, work)
	w.mu.Unlock()
	if w.fail != nil {
		return nil, w.fail
	}
	return []renderer.WorkerSubmission{{
		Fence:       vk.NullFence,
		QueueFamily: vulkan.QueueFamilyGraphics,
		Submit: vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(wait)),
			PWaitSemaphores:      wait,
			SignalSemaphoreCount: uint32(len(signal)),
			PSignalSemaphores:    signal,
		},
	}}, nil
}

func (w *fakeWorker) ImplementedFeatures() []metadata.RendererFeature {
	return []metadata.RendererFeature{metadata.RendererFeatureRasterization}
}
func (w *fakeWorker) Fences() []vk.Fence { return make([]vk.Fence, w.frames) }
func (w *fakeWorker) SubmissionCount() int { return 1 }
func (w *fakeWorker) AddSchedule(id schedule.ThreadID) error { return w.scheduler.AddSchedule(id) }
func (w *fakeWorker) Push(id schedule.ThreadID, cmd metadata.MeshRenderCommand) error {
	return w.scheduler.Push(id, cmd)
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	shaders := filepath.Join(dir, "shaders")
	if err := os.Mkdir(shaders, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "engine.toml")
	data := fmt.Sprintf("[renderer]\nframes_in_flight = 2\n\n[scheduler]\nworkers = 2\n\n[assets]\nshader_dir = %q\n", shaders)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T, w *fakeWorker) (*Engine, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	g := &Game{
		ApplicationConfig: &ApplicationConfig{Name: "testbed", ConfigPath: writeConfig(t)},
		Backend:           backend,
		FnInitialize: func(e *Engine) error {
			return e.AddWorker("fake", w)
		},
	}
	e, err := New(g)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown() })
	return e, backend
}

func TestNewRequiresBackend(t *testing.T) {
	if _, err := New(&Game{}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestFrameFeedsSceneToWorkers(t *testing.T) {
	w := newFakeWorker(2)
	e, backend := newTestEngine(t, w)

	if e.Config().Application.Name != "testbed" {
		t.Errorf("Config().Application.Name = %q, want testbed", e.Config().Application.Name)
	}
	for i := 0; i < 3; i++ {
		if err := e.Scene().AttachMesh(e.Scene().CreateEntity(nil), metadata.MeshID(i)); err != nil {
			t.Fatal(err)
		}
	}

	signaled, err := e.Frame(context.Background(), nil)
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if len(signaled) != 1 {
		t.Errorf("len(Frame()) = %d, want 1", len(signaled))
	}
	if len(w.seen) != 1 || len(w.seen[0]) != 3 {
		t.Errorf("worker saw %v, want one frame of 3 draws", w.seen)
	}
	if backend.submitted != 1 {
		t.Errorf("submissions = %d, want 1", backend.submitted)
	}
	if got := e.Metrics().FramesSubmitted.Load(); got != 1 {
		t.Errorf("FramesSubmitted = %d, want 1", got)
	}
}

func TestFrameFailureFiresEvent(t *testing.T) {
	w := newFakeWorker(2)
	w.fail = errors.New("record failed")
	e, _ := newTestEngine(t, w)

	var failed core.EventContext
	e.Events().Register(core.EVENT_CODE_FRAME_FAILED, t, func(_ core.SystemEventCode, _, _ interface{}, data core.EventContext) bool {
		failed = data
		return true
	})

	if _, err := e.Frame(context.Background(), nil); !errors.Is(err, w.fail) {
		t.Fatalf("Frame() error = %v, want %v", err, w.fail)
	}
	if failed.Data.C[0] == "" {
		t.Error("EVENT_CODE_FRAME_FAILED not fired")
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	w := newFakeWorker(2)
	e, _ := newTestEngine(t, w)

	frames := 0
	e.gameInstance.FnPresent = func([]vk.Semaphore) error {
		frames++
		if frames == 3 {
			e.Quit()
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if frames != 3 {
		t.Errorf("frames presented = %d, want 3", frames)
	}
	if e.Stage() != EngineStageInitialized {
		t.Errorf("Stage() after Run() = %s, want initialized", e.Stage())
	}
}

func TestShutdownReleasesSemaphores(t *testing.T) {
	w := newFakeWorker(2)
	e, backend := newTestEngine(t, w)

	if backend.live != 2 {
		t.Fatalf("live semaphores = %d, want 2", backend.live)
	}
	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if backend.live != 0 {
		t.Errorf("live semaphores after Shutdown() = %d, want 0", backend.live)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if _, err := e.Frame(context.Background(), nil); !errors.Is(err, ErrWrongStage) {
		t.Errorf("Frame() after Shutdown() error = %v, want ErrWrongStage", err)
	}
}
