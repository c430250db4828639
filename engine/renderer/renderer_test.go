package renderer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/schedule"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

// Backing storage for fake handles, never dereferenced.
var handleStore [128]uint64

type submitCall struct {
	family vulkan.QueueFamily
	submit vk.SubmitInfo
	fence  vk.Fence
}

var errSubmitFailed = errors.New("queue submit failed")

type fakeBackend struct {
	mu        sync.Mutex
	next      int
	live      map[vk.Semaphore]bool
	submits   []submitCall
	submitErr error
	// failAt fails the Submit call with that 1-based number.
	failAt int
	calls  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{live: make(map[vk.Semaphore]bool)}
}

func (b *fakeBackend) CreateSemaphore() (vk.Semaphore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := vk.Semaphore(unsafe.Pointer(&handleStore[b.next]))
	b.next++
	b.live[s] = true
	return s, nil
}

func (b *fakeBackend) DestroySemaphore(s vk.Semaphore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.live, s)
}

func (b *fakeBackend) Submit(family vulkan.QueueFamily, submits []vk.SubmitInfo, fence vk.Fence) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.submitErr != nil {
		return b.submitErr
	}
	if b.calls == b.failAt {
		return errSubmitFailed
	}
	if len(submits) == 0 {
		b.submits = append(b.submits, submitCall{family: family, fence: fence})
	}
	for _, s := range submits {
		b.submits = append(b.submits, submitCall{family: family, submit: s, fence: fence})
	}
	return nil
}

type fakeWorker struct {
	count  int
	frames int
	extra  int
	err    error
	// internal chains the first submission to the second; fence is carried
	// by the last submission.
	internal  vk.Semaphore
	fence     vk.Fence
	threads   []schedule.ThreadID
	gotWait   [][]vk.Semaphore
	gotSignal [][]vk.Semaphore
	gotFrame  []uint32
}

func (w *fakeWorker) RecordSubmit(ctx context.Context, frameIndex uint32, wait, signal []vk.Semaphore) ([]WorkerSubmission, error) {
	w.gotWait = append(w.gotWait, wait)
	w.gotSignal = append(w.gotSignal, signal)
	w.gotFrame = append(w.gotFrame, frameIndex)
	if w.err != nil {
		return nil, w.err
	}
	subs := make([]WorkerSubmission, w.count+w.extra)
	for i := range subs {
		subs[i] = WorkerSubmission{
			Fence:       vk.NullFence,
			QueueFamily: vulkan.QueueFamilyGraphics,
			Submit: vk.SubmitInfo{
				SType:                vk.StructureTypeSubmitInfo,
				SignalSemaphoreCount: 1,
				PSignalSemaphores:    signal[i%len(signal) : i%len(signal)+1],
			},
		}
	}
	subs[0].Submit.WaitSemaphoreCount = uint32(len(wait))
	subs[0].Submit.PWaitSemaphores = wait
	if w.internal != nil && len(subs) > 1 {
		subs[0].Submit.SignalSemaphoreCount = 2
		subs[0].Submit.PSignalSemaphores = []vk.Semaphore{signal[0], w.internal}
		subs[1].Submit.WaitSemaphoreCount = 1
		subs[1].Submit.PWaitSemaphores = []vk.Semaphore{w.internal}
	}
	subs[len(subs)-1].Fence = w.fence
	return subs, nil
}

func (w *fakeWorker) ImplementedFeatures() []metadata.RendererFeature {
	return []metadata.RendererFeature{metadata.RendererFeatureRasterization}
}

func (w *fakeWorker) Fences() []vk.Fence { return make([]vk.Fence, w.frames) }

func (w *fakeWorker) SubmissionCount() int { return w.count }

func (w *fakeWorker) AddSchedule(threadID schedule.ThreadID) error {
	w.threads = append(w.threads, threadID)
	return nil
}

func newTestRenderer(t *testing.T, frames uint32, workers ...*fakeWorker) (*Renderer, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	r, err := NewRenderer(backend, frames, core.NewMetrics())
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}
	for i, w := range workers {
		if err := r.AddWorker(string(rune('a'+i)), w); err != nil {
			t.Fatalf("AddWorker() error = %v", err)
		}
	}
	return r, backend
}

func TestNewRendererRejectsFrameCounts(t *testing.T) {
	for _, frames := range []uint32{0, vulkan.MAX_FRAMES_IN_FLIGHT + 1} {
		if _, err := NewRenderer(newFakeBackend(), frames, nil); !errors.Is(err, core.ErrInvalidConfig) {
			t.Errorf("NewRenderer(%d) error = %v, want ErrInvalidConfig", frames, err)
		}
	}
}

func TestAddWorkerCreatesSignalsPerFrame(t *testing.T) {
	w := &fakeWorker{count: 2, frames: 3}
	r, backend := newTestRenderer(t, 3, w)
	if got := len(backend.live); got != 6 {
		t.Errorf("semaphores created = %d, want 6", got)
	}
	r.Destroy()
	if got := len(backend.live); got != 0 {
		t.Errorf("semaphores alive after Destroy() = %d, want 0", got)
	}
}

func TestAddWorkerRejectsFenceMismatch(t *testing.T) {
	backend := newFakeBackend()
	r, _ := NewRenderer(backend, 2, nil)
	if err := r.AddWorker("short", &fakeWorker{count: 1, frames: 1}); err == nil {
		t.Error("AddWorker(1 fence, 2 frames) error = nil, want error")
	}
}

func TestDrawFrameSubmitsAndReturnsSignals(t *testing.T) {
	a := &fakeWorker{count: 2, frames: 2}
	b := &fakeWorker{count: 1, frames: 2}
	r, backend := newTestRenderer(t, 2, a, b)
	acquire := []vk.Semaphore{vk.Semaphore(unsafe.Pointer(&handleStore[100]))}

	present, err := r.DrawFrame(context.Background(), acquire)
	if err != nil {
		t.Fatalf("DrawFrame() error = %v", err)
	}
	if len(present) != 3 {
		t.Errorf("len(DrawFrame()) = %d, want 3", len(present))
	}
	if len(backend.submits) != 3 {
		t.Errorf("submits = %d, want 3", len(backend.submits))
	}
	if len(a.gotWait[0]) != 1 || a.gotWait[0][0] != acquire[0] {
		t.Errorf("first worker waits on %v, want acquire semaphore", a.gotWait[0])
	}
	if len(b.gotWait[0]) != 0 {
		t.Errorf("second worker waits on %v, want nothing", b.gotWait[0])
	}
	if len(a.gotSignal[0]) != 2 || len(b.gotSignal[0]) != 1 {
		t.Errorf("signal counts = %d, %d, want 2, 1", len(a.gotSignal[0]), len(b.gotSignal[0]))
	}
	if r.metrics.FramesSubmitted.Load() != 1 {
		t.Errorf("FramesSubmitted = %d, want 1", r.metrics.FramesSubmitted.Load())
	}
	if stats := r.Stats(); len(stats.Workers) != 2 || stats.Workers[0].Submissions != 2 {
		t.Errorf("Stats() = %+v, want two workers, first with 2 submissions", stats)
	}
}

func TestDrawFrameCyclesFrameSlots(t *testing.T) {
	w := &fakeWorker{count: 1, frames: 3}
	r, _ := newTestRenderer(t, 3, w)
	for i := 0; i < 5; i++ {
		if _, err := r.DrawFrame(context.Background(), nil); err != nil {
			t.Fatalf("DrawFrame() error = %v", err)
		}
	}
	want := []uint32{0, 1, 2, 0, 1}
	for i := range want {
		if w.gotFrame[i] != want[i] {
			t.Errorf("frame %d index = %d, want %d", i, w.gotFrame[i], want[i])
		}
	}
	if w.gotSignal[0][0] == w.gotSignal[1][0] {
		t.Error("consecutive frames share signal semaphores")
	}
	if w.gotSignal[0][0] != w.gotSignal[3][0] {
		t.Error("frame slot 0 did not reuse its signal semaphores")
	}
}

func TestDrawFrameSubmissionCountMismatch(t *testing.T) {
	fence := vk.Fence(unsafe.Pointer(&handleStore[111]))
	w := &fakeWorker{count: 1, frames: 1, extra: 1, fence: fence}
	r, backend := newTestRenderer(t, 1, w)
	if _, err := r.DrawFrame(context.Background(), nil); !errors.Is(err, core.ErrSubmissionCountMismatch) {
		t.Errorf("DrawFrame() error = %v, want ErrSubmissionCountMismatch", err)
	}
	// Nothing recorded is queued, but the fence still gets signaled.
	if len(backend.submits) != 1 || backend.submits[0].fence != fence || backend.submits[0].submit.CommandBufferCount != 0 {
		t.Errorf("submits = %+v, want one empty submit signaling the worker fence", backend.submits)
	}
}

func TestDrawFrameDrainsPartialSubmission(t *testing.T) {
	internal := vk.Semaphore(unsafe.Pointer(&handleStore[110]))
	fence := vk.Fence(unsafe.Pointer(&handleStore[111]))
	w := &fakeWorker{count: 2, frames: 1, internal: internal, fence: fence}
	r, backend := newTestRenderer(t, 1, w)
	backend.failAt = 2
	acquire := []vk.Semaphore{vk.Semaphore(unsafe.Pointer(&handleStore[100]))}

	_, err := r.DrawFrame(context.Background(), acquire)
	if !errors.Is(err, errSubmitFailed) {
		t.Fatalf("DrawFrame() error = %v, want errSubmitFailed", err)
	}
	// First submission, drain, fence retirement.
	if len(backend.submits) != 3 {
		t.Fatalf("submits = %d, want 3", len(backend.submits))
	}

	drain := backend.submits[1].submit
	signal := w.gotSignal[0]
	if drain.WaitSemaphoreCount != 2 || drain.PWaitSemaphores[0] != signal[0] || drain.PWaitSemaphores[1] != internal {
		t.Errorf("drain waits on %v, want [signal[0] internal]", drain.PWaitSemaphores)
	}
	for _, s := range drain.PWaitSemaphores {
		if s == acquire[0] {
			t.Error("drain waits on the acquire semaphore the first submission consumed")
		}
	}

	retired := backend.submits[2]
	if retired.fence != fence || retired.submit.CommandBufferCount != 0 {
		t.Errorf("retire = %+v, want an empty submit signaling the worker fence", retired)
	}
	if r.metrics.FramesSubmitted.Load() != 0 {
		t.Errorf("FramesSubmitted = %d, want 0", r.metrics.FramesSubmitted.Load())
	}
}

func TestDrawFrameDrainsOnWorkerFailure(t *testing.T) {
	good := &fakeWorker{count: 1, frames: 1}
	bad := &fakeWorker{count: 1, frames: 1, err: core.ErrFenceTimeout}
	r, backend := newTestRenderer(t, 1, bad, good)
	acquire := []vk.Semaphore{vk.Semaphore(unsafe.Pointer(&handleStore[100]))}

	_, err := r.DrawFrame(context.Background(), acquire)
	if !errors.Is(err, core.ErrFenceTimeout) {
		t.Fatalf("DrawFrame() error = %v, want ErrFenceTimeout", err)
	}
	// The good worker's submission plus one drain.
	if len(backend.submits) != 2 {
		t.Fatalf("submits = %d, want 2", len(backend.submits))
	}
	drain := backend.submits[1].submit
	if drain.CommandBufferCount != 0 || drain.WaitSemaphoreCount != 2 {
		t.Errorf("drain = %+v, want no command buffers and 2 waits", drain)
	}
	if drain.PWaitSemaphores[0] != acquire[0] || drain.PWaitSemaphores[1] != good.gotSignal[0][0] {
		t.Errorf("drain waits on %v, want acquire then good worker signal", drain.PWaitSemaphores)
	}
	if r.metrics.FramesSubmitted.Load() != 0 {
		t.Errorf("FramesSubmitted = %d, want 0", r.metrics.FramesSubmitted.Load())
	}
}

func TestAddScheduleReachesEveryWorker(t *testing.T) {
	a := &fakeWorker{count: 1, frames: 1}
	b := &fakeWorker{count: 2, frames: 1}
	r, _ := newTestRenderer(t, 1, a, b)
	id := schedule.NewThreadID()
	if err := r.AddSchedule(id); err != nil {
		t.Fatalf("AddSchedule() error = %v", err)
	}
	if len(a.threads) != 1 || len(b.threads) != 1 || a.threads[0] != id {
		t.Errorf("threads = %v, %v, want %s in both", a.threads, b.threads, id)
	}
}
