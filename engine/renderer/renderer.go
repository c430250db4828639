package renderer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/loov/hrtime"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/schedule"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
	"golang.org/x/sync/errgroup"
)

// WorkerStats is the timing of one worker in the last frame.
type WorkerStats struct {
	Name        string
	Record      time.Duration
	Submit      time.Duration
	Submissions int
}

type FrameStats struct {
	FrameIndex uint32
	Total      time.Duration
	Workers    []WorkerStats
}

type workerEntry struct {
	name   string
	system WorkerSystem
	// signals[frame] holds SubmissionCount() semaphores.
	signals [][]vk.Semaphore
}

/**
 * @brief Drives the registered worker systems once per frame: records them,
 * submits their work and hands back the semaphores presentation waits on.
 */
type Renderer struct {
	backend        RendererBackend
	framesInFlight uint32
	frameIndex     uint32
	workers        []*workerEntry
	metrics        *core.Metrics
	stats          FrameStats
}

func NewRenderer(backend RendererBackend, framesInFlight uint32, metrics *core.Metrics) (*Renderer, error) {
	if framesInFlight == 0 || framesInFlight > vulkan.MAX_FRAMES_IN_FLIGHT {
		return nil, fmt.Errorf("frames in flight must be within 1..%d, got %d: %w", vulkan.MAX_FRAMES_IN_FLIGHT, framesInFlight, core.ErrInvalidConfig)
	}
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	return &Renderer{
		backend:        backend,
		framesInFlight: framesInFlight,
		metrics:        metrics,
	}, nil
}

// AddWorker registers a worker and creates the semaphores it signals in every
// frame slot. Workers are recorded in parallel and submitted in the order
// they were added.
func (r *Renderer) AddWorker(name string, system WorkerSystem) error {
	if got := len(system.Fences()); got != int(r.framesInFlight) {
		return fmt.Errorf("worker %s has %d fences, want one per frame in flight (%d)", name, got, r.framesInFlight)
	}
	entry := &workerEntry{name: name, system: system}
	for f := uint32(0); f < r.framesInFlight; f++ {
		signals := make([]vk.Semaphore, system.SubmissionCount())
		for i := range signals {
			s, err := r.backend.CreateSemaphore()
			if err != nil {
				entry.signals = append(entry.signals, signals[:i])
				r.destroyWorker(entry)
				return core.NewInitError(core.InitErrorSync, err, "signal semaphores of worker %s", name)
			}
			signals[i] = s
		}
		entry.signals = append(entry.signals, signals)
	}
	r.workers = append(r.workers, entry)
	core.LogInfo("Worker %s registered (features %v, %d submissions).", name, system.ImplementedFeatures(), system.SubmissionCount())
	return nil
}

// AddSchedule registers a producer with every worker.
func (r *Renderer) AddSchedule(threadID schedule.ThreadID) error {
	for _, w := range r.workers {
		if err := w.system.AddSchedule(threadID); err != nil {
			return fmt.Errorf("worker %s: %w", w.name, err)
		}
	}
	return nil
}

func (r *Renderer) Workers() []WorkerSystem {
	out := make([]WorkerSystem, len(r.workers))
	for i, w := range r.workers {
		out[i] = w.system
	}
	return out
}

func (r *Renderer) FrameIndex() uint32 {
	return r.frameIndex
}

func (r *Renderer) Stats() FrameStats {
	return r.stats
}

type recorded struct {
	submissions []WorkerSubmission
	err         error
}

// DrawFrame records and submits one frame. wait is consumed by the first
// worker, typically the swapchain acquire semaphore. On success it returns
// every semaphore the frame signals.
//
// When a worker fails, the workers that succeeded are still submitted. A
// drain submission then waits on every semaphore left signaled, including
// those of a worker whose submissions were only partly queued, and fences of
// unqueued submissions are signaled by empty submits so their frame slot can
// be reused. The error is returned.
func (r *Renderer) DrawFrame(ctx context.Context, wait []vk.Semaphore) ([]vk.Semaphore, error) {
	frameStart := hrtime.Now()
	frame := r.frameIndex
	stats := FrameStats{FrameIndex: frame, Workers: make([]WorkerStats, len(r.workers))}
	results := make([]recorded, len(r.workers))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range r.workers {
		i, w := i, w
		var workerWait []vk.Semaphore
		if i == 0 {
			workerWait = wait
		}
		g.Go(func() error {
			start := hrtime.Now()
			subs, err := w.system.RecordSubmit(gctx, frame, workerWait, w.signals[frame])
			if err == nil && len(subs) != w.system.SubmissionCount() {
				err = fmt.Errorf("worker %s returned %d submissions, want %d: %w", w.name, len(subs), w.system.SubmissionCount(), core.ErrSubmissionCountMismatch)
			}
			stats.Workers[i] = WorkerStats{Name: w.name, Record: hrtime.Since(start), Submissions: len(subs)}
			results[i] = recorded{submissions: subs, err: err}
			return err
		})
	}
	recordErr := g.Wait()

	var drain []vk.Semaphore
	var retire []WorkerSubmission
	var errs []error
	present := make([]vk.Semaphore, 0, len(r.workers)*2)
	for i, w := range r.workers {
		var workerWait []vk.Semaphore
		if i == 0 {
			workerWait = wait
		}
		res := results[i]
		if res.err != nil {
			errs = append(errs, fmt.Errorf("worker %s: %w", w.name, res.err))
			drain = append(drain, workerWait...)
			retire = append(retire, res.submissions...)
			continue
		}
		start := hrtime.Now()
		n, err := r.submit(res.submissions)
		stats.Workers[i].Submit = hrtime.Since(start)
		if err != nil {
			errs = append(errs, fmt.Errorf("worker %s: %w", w.name, err))
			drain = append(drain, outstanding(workerWait, res.submissions[:n])...)
			retire = append(retire, res.submissions[n:]...)
			continue
		}
		present = append(present, w.signals[frame]...)
	}

	r.frameIndex = (r.frameIndex + 1) % r.framesInFlight
	stats.Total = hrtime.Since(frameStart)
	r.stats = stats

	if recordErr != nil || len(errs) > 0 {
		drain = append(drain, present...)
		if err := r.drain(drain); err != nil {
			errs = append(errs, err)
		}
		if err := r.retire(retire); err != nil {
			errs = append(errs, err)
		}
		err := errors.Join(errs...)
		core.LogError("frame %d failed: %s", frame, err)
		return nil, err
	}
	r.metrics.FramesSubmitted.Add(1)
	return present, nil
}

// submit hands a worker's submissions to their queues in order and reports
// how many were queued.
func (r *Renderer) submit(submissions []WorkerSubmission) (int, error) {
	for i, s := range submissions {
		if err := r.backend.Submit(s.QueueFamily, []vk.SubmitInfo{s.Submit}, s.Fence); err != nil {
			return i, err
		}
	}
	return len(submissions), nil
}

// outstanding returns the semaphores still signaled once submitted ran:
// those handed in as wait and those the submissions signal, minus those they
// wait on.
func outstanding(wait []vk.Semaphore, submitted []WorkerSubmission) []vk.Semaphore {
	pending := slices.Clone(wait)
	for _, s := range submitted {
		for _, w := range s.Submit.PWaitSemaphores[:s.Submit.WaitSemaphoreCount] {
			if i := slices.Index(pending, w); i >= 0 {
				pending = slices.Delete(pending, i, i+1)
			}
		}
		pending = append(pending, s.Submit.PSignalSemaphores[:s.Submit.SignalSemaphoreCount]...)
	}
	return pending
}

// retire signals the fences of submissions that were never queued with empty
// submits, so the next wait on their frame slot returns.
func (r *Renderer) retire(submissions []WorkerSubmission) error {
	var errs []error
	for _, s := range submissions {
		if s.Fence == vk.NullFence {
			continue
		}
		if err := r.backend.Submit(s.QueueFamily, nil, s.Fence); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Renderer) drain(semaphores []vk.Semaphore) error {
	if len(semaphores) == 0 {
		return nil
	}
	stages := make([]vk.PipelineStageFlags, len(semaphores))
	for i := range stages {
		stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	return r.backend.Submit(vulkan.QueueFamilyGraphics, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: uint32(len(semaphores)),
		PWaitSemaphores:    semaphores,
		PWaitDstStageMask:  stages,
	}}, vk.NullFence)
}

// Fences returns every worker fence of a frame slot, for waiting before
// teardown or resize.
func (r *Renderer) Fences(frameIndex uint32) []vk.Fence {
	fences := make([]vk.Fence, 0, len(r.workers))
	for _, w := range r.workers {
		fences = append(fences, w.system.Fences()[frameIndex])
	}
	return fences
}

func (r *Renderer) destroyWorker(w *workerEntry) {
	for _, signals := range w.signals {
		for _, s := range signals {
			r.backend.DestroySemaphore(s)
		}
	}
	w.signals = nil
}

// Destroy releases the semaphores the renderer created. Worker systems are
// owned and destroyed by the caller.
func (r *Renderer) Destroy() {
	for _, w := range r.workers {
		r.destroyWorker(w)
	}
	r.workers = nil
}
