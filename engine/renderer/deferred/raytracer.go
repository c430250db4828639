package deferred

import (
	"context"
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/config"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/raytracing"
	"github.com/spaghettifunk/reflex/engine/renderer/schedule"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
	"golang.org/x/sync/errgroup"
)

// The geometry pass on the graphics queue, then the trace on the compute queue.
const submissionCount = 2

// frameSync is satisfied by *vulkan.VulkanContext.
type frameSync interface {
	WaitForFence(ctx context.Context, fence vk.Fence, timeout time.Duration) error
	ResetFence(fence vk.Fence) error
}

// commandRecorder is satisfied by *vulkan.VulkanCommandBuffer.
type commandRecorder interface {
	Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error
	End() error
	CommandBuffer() vk.CommandBuffer
	UpdateSubmitted()
}

type passRecorder interface {
	Record(frameIndex uint32, cmd vk.CommandBuffer, work []metadata.MeshRenderCommand) error
}

type frameSlot struct {
	fence        vk.Fence
	gbufferReady vk.Semaphore
	graphics     commandRecorder
	compute      commandRecorder
}

// Options carries the externally owned collaborators.
type Options struct {
	Config       *config.Config
	Device       raytracing.RayTracingDevice
	Structures   raytracing.AccelerationStructureHandler
	Meshes       MeshHandler
	SceneGlobals raytracing.DescriptorBinder
	Samplers     raytracing.DescriptorBinder
	Images       raytracing.DescriptorBinder
	Shaders      raytracing.ShaderSource
	Metrics      *core.Metrics
}

/**
 * @brief Worker system rendering scheduled meshes into a G-buffer on the
 * graphics queue and ray tracing over it on the compute queue.
 */
type DeferredRayTracer struct {
	scheduler    *schedule.WorkScheduler[metadata.MeshRenderCommand]
	metrics      *core.Metrics
	sync         frameSync
	fenceTimeout time.Duration
	slots        []frameSlot

	geometry passRecorder
	tracer   passRecorder

	// Owned GPU objects, released by Destroy.
	vc             *vulkan.VulkanContext
	gbuffer        *GBuffer
	geo            *DeferredGeoRenderer
	rt             *raytracing.RayTracer
	fences         []*vulkan.VulkanFence
	commandBuffers []*vulkan.VulkanCommandBuffer
	semaphores     []vk.Semaphore
}

func NewDeferredRayTracer(vc *vulkan.VulkanContext, opts Options) (*DeferredRayTracer, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = vc.Metrics
	}
	framesInFlight := cfg.Renderer.FramesInFlight

	d := &DeferredRayTracer{
		scheduler:    schedule.NewWorkScheduler[metadata.MeshRenderCommand](cfg.Scheduler.MaxSchedules, cfg.Scheduler.MaxItemsPerSchedule, metrics),
		metrics:      metrics,
		sync:         vc,
		fenceTimeout: time.Duration(cfg.Renderer.FenceTimeoutMS) * time.Millisecond,
		vc:           vc,
	}

	var err error
	d.gbuffer, err = NewGBuffer(vc, cfg.Renderer.Width, cfg.Renderer.Height, framesInFlight)
	if err != nil {
		return nil, err
	}

	d.geo, err = NewDeferredGeoRenderer(vc, d.gbuffer, opts.Shaders, cfg.RayTracing.GeometryVertex, cfg.RayTracing.GeometryFragment, opts.SceneGlobals, opts.Meshes)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	d.geometry = d.geo

	d.rt, err = raytracing.NewRayTracer(vc, raytracing.Config{
		Width:             cfg.Renderer.Width,
		Height:            cfg.Renderer.Height,
		MaxInstances:      cfg.RayTracing.MaxInstances,
		MaxRecursionDepth: cfg.RayTracing.MaxRecursionDepth,
		RaygenShader:      cfg.RayTracing.RaygenShader,
		MissShader:        cfg.RayTracing.MissShader,
		ShadowMissShader:  cfg.RayTracing.ShadowMissShader,
		ClosestHitShader:  cfg.RayTracing.ClosestHitShader,
	}, opts.Device, opts.Structures, opts.Shaders, raytracing.Bindings{
		SceneGlobals: opts.SceneGlobals,
		Samplers:     opts.Samplers,
		Images:       opts.Images,
		Meshes:       opts.Meshes,
		GBuffer:      d.gbuffer,
	}, metrics)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	d.tracer = d.rt

	for i := uint32(0); i < framesInFlight; i++ {
		slot, err := d.createFrameSlot()
		if err != nil {
			d.Destroy()
			return nil, err
		}
		d.slots = append(d.slots, slot)
	}

	core.LogInfo("Deferred ray tracer created with %d frames in flight.", framesInFlight)
	return d, nil
}

func (d *DeferredRayTracer) createFrameSlot() (frameSlot, error) {
	var slot frameSlot

	// Signaled so the first wait on every slot returns immediately.
	fence, err := vulkan.NewFence(d.vc, true)
	if err != nil {
		return slot, err
	}
	d.fences = append(d.fences, fence)
	slot.fence = fence.Handle

	graphics, err := vulkan.NewVulkanCommandBuffer(d.vc, d.vc.Device.CommandPool(vulkan.QueueFamilyGraphics), true)
	if err != nil {
		return slot, err
	}
	d.commandBuffers = append(d.commandBuffers, graphics)
	slot.graphics = graphics

	compute, err := vulkan.NewVulkanCommandBuffer(d.vc, d.vc.Device.CommandPool(vulkan.QueueFamilyCompute), true)
	if err != nil {
		return slot, err
	}
	d.commandBuffers = append(d.commandBuffers, compute)
	slot.compute = compute

	ready, err := d.vc.CreateSemaphore()
	if err != nil {
		return slot, err
	}
	d.semaphores = append(d.semaphores, ready)
	slot.gbufferReady = ready
	return slot, nil
}

// RecordSubmit waits for the frame slot to retire, assembles the scheduled
// work once and records both passes in parallel. The slot fence is reset
// only once both passes recorded, so a failed frame leaves it signaled.
//
// Every call closes the current generation of scheduled work. A frame that
// fails before recording discards its work and counts it, so producers
// pushing the whole scene again never see it drawn twice.
func (d *DeferredRayTracer) RecordSubmit(ctx context.Context, frameIndex uint32, wait, signal []vk.Semaphore) ([]renderer.WorkerSubmission, error) {
	if frameIndex >= uint32(len(d.slots)) {
		d.discardScheduledWork()
		return nil, fmt.Errorf("frame %d of %d: %w", frameIndex, len(d.slots), core.ErrInvalidFrameIndex)
	}
	if len(signal) != submissionCount {
		d.discardScheduledWork()
		return nil, fmt.Errorf("got %d signal semaphores, want %d: %w", len(signal), submissionCount, core.ErrSemaphoreCount)
	}
	slot := &d.slots[frameIndex]

	if err := d.sync.WaitForFence(ctx, slot.fence, d.fenceTimeout); err != nil {
		d.discardScheduledWork()
		return nil, err
	}

	work := d.scheduler.AssembleScheduledWork()

	// Distinct pools, distinct command buffers, read-only work.
	var g errgroup.Group
	g.Go(func() error {
		return recordPass(slot.graphics, func(cmd vk.CommandBuffer) error {
			return d.geometry.Record(frameIndex, cmd, work)
		})
	})
	g.Go(func() error {
		return recordPass(slot.compute, func(cmd vk.CommandBuffer) error {
			return d.tracer.Record(frameIndex, cmd, work)
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := d.sync.ResetFence(slot.fence); err != nil {
		return nil, err
	}

	waitStages := make([]vk.PipelineStageFlags, len(wait))
	for i := range waitStages {
		waitStages[i] = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	geometry := renderer.WorkerSubmission{
		Fence: vk.NullFence,
		Submit: vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(wait)),
			PWaitSemaphores:      wait,
			PWaitDstStageMask:    waitStages,
			CommandBufferCount:   1,
			PCommandBuffers:      []vk.CommandBuffer{slot.graphics.CommandBuffer()},
			SignalSemaphoreCount: 2,
			PSignalSemaphores:    []vk.Semaphore{signal[0], slot.gbufferReady},
		},
		QueueFamily: vulkan.QueueFamilyGraphics,
	}
	trace := renderer.WorkerSubmission{
		Fence: slot.fence,
		Submit: vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   1,
			PWaitSemaphores:      []vk.Semaphore{slot.gbufferReady},
			PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vulkan.PipelineStageRayTracingShaderBit)},
			CommandBufferCount:   1,
			PCommandBuffers:      []vk.CommandBuffer{slot.compute.CommandBuffer()},
			SignalSemaphoreCount: 1,
			PSignalSemaphores:    []vk.Semaphore{signal[1]},
		},
		QueueFamily: vulkan.QueueFamilyCompute,
	}
	slot.graphics.UpdateSubmitted()
	slot.compute.UpdateSubmitted()

	return []renderer.WorkerSubmission{geometry, trace}, nil
}

func (d *DeferredRayTracer) discardScheduledWork() {
	work := d.scheduler.AssembleScheduledWork()
	if len(work) == 0 {
		return
	}
	if d.metrics != nil {
		d.metrics.WorkDiscarded.Add(uint64(len(work)))
	}
	core.LogWarn("Frame skipped, %d scheduled draws discarded.", len(work))
}

func recordPass(cb commandRecorder, record func(cmd vk.CommandBuffer) error) error {
	if err := cb.Begin(false, false, false); err != nil {
		return err
	}
	if err := record(cb.CommandBuffer()); err != nil {
		// Close the buffer so the next Begin resets it from a valid state.
		_ = cb.End()
		return err
	}
	return cb.End()
}

func (d *DeferredRayTracer) ImplementedFeatures() []metadata.RendererFeature {
	return []metadata.RendererFeature{
		metadata.RendererFeatureRasterization,
		metadata.RendererFeatureDeferredShading,
		metadata.RendererFeatureRayTracing,
		metadata.RendererFeatureShadows,
	}
}

// Fences returns one fence per frame slot. The trace submission waits on the
// geometry submission, so its fence retires the whole frame.
func (d *DeferredRayTracer) Fences() []vk.Fence {
	fences := make([]vk.Fence, len(d.slots))
	for i, s := range d.slots {
		fences[i] = s.fence
	}
	return fences
}

func (d *DeferredRayTracer) SubmissionCount() int {
	return submissionCount
}

func (d *DeferredRayTracer) AddSchedule(threadID schedule.ThreadID) error {
	return d.scheduler.AddSchedule(threadID)
}

func (d *DeferredRayTracer) Push(threadID schedule.ThreadID, cmd metadata.MeshRenderCommand) error {
	return d.scheduler.Push(threadID, cmd)
}

// Producer returns a handle bound to the thread's schedule.
func (d *DeferredRayTracer) Producer(threadID schedule.ThreadID) (*schedule.Producer[metadata.MeshRenderCommand], error) {
	return d.scheduler.Producer(threadID)
}

func (d *DeferredRayTracer) GBuffer() *GBuffer {
	return d.gbuffer
}

// Destroy releases everything in reverse creation order. The caller must make
// sure the device is idle.
func (d *DeferredRayTracer) Destroy() {
	if d.vc == nil {
		return
	}
	for _, s := range d.semaphores {
		d.vc.DestroySemaphore(s)
	}
	d.semaphores = nil
	for i := len(d.commandBuffers) - 1; i >= 0; i-- {
		d.commandBuffers[i].Free(d.vc)
	}
	d.commandBuffers = nil
	for _, f := range d.fences {
		f.Destroy(d.vc)
	}
	d.fences = nil
	d.slots = nil

	if d.rt != nil {
		d.rt.Destroy(d.vc)
		d.rt = nil
	}
	if d.geo != nil {
		d.geo.Destroy(d.vc)
		d.geo = nil
	}
	if d.gbuffer != nil {
		d.gbuffer.Destroy(d.vc)
		d.gbuffer = nil
	}
	core.LogDebug("Deferred ray tracer destroyed.")
}

var _ renderer.MeshWorkerSystem = (*DeferredRayTracer)(nil)
