package renderer

import (
	"context"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/schedule"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

/**
 * @brief One queue submission produced by a worker for the current frame.
 */
type WorkerSubmission struct {
	/** @brief Fence signaled when the submission completes. May be vk.NullFence. */
	Fence vk.Fence
	/** @brief Command buffers plus wait and signal semaphores. */
	Submit vk.SubmitInfo
	/** @brief Queue the submission must go to. */
	QueueFamily vulkan.QueueFamily
}

// WorkerSystem is any renderer that turns scheduled work into per-frame
// submissions.
type WorkerSystem interface {
	// RecordSubmit records the frame and returns exactly SubmissionCount()
	// submissions. Together they wait on wait and signal every semaphore in
	// signal, whose length must equal SubmissionCount().
	RecordSubmit(ctx context.Context, frameIndex uint32, wait, signal []vk.Semaphore) ([]WorkerSubmission, error)
	ImplementedFeatures() []metadata.RendererFeature
	// Fences returns one fence per frame in flight.
	Fences() []vk.Fence
	SubmissionCount() int
	AddSchedule(threadID schedule.ThreadID) error
}

// MeshWorkerSystem accepts mesh draws from registered producers.
type MeshWorkerSystem interface {
	WorkerSystem
	Push(threadID schedule.ThreadID, cmd metadata.MeshRenderCommand) error
}
