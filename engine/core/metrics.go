package core

import (
	"sync"
	"sync/atomic"
)

const AVG_COUNT uint8 = 30

// Metrics tracks frame timing and the counters the renderer reports instead of
// failing a frame.
type Metrics struct {
	mu                 sync.Mutex
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	SchedulerItemsDropped  atomic.Uint64
	SchedulerSlotsRejected atomic.Uint64
	InstancesTruncated     atomic.Uint64
	InstancesSkipped       atomic.Uint64
	InstanceIndexOverflows atomic.Uint64
	WorkDiscarded          atomic.Uint64
	FenceTimeouts          atomic.Uint64
	FramesSubmitted        atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Update feeds the elapsed time of the last frame, in seconds.
func (m *Metrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		m.msAvg = 0
		for i := uint8(0); i < AVG_COUNT; i++ {
			m.msAvg += m.msTimes[i]
		}
		m.msAvg /= float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.frames++
}

func (m *Metrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

// FrameTime is the average frame time in milliseconds over the last AVG_COUNT frames.
func (m *Metrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

type MetricsSnapshot struct {
	FPS                    float64
	FrameTimeMS            float64
	SchedulerItemsDropped  uint64
	SchedulerSlotsRejected uint64
	InstancesTruncated     uint64
	InstancesSkipped       uint64
	InstanceIndexOverflows uint64
	WorkDiscarded          uint64
	FenceTimeouts          uint64
	FramesSubmitted        uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FPS:                    m.FPS(),
		FrameTimeMS:            m.FrameTime(),
		SchedulerItemsDropped:  m.SchedulerItemsDropped.Load(),
		SchedulerSlotsRejected: m.SchedulerSlotsRejected.Load(),
		InstancesTruncated:     m.InstancesTruncated.Load(),
		InstancesSkipped:       m.InstancesSkipped.Load(),
		InstanceIndexOverflows: m.InstanceIndexOverflows.Load(),
		WorkDiscarded:          m.WorkDiscarded.Load(),
		FenceTimeouts:          m.FenceTimeouts.Load(),
		FramesSubmitted:        m.FramesSubmitted.Load(),
	}
}
