package core

import (
	"errors"
	"math"
	"testing"
)

func TestMetricsFrameAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	if got := m.FrameTime(); math.Abs(got-16) > 1e-9 {
		t.Errorf("FrameTime() = %f, want 16", got)
	}
}

func TestMetricsFPS(t *testing.T) {
	m := NewMetrics()
	// 1.01s worth of 10ms frames; the 101st crosses the one second mark.
	for i := 0; i < 101; i++ {
		m.Update(0.010)
	}
	if got := m.FPS(); got != 100 {
		t.Errorf("FPS() = %f, want 100", got)
	}
}

func TestMetricsSnapshotCounters(t *testing.T) {
	m := NewMetrics()
	m.SchedulerItemsDropped.Add(3)
	m.InstancesTruncated.Add(1)
	m.FenceTimeouts.Add(2)

	s := m.Snapshot()
	if s.SchedulerItemsDropped != 3 || s.InstancesTruncated != 1 || s.FenceTimeouts != 2 {
		t.Errorf("Snapshot() = %+v, want dropped=3 truncated=1 timeouts=2", s)
	}
}

func TestInitErrorUnwrap(t *testing.T) {
	cause := errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY")
	err := NewInitError(InitErrorImage, cause, "gbuffer attachment %d", 2)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(InitError, cause) = false, want true")
	}
	var ie *InitError
	if !errors.As(err, &ie) || ie.Kind != InitErrorImage {
		t.Errorf("errors.As() kind = %v, want %v", ie, InitErrorImage)
	}
	if ie.Context != "gbuffer attachment 2" {
		t.Errorf("Context = %q, want %q", ie.Context, "gbuffer attachment 2")
	}
}
