package vulkan

import (
	"context"
	"errors"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

func TestWaitBoundedSignaled(t *testing.T) {
	calls := 0
	err := waitBounded(context.Background(), time.Second, time.Millisecond, func(ns uint64) vk.Result {
		calls++
		if calls < 3 {
			return vk.Timeout
		}
		return vk.Success
	})
	if err != nil {
		t.Fatalf("waitBounded() error = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("poll called %d times, want 3", calls)
	}
}

func TestWaitBoundedSliceNeverExceedsStep(t *testing.T) {
	step := 5 * time.Millisecond
	_ = waitBounded(context.Background(), 20*time.Millisecond, step, func(ns uint64) vk.Result {
		if ns > uint64(step.Nanoseconds()) {
			t.Errorf("poll(%d) exceeds step %d", ns, step.Nanoseconds())
		}
		time.Sleep(time.Duration(ns))
		return vk.Timeout
	})
}

func TestWaitBoundedTimeout(t *testing.T) {
	start := time.Now()
	err := waitBounded(context.Background(), 15*time.Millisecond, 5*time.Millisecond, func(ns uint64) vk.Result {
		time.Sleep(time.Duration(ns))
		return vk.Timeout
	})
	if !errors.Is(err, core.ErrFenceTimeout) {
		t.Fatalf("waitBounded() error = %v, want ErrFenceTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("waitBounded() took %s, want bounded by timeout", elapsed)
	}
}

func TestWaitBoundedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := waitBounded(ctx, time.Hour, time.Millisecond, func(ns uint64) vk.Result {
		calls++
		if calls == 2 {
			cancel()
		}
		return vk.Timeout
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("waitBounded() error = %v, want context.Canceled", err)
	}
}

func TestWaitBoundedDeviceLost(t *testing.T) {
	err := waitBounded(context.Background(), time.Second, time.Millisecond, func(ns uint64) vk.Result {
		return vk.ErrorDeviceLost
	})
	if !errors.Is(err, core.ErrDeviceLost) {
		t.Errorf("waitBounded() error = %v, want ErrDeviceLost", err)
	}
}

func TestWaitBoundedOtherError(t *testing.T) {
	err := waitBounded(context.Background(), time.Second, time.Millisecond, func(ns uint64) vk.Result {
		return vk.ErrorOutOfHostMemory
	})
	var re *ResultErr
	if !errors.As(err, &re) || re.Result != vk.ErrorOutOfHostMemory {
		t.Errorf("waitBounded() error = %v, want ResultErr(VK_ERROR_OUT_OF_HOST_MEMORY)", err)
	}
}

func TestUniqueIndices(t *testing.T) {
	var indices [QueueFamilyCount]uint32
	indices[QueueFamilyGraphics] = 0
	indices[QueueFamilyCompute] = 2
	indices[QueueFamilyTransfer] = 2
	indices[QueueFamilyPresent] = 0

	got := uniqueIndices(indices, QueueFamilyTransfer, QueueFamilyCompute, QueueFamilyGraphics)
	if len(got) != 2 || got[0] != 2 || got[1] != 0 {
		t.Errorf("uniqueIndices() = %v, want [2 0]", got)
	}
}
