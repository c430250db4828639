package core

import "testing"

func TestEventBusFireStopsWhenHandled(t *testing.T) {
	bus := NewEventBus()
	var order []string
	first := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "first")
		return data.Data.U32[0] == 1
	}
	second := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "second")
		return true
	}
	if !bus.Register(EVENT_CODE_ASSET_CHANGED, "a", first) || !bus.Register(EVENT_CODE_ASSET_CHANGED, "b", second) {
		t.Fatal("Register() = false, want true")
	}

	var ctx EventContext
	if !bus.Fire(EVENT_CODE_ASSET_CHANGED, nil, ctx) {
		t.Error("Fire() = false, want true")
	}
	if len(order) != 2 {
		t.Errorf("called %v, want both listeners", order)
	}

	order = nil
	ctx.Data.U32[0] = 1
	bus.Fire(EVENT_CODE_ASSET_CHANGED, nil, ctx)
	if len(order) != 1 || order[0] != "first" {
		t.Errorf("called %v, want only first", order)
	}
}

func TestEventBusRejectsDuplicates(t *testing.T) {
	bus := NewEventBus()
	cb := func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }
	if !bus.Register(EVENT_CODE_APPLICATION_QUIT, nil, cb) {
		t.Fatal("Register() = false, want true")
	}
	if bus.Register(EVENT_CODE_APPLICATION_QUIT, nil, cb) {
		t.Error("duplicate Register() = true, want false")
	}
	if bus.Register(0, nil, cb) || bus.Register(MAX_MESSAGE_CODES, nil, cb) {
		t.Error("Register(out of range code) = true, want false")
	}
}

func TestEventBusUnregister(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	cb := func(SystemEventCode, interface{}, interface{}, EventContext) bool { calls++; return false }
	bus.Register(EVENT_CODE_FRAME_FAILED, "x", cb)

	if !bus.Unregister(EVENT_CODE_FRAME_FAILED, "x", cb) {
		t.Fatal("Unregister() = false, want true")
	}
	if bus.Unregister(EVENT_CODE_FRAME_FAILED, "x", cb) {
		t.Error("second Unregister() = true, want false")
	}
	bus.Fire(EVENT_CODE_FRAME_FAILED, nil, EventContext{})
	if calls != 0 {
		t.Errorf("calls after Unregister() = %d, want 0", calls)
	}
}
