package raytracing

import (
	"errors"
	"fmt"
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
	"github.com/spaghettifunk/reflex/engine/renderer/vulkan"
)

// Backing storage for fake command buffer handles.
var handleStore [4]uint64

func fakeCommandBuffer(i int) vk.CommandBuffer {
	return vk.CommandBuffer(unsafe.Pointer(&handleStore[i]))
}

type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

type fakeBinder struct {
	rec  *recorder
	name string
}

func (b *fakeBinder) DescriptorSetLayout() vk.DescriptorSetLayout { return nil }

func (b *fakeBinder) Bind(frameIndex uint32, cmd vk.CommandBuffer, layout vk.PipelineLayout, setIndex uint32, bindPoint vk.PipelineBindPoint) {
	b.rec.add("bind %s set=%d frame=%d", b.name, setIndex, frameIndex)
}

type fakeStructures struct {
	fakeBLAS
	rec       *recorder
	updated   [][]Instance
	updateErr error
}

func (f *fakeStructures) DescriptorSetLayout() vk.DescriptorSetLayout { return nil }

func (f *fakeStructures) AllocateInstanceStructure(maxInstances uint32) (metadata.InstanceStructureID, error) {
	return 0, nil
}

func (f *fakeStructures) FreeInstanceStructure(id metadata.InstanceStructureID) {}

func (f *fakeStructures) UpdateInstanceStructure(frameIndex uint32, cmd vk.CommandBuffer, id metadata.InstanceStructureID, instances []Instance) error {
	f.rec.add("update frame=%d n=%d", frameIndex, len(instances))
	f.updated = append(f.updated, append([]Instance(nil), instances...))
	return f.updateErr
}

func (f *fakeStructures) BindInstanceStructures(frameIndex uint32, cmd vk.CommandBuffer, layout vk.PipelineLayout, setIndex uint32, bindPoint vk.PipelineBindPoint) {
	f.rec.add("bind structures set=%d frame=%d", setIndex, frameIndex)
}

type fakeDevice struct {
	rec    *recorder
	traced []*StridedDeviceAddressRegion
}

func (d *fakeDevice) Properties() PipelineProperties {
	return PipelineProperties{ShaderGroupHandleSize: 32, ShaderGroupHandleAlignment: 32, ShaderGroupBaseAlignment: 64, MaxRayRecursionDepth: 1}
}

func (d *fakeDevice) CreateRayTracingPipeline(layout vk.PipelineLayout, stages []vk.PipelineShaderStageCreateInfo, groups []ShaderGroup, maxRecursionDepth uint32) (vk.Pipeline, error) {
	return vk.NullPipeline, nil
}

func (d *fakeDevice) ShaderGroupHandles(pipeline vk.Pipeline, firstGroup, groupCount uint32, data []byte) error {
	return nil
}

func (d *fakeDevice) BufferDeviceAddress(buffer vk.Buffer) uint64 { return 0 }

func (d *fakeDevice) CmdBindRayTracingPipeline(cmd vk.CommandBuffer, pipeline vk.Pipeline) {
	d.rec.add("bind pipeline")
}

func (d *fakeDevice) CmdTraceRays(cmd vk.CommandBuffer, raygen, miss, hit, callable *StridedDeviceAddressRegion, width, height, depth uint32) {
	d.rec.add("trace %dx%dx%d", width, height, depth)
	d.traced = []*StridedDeviceAddressRegion{raygen, miss, hit, callable}
}

func newTestRayTracer(stage Stage, metrics *core.Metrics) (*RayTracer, *recorder, *fakeStructures, *fakeDevice) {
	rec := &recorder{}
	structures := &fakeStructures{fakeBLAS: fakeBLAS{1: 0x100, 2: 0x200}, rec: rec}
	device := &fakeDevice{rec: rec}
	rt := &RayTracer{
		stage:      stage,
		config:     Config{Width: 640, Height: 480, MaxInstances: 3},
		metrics:    metrics,
		device:     device,
		structures: structures,
		raygen:     SBTEntry{Region: StridedDeviceAddressRegion{DeviceAddress: 0x1000, Stride: 64, Size: 64}},
		miss:       SBTEntry{Region: StridedDeviceAddressRegion{DeviceAddress: 0x2000, Stride: 32, Size: 64}},
		hit:        SBTEntry{Region: StridedDeviceAddressRegion{DeviceAddress: 0x3000, Stride: 32, Size: 64}},
	}
	for i, name := range []string{"globals", "samplers", "images", "", "meshes", "gbuffer"} {
		if name != "" {
			rt.binders[i] = &fakeBinder{rec: rec, name: name}
		}
	}
	return rt, rec, structures, device
}

func TestRecordRequiresReady(t *testing.T) {
	for _, stage := range []Stage{StageUninitialized, StageShadersLoaded, StagePipelineBuilt, StageBindingTableBuilt, StageInstanceStructureAllocated} {
		rt, rec, _, _ := newTestRayTracer(stage, nil)
		err := rt.Record(0, fakeCommandBuffer(0), nil)
		if !errors.Is(err, core.ErrNotReady) {
			t.Errorf("Record() in stage %s error = %v, want ErrNotReady", stage, err)
		}
		if len(rec.calls) != 0 {
			t.Errorf("Record() in stage %s recorded %v, want nothing", stage, rec.calls)
		}
	}
}

func TestRecordSequence(t *testing.T) {
	rt, rec, structures, device := newTestRayTracer(StageReady, core.NewMetrics())
	work := []metadata.MeshRenderCommand{
		{GeoID: 1, ID: 5, Transform: mgl32.Translate3D(1, 0, 0)},
		{GeoID: 2, ID: 6, Transform: mgl32.Ident4()},
	}

	if err := rt.Record(1, fakeCommandBuffer(1), work); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	want := []string{
		"update frame=1 n=2",
		"bind pipeline",
		"bind globals set=0 frame=1",
		"bind samplers set=1 frame=1",
		"bind images set=2 frame=1",
		"bind structures set=3 frame=1",
		"bind meshes set=4 frame=1",
		"bind gbuffer set=5 frame=1",
		"trace 640x480x1",
	}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, rec.calls[i], want[i])
		}
	}

	got := structures.updated[0]
	if got[0].CustomIndex != 5 || got[1].CustomIndex != 6 {
		t.Errorf("custom indices = %d, %d, want 5, 6", got[0].CustomIndex, got[1].CustomIndex)
	}
	if got[0].AccelerationStructureReference != 0x100 || got[1].AccelerationStructureReference != 0x200 {
		t.Errorf("references = %#x, %#x, want 0x100, 0x200", got[0].AccelerationStructureReference, got[1].AccelerationStructureReference)
	}
	if device.traced[0].DeviceAddress != 0x1000 || device.traced[2].DeviceAddress != 0x3000 {
		t.Errorf("traced regions = %+v, want binding table regions", device.traced)
	}
	if device.traced[3].Size != 0 {
		t.Errorf("callable region = %+v, want empty", device.traced[3])
	}
}

func TestRecordTruncatesAtMaxInstances(t *testing.T) {
	metrics := core.NewMetrics()
	rt, _, structures, _ := newTestRayTracer(StageReady, metrics)
	work := make([]metadata.MeshRenderCommand, rt.config.MaxInstances+1)
	for i := range work {
		work[i] = metadata.MeshRenderCommand{GeoID: 1, ID: metadata.EntityID(i), Transform: mgl32.Ident4()}
	}

	if err := rt.Record(0, fakeCommandBuffer(0), work); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if n := uint32(len(structures.updated[0])); n != rt.config.MaxInstances {
		t.Errorf("instances = %d, want %d", n, rt.config.MaxInstances)
	}
	if got := metrics.InstancesTruncated.Load(); got != 1 {
		t.Errorf("InstancesTruncated = %d, want 1", got)
	}
}

func TestRecordPropagatesUpdateError(t *testing.T) {
	rt, rec, structures, _ := newTestRayTracer(StageReady, nil)
	structures.updateErr = errors.New("out of scratch memory")

	if err := rt.Record(0, fakeCommandBuffer(0), nil); err == nil {
		t.Fatal("Record() error = nil, want update error")
	}
	if len(rec.calls) != 1 {
		t.Errorf("calls = %v, want only the update", rec.calls)
	}
}

func TestShaderGroups(t *testing.T) {
	groups := shaderGroups()
	if len(groups) != 4 {
		t.Fatalf("len(shaderGroups()) = %d, want 4", len(groups))
	}
	for i := 0; i < 3; i++ {
		if groups[i].Type != ShaderGroupTypeGeneral || groups[i].GeneralShader != uint32(i) {
			t.Errorf("group %d = %+v, want general shader %d", i, groups[i], i)
		}
	}
	if groups[3].Type != ShaderGroupTypeTrianglesHitGroup || groups[3].ClosestHitShader != stageClosestHit {
		t.Errorf("hit group = %+v, want triangles with closest hit %d", groups[3], stageClosestHit)
	}
}

func TestSetLayoutsRequireBinders(t *testing.T) {
	rt, _, _, _ := newTestRayTracer(StageShadersLoaded, nil)
	if _, err := rt.setLayouts(); err != nil {
		t.Fatalf("setLayouts() error = %v", err)
	}
	rt.binders[SetMeshes] = nil
	if _, err := rt.setLayouts(); err == nil {
		t.Error("setLayouts() without mesh binder error = nil, want error")
	}
}

// Destroy without a context only touches the instance structure when nothing
// else was created.
func TestDestroyResetsStage(t *testing.T) {
	rt, _, _, _ := newTestRayTracer(StageReady, nil)
	rt.instanceStructure = metadata.InvalidInstanceStructureID
	rt.Destroy(&vulkan.VulkanContext{})
	if rt.Stage() != StageUninitialized {
		t.Errorf("Stage() = %s, want %s", rt.Stage(), StageUninitialized)
	}
}
