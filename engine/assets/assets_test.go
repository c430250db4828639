package assets

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
)

// spirv returns a minimal module header followed by n extra words.
func spirv(n int) []byte {
	buf := make([]byte, 20+4*n)
	binary.LittleEndian.PutUint32(buf, 0x07230203)
	binary.LittleEndian.PutUint32(buf[4:], 0x00010500)
	return buf
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIndexAndLoadShaders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "raytrace.rgen.spv"), spirv(1))
	writeFile(t, filepath.Join(dir, "rt", "shadow.rmiss.spv"), spirv(2))
	writeFile(t, filepath.Join(dir, "gbuffer.vert"), []byte("#version 460"))
	writeFile(t, filepath.Join(dir, "engine.toml"), []byte("[renderer]\n"))

	am := NewAssetManager(nil)
	if err := am.Initialize(dir, false); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	got := am.Assets()
	if len(got) != 3 {
		t.Fatalf("Assets() = %+v, want 3 entries (sources are not indexed)", got)
	}

	info, ok := am.Lookup("shadow.rmiss")
	if !ok || info.Type != AssetTypeShader || info.Stage != metadata.ShaderStageMiss {
		t.Errorf("Lookup(shadow.rmiss) = %+v, %v, want miss shader", info, ok)
	}

	code, err := am.LoadShader("raytrace.rgen")
	if err != nil {
		t.Fatalf("LoadShader() error = %v", err)
	}
	if len(code) != 24 {
		t.Errorf("len(LoadShader()) = %d, want 24", len(code))
	}

	if _, err := am.LoadShader("engine.toml"); err == nil {
		t.Error("LoadShader(config) error = nil, want error")
	}
	if _, err := am.LoadShader("missing.rchit"); !errors.Is(err, core.ErrAssetNotFound) {
		t.Errorf("LoadShader(missing) error = %v, want ErrAssetNotFound", err)
	}
}

func TestLoadShaderRejectsInvalidSPIRV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.rchit.spv"), []byte("not spir-v at all, really"))
	writeFile(t, filepath.Join(dir, "short.rahit.spv"), spirv(0)[:8])

	am := NewAssetManager(nil)
	if err := am.Initialize(dir, false); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	for _, name := range []string{"broken.rchit", "short.rahit"} {
		if _, err := am.LoadShader(name); err == nil {
			t.Errorf("LoadShader(%s) error = nil, want error", name)
		}
	}
}

func TestUnknownStageIsNotIndexed(t *testing.T) {
	if _, ok := describeAsset("assets/shaders/thing.glsl.spv"); ok {
		t.Error("describeAsset(.glsl.spv) ok = true, want false")
	}
}

func TestWatchFiresOnChange(t *testing.T) {
	dir := t.TempDir()
	bus := core.NewEventBus()
	changed := make(chan string, 8)
	bus.Register(core.EVENT_CODE_ASSET_CHANGED, nil, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		changed <- data.Data.C[0]
		return true
	})

	am := NewAssetManager(bus)
	if err := am.Initialize(dir, true); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer am.Shutdown()

	writeFile(t, filepath.Join(dir, "raytrace.rchit.spv"), spirv(1))

	timeout := time.After(5 * time.Second)
	for {
		select {
		case name := <-changed:
			if name != "raytrace.rchit" {
				continue
			}
			if _, ok := am.Lookup("raytrace.rchit"); !ok {
				t.Error("Lookup() after change ok = false, want true")
			}
			return
		case <-timeout:
			t.Fatal("no change event within 5s")
		}
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	am := NewAssetManager(nil)
	if err := am.Initialize(t.TempDir(), true); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := am.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := am.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if am.Watching() {
		t.Error("Watching() after Shutdown() = true, want false")
	}
	if err := am.Initialize(t.TempDir(), false); !errors.Is(err, ErrClosed) {
		t.Errorf("Initialize() after Shutdown() error = %v, want ErrClosed", err)
	}
}
