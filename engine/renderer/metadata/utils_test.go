package metadata

import "testing"

func TestGetAligned(t *testing.T) {
	tests := []struct {
		operand, granularity, want uint64
	}{
		{0, 64, 0},
		{1, 64, 64},
		{32, 32, 32},
		{33, 32, 64},
		{100, 0, 100},
		{130, 128, 256},
	}
	for _, tt := range tests {
		if got := GetAligned(tt.operand, tt.granularity); got != tt.want {
			t.Errorf("GetAligned(%d, %d) = %d, want %d", tt.operand, tt.granularity, got, tt.want)
		}
	}
	if got := GetAligned[uint32](17, 16); got != 32 {
		t.Errorf("GetAligned[uint32](17, 16) = %d, want 32", got)
	}
}

func TestGetAlignedRange(t *testing.T) {
	r := GetAlignedRange(3, 70, 64)
	if r.Offset != 64 || r.Size != 128 {
		t.Errorf("GetAlignedRange(3, 70, 64) = %+v, want {64 128}", *r)
	}
}

func TestShaderStageFromExtension(t *testing.T) {
	for ext, want := range map[string]ShaderStage{
		".rgen":  ShaderStageRaygen,
		".rmiss": ShaderStageMiss,
		".rchit": ShaderStageClosestHit,
		".vert":  ShaderStageVertex,
	} {
		got, err := ShaderStageFromExtension(ext)
		if err != nil || got != want {
			t.Errorf("ShaderStageFromExtension(%q) = %v,%v, want %v", ext, got, err, want)
		}
	}
	if _, err := ShaderStageFromExtension(".txt"); err == nil {
		t.Error("ShaderStageFromExtension(.txt) error = nil, want error")
	}
}
