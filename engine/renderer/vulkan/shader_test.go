package vulkan

import "testing"

func TestSpirvWords(t *testing.T) {
	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	words, err := spirvWords(code)
	if err != nil {
		t.Fatalf("spirvWords() error = %v", err)
	}
	if len(words) != 2 || words[0] != spirvMagic || words[1] != 0x00010000 {
		t.Errorf("spirvWords() = %#x, want [magic 0x10000]", words)
	}
}

func TestSpirvWordsRejects(t *testing.T) {
	for name, code := range map[string][]byte{
		"empty":     nil,
		"unaligned": {0x03, 0x02, 0x23, 0x07, 0x00},
		"bad magic": {0x00, 0x00, 0x00, 0x00},
	} {
		if _, err := spirvWords(code); err == nil {
			t.Errorf("spirvWords(%s) error = nil, want error", name)
		}
	}
}

func TestShaderModuleCreateInfo(t *testing.T) {
	code := []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x00, 0x01, 0x00}
	info, err := shaderModuleCreateInfo(code)
	if err != nil {
		t.Fatalf("shaderModuleCreateInfo() error = %v", err)
	}
	if info.CodeSize != uint64(len(code)) {
		t.Errorf("CodeSize = %d, want %d bytes", info.CodeSize, len(code))
	}
	if len(info.PCode) != 2 {
		t.Errorf("len(PCode) = %d, want 2 words", len(info.PCode))
	}
	if _, err := shaderModuleCreateInfo(code[:5]); err == nil {
		t.Error("shaderModuleCreateInfo(unaligned) error = nil, want error")
	}
}
