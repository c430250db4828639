package vulkan

import (
	"strings"
	"testing"

	vk "github.com/goki/vulkan"
)

func TestVulkanSafeString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "\x00"},
		{"main", "main\x00"},
		{"main\x00", "main\x00"},
	}
	for _, tt := range tests {
		if got := VulkanSafeString(tt.in); got != tt.want {
			t.Errorf("VulkanSafeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResultError(t *testing.T) {
	err := ResultError(vk.ErrorDeviceLost, "vkQueueSubmit")
	if !strings.HasPrefix(err.Error(), "vkQueueSubmit failed with VK_ERROR_DEVICE_LOST") {
		t.Errorf("Error() = %q, want vkQueueSubmit prefix", err.Error())
	}
	if got := VulkanResultString(vk.Timeout, false); got != "VK_TIMEOUT" {
		t.Errorf("VulkanResultString(Timeout) = %q, want VK_TIMEOUT", got)
	}
}
