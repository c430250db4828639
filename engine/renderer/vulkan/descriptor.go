package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/reflex/engine/core"
)

/**
 * @brief A descriptor set layout together with the pool and the sets
 * allocated from it, one per frame in flight unless stated otherwise.
 */
type VulkanDescriptorSet struct {
	/** @brief The layout the sets were allocated with. */
	Layout vk.DescriptorSetLayout
	/** @brief The pool owning the sets. */
	Pool vk.DescriptorPool
	/** @brief The allocated sets. */
	Sets []vk.DescriptorSet
}

// NewDescriptorSet creates a layout from bindings, a pool sized for count sets
// and allocates count sets.
func NewDescriptorSet(vc *VulkanContext, bindings []vk.DescriptorSetLayoutBinding, count uint32) (*VulkanDescriptorSet, error) {
	ds := &VulkanDescriptorSet{}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	poolSizes := make([]vk.DescriptorPoolSize, 0, len(bindings))
	for _, b := range bindings {
		poolSizes = append(poolSizes, vk.DescriptorPoolSize{
			Type:            b.DescriptorType,
			DescriptorCount: b.DescriptorCount * count,
		})
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       count,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	err := vc.Locks.SafeCall(DescriptorManagement, func() error {
		if res := vk.CreateDescriptorSetLayout(vc.Device.LogicalDevice, &layoutInfo, vc.Allocator, &ds.Layout); res != vk.Success {
			return ResultError(res, "vkCreateDescriptorSetLayout")
		}
		if res := vk.CreateDescriptorPool(vc.Device.LogicalDevice, &poolInfo, vc.Allocator, &ds.Pool); res != vk.Success {
			return ResultError(res, "vkCreateDescriptorPool")
		}

		layouts := make([]vk.DescriptorSetLayout, count)
		for i := range layouts {
			layouts[i] = ds.Layout
		}
		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     ds.Pool,
			DescriptorSetCount: count,
			PSetLayouts:        layouts,
		}
		ds.Sets = make([]vk.DescriptorSet, count)
		if res := vk.AllocateDescriptorSets(vc.Device.LogicalDevice, &allocInfo, &ds.Sets[0]); res != vk.Success {
			return ResultError(res, "vkAllocateDescriptorSets")
		}
		return nil
	})
	if err != nil {
		ds.Destroy(vc)
		return nil, core.NewInitError(core.InitErrorDescriptor, err, "descriptor set with %d bindings", len(bindings))
	}
	return ds, nil
}

// WriteStorageImages points consecutive bindings, starting at 0, of one set
// at the given views in GENERAL layout.
func (ds *VulkanDescriptorSet) WriteStorageImages(vc *VulkanContext, setIndex uint32, views []vk.ImageView) {
	writes := make([]vk.WriteDescriptorSet, 0, len(views))
	for binding, view := range views {
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          ds.Sets[setIndex],
			DstBinding:      uint32(binding),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo: []vk.DescriptorImageInfo{{
				ImageView:   view,
				ImageLayout: vk.ImageLayoutGeneral,
			}},
		})
	}
	_ = vc.Locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(vc.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
		return nil
	})
}

func (ds *VulkanDescriptorSet) Destroy(vc *VulkanContext) {
	_ = vc.Locks.SafeCall(DescriptorManagement, func() error {
		// Destroying the pool frees the sets.
		if ds.Pool != nil {
			vk.DestroyDescriptorPool(vc.Device.LogicalDevice, ds.Pool, vc.Allocator)
			ds.Pool = nil
		}
		if ds.Layout != nil {
			vk.DestroyDescriptorSetLayout(vc.Device.LogicalDevice, ds.Layout, vc.Allocator)
			ds.Layout = nil
		}
		ds.Sets = nil
		return nil
	})
}
