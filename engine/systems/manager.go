package systems

import (
	"github.com/spaghettifunk/reflex/engine/assets"
	"github.com/spaghettifunk/reflex/engine/config"
	"github.com/spaghettifunk/reflex/engine/core"
)

// SystemManager owns the engine wide systems that outlive a single renderer:
// the job workers and the asset index.
type SystemManager struct {
	JobSystem    *JobSystem
	AssetManager *assets.AssetManager
}

func NewSystemManager(cfg *config.Config, events *core.EventBus) (*SystemManager, error) {
	js, err := NewJobSystem(cfg.Scheduler.Workers, cfg.Scheduler.JobQueueSize)
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		JobSystem:    js,
		AssetManager: assets.NewAssetManager(events),
	}, nil
}

func (sm *SystemManager) Initialize(cfg *config.Config) error {
	if err := sm.AssetManager.Initialize(cfg.Assets.ShaderDir, cfg.Assets.Watch); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Indexed %d assets, %d job workers.", len(sm.AssetManager.Assets()), len(sm.JobSystem.Threads()))
	return nil
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.AssetManager.Shutdown(); err != nil {
		return err
	}
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	return nil
}
