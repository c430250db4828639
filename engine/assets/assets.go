package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/reflex/engine/assets/loaders"
	"github.com/spaghettifunk/reflex/engine/core"
	"github.com/spaghettifunk/reflex/engine/renderer/metadata"
)

// ErrClosed is returned when initializing a shut down manager.
var ErrClosed = errors.New("asset manager already shut down")

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	// Compiled SPIR-V, named after its source ("raytrace.rgen.spv" is "raytrace.rgen").
	AssetTypeShader
	AssetTypeConfig
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShader:
		return "shader"
	case AssetTypeConfig:
		return "config"
	default:
		return "none"
	}
}

type AssetInfo struct {
	Name     string
	Path     string
	Type     AssetType
	Stage    metadata.ShaderStage
	Modified time.Time
}

// AssetManager indexes the asset directory by name and keeps the index in
// sync with the file system while watching.
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader
	events  *core.EventBus

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
}

// NewAssetManager creates a manager firing EVENT_CODE_ASSET_CHANGED on events,
// which may be nil.
func NewAssetManager(events *core.EventBus) *AssetManager {
	am := &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[AssetType]Loader),
		events:  events,
	}
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(AssetTypeConfig, &loaders.BinaryLoader{})
	return am
}

// Initialize indexes everything under root. With watch set, changes are
// tracked until Shutdown.
func (am *AssetManager) Initialize(root string, watch bool) error {
	if am.isClosed {
		return ErrClosed
	}
	am.root = filepath.Clean(root)
	if !watch {
		return am.watchRecursive(am.root, false)
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.fsnotify = fsWatch
	am.done = make(chan struct{})
	am.stopped = make(chan struct{})
	if err := am.watchRecursive(am.root, true); err != nil {
		_ = fsWatch.Close()
		am.fsnotify = nil
		return err
	}
	go am.start()
	core.LogInfo("Watching %s for asset changes.", am.root)
	return nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType AssetType, loader Loader) {
	am.loaders[assetType] = loader
}

func (am *AssetManager) Lookup(name string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	info, ok := am.assets[name]
	return info, ok
}

// Assets returns the index sorted by name.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	am.mutex.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Load reads an asset by name using the loader of its type.
func (am *AssetManager) Load(name string) ([]byte, AssetInfo, error) {
	info, exists := am.Lookup(name)
	if !exists {
		return nil, AssetInfo{}, fmt.Errorf("%s: %w", name, core.ErrAssetNotFound)
	}
	loader, ok := am.loaders[info.Type]
	if !ok {
		return nil, info, fmt.Errorf("no loader registered for asset type %s", info.Type)
	}
	data, err := loader.Load(info.Path)
	if err != nil {
		return nil, info, err
	}
	return data, info, nil
}

// LoadShader returns the SPIR-V of a compiled shader, for example
// "raytrace.rgen".
func (am *AssetManager) LoadShader(name string) ([]byte, error) {
	data, info, err := am.Load(name)
	if err != nil {
		return nil, err
	}
	if info.Type != AssetTypeShader {
		return nil, fmt.Errorf("%s is a %s, not a shader", name, info.Type)
	}
	core.LogDebug("Loaded %s shader %s (%d bytes).", info.Stage, name, len(data))
	return data, nil
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed || am.fsnotify == nil {
		am.isClosed = true
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	<-am.stopped
	return nil
}

func (am *AssetManager) start() {
	defer close(am.stopped)
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			if err := am.fsnotify.Close(); err != nil {
				core.LogError(err.Error())
			}
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	s, err := os.Stat(e.Name)
	if err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(e.Name, true); err != nil {
				core.LogWarn("cannot watch %s: %s", e.Name, err)
			}
		}
		return
	}
	switch {
	case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if info, ok := am.handleFileEvent(e.Name); ok {
			am.fire(info, false)
		}
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// Can't stat a deleted path, so drop it from the index and the
		// watch list whatever it was.
		if info, ok := am.removeAsset(e.Name); ok {
			am.fire(info, true)
		}
		_ = am.fsnotify.Remove(e.Name)
	}
}

func (am *AssetManager) fire(info AssetInfo, removed bool) {
	core.LogDebug("Asset %s changed (removed: %v).", info.Name, removed)
	if am.events == nil {
		return
	}
	var ctx core.EventContext
	ctx.Data.C[0] = info.Name
	ctx.Data.C[1] = info.Path
	if removed {
		ctx.Data.U32[0] = 1
	}
	am.events.Fire(core.EVENT_CODE_ASSET_CHANGED, am, ctx)
}

// watchRecursive indexes every file under path and, when watch is set, adds
// every directory to the watch list.
func (am *AssetManager) watchRecursive(path string, watch bool) error {
	return filepath.WalkDir(path, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if watch {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	info, ok := describeAsset(path)
	if !ok {
		return info, false
	}
	if s, err := os.Stat(path); err == nil {
		info.Modified = s.ModTime()
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	if prev, exists := am.assets[info.Name]; exists && prev.Path != info.Path {
		core.LogWarn("asset %s at %s shadows %s", info.Name, info.Path, prev.Path)
	}
	am.assets[info.Name] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) (AssetInfo, bool) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	for name, info := range am.assets {
		if info.Path == path {
			delete(am.assets, name)
			return info, true
		}
	}
	return AssetInfo{}, false
}

func describeAsset(path string) (AssetInfo, bool) {
	base := filepath.Base(path)
	switch filepath.Ext(base) {
	case ".spv":
		name := strings.TrimSuffix(base, ".spv")
		stage, err := metadata.ShaderStageFromExtension(filepath.Ext(name))
		if err != nil {
			return AssetInfo{}, false
		}
		return AssetInfo{Name: name, Path: path, Type: AssetTypeShader, Stage: stage}, true
	case ".toml":
		return AssetInfo{Name: base, Path: path, Type: AssetTypeConfig}, true
	default:
		return AssetInfo{}, false
	}
}

// Watching reports whether the manager tracks file changes.
func (am *AssetManager) Watching() bool {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return am.fsnotify != nil && !am.isClosed
}
