package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-indirect/engine/assets/loaders"
	"github.com/spaghettifunk/anima-indirect/engine/core"
	"github.com/spaghettifunk/anima-indirect/engine/renderer/metadata"
)

var ErrAssetNotFound = errors.New("asset not found")

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
	Modified   time.Time
}

/**
 * @brief Indexes the files under the assets directory, loads them through the
 * loader registered for their type and, when watching, reports files that
 * change on disk.
 */
type AssetManager struct {
	dir     string
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
	onChange func(AssetInfo)
}

func NewAssetManager() *AssetManager {
	am := &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[metadata.ResourceType]Loader),
		done:    make(chan struct{}),
	}
	// Register loaders
	am.RegisterLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.RegisterLoader(metadata.ResourceTypeMesh, &loaders.ModelLoader{})
	am.RegisterLoader(metadata.ResourceTypeBitmapFont, &loaders.BitmapFontLoader{})
	am.RegisterLoader(metadata.ResourceTypeBinary, &loaders.BinaryLoader{})
	return am
}

// Initialize indexes assetsDir and, if watch is set, starts watching it.
func (am *AssetManager) Initialize(assetsDir string, watch bool) error {
	am.dir = filepath.Clean(assetsDir)
	if _, err := os.Stat(am.dir); err != nil {
		core.LogWarn("assets directory %s is not readable: %s", am.dir, err)
		return nil
	}
	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		am.fsnotify = w
		am.wg.Add(1)
		go am.start()
	}
	if err := am.watchRecursive(am.dir, false); err != nil {
		return err
	}
	core.LogInfo("asset manager indexed %d files under %s (watch: %t)", am.Count(), am.dir, watch)
	return nil
}

// OnChange sets the callback invoked from the watcher goroutine for every
// created or modified asset.
func (am *AssetManager) OnChange(fn func(AssetInfo)) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.onChange = fn
}

// RegisterLoader sets the loader used for assetType.
func (am *AssetManager) RegisterLoader(assetType metadata.ResourceType, loader Loader) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.loaders[assetType] = loader
}

// Resolve maps a name relative to the assets directory to its path.
func (am *AssetManager) Resolve(name string) string {
	if filepath.IsAbs(name) || am.dir == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(am.dir, name)
}

func (am *AssetManager) Count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) Asset(name string) (AssetInfo, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	a, ok := am.assets[am.Resolve(name)]
	return a, ok
}

// Load an asset using the loader registered for its type. Files outside the
// index are loaded too when their extension is known.
func (am *AssetManager) Load(name string, params interface{}) (*metadata.Resource, error) {
	path := am.Resolve(name)
	assetType := DetermineAssetType(path)

	am.mutex.RLock()
	loader, loaderExists := am.loaders[assetType]
	am.mutex.RUnlock()
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for %s (%s)", path, assetType)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrAssetNotFound, err)
	}

	res, err := loader.Load(path, params)
	if err != nil {
		core.LogError("failed to load %s %s: %s", assetType, path, err)
		return nil, err
	}

	am.mutex.Lock()
	asset := am.assets[path]
	asset.Path = path
	asset.Type = assetType
	asset.LastLoaded = time.Now()
	am.assets[path] = asset
	am.mutex.Unlock()

	core.LogDebug("loaded %s '%s' (%d bytes)", assetType, res.Name, res.DataSize)
	return res, nil
}

func (am *AssetManager) Unload(res *metadata.Resource) error {
	am.mutex.RLock()
	loader, ok := am.loaders[res.Type]
	am.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("no loader registered for %s", res.Type)
	}
	return loader.Unload(res)
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	close(am.done)
	am.wg.Wait()
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
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
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	path := filepath.Clean(e.Name)
	if s, err := os.Stat(path); err == nil && s.IsDir() {
		if e.Has(fsnotify.Create) {
			if err := am.watchRecursive(path, false); err != nil {
				core.LogWarn("failed to watch %s: %s", path, err)
			}
		}
		return
	}
	// Handle create or modify events
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		info, ok := am.handleFileEvent(path)
		if !ok {
			return
		}
		core.LogInfo("%s asset changed: %s", info.Type, path)
		ctx := core.EventContext{}
		ctx.Data.U16[0] = uint16(info.Type)
		core.EventFire(core.EVENT_CODE_ASSET_CHANGED, am, ctx)

		am.mutex.RLock()
		fn := am.onChange
		am.mutex.RUnlock()
		if fn != nil {
			fn(info)
		}
	}
	// Removed or renamed files can't be stat'ed, so drop them from the index.
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		am.removeAsset(path)
	}
}

// watchRecursive indexes every file under path and, when watching, adds
// every directory to the watch list.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if strings.HasPrefix(fi.Name(), ".") && walkPath != path {
				return filepath.SkipDir
			}
			if am.fsnotify == nil {
				return nil
			}
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// handleFileEvent records the creation or modification of a file.
func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	assetType := DetermineAssetType(path)
	if assetType == metadata.ResourceTypeCustom {
		return AssetInfo{}, false
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[path]
	info.Path = path
	info.Type = assetType
	info.Modified = time.Now()
	am.assets[path] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, path)
}

// DetermineAssetType maps a file extension to its resource type. Unknown
// files are ResourceTypeCustom and are not indexed.
func DetermineAssetType(path string) metadata.ResourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return metadata.ResourceTypeShader
	case ".obj":
		return metadata.ResourceTypeMesh
	case ".fnt":
		return metadata.ResourceTypeBitmapFont
	case ".vert", ".frag", ".glsl", ".toml", ".yaml", ".yml":
		return metadata.ResourceTypeText
	case ".bin", ".png":
		return metadata.ResourceTypeBinary
	default:
		return metadata.ResourceTypeCustom
	}
}
