package scene

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"
)

// Discover returns the scenes found in root, sorted by identifier.
// Supported layouts:
//   - <root>/<scene_id>/<files>
//   - <root>/<SENSOR>/<scene_id>/<files> (organized layout)
//   - <root>/<files> (flat layout, files are grouped by scene identifier)
//
// Files that do not belong to a Landsat 7/8/9 scene are skipped.
// Raise ErrSceneDiscovery if root cannot be read
func Discover(ctx context.Context, root string) ([]common.Scene, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, common.ErrSceneDiscovery{Path: root, Err: err}
	}
	scenes := map[string]*common.Scene{}
	flat := map[string][]string{}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !e.IsDir() {
			if service.IsArchive(name) {
				continue
			}
			if id, ok := common.SceneIDFromFileName(name); ok {
				flat[id] = append(flat[id], name)
			} else {
				log.Logger(ctx).Sugar().Debugf("skipping %s: unrecognized file", name)
			}
			continue
		}
		dir := filepath.Join(root, name)
		if isSensorDir(name) {
			sub, err := os.ReadDir(dir)
			if err != nil {
				return nil, common.ErrSceneDiscovery{Path: dir, Err: err}
			}
			for _, s := range sub {
				if s.IsDir() {
					if err := addSceneDir(ctx, scenes, filepath.Join(dir, s.Name())); err != nil {
						return nil, err
					}
				}
			}
			continue
		}
		if err := addSceneDir(ctx, scenes, dir); err != nil {
			return nil, err
		}
	}

	for id, files := range flat {
		if s, ok := scenes[id]; ok {
			log.Logger(ctx).Sugar().Warnf("%s: %d files ignored in %s (scene already found in %s)", id, len(files), root, s.Dir)
			continue
		}
		sort.Strings(files)
		scenes[id] = &common.Scene{ID: id, Sensor: common.GetSensorFromSceneID(id), Dir: root, Files: files}
	}
	return sorted(scenes), nil
}

func isSensorDir(name string) bool {
	for _, s := range common.SensorGenerations {
		if strings.EqualFold(name, s.Dir()) {
			return true
		}
	}
	return false
}

// addSceneDir adds the scene stored in dir, if the name of the directory is a scene identifier
func addSceneDir(ctx context.Context, scenes map[string]*common.Scene, dir string) error {
	id, ok := common.SceneIDFromFileName(filepath.Base(dir))
	if !ok || !strings.EqualFold(id, filepath.Base(dir)) {
		log.Logger(ctx).Sugar().Debugf("skipping directory %s: not a scene", dir)
		return nil
	}
	if s, ok := scenes[id]; ok {
		log.Logger(ctx).Sugar().Warnf("%s: found in %s and %s, keeping the first one", id, s.Dir, dir)
		return nil
	}
	files, err := Files(common.Scene{ID: id, Dir: dir})
	if err != nil {
		return err
	}
	scenes[id] = &common.Scene{ID: id, Sensor: common.GetSensorFromSceneID(id), Dir: dir, Files: files}
	return nil
}

func sorted(scenes map[string]*common.Scene) []common.Scene {
	res := make([]common.Scene, 0, len(scenes))
	for _, s := range scenes {
		res = append(res, *s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Files returns the names of the files of the scene: scene.Files if defined, otherwise
// the regular files of scene.Dir whose name starts with the scene identifier
// Raise ErrSceneDiscovery
func Files(scene common.Scene) ([]string, error) {
	if len(scene.Files) > 0 {
		return append([]string{}, scene.Files...), nil
	}
	entries, err := os.ReadDir(scene.Dir)
	if err != nil {
		return nil, common.ErrSceneDiscovery{Path: scene.Dir, Err: err}
	}
	var files []string
	prefix := strings.ToUpper(scene.ID)
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(strings.ToUpper(e.Name()), prefix) {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

// Filter returns the scenes whose identifier is in ids (all the scenes if ids is empty)
// and the identifiers that have not been found
func Filter(scenes []common.Scene, ids []string) ([]common.Scene, []string) {
	if len(ids) == 0 {
		return scenes, nil
	}
	wanted := service.NewStringSet()
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			wanted.Push(strings.ToUpper(id))
		}
	}
	var selected []common.Scene
	for _, s := range scenes {
		if id := strings.ToUpper(s.ID); wanted.Exists(id) {
			selected = append(selected, s)
			wanted.Pop(id)
		}
	}
	return selected, wanted.Slice()
}

// Organize copies the files of the scene into <outputDir>/<SENSOR>/<scene_id>/.
// Files are written atomically; the operation can be replayed.
// Raise ErrSceneDiscovery, ErrUnsupportedSensor
func Organize(ctx context.Context, scene common.Scene, outputDir string) ([]string, error) {
	if !scene.Sensor.Supported() {
		return nil, common.ErrUnsupportedSensor{Sensor: scene.Sensor}
	}
	files, err := Files(scene)
	if err != nil {
		return nil, fmt.Errorf("Organize.%w", err)
	}
	if len(files) == 0 {
		return nil, common.ErrSceneDiscovery{Path: scene.Dir, Err: fmt.Errorf("no file for scene %s", scene.ID)}
	}
	dstDir := OrganizedDir(outputDir, scene)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, fmt.Errorf("Organize.MkdirAll: %w", err)
	}
	copied := make([]string, 0, len(files))
	for _, f := range files {
		dst := filepath.Join(dstDir, f)
		if err := service.CopyFileAtomic(filepath.Join(scene.Dir, f), dst); err != nil {
			return nil, fmt.Errorf("Organize.%w", err)
		}
		copied = append(copied, dst)
	}
	log.Logger(ctx).Sugar().Infof("%s: %d files organized in %s", scene.ID, len(copied), dstDir)
	return copied, nil
}

// OrganizedDir returns the directory of the scene in the organized layout
func OrganizedDir(outputDir string, scene common.Scene) string {
	return filepath.Join(outputDir, scene.Sensor.Dir(), scene.ID)
}
