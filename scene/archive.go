package scene

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service"
	"github.com/airbusgeo/landsat-processor/service/log"
	"github.com/google/uuid"
	"github.com/mholt/archiver"
)

// Extract unarchives a scene archive (.tar, .tar.gz, .zip) into <dstRoot>/<scene_id>/.
// Files of the archive that do not belong to a scene are ignored.
// Returns the directories of the extracted scenes.
// Raise ErrSceneDiscovery
func Extract(ctx context.Context, archive, dstRoot string) ([]string, error) {
	if !service.IsArchive(archive) {
		return nil, common.ErrSceneDiscovery{Path: archive, Err: fmt.Errorf("unsupported archive format")}
	}
	if err := os.MkdirAll(dstRoot, 0755); err != nil {
		return nil, fmt.Errorf("Extract.MkdirAll: %w", err)
	}
	tmpdir := filepath.Join(dstRoot, ".extract-"+uuid.New().String())
	defer os.RemoveAll(tmpdir)
	if err := archiver.Unarchive(archive, tmpdir); err != nil {
		return nil, common.ErrSceneDiscovery{Path: archive, Err: err}
	}

	dirs := service.NewStringSet()
	err := filepath.WalkDir(tmpdir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		id, ok := common.SceneIDFromFileName(d.Name())
		if !ok {
			return nil
		}
		dir := filepath.Join(dstRoot, id)
		if err := service.MoveFile(path, filepath.Join(dir, d.Name())); err != nil {
			return err
		}
		dirs.Push(dir)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Extract[%s]: %w", archive, err)
	}
	if len(dirs) == 0 {
		return nil, common.ErrSceneDiscovery{Path: archive, Err: fmt.Errorf("no scene file in archive")}
	}
	log.Logger(ctx).Sugar().Infof("%s extracted in %s", filepath.Base(archive), strings.Join(dirs.Slice(), ", "))
	return dirs.Slice(), nil
}

// ExtractAll extracts all the archives found in root into dstRoot
func ExtractAll(ctx context.Context, root, dstRoot string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, common.ErrSceneDiscovery{Path: root, Err: err}
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !service.IsArchive(e.Name()) {
			continue
		}
		d, err := Extract(ctx, filepath.Join(root, e.Name()), dstRoot)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, d...)
	}
	sort.Strings(dirs)
	return dirs, nil
}
