package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/airbusgeo/landsat-processor/common"
	"github.com/airbusgeo/landsat-processor/service"
)

var archiveExtensions = []service.Extension{service.ExtensionTAR, service.ExtensionTGZ, service.ExtensionZIP}

// Local implements Provider for a local storage of archives.
// Archives are stored in <path>/YYYY/MM/DD/<scene_id>.{tar,tar.gz,zip} or <path>/<scene_id>.{tar,tar.gz,zip}
type Local struct {
	path string
}

// Name implements Provider
func (ip *Local) Name() string {
	return "FileSystem (" + ip.path + ")"
}

// NewLocal creates a new Provider from local storage
func NewLocal(path string) *Local {
	return &Local{path: path}
}

// Download implements Provider
func (ip *Local) Download(ctx context.Context, sceneID, localDir string) error {
	date, err := common.GetDateFromSceneID(sceneID)
	if err != nil {
		return fmt.Errorf("Local: %w", err)
	}
	folders := strings.Split(date.Format("2006-01-02"), "-")

	var candidates []string
	for _, dir := range []string{filepath.Join(ip.path, folders[0], folders[1], folders[2]), ip.path} {
		for _, ext := range archiveExtensions {
			candidates = append(candidates, filepath.Join(dir, sceneID+"."+string(ext)))
		}
	}
	for _, archive := range candidates {
		if _, err := os.Stat(archive); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("Local: %w", err)
		}
		if err := unarchive(ctx, archive, localDir); err != nil {
			return fmt.Errorf("Local.%w", err)
		}
		return nil
	}
	return ErrProductNotFound{Product: sceneID}
}
